package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// VideoStatus tracks where an upload is in its lifecycle.
type VideoStatus string

const (
	StatusUploading  VideoStatus = "uploading" // schema default, never set by the pipeline
	StatusProcessing VideoStatus = "processing"
	StatusCompleted  VideoStatus = "completed"
	StatusFailed     VideoStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s VideoStatus) Valid() bool {
	switch s {
	case StatusUploading, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s VideoStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Sensitivity is the content-safety classification of a video.
type Sensitivity string

const (
	SensitivityPending Sensitivity = "pending"
	SensitivitySafe    Sensitivity = "safe"
	SensitivityFlagged Sensitivity = "flagged"
)

func (s Sensitivity) Valid() bool {
	switch s {
	case SensitivityPending, SensitivitySafe, SensitivityFlagged:
		return true
	}
	return false
}

// Video is one uploaded asset. The file itself lives on disk under StoredFileName.
type Video struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OwnerID          primitive.ObjectID `bson:"ownerId" json:"ownerId"` // immutable
	Title            string             `bson:"title" json:"title"`
	StoredFileName   string             `bson:"filename" json:"filename"`
	OriginalFileName string             `bson:"originalName" json:"originalName"`
	MimeType         string             `bson:"mimeType" json:"mimeType"`
	FileSizeBytes    int64              `bson:"fileSize" json:"fileSize"`
	Status           VideoStatus        `bson:"status" json:"status"`
	Sensitivity      Sensitivity        `bson:"sensitivity" json:"sensitivity"`
	DurationSeconds  *float64           `bson:"duration,omitempty" json:"duration,omitempty"` // reserved for a real analysis step
	ArchiveKey       string             `bson:"archiveKey,omitempty" json:"-"`               // object storage key once mirrored
	UploadedAt       time.Time          `bson:"uploadedAt" json:"uploadedAt"`
	UpdatedAt        time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// OwnedBy reports whether userID (hex) is the owner of the video.
func (v *Video) OwnedBy(userID string) bool {
	return v.OwnerID.Hex() == userID
}

// VideoFilter holds optional equality filters for listing videos.
// Empty fields are ignored.
type VideoFilter struct {
	Status      VideoStatus
	Sensitivity Sensitivity
}
