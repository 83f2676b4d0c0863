package repository

import (
	"alcyxob/video-app/internal/domain"
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Error constants for repository layer
var (
	ErrNotFound          = RepositoryError("not found")
	ErrDuplicateKey      = RepositoryError("duplicate key")
	ErrInvalidTransition = RepositoryError("invalid status transition")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// UserRepository defines the interface for interacting with user data.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (primitive.ObjectID, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error)
}

// VideoRepository is the durable store for video assets.
//
// UpdateStatus is the only mutation after creation. It is a single atomic
// document update that only applies while the video is still processing, so
// readers see either the old or the new document and a terminal state is never
// overwritten. It returns ErrNotFound for an unknown id and ErrInvalidTransition
// when the video already reached a terminal state.
type VideoRepository interface {
	// Create forces status=processing and sensitivity=pending.
	Create(ctx context.Context, video *domain.Video) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Video, error)
	UpdateStatus(ctx context.Context, id primitive.ObjectID, status domain.VideoStatus, sensitivity *domain.Sensitivity) error
	// ListByOwner returns the owner's videos sorted by uploadedAt, newest first.
	ListByOwner(ctx context.Context, ownerID primitive.ObjectID, filter domain.VideoFilter) ([]domain.Video, error)
	// ListStale returns videos still processing that were uploaded before olderThan.
	ListStale(ctx context.Context, olderThan time.Time) ([]domain.Video, error)
	SetArchiveKey(ctx context.Context, id primitive.ObjectID, key string) error
}
