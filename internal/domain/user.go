package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role type to distinguish between user permission levels
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleViewer || r == RoleEditor || r == RoleAdmin
}

// Elevated roles may bypass ownership checks.
func (r Role) Elevated() bool {
	return r == RoleAdmin
}

// User represents an account that can upload and watch videos.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email        string             `bson:"email" json:"email"`    // unique, lower-cased
	PasswordHash string             `bson:"passwordHash" json:"-"` // Never expose this via JSON
	Role         Role               `bson:"role" json:"role"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
}

// Identity is the authenticated requester as carried by a bearer token.
type Identity struct {
	UserID string
	Role   Role
}

// CanAccess reports whether the identity may read the given video.
func (i Identity) CanAccess(v *Video) bool {
	return i.Role.Elevated() || v.OwnedBy(i.UserID)
}
