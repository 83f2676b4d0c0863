// Package memory provides in-process implementations of the repository
// interfaces. State is lost on restart; it backs tests and local runs with
// database.driver=memory.
package memory

import (
	"alcyxob/video-app/internal/domain"
	"alcyxob/video-app/internal/repository"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// VideoRepository implements repository.VideoRepository over a map.
type VideoRepository struct {
	mu     sync.RWMutex
	videos map[primitive.ObjectID]domain.Video
	now    func() time.Time
}

// NewVideoRepository returns an empty store.
func NewVideoRepository() *VideoRepository {
	return &VideoRepository{
		videos: make(map[primitive.ObjectID]domain.Video),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var _ repository.VideoRepository = (*VideoRepository)(nil)

func (r *VideoRepository) Create(_ context.Context, video *domain.Video) (primitive.ObjectID, error) {
	if video.OwnerID == primitive.NilObjectID || video.StoredFileName == "" || video.Title == "" {
		return primitive.NilObjectID, errors.New("video requires ownerId, title and filename")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	video.ID = primitive.NewObjectID()
	video.Status = domain.StatusProcessing
	video.Sensitivity = domain.SensitivityPending
	now := r.now()
	// uploadedAt must be strictly increasing for a stable newest-first order
	for _, v := range r.videos {
		if !now.After(v.UploadedAt) {
			now = v.UploadedAt.Add(time.Nanosecond)
		}
	}
	video.UploadedAt = now
	video.UpdatedAt = now
	r.videos[video.ID] = *video
	return video.ID, nil
}

func (r *VideoRepository) GetByID(_ context.Context, id primitive.ObjectID) (*domain.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

func (r *VideoRepository) UpdateStatus(_ context.Context, id primitive.ObjectID, status domain.VideoStatus, sensitivity *domain.Sensitivity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return repository.ErrNotFound
	}
	if v.Status != domain.StatusProcessing {
		return repository.ErrInvalidTransition
	}
	v.Status = status
	if sensitivity != nil {
		v.Sensitivity = *sensitivity
	}
	v.UpdatedAt = r.now()
	r.videos[id] = v
	return nil
}

func (r *VideoRepository) ListByOwner(_ context.Context, ownerID primitive.ObjectID, filter domain.VideoFilter) ([]domain.Video, error) {
	r.mu.RLock()
	videos := []domain.Video{}
	for _, v := range r.videos {
		if v.OwnerID != ownerID {
			continue
		}
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if filter.Sensitivity != "" && v.Sensitivity != filter.Sensitivity {
			continue
		}
		videos = append(videos, v)
	}
	r.mu.RUnlock()

	sort.Slice(videos, func(i, j int) bool {
		return videos[i].UploadedAt.After(videos[j].UploadedAt)
	})
	return videos, nil
}

func (r *VideoRepository) ListStale(_ context.Context, olderThan time.Time) ([]domain.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var videos []domain.Video
	for _, v := range r.videos {
		if v.Status == domain.StatusProcessing && v.UploadedAt.Before(olderThan) {
			videos = append(videos, v)
		}
	}
	return videos, nil
}

func (r *VideoRepository) SetArchiveKey(_ context.Context, id primitive.ObjectID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return repository.ErrNotFound
	}
	v.ArchiveKey = key
	v.UpdatedAt = r.now()
	r.videos[id] = v
	return nil
}

// Backdate moves a video's upload time; used to simulate assets left behind by a
// previous process.
func (r *VideoRepository) Backdate(id primitive.ObjectID, uploadedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.videos[id]; ok {
		v.UploadedAt = uploadedAt
		r.videos[id] = v
	}
}

// UserRepository implements repository.UserRepository over a map.
type UserRepository struct {
	mu    sync.RWMutex
	users map[primitive.ObjectID]domain.User
}

// NewUserRepository returns an empty store.
func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[primitive.ObjectID]domain.User)}
}

var _ repository.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) Create(_ context.Context, user *domain.User) (primitive.ObjectID, error) {
	if user.Email == "" || user.PasswordHash == "" || user.Role == "" {
		return primitive.NilObjectID, errors.New("user email, password hash, and role are required")
	}
	email := strings.ToLower(strings.TrimSpace(user.Email))

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return primitive.NilObjectID, repository.ErrDuplicateKey
		}
	}
	user.ID = primitive.NewObjectID()
	user.Email = email
	user.CreatedAt = time.Now().UTC()
	r.users[user.ID] = *user
	return user.ID, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *UserRepository) GetByID(_ context.Context, id primitive.ObjectID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}
