package service

import (
	"alcyxob/video-app/internal/domain"
	"alcyxob/video-app/internal/logging"
	"alcyxob/video-app/internal/repository"
	"alcyxob/video-app/internal/storage"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrVideoNotFound      = errors.New("video not found")
	ErrForbidden          = errors.New("access denied")
	ErrFileTooLarge       = errors.New("file exceeds the upload size limit")
	ErrNotArchived        = errors.New("video has no archived copy")
	ErrStorageUnavailable = errors.New("object storage is not configured")
)

const downloadURLExpiry = 15 * time.Minute

// JobScheduler starts background processing for a stored video.
type JobScheduler interface {
	Submit(videoID primitive.ObjectID) error
}

// Presigner issues temporary download links for archived objects.
type Presigner interface {
	PresignDownload(ctx context.Context, key string, expires time.Duration) (string, error)
}

// UploadInput is one received file plus its form fields.
type UploadInput struct {
	Title        string
	OriginalName string
	MimeType     string
	Size         int64
	File         io.Reader
}

type UploadPolicy struct {
	MaxBytes         int64
	AllowedMimeTypes []string
}

type VideoService interface {
	// Upload stores the file, records a processing video and schedules its job.
	Upload(ctx context.Context, owner domain.Identity, in UploadInput) (*domain.Video, error)
	Get(ctx context.Context, who domain.Identity, videoID string) (*domain.Video, error)
	// List returns the caller's own videos, newest first. Empty filters match all.
	List(ctx context.Context, who domain.Identity, status, sensitivity string) ([]domain.Video, error)
	DownloadURL(ctx context.Context, who domain.Identity, videoID string) (string, error)
	// FilePath resolves where the video's file lives on disk.
	FilePath(video *domain.Video) (string, error)
}

type videoService struct {
	videoRepo repository.VideoRepository
	files     *storage.LocalStore
	scheduler JobScheduler
	presigner Presigner // nil when object storage is off
	policy    UploadPolicy
	allowed   map[string]struct{}
	logger    *slog.Logger
}

// NewVideoService creates a new instance of videoService.
func NewVideoService(
	videoRepo repository.VideoRepository,
	files *storage.LocalStore,
	scheduler JobScheduler,
	presigner Presigner,
	policy UploadPolicy,
	logger *slog.Logger,
) VideoService {
	allowed := make(map[string]struct{}, len(policy.AllowedMimeTypes))
	for _, m := range policy.AllowedMimeTypes {
		allowed[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return &videoService{
		videoRepo: videoRepo,
		files:     files,
		scheduler: scheduler,
		presigner: presigner,
		policy:    policy,
		allowed:   allowed,
		logger:    logging.WithComponent(logger, "videos"),
	}
}

func (s *videoService) Upload(ctx context.Context, owner domain.Identity, in UploadInput) (*domain.Video, error) {
	ownerID, err := primitive.ObjectIDFromHex(owner.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid owner id", ErrInvalidInput)
	}
	title := strings.TrimSpace(in.Title)
	if in.File == nil {
		return nil, fmt.Errorf("%w: no video file uploaded", ErrInvalidInput)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if !s.mimeAllowed(in.MimeType) {
		return nil, fmt.Errorf("%w: invalid file type %q, only video files are allowed", ErrInvalidInput, in.MimeType)
	}
	limit := s.policy.MaxBytes
	if limit > 0 && in.Size > limit {
		return nil, ErrFileTooLarge
	}

	src := in.File
	if limit > 0 {
		src = io.LimitReader(in.File, limit+1)
	}
	stored, written, err := s.files.Save(src, in.OriginalName)
	if err != nil {
		return nil, err
	}
	if limit > 0 && written > limit {
		s.removeFile(stored)
		return nil, ErrFileTooLarge
	}

	video := &domain.Video{
		OwnerID:          ownerID,
		Title:            title,
		StoredFileName:   stored,
		OriginalFileName: in.OriginalName,
		MimeType:         in.MimeType,
		FileSizeBytes:    written,
	}
	if _, err := s.videoRepo.Create(ctx, video); err != nil {
		s.removeFile(stored)
		return nil, fmt.Errorf("create video record: %w", err)
	}
	s.logger.Info("video uploaded", "videoId", video.ID.Hex(), "ownerId", owner.UserID, "bytes", written)

	// Fire and forget; the response never waits for processing.
	if err := s.scheduler.Submit(video.ID); err != nil {
		s.logger.Error("could not schedule processing", "videoId", video.ID.Hex(), "error", err)
		// Nothing will pick the video up; do not leave it in processing.
		if err := s.videoRepo.UpdateStatus(ctx, video.ID, domain.StatusFailed, nil); err != nil {
			s.logger.Error("could not mark unscheduled video failed", "videoId", video.ID.Hex(), "error", err)
		} else {
			video.Status = domain.StatusFailed
		}
	}
	return video, nil
}

func (s *videoService) mimeAllowed(mimeType string) bool {
	if len(s.allowed) == 0 {
		return strings.HasPrefix(mimeType, "video/")
	}
	_, ok := s.allowed[strings.ToLower(strings.TrimSpace(mimeType))]
	return ok
}

func (s *videoService) removeFile(name string) {
	if err := s.files.Remove(name); err != nil {
		s.logger.Warn("could not remove stored file", "file", name, "error", err)
	}
}

func (s *videoService) Get(ctx context.Context, who domain.Identity, videoID string) (*domain.Video, error) {
	id, err := primitive.ObjectIDFromHex(videoID)
	if err != nil {
		return nil, ErrVideoNotFound
	}
	video, err := s.videoRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrVideoNotFound
		}
		return nil, err
	}
	if !who.CanAccess(video) {
		return nil, ErrForbidden
	}
	return video, nil
}

func (s *videoService) List(ctx context.Context, who domain.Identity, status, sensitivity string) ([]domain.Video, error) {
	ownerID, err := primitive.ObjectIDFromHex(who.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user id", ErrInvalidInput)
	}
	filter := domain.VideoFilter{
		Status:      domain.VideoStatus(status),
		Sensitivity: domain.Sensitivity(sensitivity),
	}
	if status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if sensitivity != "" && !filter.Sensitivity.Valid() {
		return nil, fmt.Errorf("%w: unknown sensitivity %q", ErrInvalidInput, sensitivity)
	}
	return s.videoRepo.ListByOwner(ctx, ownerID, filter)
}

func (s *videoService) DownloadURL(ctx context.Context, who domain.Identity, videoID string) (string, error) {
	video, err := s.Get(ctx, who, videoID)
	if err != nil {
		return "", err
	}
	if s.presigner == nil {
		return "", ErrStorageUnavailable
	}
	if video.ArchiveKey == "" {
		return "", ErrNotArchived
	}
	return s.presigner.PresignDownload(ctx, video.ArchiveKey, downloadURLExpiry)
}

func (s *videoService) FilePath(video *domain.Video) (string, error) {
	return s.files.Path(video.StoredFileName)
}
