// Package pipeline moves uploaded videos from processing to a terminal state
// and reports each step to the owner's real-time address.
package pipeline

import (
	"alcyxob/video-app/internal/domain"
	"alcyxob/video-app/internal/logging"
	"alcyxob/video-app/internal/metrics"
	"alcyxob/video-app/internal/notify"
	"alcyxob/video-app/internal/repository"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Errors returned by NewProcessor and wrapped into job failures.
var (
	ErrUpstreamUnavailable = errors.New("video store unavailable")
	ErrNotifierUnavailable = errors.New("notifier unavailable")
)

// Job results used as metric labels.
const (
	resultCompleted = "completed"
	resultFailed    = "failed"
	resultSkipped   = "skipped"
)

// DefaultStepDelay is the simulated work between progress updates.
const DefaultStepDelay = 2 * time.Second

var progressSteps = []int{25, 50, 75}

// Store is the part of the video repository the pipeline needs.
type Store interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Video, error)
	UpdateStatus(ctx context.Context, id primitive.ObjectID, status domain.VideoStatus, sensitivity *domain.Sensitivity) error
	ListStale(ctx context.Context, olderThan time.Time) ([]domain.Video, error)
	SetArchiveKey(ctx context.Context, id primitive.ObjectID, key string) error
}

// Classifier decides the content-safety label of a processed video.
type Classifier interface {
	Classify(ctx context.Context, video *domain.Video) (domain.Sensitivity, error)
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(ctx context.Context, video *domain.Video) (domain.Sensitivity, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, video *domain.Video) (domain.Sensitivity, error) {
	return f(ctx, video)
}

// RandomClassifier flags a video with probability FlagProbability.
type RandomClassifier struct {
	FlagProbability float64
	float           func() float64
}

// NewRandomClassifier draws from math/rand/v2.
func NewRandomClassifier(flagProbability float64) *RandomClassifier {
	return &RandomClassifier{FlagProbability: flagProbability, float: rand.Float64}
}

// Classify ignores the video.
func (c *RandomClassifier) Classify(_ context.Context, _ *domain.Video) (domain.Sensitivity, error) {
	if c.float() < c.FlagProbability {
		return domain.SensitivityFlagged, nil
	}
	return domain.SensitivitySafe, nil
}

// Archiver mirrors a completed video to long-term storage and returns its key.
type Archiver interface {
	ArchiveVideo(ctx context.Context, video *domain.Video) (string, error)
}

// Event payloads.
type (
	ProcessingEvent struct {
		VideoID  string             `json:"videoId"`
		Status   domain.VideoStatus `json:"status"`
		Progress int                `json:"progress"`
	}
	ProgressEvent struct {
		VideoID  string `json:"videoId"`
		Progress int    `json:"progress"`
	}
	CompletedEvent struct {
		VideoID     string             `json:"videoId"`
		Status      domain.VideoStatus `json:"status"`
		Sensitivity domain.Sensitivity `json:"sensitivity"`
		Progress    int                `json:"progress"`
	}
	FailedEvent struct {
		VideoID string             `json:"videoId"`
		Status  domain.VideoStatus `json:"status"`
	}
)

// Config wires a Processor. Store and Notifier are required.
type Config struct {
	Store      Store
	Notifier   notify.Notifier
	Classifier Classifier // defaults to RandomClassifier with a 0.2 flag rate
	Archiver   Archiver   // optional
	// StepDelay is the pause before each progress step. Zero means
	// DefaultStepDelay and a negative value disables the pause.
	StepDelay time.Duration
	Logger    *slog.Logger
}

// Processor runs the simulated processing job for one video at a time.
// It is safe for concurrent use by many jobs.
type Processor struct {
	store      Store
	notifier   notify.Notifier
	classifier Classifier
	archiver   Archiver
	stepDelay  time.Duration
	logger     *slog.Logger
}

// NewProcessor refuses to build a processor without a store or notifier, so
// no job can ever start without a way to report its progress.
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Store == nil {
		return nil, ErrUpstreamUnavailable
	}
	if cfg.Notifier == nil {
		return nil, ErrNotifierUnavailable
	}
	if cfg.Classifier == nil {
		cfg.Classifier = NewRandomClassifier(0.2)
	}
	switch {
	case cfg.StepDelay == 0:
		cfg.StepDelay = DefaultStepDelay
	case cfg.StepDelay < 0:
		cfg.StepDelay = 0
	}
	return &Processor{
		store:      cfg.Store,
		notifier:   cfg.Notifier,
		classifier: cfg.Classifier,
		archiver:   cfg.Archiver,
		stepDelay:  cfg.StepDelay,
		logger:     logging.WithComponent(cfg.Logger, "pipeline"),
	}, nil
}

// Process drives videoID to completed or failed. It never returns an error;
// every outcome is persisted and emitted to the owner.
func (p *Processor) Process(ctx context.Context, videoID primitive.ObjectID) {
	start := time.Now()
	metrics.PipelineActiveJobs.Inc()
	defer metrics.PipelineActiveJobs.Dec()

	result := p.run(ctx, videoID)

	metrics.PipelineJobs.WithLabelValues(result).Inc()
	metrics.PipelineJobDuration.Observe(time.Since(start).Seconds())
	p.logger.Info("processing job finished", "videoId", videoID.Hex(), "result", result, "elapsed", time.Since(start))
}

func (p *Processor) run(ctx context.Context, videoID primitive.ObjectID) (result string) {
	completedSent := false
	defer func() {
		if r := recover(); r != nil {
			if completedSent {
				p.logger.Error("panic after completion", "videoId", videoID.Hex(), "panic", r)
				result = resultCompleted
				return
			}
			result = p.fail(ctx, videoID, fmt.Errorf("panic: %v", r))
		}
	}()

	video, err := p.store.GetByID(ctx, videoID)
	if errors.Is(err, repository.ErrNotFound) {
		p.logger.Warn("video not found, nothing to process", "videoId", videoID.Hex())
		return resultSkipped
	}
	if err != nil {
		return p.fail(ctx, videoID, fmt.Errorf("%w: load: %v", ErrUpstreamUnavailable, err))
	}

	owner := video.OwnerID.Hex()
	id := videoID.Hex()

	p.notifier.Emit(owner, notify.EventProcessing, ProcessingEvent{
		VideoID:  id,
		Status:   domain.StatusProcessing,
		Progress: 0,
	})

	for _, progress := range progressSteps {
		if err := p.wait(ctx); err != nil {
			return p.fail(ctx, videoID, err)
		}
		p.notifier.Emit(owner, notify.EventProgress, ProgressEvent{VideoID: id, Progress: progress})
	}

	sensitivity, err := p.classifier.Classify(ctx, video)
	if err != nil {
		return p.fail(ctx, videoID, fmt.Errorf("classify: %w", err))
	}
	if sensitivity != domain.SensitivitySafe && sensitivity != domain.SensitivityFlagged {
		return p.fail(ctx, videoID, fmt.Errorf("classify: unexpected sensitivity %q", sensitivity))
	}

	if err := p.store.UpdateStatus(ctx, videoID, domain.StatusCompleted, &sensitivity); err != nil {
		return p.fail(ctx, videoID, fmt.Errorf("%w: mark completed: %v", ErrUpstreamUnavailable, err))
	}

	video.Status = domain.StatusCompleted
	video.Sensitivity = sensitivity
	p.complete(video)
	completedSent = true
	p.archive(ctx, video)
	return resultCompleted
}

func (p *Processor) complete(video *domain.Video) {
	p.notifier.Emit(video.OwnerID.Hex(), notify.EventCompleted, CompletedEvent{
		VideoID:     video.ID.Hex(),
		Status:      domain.StatusCompleted,
		Sensitivity: video.Sensitivity,
		Progress:    100,
	})
}

func (p *Processor) wait(ctx context.Context) error {
	if p.stepDelay == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.stepDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fail is the recovery path. It is only reached before the job emitted its
// terminal event. It re-reads the video so the owner is known even when the
// failure happened before the first read. A video whose completed write was
// applied despite an error gets its completed event here; one that already
// failed elsewhere is left alone. Its own errors are only logged.
func (p *Processor) fail(ctx context.Context, videoID primitive.ObjectID, cause error) string {
	p.logger.Error("processing job failed", "videoId", videoID.Hex(), "error", cause)

	ctx = context.WithoutCancel(ctx)
	video, err := p.store.GetByID(ctx, videoID)
	if err != nil {
		p.logger.Error("recovery: could not reload video", "videoId", videoID.Hex(), "error", err)
		return resultFailed
	}
	switch video.Status {
	case domain.StatusCompleted:
		p.logger.Warn("recovery: completed write was applied", "videoId", videoID.Hex())
		p.complete(video)
		p.archive(ctx, video)
		return resultCompleted
	case domain.StatusFailed:
		p.logger.Warn("recovery: video already failed", "videoId", videoID.Hex())
		return resultSkipped
	}

	if err := p.store.UpdateStatus(ctx, videoID, domain.StatusFailed, nil); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return resultSkipped
		}
		// Left in processing; the sweeper stores and reports the failure.
		p.logger.Error("recovery: could not mark video failed", "videoId", videoID.Hex(), "error", err)
		return resultFailed
	}

	p.notifier.Emit(video.OwnerID.Hex(), notify.EventFailed, FailedEvent{
		VideoID: videoID.Hex(),
		Status:  domain.StatusFailed,
	})
	return resultFailed
}

func (p *Processor) archive(ctx context.Context, video *domain.Video) {
	if p.archiver == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	key, err := p.archiver.ArchiveVideo(ctx, video)
	if err != nil {
		p.logger.Warn("archive failed", "videoId", video.ID.Hex(), "error", err)
		return
	}
	if err := p.store.SetArchiveKey(ctx, video.ID, key); err != nil {
		p.logger.Warn("could not record archive key", "videoId", video.ID.Hex(), "error", err)
		return
	}
	p.logger.Info("video archived", "videoId", video.ID.Hex(), "key", key)
}
