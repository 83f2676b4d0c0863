package pipeline

import (
	"alcyxob/video-app/internal/domain"
	"alcyxob/video-app/internal/logging"
	"alcyxob/video-app/internal/notify"
	"alcyxob/video-app/internal/repository"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Reconcile marks videos that have been processing for longer than staleAfter
// as failed and emits video:failed to their owners. Ids for which owned
// reports true belong to a live job and are left alone; owned may be nil.
// At startup no job from a previous process survives, so Reconcile(ctx, 0, nil)
// fails every video still in processing.
func (p *Processor) Reconcile(ctx context.Context, staleAfter time.Duration, owned func(primitive.ObjectID) bool) (int, error) {
	stale, err := p.store.ListStale(ctx, time.Now().UTC().Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("%w: list stale videos: %v", ErrUpstreamUnavailable, err)
	}
	marked := 0
	for _, v := range stale {
		if owned != nil && owned(v.ID) {
			continue
		}
		err := p.store.UpdateStatus(ctx, v.ID, domain.StatusFailed, nil)
		switch {
		case errors.Is(err, repository.ErrInvalidTransition), errors.Is(err, repository.ErrNotFound):
			continue
		case err != nil:
			p.logger.Error("reconcile: could not mark video failed", "videoId", v.ID.Hex(), "error", err)
			continue
		}
		marked++
		p.notifier.Emit(v.OwnerID.Hex(), notify.EventFailed, FailedEvent{VideoID: v.ID.Hex(), Status: domain.StatusFailed})
	}
	if marked > 0 {
		p.logger.Warn("reconciled stale videos", "count", marked)
	}
	return marked, nil
}

// Sweeper runs Reconcile on a ticker so videos whose job was lost or whose
// failure could not be stored do not stay in processing until the next
// restart. Videos the scheduler still owns are skipped.
type Sweeper struct {
	processor  *Processor
	scheduler  *Scheduler
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewSweeper returns a sweeper; a non-positive interval defaults to a minute.
func NewSweeper(processor *Processor, scheduler *Scheduler, interval, staleAfter time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		processor:  processor,
		scheduler:  scheduler,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logging.WithComponent(logger, "sweeper"),
	}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs a single pass.
func (s *Sweeper) Sweep(ctx context.Context) int {
	var owned func(primitive.ObjectID) bool
	if s.scheduler != nil {
		owned = s.scheduler.Scheduled
	}
	marked, err := s.processor.Reconcile(ctx, s.staleAfter, owned)
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
	}
	return marked
}
