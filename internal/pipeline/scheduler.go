package pipeline

import (
	"alcyxob/video-app/internal/logging"
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/semaphore"
)

// Errors returned by Submit.
var (
	ErrAlreadyScheduled = errors.New("video is already being processed")
	ErrSchedulerClosed  = errors.New("scheduler is shut down")
)

// Runner processes a single video.
type Runner interface {
	Process(ctx context.Context, videoID primitive.ObjectID)
}

// Scheduler starts processing jobs in the background. At most maxConcurrent
// jobs run at once and a video id is never processed by two jobs at the same
// time.
type Scheduler struct {
	runner Runner
	sem    *semaphore.Weighted
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[primitive.ObjectID]struct{}
	closed   bool
}

// NewScheduler runs jobs on runner; maxConcurrent below one is treated as one.
func NewScheduler(runner Runner, maxConcurrent int64, logger *slog.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:   runner,
		sem:      semaphore.NewWeighted(maxConcurrent),
		logger:   logging.WithComponent(logger, "scheduler"),
		ctx:      ctx,
		cancel:   cancel,
		inFlight: make(map[primitive.ObjectID]struct{}),
	}
}

// Submit schedules videoID and returns immediately.
func (s *Scheduler) Submit(videoID primitive.ObjectID) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	if _, ok := s.inFlight[videoID]; ok {
		s.mu.Unlock()
		return ErrAlreadyScheduled
	}
	s.inFlight[videoID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.done(videoID)

		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			s.logger.Warn("job dropped before start", "videoId", videoID.Hex(), "error", err)
			return
		}
		defer s.sem.Release(1)
		s.runner.Process(s.ctx, videoID)
	}()
	return nil
}

func (s *Scheduler) done(videoID primitive.ObjectID) {
	s.mu.Lock()
	delete(s.inFlight, videoID)
	s.mu.Unlock()
}

// Scheduled reports whether a job for videoID is queued or running.
func (s *Scheduler) Scheduled(videoID primitive.ObjectID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[videoID]
	return ok
}

// InFlight returns the number of submitted jobs that have not finished.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Shutdown stops accepting jobs and waits for running ones. When ctx expires
// first, running jobs are cancelled and ctx's error is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("shutdown timed out, cancelling running jobs", "inFlight", s.InFlight())
		return ctx.Err()
	}
}
