package pipeline

import (
	"alcyxob/video-app/internal/domain"
	"alcyxob/video-app/internal/logging"
	"alcyxob/video-app/internal/notify"
	"alcyxob/video-app/internal/repository/memory"
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestReconcileMarksStaleVideos(t *testing.T) {
	store := memory.NewVideoRepository()
	n := &recordingNotifier{}
	stale := newVideo(t, store)
	fresh := newVideo(t, store)
	store.Backdate(stale.ID, time.Now().Add(-time.Hour))

	marked, err := newProcessor(t, store, n, nil).Reconcile(context.Background(), 10*time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}
	if marked != 1 {
		t.Fatalf("marked = %d", marked)
	}
	if got, _ := store.GetByID(context.Background(), stale.ID); got.Status != domain.StatusFailed {
		t.Fatalf("stale status = %s", got.Status)
	}
	if got, _ := store.GetByID(context.Background(), fresh.ID); got.Status != domain.StatusProcessing {
		t.Fatalf("fresh status = %s", got.Status)
	}
	if e := n.last(); e.event != notify.EventFailed || e.userID != stale.OwnerID.Hex() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestReconcileAtStartupFailsRecentOrphans(t *testing.T) {
	store := memory.NewVideoRepository()
	n := &recordingNotifier{}
	orphan := newVideo(t, store)
	store.Backdate(orphan.ID, time.Now().Add(-2*time.Minute))
	done := newVideo(t, store)
	safe := domain.SensitivitySafe
	if err := store.UpdateStatus(context.Background(), done.ID, domain.StatusCompleted, &safe); err != nil {
		t.Fatal(err)
	}

	marked, err := newProcessor(t, store, n, nil).Reconcile(context.Background(), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if marked != 1 {
		t.Fatalf("marked = %d", marked)
	}
	if got, _ := store.GetByID(context.Background(), orphan.ID); got.Status != domain.StatusFailed {
		t.Fatalf("orphan status = %s", got.Status)
	}
	if got, _ := store.GetByID(context.Background(), done.ID); got.Status != domain.StatusCompleted {
		t.Fatalf("completed video touched: %s", got.Status)
	}
	if got := n.names(); !equal(got, []string{notify.EventFailed}) {
		t.Fatalf("events = %v", got)
	}
}

func TestReconcileSkipsOwnedVideos(t *testing.T) {
	store := memory.NewVideoRepository()
	n := &recordingNotifier{}
	busy := newVideo(t, store)
	lost := newVideo(t, store)
	store.Backdate(busy.ID, time.Now().Add(-time.Hour))
	store.Backdate(lost.ID, time.Now().Add(-time.Hour))

	owned := func(id primitive.ObjectID) bool { return id == busy.ID }
	marked, err := newProcessor(t, store, n, nil).Reconcile(context.Background(), time.Minute, owned)
	if err != nil {
		t.Fatal(err)
	}
	if marked != 1 {
		t.Fatalf("marked = %d", marked)
	}
	if got, _ := store.GetByID(context.Background(), busy.ID); got.Status != domain.StatusProcessing {
		t.Fatalf("owned video status = %s", got.Status)
	}
	if e := n.last(); e.userID != lost.OwnerID.Hex() {
		t.Fatalf("event for %q, want lost video owner", e.userID)
	}
}

func TestSweeperSkipsScheduledJobs(t *testing.T) {
	store := memory.NewVideoRepository()
	n := &recordingNotifier{}
	p := newProcessor(t, store, n, nil)
	runner := &blockingRunner{release: make(chan struct{})}
	sched := NewScheduler(runner, 1, logging.Discard())

	running := newVideo(t, store)
	lost := newVideo(t, store)
	store.Backdate(running.ID, time.Now().Add(-time.Hour))
	store.Backdate(lost.ID, time.Now().Add(-time.Hour))
	if err := sched.Submit(running.ID); err != nil {
		t.Fatal(err)
	}

	sweeper := NewSweeper(p, sched, time.Hour, 10*time.Minute, logging.Discard())
	if marked := sweeper.Sweep(context.Background()); marked != 1 {
		t.Fatalf("marked = %d", marked)
	}
	if got, _ := store.GetByID(context.Background(), running.ID); got.Status != domain.StatusProcessing {
		t.Fatalf("scheduled video status = %s", got.Status)
	}
	if got, _ := store.GetByID(context.Background(), lost.ID); got.Status != domain.StatusFailed {
		t.Fatalf("lost video status = %s", got.Status)
	}

	close(runner.release)
	if err := sched.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	store := memory.NewVideoRepository()
	n := &recordingNotifier{}
	v := newVideo(t, store)
	store.Backdate(v.ID, time.Now().Add(-time.Hour))
	sweeper := NewSweeper(newProcessor(t, store, n, nil), nil, 5*time.Millisecond, time.Minute, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(stopped)
	}()

	deadline := time.After(2 * time.Second)
	for {
		got, _ := store.GetByID(context.Background(), v.ID)
		if got.Status == domain.StatusFailed {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper never failed the stale video")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
