package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/retina/retina-export-back/internal/domain"
	"github.com/retina/retina-export-back/internal/repository"
)

type recordingWaker struct {
	mu    sync.Mutex
	wakes int
}

func (w *recordingWaker) Wake() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.wakes++
}

func (w *recordingWaker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wakes
}

func newDownloadsService(t *testing.T) (*DownloadsService, *repository.MemoryJobsRepository, *recordingWaker) {
	t.Helper()

	jobs := repository.NewMemoryJobsRepository()
	users := repository.NewMemoryUsersRepository()
	for _, name := range []string{"Alice", "Bob"} {
		if _, err := users.UpsertByGoogleID(context.Background(), &domain.User{GoogleID: name, Name: name}); err != nil {
			t.Fatalf("seed user %s: %v", name, err)
		}
	}
	waker := &recordingWaker{}
	return NewDownloadsService(jobs, users, waker, nil), jobs, waker
}

func TestStartWakesWorkerOnlyWhenImmediate(t *testing.T) {
	service, _, waker := newDownloadsService(t)
	ctx := context.Background()

	first, err := service.Start(ctx, 1, domain.ExportRequest{})
	if err != nil {
		t.Fatalf("start first: %v", err)
	}
	if first.Queued {
		t.Fatalf("expected immediate start")
	}
	if waker.count() != 1 {
		t.Fatalf("expected one wake after immediate start, got %d", waker.count())
	}

	second, err := service.Start(ctx, 2, domain.ExportRequest{})
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	if !second.Queued {
		t.Fatalf("expected second start queued")
	}
	if waker.count() != 1 {
		t.Fatalf("expected no wake for queued job, got %d", waker.count())
	}
}

func TestCancelProcessingJobPromotesNext(t *testing.T) {
	service, jobs, waker := newDownloadsService(t)
	ctx := context.Background()

	first, err := service.Start(ctx, 1, domain.ExportRequest{})
	if err != nil {
		t.Fatalf("start first: %v", err)
	}
	second, err := service.Start(ctx, 2, domain.ExportRequest{})
	if err != nil {
		t.Fatalf("start second: %v", err)
	}

	if err := service.Cancel(ctx, 1, first.Job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	promoted, err := jobs.GetJob(ctx, second.Job.ID)
	if err != nil {
		t.Fatalf("get promoted: %v", err)
	}
	if promoted.Status != domain.JobStatusProcessing {
		t.Fatalf("expected queued job promoted after cancel, got %q", promoted.Status)
	}
	if waker.count() < 2 {
		t.Fatalf("expected wake after cancelling processing job, got %d", waker.count())
	}
}

func TestCancelRejectsNonOwner(t *testing.T) {
	service, _, _ := newDownloadsService(t)
	ctx := context.Background()

	first, err := service.Start(ctx, 1, domain.ExportRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := service.Cancel(ctx, 2, first.Job.ID); !errors.Is(err, ErrNotJobOwner) {
		t.Fatalf("expected ErrNotJobOwner, got %v", err)
	}
}

func TestStatusMergesQueuePosition(t *testing.T) {
	service, _, _ := newDownloadsService(t)
	ctx := context.Background()

	if _, err := service.Start(ctx, 1, domain.ExportRequest{}); err != nil {
		t.Fatalf("start first: %v", err)
	}
	second, err := service.Start(ctx, 2, domain.ExportRequest{})
	if err != nil {
		t.Fatalf("start second: %v", err)
	}

	view, err := service.Status(ctx, second.Job.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != domain.JobStatusQueued || view.Stage != domain.StageQueued {
		t.Fatalf("expected queued view, got status=%q stage=%q", view.Status, view.Stage)
	}
	if view.QueuePosition == nil || *view.QueuePosition != 1 {
		t.Fatalf("expected position 1, got %v", view.QueuePosition)
	}
}

func TestQueueResolvesOwnerNames(t *testing.T) {
	service, _, _ := newDownloadsService(t)
	ctx := context.Background()

	if _, err := service.Start(ctx, 1, domain.ExportRequest{}); err != nil {
		t.Fatalf("start first: %v", err)
	}
	if _, err := service.Start(ctx, 2, domain.ExportRequest{}); err != nil {
		t.Fatalf("start second: %v", err)
	}

	snapshot, err := service.Queue(ctx)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if snapshot.Processing == nil || snapshot.Processing.OwnerName != "Alice" {
		t.Fatalf("expected Alice processing, got %+v", snapshot.Processing)
	}
	if snapshot.Length != 1 || snapshot.Queue[0].OwnerName != "Bob" {
		t.Fatalf("expected Bob queued, got %+v", snapshot.Queue)
	}
}
