package worker

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"testing"
	"time"

	"github.com/retina/retina-export-back/internal/domain"
	"github.com/retina/retina-export-back/internal/drive"
	"github.com/retina/retina-export-back/internal/export"
	"github.com/retina/retina-export-back/internal/mail"
	"github.com/retina/retina-export-back/internal/objstore"
	"github.com/retina/retina-export-back/internal/repository"
)

type stubUploader struct{}

func (stubUploader) UploadFile(context.Context, string, string, drive.Credentials, drive.TokenUpdateFunc) (*drive.UploadResult, error) {
	return &drive.UploadResult{FileID: "f-1", ViewLink: "https://drive.google.com/file/d/f-1/view"}, nil
}

func newTestRunner(t *testing.T) (*Runner, *repository.MemoryJobsRepository, *repository.MemoryPhotosRepository, *objstore.MemoryStore) {
	t.Helper()

	jobs := repository.NewMemoryJobsRepository()
	photos := repository.NewMemoryPhotosRepository(nil)
	store := objstore.NewMemoryStore()
	users := repository.NewMemoryUsersRepository()
	for _, seed := range []string{"g-1", "g-2", "g-3"} {
		if _, err := users.UpsertByGoogleID(context.Background(), &domain.User{
			GoogleID: seed,
			Email:    seed + "@example.com",
			Name:     "Owner " + seed,
		}); err != nil {
			t.Fatalf("seed user %s: %v", seed, err)
		}
	}

	mailer, err := mail.NewSender(mail.Config{})
	if err != nil {
		t.Fatalf("mailer: %v", err)
	}

	orchestrator := export.NewOrchestrator(export.Dependencies{
		Jobs:     jobs,
		Photos:   photos,
		Users:    users,
		Store:    store,
		Uploader: stubUploader{},
		Mailer:   mailer,
		Logger:   log.New(os.Stderr, "", 0),
		WorkRoot: t.TempDir(),
	})
	return NewRunner(jobs, orchestrator, log.New(os.Stderr, "", 0)), jobs, photos, store
}

func waitForTerminal(t *testing.T, jobs *repository.MemoryJobsRepository, jobID int64) *domain.ExportJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := jobs.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job %d: %v", jobID, err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %d never reached a terminal state", jobID)
	return nil
}

func TestRunnerDrainsQueueAcrossFailures(t *testing.T) {
	runner, jobs, photos, store := newTestRunner(t)

	// Owner 2's job will fail (no matching photos for its area); the queue
	// must still advance to owner 3's job afterwards.
	store.Put("uploads/p1.jpg", []byte("data"))
	photos.Add(domain.Photo{
		ID:        1,
		ObjectKey: "uploads/p1.jpg",
		CreatedAt: time.Now().UTC(),
		Store:     domain.Store{Area: "North", Region: "R", City: "C", Name: "Outlet"},
	})

	okRequest, _ := json.Marshal(domain.ExportRequest{Area: "North"})
	badRequest, _ := json.Marshal(domain.ExportRequest{Area: "Nowhere"})

	first, err := jobs.Admit(context.Background(), 1, okRequest)
	if err != nil {
		t.Fatalf("admit first: %v", err)
	}
	second, err := jobs.Admit(context.Background(), 2, badRequest)
	if err != nil {
		t.Fatalf("admit second: %v", err)
	}
	third, err := jobs.Admit(context.Background(), 3, okRequest)
	if err != nil {
		t.Fatalf("admit third: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Start(ctx)
	runner.Wake()

	if job := waitForTerminal(t, jobs, first.Job.ID); job.Status != domain.JobStatusCompleted {
		t.Fatalf("expected first job completed, got %q (%s)", job.Status, job.ErrorDetail)
	}
	if job := waitForTerminal(t, jobs, second.Job.ID); job.Status != domain.JobStatusFailed {
		t.Fatalf("expected second job failed, got %q", job.Status)
	}
	if job := waitForTerminal(t, jobs, third.Job.ID); job.Status != domain.JobStatusCompleted {
		t.Fatalf("expected third job completed, got %q (%s)", job.Status, job.ErrorDetail)
	}

	if _, err := jobs.CurrentlyProcessing(context.Background()); err == nil {
		t.Fatalf("expected idle worker after drain")
	}
}

func TestRunnerResumesStaleProcessingJobOnStart(t *testing.T) {
	runner, jobs, photos, store := newTestRunner(t)

	store.Put("uploads/p1.jpg", []byte("data"))
	photos.Add(domain.Photo{
		ID:        1,
		ObjectKey: "uploads/p1.jpg",
		CreatedAt: time.Now().UTC(),
		Store:     domain.Store{Area: "North", Region: "R", City: "C", Name: "Outlet"},
	})

	request, _ := json.Marshal(domain.ExportRequest{Area: "North"})
	admitted, err := jobs.Admit(context.Background(), 1, request)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	// The job sits in processing with no worker attached, simulating a
	// restart mid-run.

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Start(ctx)

	if job := waitForTerminal(t, jobs, admitted.Job.ID); job.Status != domain.JobStatusCompleted {
		t.Fatalf("expected resumed job completed, got %q (%s)", job.Status, job.ErrorDetail)
	}
}
