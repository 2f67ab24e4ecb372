package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/retina/retina-export-back/internal/domain"
	"github.com/retina/retina-export-back/internal/repository"
)

// ErrNotJobOwner rejects cancellation of somebody else's job.
var ErrNotJobOwner = errors.New("job belongs to another user")

// Waker is the hook into the export worker. The service never runs a
// pipeline itself; it only records state and nudges the single consumer.
type Waker interface {
	Wake()
}

// DownloadsService is the thin admission-control layer between the HTTP
// boundary and the job store.
type DownloadsService struct {
	jobs   repository.JobsRepository
	users  repository.UsersRepository
	waker  Waker
	logger *log.Logger
}

func NewDownloadsService(jobs repository.JobsRepository, users repository.UsersRepository, waker Waker, logger *log.Logger) *DownloadsService {
	return &DownloadsService{jobs: jobs, users: users, waker: waker, logger: logger}
}

// JobStatusView merges the progress record with the job's live queue
// position, which is queue-derived and not part of progress itself.
type JobStatusView struct {
	JobID          int64            `json:"jobId"`
	Status         domain.JobStatus `json:"status"`
	Stage          domain.Stage     `json:"stage"`
	TotalItems     int              `json:"totalFiles"`
	ProcessedItems int              `json:"downloadedFiles"`
	ResultRef      string           `json:"zipUrl,omitempty"`
	ErrorDetail    string           `json:"error,omitempty"`
	QueuePosition  *int             `json:"queuePosition"`
}

// ActiveJobView answers "does this owner have anything running or waiting".
type ActiveJobView struct {
	Active        bool             `json:"active"`
	JobID         int64            `json:"jobId,omitempty"`
	Status        domain.JobStatus `json:"status,omitempty"`
	QueuePosition *int             `json:"queuePosition,omitempty"`
	Progress      *JobStatusView   `json:"progress,omitempty"`
}

// Start admits a new export request for the owner. The request is
// serialized once here and the exact bytes are what a queued job is later
// resumed from.
func (s *DownloadsService) Start(ctx context.Context, ownerID int64, request domain.ExportRequest) (*repository.AdmitResult, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("serialize export request: %w", err)
	}

	result, err := s.jobs.Admit(ctx, ownerID, raw)
	if err != nil {
		return nil, err
	}

	if result.Queued {
		s.logf("export job_id=%d queued at position %d", result.Job.ID, result.Position)
	} else {
		s.logf("export job_id=%d starting immediately", result.Job.ID)
		s.waker.Wake()
	}
	return result, nil
}

// Status returns the merged progress + position view, or ErrNotFound when
// neither the job nor its progress exists.
func (s *DownloadsService) Status(ctx context.Context, jobID int64) (*JobStatusView, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	progress, err := s.jobs.GetProgress(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &JobStatusView{
		JobID:          job.ID,
		Status:         job.Status,
		Stage:          progress.Stage,
		TotalItems:     progress.TotalItems,
		ProcessedItems: progress.ProcessedItems,
		ResultRef:      progress.ResultRef,
		ErrorDetail:    job.ErrorDetail,
		QueuePosition:  job.QueuePosition,
	}, nil
}

func (s *DownloadsService) Active(ctx context.Context, ownerID int64) (*ActiveJobView, error) {
	job, err := s.jobs.ActiveOrQueuedFor(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &ActiveJobView{Active: false}, nil
		}
		return nil, err
	}

	view := &ActiveJobView{
		Active:        true,
		JobID:         job.ID,
		Status:        job.Status,
		QueuePosition: job.QueuePosition,
	}
	if progress, err := s.Status(ctx, job.ID); err == nil {
		view.Progress = progress
	}
	return view, nil
}

// Cancel marks the job cancelled. When the cancelled job was the one
// processing, this path also advances the queue: the worker's own
// completion handler will advance again, but advancement is a no-op when a
// job is already processing, so the duplicate trigger is harmless.
func (s *DownloadsService) Cancel(ctx context.Context, ownerID, jobID int64) error {
	existing, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if existing.OwnerID != ownerID {
		return ErrNotJobOwner
	}

	job, wasProcessing, err := s.jobs.Cancel(ctx, jobID)
	if err != nil {
		return err
	}
	s.logf("export job_id=%d cancelled (was processing: %t)", job.ID, wasProcessing)

	if wasProcessing {
		if _, err := s.jobs.AdvanceQueue(ctx); err != nil {
			s.logf("queue advancement after cancel failed: %v", err)
		}
		s.waker.Wake()
	}
	return nil
}

// Queue returns the full snapshot with owner names resolved for display.
func (s *DownloadsService) Queue(ctx context.Context) (*domain.QueueSnapshot, error) {
	snapshot, err := s.jobs.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	if snapshot.Processing != nil {
		snapshot.Processing.OwnerName = s.ownerName(ctx, snapshot.Processing.OwnerID)
	}
	for i := range snapshot.Queue {
		snapshot.Queue[i].OwnerName = s.ownerName(ctx, snapshot.Queue[i].OwnerID)
	}
	return snapshot, nil
}

func (s *DownloadsService) ownerName(ctx context.Context, ownerID int64) string {
	user, err := s.users.GetByID(ctx, ownerID)
	if err != nil {
		return ""
	}
	return user.Name
}

func (s *DownloadsService) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
