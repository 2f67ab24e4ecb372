package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/retina/retina-export-back/internal/domain"
)

var (
	ErrNotFound    = errors.New("resource not found")
	ErrJobTerminal = errors.New("job already finished")
)

// DuplicateActiveJobError is returned by Admit when the owner already has a
// queued or processing job. It carries the existing job so the HTTP layer
// can answer with its id, status and position instead of creating another.
type DuplicateActiveJobError struct {
	Existing *domain.ExportJob
}

func (e *DuplicateActiveJobError) Error() string {
	return fmt.Sprintf("owner %d already has an active export job %d", e.Existing.OwnerID, e.Existing.ID)
}

// AdmitResult reports whether the new job started immediately or was queued.
type AdmitResult struct {
	Job      *domain.ExportJob
	Queued   bool
	Position int
}

// PromotedJob is the job picked by AdvanceQueue together with the original
// request parameters persisted in its progress record.
type PromotedJob struct {
	Job     *domain.ExportJob
	Request json.RawMessage
}

// JobsRepository owns every mutation of job status and queue positions.
// Queue order is derived from the position column, never stored separately,
// and implementations must keep positions contiguous from 1 under any mix
// of concurrent Admit/Cancel/AdvanceQueue calls.
type JobsRepository interface {
	// Admit either starts a job immediately (no job is processing) or
	// appends it to the queue. Fails with *DuplicateActiveJobError when the
	// owner already has a live job.
	Admit(ctx context.Context, ownerID int64, request json.RawMessage) (*AdmitResult, error)

	// Cancel marks a non-terminal job cancelled. Queued jobs leave the
	// queue synchronously and the positions behind them close up. The
	// second return reports whether the job was processing when cancelled.
	Cancel(ctx context.Context, jobID int64) (*domain.ExportJob, bool, error)

	// AdvanceQueue promotes the queued job with the lowest position to
	// processing in one atomic step. It returns nil without mutating
	// anything when the queue is empty or a job is already processing,
	// which makes it safe to invoke from more than one completion path.
	AdvanceQueue(ctx context.Context) (*PromotedJob, error)

	GetJob(ctx context.Context, jobID int64) (*domain.ExportJob, error)
	GetProgress(ctx context.Context, jobID int64) (*domain.ExportProgress, error)
	ActiveOrQueuedFor(ctx context.Context, ownerID int64) (*domain.ExportJob, error)
	CurrentlyProcessing(ctx context.Context) (*domain.ExportJob, error)
	Snapshot(ctx context.Context) (*domain.QueueSnapshot, error)

	// Pipeline-side mutations, used only by the orchestrator.
	UpdateStage(ctx context.Context, jobID int64, stage domain.Stage) error
	SetTotalItems(ctx context.Context, jobID int64, total int) error
	SetProcessedItems(ctx context.Context, jobID int64, processed int) error

	// Finish records the terminal state exactly once. If the job was
	// already terminal (for example cancelled out-of-band) the stored
	// status wins and only the progress record is synced to it.
	Finish(ctx context.Context, jobID int64, status domain.JobStatus, resultRef, errorDetail string) error
}

// MemoryJobsRepository keeps jobs in memory for local development and tests.
// A single mutex serializes admissions, cancellations and promotions, which
// is the same discipline the Postgres implementation gets from row locks.
type MemoryJobsRepository struct {
	mu       sync.Mutex
	nextID   int64
	jobs     map[int64]*domain.ExportJob
	progress map[int64]*domain.ExportProgress
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		nextID:   1,
		jobs:     make(map[int64]*domain.ExportJob),
		progress: make(map[int64]*domain.ExportProgress),
	}
}

func (r *MemoryJobsRepository) Admit(_ context.Context, ownerID int64, request json.RawMessage) (*AdmitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, job := range r.jobs {
		if job.OwnerID == ownerID && !job.Status.Terminal() {
			return nil, &DuplicateActiveJobError{Existing: cloneJob(job)}
		}
	}

	now := time.Now().UTC()
	job := &domain.ExportJob{
		ID:        r.nextID,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.nextID++

	result := &AdmitResult{Job: job}
	stage := domain.StageStarting
	if r.processingLocked() != nil {
		position := r.maxQueuePositionLocked() + 1
		queuedAt := now
		job.Status = domain.JobStatusQueued
		job.QueuePosition = &position
		job.QueuedAt = &queuedAt
		stage = domain.StageQueued
		result.Queued = true
		result.Position = position
	} else {
		job.Status = domain.JobStatusProcessing
	}

	r.jobs[job.ID] = job
	r.progress[job.ID] = &domain.ExportProgress{
		JobID:       job.ID,
		Stage:       stage,
		RequestJSON: append(json.RawMessage(nil), request...),
		UpdatedAt:   now,
	}

	result.Job = cloneJob(job)
	return result, nil
}

func (r *MemoryJobsRepository) Cancel(_ context.Context, jobID int64) (*domain.ExportJob, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if job.Status.Terminal() {
		return nil, false, ErrJobTerminal
	}

	wasProcessing := job.Status == domain.JobStatusProcessing
	cancelledPosition := 0
	if job.Status == domain.JobStatusQueued && job.QueuePosition != nil {
		cancelledPosition = *job.QueuePosition
	}

	job.Status = domain.JobStatusCancelled
	job.QueuePosition = nil
	job.UpdatedAt = time.Now().UTC()

	if progress, ok := r.progress[jobID]; ok {
		progress.Stage = domain.StageCancelled
		progress.UpdatedAt = job.UpdatedAt
	}

	if cancelledPosition > 0 {
		r.shiftPositionsAfterLocked(cancelledPosition)
	}

	return cloneJob(job), wasProcessing, nil
}

func (r *MemoryJobsRepository) AdvanceQueue(_ context.Context) (*PromotedJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.processingLocked() != nil {
		return nil, nil
	}

	next := r.lowestQueuedLocked()
	if next == nil {
		return nil, nil
	}

	next.Status = domain.JobStatusProcessing
	next.QueuePosition = nil
	next.UpdatedAt = time.Now().UTC()
	r.shiftPositionsAfterLocked(0)

	var request json.RawMessage
	if progress, ok := r.progress[next.ID]; ok {
		progress.Stage = domain.StageStarting
		progress.UpdatedAt = next.UpdatedAt
		request = append(json.RawMessage(nil), progress.RequestJSON...)
	}

	return &PromotedJob{Job: cloneJob(next), Request: request}, nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID int64) (*domain.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) GetProgress(_ context.Context, jobID int64) (*domain.ExportProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	progress, ok := r.progress[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProgress(progress), nil
}

func (r *MemoryJobsRepository) ActiveOrQueuedFor(_ context.Context, ownerID int64) (*domain.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var newest *domain.ExportJob
	for _, job := range r.jobs {
		if job.OwnerID != ownerID || job.Status.Terminal() {
			continue
		}
		if newest == nil || job.CreatedAt.After(newest.CreatedAt) {
			newest = job
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	return cloneJob(newest), nil
}

func (r *MemoryJobsRepository) CurrentlyProcessing(_ context.Context) (*domain.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job := r.processingLocked(); job != nil {
		return cloneJob(job), nil
	}
	return nil, ErrNotFound
}

func (r *MemoryJobsRepository) Snapshot(_ context.Context) (*domain.QueueSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := &domain.QueueSnapshot{Queue: make([]domain.QueueEntry, 0)}
	if job := r.processingLocked(); job != nil {
		snapshot.Processing = &domain.QueueEntry{JobID: job.ID, OwnerID: job.OwnerID}
	}

	for _, job := range r.jobs {
		if job.Status != domain.JobStatusQueued || job.QueuePosition == nil {
			continue
		}
		snapshot.Queue = append(snapshot.Queue, domain.QueueEntry{
			JobID:    job.ID,
			OwnerID:  job.OwnerID,
			Position: *job.QueuePosition,
			QueuedAt: job.QueuedAt,
		})
	}
	sort.Slice(snapshot.Queue, func(i, j int) bool {
		return snapshot.Queue[i].Position < snapshot.Queue[j].Position
	})
	snapshot.Length = len(snapshot.Queue)
	return snapshot, nil
}

func (r *MemoryJobsRepository) UpdateStage(_ context.Context, jobID int64, stage domain.Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	progress, ok := r.progress[jobID]
	if !ok {
		return ErrNotFound
	}
	progress.Stage = stage
	progress.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryJobsRepository) SetTotalItems(_ context.Context, jobID int64, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	progress, ok := r.progress[jobID]
	if !ok {
		return ErrNotFound
	}
	progress.TotalItems = total
	progress.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryJobsRepository) SetProcessedItems(_ context.Context, jobID int64, processed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	progress, ok := r.progress[jobID]
	if !ok {
		return ErrNotFound
	}
	if processed > progress.ProcessedItems {
		progress.ProcessedItems = processed
	}
	progress.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryJobsRepository) Finish(_ context.Context, jobID int64, status domain.JobStatus, resultRef, errorDetail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	if !job.Status.Terminal() {
		job.Status = status
		job.ResultRef = resultRef
		job.ErrorDetail = errorDetail
	}
	job.QueuePosition = nil
	job.UpdatedAt = now

	if progress, ok := r.progress[jobID]; ok {
		progress.Stage = stageForStatus(job.Status)
		if job.Status == domain.JobStatusCompleted {
			progress.ResultRef = job.ResultRef
		}
		progress.UpdatedAt = now
	}
	return nil
}

func (r *MemoryJobsRepository) processingLocked() *domain.ExportJob {
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusProcessing {
			return job
		}
	}
	return nil
}

func (r *MemoryJobsRepository) lowestQueuedLocked() *domain.ExportJob {
	var lowest *domain.ExportJob
	for _, job := range r.jobs {
		if job.Status != domain.JobStatusQueued || job.QueuePosition == nil {
			continue
		}
		if lowest == nil || *job.QueuePosition < *lowest.QueuePosition ||
			(*job.QueuePosition == *lowest.QueuePosition && job.CreatedAt.Before(lowest.CreatedAt)) {
			lowest = job
		}
	}
	return lowest
}

func (r *MemoryJobsRepository) maxQueuePositionLocked() int {
	max := 0
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusQueued && job.QueuePosition != nil && *job.QueuePosition > max {
			max = *job.QueuePosition
		}
	}
	return max
}

// shiftPositionsAfterLocked closes the gap left behind position `after` by
// pulling every later queued job forward by one.
func (r *MemoryJobsRepository) shiftPositionsAfterLocked(after int) {
	for _, job := range r.jobs {
		if job.Status != domain.JobStatusQueued || job.QueuePosition == nil {
			continue
		}
		if *job.QueuePosition > after {
			shifted := *job.QueuePosition - 1
			job.QueuePosition = &shifted
		}
	}
}

func stageForStatus(status domain.JobStatus) domain.Stage {
	switch status {
	case domain.JobStatusCompleted:
		return domain.StageCompleted
	case domain.JobStatusCancelled:
		return domain.StageCancelled
	default:
		return domain.StageFailed
	}
}

func cloneJob(job *domain.ExportJob) *domain.ExportJob {
	if job == nil {
		return nil
	}
	clone := *job
	if job.QueuePosition != nil {
		position := *job.QueuePosition
		clone.QueuePosition = &position
	}
	if job.QueuedAt != nil {
		queuedAt := *job.QueuedAt
		clone.QueuedAt = &queuedAt
	}
	return &clone
}

func cloneProgress(progress *domain.ExportProgress) *domain.ExportProgress {
	if progress == nil {
		return nil
	}
	clone := *progress
	clone.RequestJSON = append(json.RawMessage(nil), progress.RequestJSON...)
	return &clone
}
