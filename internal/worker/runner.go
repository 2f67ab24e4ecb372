// Package worker hosts the single consumer that drives export jobs.
package worker

import (
	"context"
	"errors"
	"log"

	"github.com/retina/retina-export-back/internal/export"
	"github.com/retina/retina-export-back/internal/repository"
)

// Runner executes at most one export job at a time. Jobs are obtained only
// through the store's atomic operations: either the job already marked
// processing, or the one promoted by AdvanceQueue. Admission and
// cancellation paths call Wake to nudge the loop.
type Runner struct {
	jobs         repository.JobsRepository
	orchestrator *export.Orchestrator
	logger       *log.Logger
	wake         chan struct{}
}

func NewRunner(jobs repository.JobsRepository, orchestrator *export.Orchestrator, logger *log.Logger) *Runner {
	return &Runner{
		jobs:         jobs,
		orchestrator: orchestrator,
		logger:       logger,
		wake:         make(chan struct{}, 1),
	}
}

// Wake signals that work may be available. Safe from any goroutine and
// never blocks.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start blocks until ctx is done. A job left in processing by a previous
// run is picked up on startup and resumed from its persisted request.
func (r *Runner) Start(ctx context.Context) {
	r.Wake()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}
		r.drain(ctx)
	}
}

// drain runs jobs until the store has nothing processing and nothing
// queued. The loop head re-reads the store each pass, so a job promoted by
// a concurrent cancel handler is picked up as well.
func (r *Runner) drain(ctx context.Context) {
	var lastRun int64
	for ctx.Err() == nil {
		job, err := r.jobs.CurrentlyProcessing(ctx)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				r.logf("failed to read processing job: %v", err)
				return
			}
			promoted, advanceErr := r.jobs.AdvanceQueue(ctx)
			if advanceErr != nil {
				r.logf("queue advancement failed: %v", advanceErr)
				return
			}
			if promoted == nil {
				return
			}
			job = promoted.Job
		}

		if job.ID == lastRun {
			// The previous run could not reach a terminal state; back off
			// until the next wake instead of spinning on the same job.
			r.logf("job %d still processing after run, backing off", job.ID)
			return
		}

		r.logf("running export job_id=%d owner_id=%d", job.ID, job.OwnerID)
		r.orchestrator.Run(ctx, job)
		lastRun = job.ID
	}
}

func (r *Runner) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
