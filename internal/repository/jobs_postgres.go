package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retina/retina-export-back/internal/domain"
)

// queueLockKey is the advisory lock serializing every queue mutation.
// Admissions, cancellations and promotions all take it for the duration of
// their transaction, so positions can never tear or duplicate.
const queueLockKey = int64(0x7265746e61657871)

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(pool *pgxpool.Pool) *PostgresJobsRepository {
	return &PostgresJobsRepository{pool: pool}
}

func (r *PostgresJobsRepository) Admit(ctx context.Context, ownerID int64, request json.RawMessage) (*AdmitResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin admit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockQueue(ctx, tx); err != nil {
		return nil, err
	}

	existing, err := scanJobRow(tx.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM export_jobs
		WHERE owner_id = $1 AND status IN ('queued','processing')
		ORDER BY created_at DESC
		LIMIT 1
	`, ownerID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check owner job: %w", err)
	}
	if existing != nil {
		return nil, &DuplicateActiveJobError{Existing: existing}
	}

	var processingCount int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM export_jobs WHERE status = 'processing'`).Scan(&processingCount); err != nil {
		return nil, fmt.Errorf("count processing jobs: %w", err)
	}

	now := time.Now().UTC()
	result := &AdmitResult{}
	status := domain.JobStatusProcessing
	stage := domain.StageStarting
	var position *int
	var queuedAt *time.Time

	if processingCount > 0 {
		var maxPosition int
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(queue_position), 0) FROM export_jobs WHERE status = 'queued'
		`).Scan(&maxPosition); err != nil {
			return nil, fmt.Errorf("max queue position: %w", err)
		}
		next := maxPosition + 1
		status = domain.JobStatusQueued
		stage = domain.StageQueued
		position = &next
		queuedAt = &now
		result.Queued = true
		result.Position = next
	}

	job := &domain.ExportJob{
		OwnerID:       ownerID,
		Status:        status,
		QueuePosition: position,
		QueuedAt:      queuedAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO export_jobs (owner_id, status, queue_position, queued_at, result_ref, error_detail, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '', '', $5, $5)
		RETURNING id
	`, ownerID, string(status), position, queuedAt, now).Scan(&job.ID); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO export_progress (job_id, stage, total_items, processed_items, result_ref, request, updated_at)
		VALUES ($1, $2, 0, 0, '', $3, $4)
	`, job.ID, string(stage), request, now); err != nil {
		return nil, fmt.Errorf("insert progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit admit: %w", err)
	}
	result.Job = job
	return result, nil
}

func (r *PostgresJobsRepository) Cancel(ctx context.Context, jobID int64) (*domain.ExportJob, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockQueue(ctx, tx); err != nil {
		return nil, false, err
	}

	job, err := scanJobRow(tx.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM export_jobs WHERE id = $1 FOR UPDATE
	`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("load job: %w", err)
	}
	if job.Status.Terminal() {
		return nil, false, ErrJobTerminal
	}

	wasProcessing := job.Status == domain.JobStatusProcessing
	cancelledPosition := 0
	if job.Status == domain.JobStatusQueued && job.QueuePosition != nil {
		cancelledPosition = *job.QueuePosition
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE export_jobs SET status = 'cancelled', queue_position = NULL, updated_at = $2 WHERE id = $1
	`, jobID, now); err != nil {
		return nil, false, fmt.Errorf("cancel job: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE export_progress SET stage = 'cancelled', updated_at = $2 WHERE job_id = $1
	`, jobID, now); err != nil {
		return nil, false, fmt.Errorf("cancel progress: %w", err)
	}

	if cancelledPosition > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE export_jobs SET queue_position = queue_position - 1
			WHERE status = 'queued' AND queue_position > $1
		`, cancelledPosition); err != nil {
			return nil, false, fmt.Errorf("compact queue: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit cancel: %w", err)
	}

	job.Status = domain.JobStatusCancelled
	job.QueuePosition = nil
	job.UpdatedAt = now
	return job, wasProcessing, nil
}

func (r *PostgresJobsRepository) AdvanceQueue(ctx context.Context) (*PromotedJob, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin advance tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockQueue(ctx, tx); err != nil {
		return nil, err
	}

	var processingCount int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM export_jobs WHERE status = 'processing'`).Scan(&processingCount); err != nil {
		return nil, fmt.Errorf("count processing jobs: %w", err)
	}
	if processingCount > 0 {
		return nil, nil
	}

	job, err := scanJobRow(tx.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM export_jobs
		WHERE status = 'queued'
		ORDER BY queue_position ASC, queued_at ASC
		LIMIT 1
		FOR UPDATE
	`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("pick next job: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE export_jobs SET status = 'processing', queue_position = NULL, updated_at = $2 WHERE id = $1
	`, job.ID, now); err != nil {
		return nil, fmt.Errorf("promote job: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE export_jobs SET queue_position = queue_position - 1
		WHERE status = 'queued' AND queue_position > 0
	`); err != nil {
		return nil, fmt.Errorf("compact queue: %w", err)
	}

	var request []byte
	if err := tx.QueryRow(ctx, `
		UPDATE export_progress SET stage = 'starting', updated_at = $2 WHERE job_id = $1
		RETURNING request
	`, job.ID, now).Scan(&request); err != nil {
		return nil, fmt.Errorf("load promoted request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit advance: %w", err)
	}

	job.Status = domain.JobStatusProcessing
	job.QueuePosition = nil
	job.UpdatedAt = now
	return &PromotedJob{Job: job, Request: request}, nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID int64) (*domain.ExportJob, error) {
	job, err := scanJobRow(r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM export_jobs WHERE id = $1
	`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) GetProgress(ctx context.Context, jobID int64) (*domain.ExportProgress, error) {
	progress := &domain.ExportProgress{}
	var stage string
	err := r.pool.QueryRow(ctx, `
		SELECT job_id, stage, total_items, processed_items, result_ref, request, updated_at
		FROM export_progress WHERE job_id = $1
	`, jobID).Scan(
		&progress.JobID,
		&stage,
		&progress.TotalItems,
		&progress.ProcessedItems,
		&progress.ResultRef,
		&progress.RequestJSON,
		&progress.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query progress: %w", err)
	}
	progress.Stage = domain.Stage(stage)
	return progress, nil
}

func (r *PostgresJobsRepository) ActiveOrQueuedFor(ctx context.Context, ownerID int64) (*domain.ExportJob, error) {
	job, err := scanJobRow(r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM export_jobs
		WHERE owner_id = $1 AND status IN ('queued','processing')
		ORDER BY created_at DESC
		LIMIT 1
	`, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query active job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) CurrentlyProcessing(ctx context.Context) (*domain.ExportJob, error) {
	job, err := scanJobRow(r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM export_jobs WHERE status = 'processing' LIMIT 1
	`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query processing job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) Snapshot(ctx context.Context) (*domain.QueueSnapshot, error) {
	snapshot := &domain.QueueSnapshot{Queue: make([]domain.QueueEntry, 0)}

	processing, err := r.CurrentlyProcessing(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if processing != nil {
		snapshot.Processing = &domain.QueueEntry{JobID: processing.ID, OwnerID: processing.OwnerID}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, queue_position, queued_at
		FROM export_jobs
		WHERE status = 'queued'
		ORDER BY queue_position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry domain.QueueEntry
		if err := rows.Scan(&entry.JobID, &entry.OwnerID, &entry.Position, &entry.QueuedAt); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		snapshot.Queue = append(snapshot.Queue, entry)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", rows.Err())
	}

	snapshot.Length = len(snapshot.Queue)
	return snapshot, nil
}

func (r *PostgresJobsRepository) UpdateStage(ctx context.Context, jobID int64, stage domain.Stage) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE export_progress SET stage = $2, updated_at = $3 WHERE job_id = $1
	`, jobID, string(stage), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) SetTotalItems(ctx context.Context, jobID int64, total int) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE export_progress SET total_items = $2, updated_at = $3 WHERE job_id = $1
	`, jobID, total, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update total items: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) SetProcessedItems(ctx context.Context, jobID int64, processed int) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE export_progress
		SET processed_items = GREATEST(processed_items, $2), updated_at = $3
		WHERE job_id = $1
	`, jobID, processed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update processed items: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) Finish(ctx context.Context, jobID int64, status domain.JobStatus, resultRef, errorDetail string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin finish tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := scanJobRow(tx.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM export_jobs WHERE id = $1 FOR UPDATE
	`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("load job: %w", err)
	}

	now := time.Now().UTC()
	final := job.Status
	if !final.Terminal() {
		final = status
		if _, err := tx.Exec(ctx, `
			UPDATE export_jobs
			SET status = $2, result_ref = $3, error_detail = $4, queue_position = NULL, updated_at = $5
			WHERE id = $1
		`, jobID, string(final), resultRef, errorDetail, now); err != nil {
			return fmt.Errorf("finish job: %w", err)
		}
	}

	progressRef := ""
	if final == domain.JobStatusCompleted {
		progressRef = resultRef
	}
	if _, err := tx.Exec(ctx, `
		UPDATE export_progress
		SET stage = $2, result_ref = CASE WHEN $3 <> '' THEN $3 ELSE result_ref END, updated_at = $4
		WHERE job_id = $1
	`, jobID, string(stageForStatus(final)), progressRef, now); err != nil {
		return fmt.Errorf("finish progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finish: %w", err)
	}
	return nil
}

const jobColumns = `id, owner_id, status, queue_position, queued_at, result_ref, error_detail, created_at, updated_at`

func scanJobRow(row pgx.Row) (*domain.ExportJob, error) {
	var (
		job    domain.ExportJob
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&status,
		&job.QueuePosition,
		&job.QueuedAt,
		&job.ResultRef,
		&job.ErrorDetail,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func lockQueue(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, queueLockKey); err != nil {
		return fmt.Errorf("acquire queue lock: %w", err)
	}
	return nil
}
