package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/javi11/zipxtract/internal/errors"
)

// ErrJobNotFound is returned when a job id is unknown.
var ErrJobNotFound = errors.New("job not found")

// DBQuerier defines the interface for database query operations
// Both *sql.DB and *sql.Tx implement this interface
type DBQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository provides database operations for jobs and their files
type Repository struct {
	db  DBQuerier
	now func() time.Time
}

// NewRepository creates a new repository instance
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Transaction support

// WithTransaction executes a function within a database transaction
func (r *Repository) WithTransaction(ctx context.Context, fn func(*Repository) error) error {
	sqlDB, ok := r.db.(*sql.DB)
	if !ok {
		return fmt.Errorf("repository not connected to sql.DB")
	}

	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txRepo := &Repository{db: tx, now: r.now}

	err = fn(txRepo)
	if err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w): %w", err, rollbackErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Job operations

// CreateJob inserts a pending job. CreatedAt and UpdatedAt are set on job.
func (r *Repository) CreateJob(ctx context.Context, job *Job) error {
	now := r.now()
	if job.Status == "" {
		job.Status = JobStatusPending
	}

	query := `
		INSERT INTO jobs (id, kind, archive_path, status, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query,
		job.ID, job.Kind, job.ArchivePath, job.Status, job.Progress, now, now); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

// CreateJobWithFiles inserts a job and its files in one transaction.
func (r *Repository) CreateJobWithFiles(ctx context.Context, job *Job, files []JobFile) error {
	return r.WithTransaction(ctx, func(tx *Repository) error {
		if err := tx.CreateJob(ctx, job); err != nil {
			return err
		}
		return tx.AddFilesForJob(ctx, job.ID, files)
	})
}

// MarkRunning moves a job to running.
func (r *Repository) MarkRunning(ctx context.Context, id string) error {
	query := `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, "mark job running", query, JobStatusRunning, r.now(), id)
}

// UpdateProgress stores the latest progress percentage. Lower values than
// the stored one are ignored so that late writes never move a job back.
func (r *Repository) UpdateProgress(ctx context.Context, id string, progress int) error {
	query := `
		UPDATE jobs SET progress = ?, updated_at = ?
		WHERE id = ? AND progress < ?
	`
	if _, err := r.db.ExecContext(ctx, query, progress, r.now(), id, progress); err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// FinishJob records the terminal state of a job.
func (r *Repository) FinishJob(ctx context.Context, id string, status JobStatus, resultPath, errorKind, errorMessage string) error {
	if !status.Finished() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	query := `
		UPDATE jobs
		SET status = ?, result_path = ?, error_kind = ?, error_message = ?,
		    progress = CASE WHEN ? = 'completed' THEN 100 ELSE progress END,
		    updated_at = ?
		WHERE id = ?
	`
	return r.execOne(ctx, "finish job", query,
		status, resultPath, errorKind, errorMessage, status, r.now(), id)
}

// GetJob retrieves a job by id
func (r *Repository) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `
		SELECT id, kind, archive_path, status, progress, result_path,
		       error_kind, error_message, created_at, updated_at
		FROM jobs WHERE id = ?
	`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status. A
// limit of zero or less returns every job.
func (r *Repository) ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error) {
	query := `
		SELECT id, kind, archive_path, status, progress, result_path,
		       error_kind, error_message, created_at, updated_at
		FROM jobs
	`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteFinishedJobs removes terminal jobs last updated before cutoff and
// returns how many were removed.
func (r *Repository) DeleteFinishedJobs(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM jobs
		WHERE status IN (?, ?, ?) AND updated_at < ?
	`
	result, err := r.db.ExecContext(ctx, query,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(n), nil
}

// Job file operations

// AddFilesForJob attaches files to a job, in order.
func (r *Repository) AddFilesForJob(ctx context.Context, jobID string, files []JobFile) error {
	query := `INSERT INTO job_files (job_id, file_path, item_name) VALUES (?, ?, ?)`
	for i := range files {
		result, err := r.db.ExecContext(ctx, query, jobID, files[i].FilePath, files[i].ItemName)
		if err != nil {
			return fmt.Errorf("failed to add file for job: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get job file id: %w", err)
		}
		files[i].ID = id
		files[i].JobID = jobID
	}
	return nil
}

// GetFilesForJob returns the files of a job in insertion order.
func (r *Repository) GetFilesForJob(ctx context.Context, jobID string) ([]JobFile, error) {
	query := `
		SELECT id, job_id, file_path, item_name
		FROM job_files WHERE job_id = ? ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get files for job: %w", err)
	}
	defer rows.Close()

	var files []JobFile
	for rows.Next() {
		var f JobFile
		if err := rows.Scan(&f.ID, &f.JobID, &f.FilePath, &f.ItemName); err != nil {
			return nil, fmt.Errorf("failed to scan job file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFilesForJob removes every file attached to a job.
func (r *Repository) DeleteFilesForJob(ctx context.Context, jobID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM job_files WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to delete files for job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	err := row.Scan(&job.ID, &job.Kind, &job.ArchivePath, &job.Status, &job.Progress,
		&job.ResultPath, &job.ErrorKind, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *Repository) execOne(ctx context.Context, what, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}
