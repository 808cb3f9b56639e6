package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/formatninja/transformd/internal/interfaces"
)

// Store is the Postgres-backed JobStore. All status transitions are
// single UPDATE statements guarded by the current status, which gives
// the compare-and-set semantics the orchestrator relies on across
// worker processes.
type Store struct {
	db *sql.DB
}

// NewStore creates a new database store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `job_id, source_format, target_format, status, source_path, result_path, config, error_message, created_at, updated_at, completed_at`

// CreateJob inserts a new job record
func (s *Store) CreateJob(ctx context.Context, job *interfaces.Job) error {
	var config any
	if job.Config != nil {
		raw, err := json.Marshal(job.Config)
		if err != nil {
			return fmt.Errorf("marshal job config: %w", err)
		}
		config = raw
	}

	query := `
		INSERT INTO transformation_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.SourceFormat, job.TargetFormat, job.Status,
		nullString(job.SourcePath), nullString(job.ResultPath), config,
		nullString(job.ErrorMessage), job.CreatedAt, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*interfaces.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM transformation_jobs WHERE job_id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ClaimJob atomically moves a pending job to processing. The WHERE
// clause on the current status makes this a single compare-and-set
// write; concurrent claims race on the row and exactly one wins.
func (s *Store) ClaimJob(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE transformation_jobs
		SET status = $2, updated_at = NOW()
		WHERE job_id = $1 AND status = $3
	`
	result, err := s.db.ExecContext(ctx, query, id,
		interfaces.StatusProcessing, interfaces.StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// MarkCompleted atomically moves a processing job to completed,
// recording the result path and completion time in the same write.
func (s *Store) MarkCompleted(ctx context.Context, id, resultPath string) error {
	query := `
		UPDATE transformation_jobs
		SET status = $2, result_path = $3, updated_at = NOW(), completed_at = NOW()
		WHERE job_id = $1 AND status = $4
	`
	return s.execTerminal(ctx, query, id,
		interfaces.StatusCompleted, resultPath, interfaces.StatusProcessing)
}

// MarkFailed atomically moves a processing job to failed, recording the
// error message and completion time in the same write.
func (s *Store) MarkFailed(ctx context.Context, id, errorMessage string) error {
	query := `
		UPDATE transformation_jobs
		SET status = $2, error_message = $3, updated_at = NOW(), completed_at = NOW()
		WHERE job_id = $1 AND status = $4
	`
	return s.execTerminal(ctx, query, id,
		interfaces.StatusFailed, errorMessage, interfaces.StatusProcessing)
}

func (s *Store) execTerminal(ctx context.Context, query, id string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job %s is not in processing state", id)
	}
	return nil
}

// ListJobs retrieves the most recent jobs, newest first
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*interfaces.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM transformation_jobs ORDER BY created_at DESC LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListStalePending returns pending jobs untouched since the cutoff,
// oldest first, for the sweeper to requeue.
func (s *Store) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*interfaces.Job, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	query := `
		SELECT ` + jobColumns + `
		FROM transformation_jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, interfaces.StatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale pending jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*interfaces.Job, error) {
	job := &interfaces.Job{}
	var (
		sourcePath, resultPath, errorMessage sql.NullString
		config                               []byte
		completedAt                          sql.NullTime
	)

	err := row.Scan(
		&job.ID, &job.SourceFormat, &job.TargetFormat, &job.Status,
		&sourcePath, &resultPath, &config, &errorMessage,
		&job.CreatedAt, &job.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	job.SourcePath = sourcePath.String
	job.ResultPath = resultPath.String
	job.ErrorMessage = errorMessage.String
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &job.Config); err != nil {
			return nil, fmt.Errorf("unmarshal job config: %w", err)
		}
	}
	return job, nil
}

func scanJobs(rows *sql.Rows) ([]*interfaces.Job, error) {
	var jobs []*interfaces.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return jobs, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
