package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
	"github.com/therealutkarshpriyadarshi/montage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

const schema = `
	CREATE TABLE IF NOT EXISTS export_jobs (
		id           UUID PRIMARY KEY,
		project_path TEXT NOT NULL DEFAULT '',
		output_path  TEXT NOT NULL,
		status       TEXT NOT NULL,
		progress     DOUBLE PRECISION NOT NULL DEFAULT 0,
		error_msg    TEXT NOT NULL DEFAULT '',
		object_url   TEXT NOT NULL DEFAULT '',
		settings     JSONB NOT NULL DEFAULT '{}',
		started_at   TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS export_jobs_created_at_idx ON export_jobs (created_at DESC);
`

// Repository provides export history operations
type Repository struct {
	db     *DB
	logger *logging.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Repository{db: db, logger: logger.WithComponent("database")}
}

func (r *Repository) observe(operation string, start time.Time, err error) {
	elapsed := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordDatabaseOperation(operation, status, elapsed.Seconds())
	r.logger.LogDatabaseOperation(operation, elapsed, err)
}

// EnsureSchema creates the export history table when missing
func (r *Repository) EnsureSchema(ctx context.Context) (err error) {
	defer func(start time.Time) { r.observe("ensure_schema", start, err) }(time.Now())

	if _, err = r.db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateExport inserts a new export job
func (r *Repository) CreateExport(ctx context.Context, job *models.ExportJob) (err error) {
	defer func(start time.Time) { r.observe("create_export", start, err) }(time.Now())

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	query := `
		INSERT INTO export_jobs (id, project_path, output_path, status, progress, settings, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		job.ID, job.ProjectPath, job.OutputPath, job.Status, job.Progress, job.Settings, job.StartedAt,
	).Scan(&job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create export: %w", err)
	}

	return nil
}

// UpdateProgress records render progress in [0, 1]
func (r *Repository) UpdateProgress(ctx context.Context, id string, progress float64) (err error) {
	defer func(start time.Time) { r.observe("update_progress", start, err) }(time.Now())

	query := `
		UPDATE export_jobs
		SET progress = $2, updated_at = NOW()
		WHERE id = $1
	`

	if _, err = r.db.Pool.Exec(ctx, query, id, progress); err != nil {
		return fmt.Errorf("failed to update export progress: %w", err)
	}

	return nil
}

// FinishExport stores the terminal status of a job
func (r *Repository) FinishExport(ctx context.Context, job *models.ExportJob) (err error) {
	defer func(start time.Time) { r.observe("finish_export", start, err) }(time.Now())

	if job.CompletedAt == nil {
		now := time.Now()
		job.CompletedAt = &now
	}

	query := `
		UPDATE export_jobs
		SET status = $2, progress = $3, error_msg = $4, object_url = $5,
		    completed_at = $6, updated_at = NOW()
		WHERE id = $1
	`

	_, err = r.db.Pool.Exec(ctx, query,
		job.ID, job.Status, job.Progress, job.ErrorMsg, job.ObjectURL, job.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to finish export: %w", err)
	}

	return nil
}

// GetExport retrieves an export job by ID
func (r *Repository) GetExport(ctx context.Context, id string) (*models.ExportJob, error) {
	var job models.ExportJob

	query := `
		SELECT id, project_path, output_path, status, progress, error_msg, object_url,
		       settings, started_at, completed_at, created_at, updated_at
		FROM export_jobs
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.ProjectPath, &job.OutputPath, &job.Status, &job.Progress,
		&job.ErrorMsg, &job.ObjectURL, &job.Settings, &job.StartedAt,
		&job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("export", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export: %w", err)
	}

	return &job, nil
}

// ListExports retrieves export jobs, newest first
func (r *Repository) ListExports(ctx context.Context, limit, offset int) ([]*models.ExportJob, error) {
	query := `
		SELECT id, project_path, output_path, status, progress, error_msg, object_url,
		       settings, started_at, completed_at, created_at, updated_at
		FROM export_jobs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ExportJob
	for rows.Next() {
		var job models.ExportJob
		err := rows.Scan(
			&job.ID, &job.ProjectPath, &job.OutputPath, &job.Status, &job.Progress,
			&job.ErrorMsg, &job.ObjectURL, &job.Settings, &job.StartedAt,
			&job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export: %w", err)
		}
		jobs = append(jobs, &job)
	}

	return jobs, rows.Err()
}

// ExportStats counts jobs by terminal status
func (r *Repository) ExportStats(ctx context.Context) (map[string]int64, error) {
	query := `
		SELECT status, COUNT(*)
		FROM export_jobs
		GROUP BY status
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get export stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan export stats: %w", err)
		}
		stats[status] = count
	}

	return stats, rows.Err()
}
