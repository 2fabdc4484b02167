package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
	"github.com/hydrowatch/hydrorisk-backend/internal/models"
)

// PostgresJobRepository handles job persistence in postgres
type PostgresJobRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresJobRepository creates a new postgres job repository
func NewPostgresJobRepository(pool *pgxpool.Pool) *PostgresJobRepository {
	return &PostgresJobRepository{pool: pool}
}

const insertJobSQL = `
INSERT INTO analysis_jobs (
	id, kind, source_mode, status, progress_percent, stage, message,
	params_json, start_time, end_time, result_json, error_kind, error_message,
	created_by, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW(),NOW())`

// Create inserts a new job
func (r *PostgresJobRepository) Create(ctx context.Context, job *models.AnalysisJob) error {
	_, err := r.pool.Exec(ctx, insertJobSQL,
		job.ID, job.Kind, job.SourceMode, job.Status, job.ProgressPercent, job.Stage, job.Message,
		job.ParamsJSON, job.StartTime, job.EndTime, job.ResultJSON, job.ErrorKind, job.ErrorMessage,
		job.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by ID
func (r *PostgresJobRepository) GetByID(ctx context.Context, id string) (*models.AnalysisJob, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Ef(apperr.NotFound, "analysis job not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis job: %w", err)
	}
	return job, nil
}

// List retrieves jobs with optional filters, newest first
func (r *PostgresJobRepository) List(ctx context.Context, kind, status string, limit, offset int) ([]*models.AnalysisJob, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+jobColumns+`
FROM analysis_jobs
WHERE ($1 = '' OR kind = $1) AND ($2 = '' OR status = $2)
ORDER BY created_at DESC, id
LIMIT $3 OFFSET $4`, kind, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.AnalysisJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Update writes the mutable job fields
func (r *PostgresJobRepository) Update(ctx context.Context, job *models.AnalysisJob) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE analysis_jobs
SET status = $1, progress_percent = $2, stage = $3, message = $4,
    start_time = $5, end_time = $6, result_json = $7, error_kind = $8,
    error_message = $9, updated_at = NOW()
WHERE id = $10`,
		job.Status, job.ProgressPercent, job.Stage, job.Message,
		job.StartTime, job.EndTime, job.ResultJSON, job.ErrorKind,
		job.ErrorMessage, job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update analysis job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Ef(apperr.NotFound, "analysis job not found: %s", job.ID)
	}
	return nil
}

// UpdateProgress records the latest progress event
func (r *PostgresJobRepository) UpdateProgress(ctx context.Context, id string, p models.JobProgress) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE analysis_jobs
SET progress_percent = $1, stage = $2, message = $3, updated_at = NOW()
WHERE id = $4`, p.Percent, p.Stage, p.Message, id)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Ef(apperr.NotFound, "analysis job not found: %s", id)
	}
	return nil
}
