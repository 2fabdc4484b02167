package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
	"github.com/hydrowatch/hydrorisk-backend/internal/models"
)

// JobRepository stores analysis jobs
type JobRepository interface {
	Create(ctx context.Context, job *models.AnalysisJob) error
	GetByID(ctx context.Context, id string) (*models.AnalysisJob, error)
	List(ctx context.Context, kind, status string, limit, offset int) ([]*models.AnalysisJob, error)
	Update(ctx context.Context, job *models.AnalysisJob) error
	UpdateProgress(ctx context.Context, id string, p models.JobProgress) error
}

const jobColumns = `id, kind, source_mode, status, progress_percent, stage, message,
	params_json, start_time, end_time, result_json, error_kind, error_message,
	created_by, created_at, updated_at`

// SQLiteJobRepository handles job persistence in sqlite
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a new sqlite job repository
func NewSQLiteJobRepository(db *sql.DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

// Create inserts a new job
func (r *SQLiteJobRepository) Create(ctx context.Context, job *models.AnalysisJob) error {
	query := `
		INSERT INTO analysis_jobs (
			id, kind, source_mode, status, progress_percent, stage, message,
			params_json, start_time, end_time, result_json, error_kind, error_message,
			created_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.Kind,
		job.SourceMode,
		job.Status,
		job.ProgressPercent,
		job.Stage,
		job.Message,
		job.ParamsJSON,
		job.StartTime,
		job.EndTime,
		job.ResultJSON,
		job.ErrorKind,
		job.ErrorMessage,
		job.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by ID
func (r *SQLiteJobRepository) GetByID(ctx context.Context, id string) (*models.AnalysisJob, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE id = ?`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Ef(apperr.NotFound, "analysis job not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis job: %w", err)
	}
	return job, nil
}

// List retrieves jobs with optional filters, newest first
func (r *SQLiteJobRepository) List(ctx context.Context, kind, status string, limit, offset int) ([]*models.AnalysisJob, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE 1=1`

	args := []interface{}{}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
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
func (r *SQLiteJobRepository) Update(ctx context.Context, job *models.AnalysisJob) error {
	query := `
		UPDATE analysis_jobs
		SET status = ?, progress_percent = ?, stage = ?, message = ?,
			start_time = ?, end_time = ?, result_json = ?, error_kind = ?,
			error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	res, err := r.db.ExecContext(ctx, query,
		job.Status,
		job.ProgressPercent,
		job.Stage,
		job.Message,
		job.StartTime,
		job.EndTime,
		job.ResultJSON,
		job.ErrorKind,
		job.ErrorMessage,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update analysis job: %w", err)
	}
	return requireRow(res, job.ID)
}

// UpdateProgress records the latest progress event
func (r *SQLiteJobRepository) UpdateProgress(ctx context.Context, id string, p models.JobProgress) error {
	query := `
		UPDATE analysis_jobs
		SET progress_percent = ?, stage = ?, message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, query, p.Percent, p.Stage, p.Message, id)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return requireRow(res, id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.AnalysisJob, error) {
	job := &models.AnalysisJob{}
	err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.SourceMode,
		&job.Status,
		&job.ProgressPercent,
		&job.Stage,
		&job.Message,
		&job.ParamsJSON,
		&job.StartTime,
		&job.EndTime,
		&job.ResultJSON,
		&job.ErrorKind,
		&job.ErrorMessage,
		&job.CreatedBy,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return apperr.Ef(apperr.NotFound, "analysis job not found: %s", id)
	}
	return nil
}
