package models

import "time"

// AnalysisJob represents one runoff or erosion screening run
type AnalysisJob struct {
	ID string `json:"id" db:"id"` // uuid

	// Job identification
	Kind       string `json:"kind" db:"kind"`              // starkregen, erosion
	SourceMode string `json:"dem_source" db:"source_mode"` // wcs, catalog, file

	// Status
	Status          string `json:"status" db:"status"` // pending, running, completed, failed, cancelled
	ProgressPercent int    `json:"progress_percent" db:"progress_percent"`
	Stage           string `json:"stage,omitempty" db:"stage"`
	Message         string `json:"message,omitempty" db:"message"`

	// Input parameters
	ParamsJSON string `json:"params_json,omitempty" db:"params_json"` // submitted request

	// Execution info
	StartTime int64 `json:"start_time,omitempty" db:"start_time"` // Unix timestamp
	EndTime   int64 `json:"end_time,omitempty" db:"end_time"`     // Unix timestamp

	// Results
	ResultJSON   string `json:"-" db:"result_json"` // FeatureCollection + analysis object
	ErrorKind    string `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	// Metadata
	CreatedBy string    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// JobStatus constants
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Terminal reports whether the job will not change any more.
func (j *AnalysisJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobProgress is one progress event of a running job
type JobProgress struct {
	JobID   string `json:"job_id"`
	Stage   string `json:"stage"`
	Step    int    `json:"step"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"` // set on the final event
}
