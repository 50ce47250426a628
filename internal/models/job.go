package models

import "time"

// JobStatus is the lifecycle state of a scheduled import job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusActive     JobStatus = "active"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCancelled
}

// ImportJob is a cron-bound CSV import configuration for one catalog owner.
type ImportJob struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	CronExpr     string     `json:"cron_expr"`
	SourceURL    string     `json:"source_url"`
	Status       JobStatus  `json:"status"`
	IsActive     bool       `json:"is_active"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	SuccessCount int64      `json:"success_count"`
	ErrorCount   int64      `json:"error_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
