package models

import "time"

type ExecutionStatus string

const (
	ExecutionProcessing ExecutionStatus = "processing"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
)

// MaxStoredRowErrors caps the per-run error sample persisted with an
// execution log so a pathological feed cannot blow up record size.
const MaxStoredRowErrors = 50

// RowError identifies one failed row within a run.
type RowError struct {
	Row     string `json:"row"`
	Message string `json:"message"`
}

// ExecutionLog is the persisted record of one scheduled run. It is created
// with status processing and finalized exactly once.
type ExecutionLog struct {
	ID             string          `json:"id"`
	JobID          string          `json:"job_id"`
	Status         ExecutionStatus `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	ItemsProcessed int             `json:"items_processed"`
	ItemsImported  int             `json:"items_imported"`
	ItemsFailed    int             `json:"items_failed"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	ErrorDetail    *string         `json:"error_detail,omitempty"`
	RowErrors      []RowError      `json:"row_errors,omitempty"`
}

// ImportSummary aggregates one run's row outcomes.
type ImportSummary struct {
	TotalProcessed int
	Imported       int
	Failed         int
	Errors         []RowError
	Duration       time.Duration
}
