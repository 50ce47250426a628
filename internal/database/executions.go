package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"karavan/internal/models"
)

// CreateExecution inserts a new execution log with status processing.
func (db *DB) CreateExecution(ctx context.Context, log *models.ExecutionLog) error {
	query := `
        INSERT INTO execution_logs (id, job_id, status, started_at)
        VALUES (?, ?, ?, ?)
    `
	_, err := db.db.ExecContext(ctx, query, log.ID, log.JobID, log.Status, log.StartedAt)
	return err
}

// FinalizeExecution writes the terminal state of a run. The finished_at
// guard keeps an already-finalized log immutable.
func (db *DB) FinalizeExecution(ctx context.Context, log *models.ExecutionLog) error {
	if log.FinishedAt == nil {
		now := time.Now()
		log.FinishedAt = &now
	}

	rowErrors := log.RowErrors
	if len(rowErrors) > models.MaxStoredRowErrors {
		rowErrors = rowErrors[:models.MaxStoredRowErrors]
	}
	var rowErrorsJSON *string
	if len(rowErrors) > 0 {
		data, err := json.Marshal(rowErrors)
		if err != nil {
			return fmt.Errorf("encode row errors: %w", err)
		}
		s := string(data)
		rowErrorsJSON = &s
	}

	query := `
        UPDATE execution_logs
        SET status = ?, finished_at = ?, items_processed = ?, items_imported = ?, items_failed = ?,
            error_message = ?, error_detail = ?, row_errors = ?
        WHERE id = ? AND finished_at IS NULL
    `
	res, err := db.db.ExecContext(ctx, query,
		log.Status,
		log.FinishedAt,
		log.ItemsProcessed,
		log.ItemsImported,
		log.ItemsFailed,
		log.ErrorMessage,
		log.ErrorDetail,
		rowErrorsJSON,
		log.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("execution %s already finalized or missing", log.ID)
	}
	return nil
}

// GetExecution returns one execution log.
func (db *DB) GetExecution(ctx context.Context, id string) (*models.ExecutionLog, error) {
	query := `
        SELECT id, job_id, status, started_at, finished_at, items_processed, items_imported, items_failed,
               error_message, error_detail, row_errors
        FROM execution_logs WHERE id = ?
    `
	return scanExecution(db.db.QueryRowContext(ctx, query, id))
}

func scanExecution(row *sql.Row) (*models.ExecutionLog, error) {
	var log models.ExecutionLog
	var rowErrorsJSON sql.NullString
	err := row.Scan(
		&log.ID,
		&log.JobID,
		&log.Status,
		&log.StartedAt,
		&log.FinishedAt,
		&log.ItemsProcessed,
		&log.ItemsImported,
		&log.ItemsFailed,
		&log.ErrorMessage,
		&log.ErrorDetail,
		&rowErrorsJSON,
	)
	if err != nil {
		return nil, err
	}
	if rowErrorsJSON.Valid && rowErrorsJSON.String != "" {
		if err := json.Unmarshal([]byte(rowErrorsJSON.String), &log.RowErrors); err != nil {
			return nil, fmt.Errorf("decode row errors: %w", err)
		}
	}
	return &log, nil
}

// ListExecutions returns a page of a job's execution history, newest first.
func (db *DB) ListExecutions(ctx context.Context, jobID string, limit, offset int) ([]models.ExecutionLog, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := `
        SELECT id, job_id, status, started_at, finished_at, items_processed, items_imported, items_failed,
               error_message, error_detail, row_errors
        FROM execution_logs
        WHERE job_id = ?
        ORDER BY started_at DESC
        LIMIT ? OFFSET ?
    `
	rows, err := db.db.QueryContext(ctx, query, jobID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ExecutionLog
	for rows.Next() {
		var log models.ExecutionLog
		var rowErrorsJSON sql.NullString
		err := rows.Scan(
			&log.ID,
			&log.JobID,
			&log.Status,
			&log.StartedAt,
			&log.FinishedAt,
			&log.ItemsProcessed,
			&log.ItemsImported,
			&log.ItemsFailed,
			&log.ErrorMessage,
			&log.ErrorDetail,
			&rowErrorsJSON,
		)
		if err != nil {
			return nil, err
		}
		if rowErrorsJSON.Valid && rowErrorsJSON.String != "" {
			if err := json.Unmarshal([]byte(rowErrorsJSON.String), &log.RowErrors); err != nil {
				return nil, fmt.Errorf("decode row errors: %w", err)
			}
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// PruneExecutions removes finalized logs older than the cutoff.
func (db *DB) PruneExecutions(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.db.ExecContext(ctx,
		`DELETE FROM execution_logs WHERE finished_at IS NOT NULL AND finished_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
