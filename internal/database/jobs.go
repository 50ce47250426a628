package database

import (
	"context"
	"database/sql"
	"time"

	"karavan/internal/models"
)

const jobColumns = `id, owner_id, name, description, cron_expr, source_url, status, is_active,
               last_run_at, next_run_at, success_count, error_count, created_at, updated_at`

// CreateJob persists a new import job.
func (db *DB) CreateJob(ctx context.Context, job *models.ImportJob) error {
	query := `
        INSERT INTO import_jobs (id, owner_id, name, description, cron_expr, source_url, status, is_active, last_run_at, next_run_at, success_count, error_count, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `

	_, err := db.db.ExecContext(ctx, query,
		job.ID,
		job.OwnerID,
		job.Name,
		job.Description,
		job.CronExpr,
		job.SourceURL,
		job.Status,
		job.IsActive,
		job.LastRunAt,
		job.NextRunAt,
		job.SuccessCount,
		job.ErrorCount,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// GetJob returns a job only when it belongs to the given owner.
// Returns sql.ErrNoRows for both a missing id and a foreign owner.
func (db *DB) GetJob(ctx context.Context, id, ownerID string) (*models.ImportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE id = ? AND owner_id = ?`
	return db.scanJob(db.db.QueryRowContext(ctx, query, id, ownerID))
}

// GetJobByID returns a job regardless of owner; used by the scheduler's
// internal execute path only.
func (db *DB) GetJobByID(ctx context.Context, id string) (*models.ImportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE id = ?`
	return db.scanJob(db.db.QueryRowContext(ctx, query, id))
}

func (db *DB) scanJob(row *sql.Row) (*models.ImportJob, error) {
	var job models.ImportJob
	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Name,
		&job.Description,
		&job.CronExpr,
		&job.SourceURL,
		&job.Status,
		&job.IsActive,
		&job.LastRunAt,
		&job.NextRunAt,
		&job.SuccessCount,
		&job.ErrorCount,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns all jobs of an owner, newest first.
func (db *DB) ListJobs(ctx context.Context, ownerID string) ([]models.ImportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE owner_id = ? ORDER BY created_at DESC`

	rows, err := db.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.ImportJob
	for rows.Next() {
		var job models.ImportJob
		err := rows.Scan(
			&job.ID,
			&job.OwnerID,
			&job.Name,
			&job.Description,
			&job.CronExpr,
			&job.SourceURL,
			&job.Status,
			&job.IsActive,
			&job.LastRunAt,
			&job.NextRunAt,
			&job.SuccessCount,
			&job.ErrorCount,
			&job.CreatedAt,
			&job.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListActiveJobs returns every job that should be rearmed on startup.
func (db *DB) ListActiveJobs(ctx context.Context) ([]models.ImportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE is_active = 1`

	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.ImportJob
	for rows.Next() {
		var job models.ImportJob
		err := rows.Scan(
			&job.ID,
			&job.OwnerID,
			&job.Name,
			&job.Description,
			&job.CronExpr,
			&job.SourceURL,
			&job.Status,
			&job.IsActive,
			&job.LastRunAt,
			&job.NextRunAt,
			&job.SuccessCount,
			&job.ErrorCount,
			&job.CreatedAt,
			&job.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob rewrites the mutable configuration fields of a job.
func (db *DB) UpdateJob(ctx context.Context, job *models.ImportJob) error {
	query := `
        UPDATE import_jobs
        SET name = ?, description = ?, cron_expr = ?, source_url = ?, next_run_at = ?, updated_at = ?
        WHERE id = ?
    `
	_, err := db.db.ExecContext(ctx, query,
		job.Name, job.Description, job.CronExpr, job.SourceURL, job.NextRunAt, time.Now(), job.ID)
	return err
}

// SetJobStatus moves a job to a lifecycle state and flips the active flag.
func (db *DB) SetJobStatus(ctx context.Context, id string, status models.JobStatus, isActive bool) error {
	query := `UPDATE import_jobs SET status = ?, is_active = ?, updated_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, status, isActive, time.Now(), id)
	return err
}

// SetJobNextRun stores a freshly computed next fire time.
func (db *DB) SetJobNextRun(ctx context.Context, id string, nextRun time.Time) error {
	query := `UPDATE import_jobs SET next_run_at = ?, updated_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, nextRun, time.Now(), id)
	return err
}

// FinalizeJobRun records the outcome of one execution: counters, timestamps
// and the return to active. A failed run still reschedules. A job paused or
// cancelled while the run was in flight keeps that state.
func (db *DB) FinalizeJobRun(ctx context.Context, id string, success bool, lastRun time.Time, nextRun *time.Time) error {
	query := `
        UPDATE import_jobs
        SET status = CASE WHEN is_active = 1 THEN ? ELSE status END,
            success_count = success_count + ?,
            error_count = error_count + ?,
            last_run_at = ?,
            next_run_at = ?,
            updated_at = ?
        WHERE id = ?
    `
	successInc, errorInc := 1, 0
	if !success {
		successInc, errorInc = 0, 1
	}
	_, err := db.db.ExecContext(ctx, query,
		models.JobStatusActive, successInc, errorInc, lastRun, nextRun, time.Now(), id)
	return err
}

// DeleteJob removes a job and cascades its execution history.
func (db *DB) DeleteJob(ctx context.Context, id, ownerID string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM import_jobs WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_logs WHERE job_id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}
