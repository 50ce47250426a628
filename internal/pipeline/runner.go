package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"karavan/internal/config"
	"karavan/internal/database"
	"karavan/internal/events"
	"karavan/internal/importer"
	"karavan/internal/metrics"
	"karavan/internal/models"
	"karavan/internal/normalize"
	"karavan/internal/notify"
	"karavan/internal/resolve"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SourceFetcher downloads the job's source as text.
type SourceFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// SheetFetcher optionally reads Google Sheets through the API instead of
// the CSV-export URL.
type SheetFetcher interface {
	CanHandle(url string) bool
	FetchCSV(ctx context.Context, url string) (string, error)
}

// Runner performs one execution of an import job: acquire the CSV,
// normalize it, import rows in batches, finalize the execution log and
// publish the completion event.
type Runner struct {
	db      *database.DB
	fetcher SourceFetcher
	sheets  SheetFetcher
	bus     *events.EventBus
	cfg     config.ImportConfig
	logger  *zerolog.Logger
}

func NewRunner(db *database.DB, fetcher SourceFetcher, sheets SheetFetcher, bus *events.EventBus, cfg config.ImportConfig, logger *zerolog.Logger) *Runner {
	return &Runner{
		db:      db,
		fetcher: fetcher,
		sheets:  sheets,
		bus:     bus,
		cfg:     cfg,
		logger:  logger,
	}
}

// Execute runs the pipeline for one job and returns an error only for a
// top-level failure (fetch or parse); per-row failures are recorded in the
// execution log and do not fail the run.
func (r *Runner) Execute(ctx context.Context, job models.ImportJob) error {
	logger := r.logger.With().Str("job_id", job.ID).Str("job_name", job.Name).Logger()

	execLog := &models.ExecutionLog{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Status:    models.ExecutionProcessing,
		StartedAt: time.Now(),
	}
	if err := r.db.CreateExecution(ctx, execLog); err != nil {
		return fmt.Errorf("create execution log: %w", err)
	}

	logger.Info().Str("execution_id", execLog.ID).Str("url", job.SourceURL).Msg("import run started")

	text, err := r.acquire(ctx, job.SourceURL, &logger)
	if err != nil {
		return r.finalizeFailed(ctx, job, execLog, models.ImportSummary{}, err, &logger)
	}

	resolver := resolve.NewResolver(r.db, job.OwnerID, &logger)
	executor := importer.NewExecutor(r.db, r.cfg.BatchSize, r.cfg.ProgressInterval, r.cfg.ErrorSampleLimit, &logger)
	rows := normalize.NewRowReader(strings.NewReader(text))

	summary, err := executor.Run(ctx, job.OwnerID, resolver, rows)
	if err != nil {
		return r.finalizeFailed(ctx, job, execLog, summary, fmt.Errorf("parse csv: %w", err), &logger)
	}

	execLog.Status = models.ExecutionCompleted
	execLog.ItemsProcessed = summary.TotalProcessed
	execLog.ItemsImported = summary.Imported
	execLog.ItemsFailed = summary.Failed
	execLog.RowErrors = summary.Errors
	if err := r.db.FinalizeExecution(ctx, execLog); err != nil {
		logger.Error().Err(err).Msg("finalize execution log")
	}

	metrics.ObserveRun(string(models.ExecutionCompleted), summary.Imported, summary.Failed, summary.Duration)
	r.publish(notify.EventRunCompleted, job, execLog, summary, "")

	logger.Info().
		Str("execution_id", execLog.ID).
		Int("processed", summary.TotalProcessed).
		Int("imported", summary.Imported).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("import run completed")
	return nil
}

// acquire prefers the Sheets API when configured and applicable; any API
// failure falls back to the HTTP fetch path.
func (r *Runner) acquire(ctx context.Context, url string, logger *zerolog.Logger) (string, error) {
	if r.sheets != nil && r.sheets.CanHandle(url) {
		text, err := r.sheets.FetchCSV(ctx, url)
		if err == nil {
			return text, nil
		}
		logger.Warn().Err(err).Msg("sheets API fetch failed, falling back to HTTP")
	}
	return r.fetcher.Fetch(ctx, url)
}

func (r *Runner) finalizeFailed(ctx context.Context, job models.ImportJob, execLog *models.ExecutionLog, summary models.ImportSummary, cause error, logger *zerolog.Logger) error {
	message := cause.Error()
	detail := fmt.Sprintf("%T: %v", cause, cause)

	execLog.Status = models.ExecutionFailed
	execLog.ItemsProcessed = summary.TotalProcessed
	execLog.ItemsImported = summary.Imported
	execLog.ItemsFailed = summary.Failed
	execLog.RowErrors = summary.Errors
	execLog.ErrorMessage = &message
	execLog.ErrorDetail = &detail
	if err := r.db.FinalizeExecution(ctx, execLog); err != nil {
		logger.Error().Err(err).Msg("finalize execution log")
	}

	metrics.ObserveRun(string(models.ExecutionFailed), summary.Imported, summary.Failed, summary.Duration)
	r.publish(notify.EventRunFailed, job, execLog, summary, message)

	logger.Error().Err(cause).Str("execution_id", execLog.ID).Msg("import run failed")
	return cause
}

func (r *Runner) publish(eventType string, job models.ImportJob, execLog *models.ExecutionLog, summary models.ImportSummary, errMsg string) {
	if r.bus == nil {
		return
	}

	finished := time.Now()
	if execLog.FinishedAt != nil {
		finished = *execLog.FinishedAt
	}

	event := notify.RunEvent{
		JobID:          job.ID,
		JobName:        job.Name,
		ExecutionID:    execLog.ID,
		Status:         string(execLog.Status),
		ItemsProcessed: summary.TotalProcessed,
		ItemsImported:  summary.Imported,
		ItemsFailed:    summary.Failed,
		Error:          errMsg,
		DurationMS:     summary.Duration.Milliseconds(),
		FinishedAt:     finished,
	}
	if err := r.bus.PublishJSON(eventType, event); err != nil {
		r.logger.Warn().Err(err).Msg("publish run event")
	}
}
