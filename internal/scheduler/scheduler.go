package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"karavan/internal/database"
	"karavan/internal/models"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	// ErrJobNotFound covers both a missing id and a foreign owner, so job
	// existence is not leaked across owners.
	ErrJobNotFound = errors.New("import job not found")
	// ErrInvalidCron rejects a schedule/update with a bad cron expression.
	ErrInvalidCron = errors.New("invalid cron expression")
	// ErrJobCancelled rejects operations on a terminal job.
	ErrJobCancelled = errors.New("import job is cancelled")
)

// Runner executes one import run for a job.
type Runner interface {
	Execute(ctx context.Context, job models.ImportJob) error
}

type ScheduleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CronExpr    string `json:"cron_expr"`
	SourceURL   string `json:"source_url"`
}

// UpdateRequest carries partial fields; nil means "leave unchanged".
type UpdateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	CronExpr    *string `json:"cron_expr"`
	SourceURL   *string `json:"source_url"`
}

// jobHandle is the registry entry for one job: its armed timer plus the
// guard that keeps a second cron fire from overlapping a run in flight.
type jobHandle struct {
	timer   *time.Timer
	running atomic.Bool
}

// Scheduler owns the set of configured import jobs and their timers.
// State is persisted in the database so active jobs survive restarts;
// the timer registry itself is in-memory and single-process.
type Scheduler struct {
	db     *database.DB
	runner Runner
	parser cron.Parser
	logger *zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	handles map[string]*jobHandle
}

func New(db *database.DB, runner Runner, logger *zerolog.Logger) *Scheduler {
	return &Scheduler{
		db:      db,
		runner:  runner,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:  logger,
		now:     time.Now,
		handles: make(map[string]*jobHandle),
	}
}

// NextRun computes the first fire time of a cron expression strictly after
// the given instant.
func (s *Scheduler) NextRun(expr string, after time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return schedule.Next(after), nil
}

// Schedule validates the request, persists the job and arms its timer.
func (s *Scheduler) Schedule(ctx context.Context, ownerID string, req ScheduleRequest) (*models.ImportJob, error) {
	if req.SourceURL == "" {
		return nil, errors.New("source url is required")
	}
	if req.Name == "" {
		return nil, errors.New("job name is required")
	}

	next, err := s.NextRun(req.CronExpr, s.now())
	if err != nil {
		return nil, err
	}

	now := s.now()
	job := &models.ImportJob{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        req.Name,
		Description: req.Description,
		CronExpr:    req.CronExpr,
		SourceURL:   req.SourceURL,
		Status:      models.JobStatusPending,
		IsActive:    false,
		NextRunAt:   &next,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	if err := s.db.SetJobStatus(ctx, job.ID, models.JobStatusActive, true); err != nil {
		return nil, fmt.Errorf("activate job: %w", err)
	}
	job.Status = models.JobStatusActive
	job.IsActive = true

	s.armAt(job.ID, next)
	s.logger.Info().Str("job_id", job.ID).Str("cron", job.CronExpr).Time("next_run", next).Msg("job scheduled")
	return job, nil
}

// Update applies partial changes; a cron change recomputes the next run and
// rearms the timer only while the job stays active.
func (s *Scheduler) Update(ctx context.Context, ownerID, id string, req UpdateRequest) (*models.ImportJob, error) {
	job, err := s.getOwned(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, ErrJobCancelled
	}

	if req.Name != nil {
		job.Name = *req.Name
	}
	if req.Description != nil {
		job.Description = *req.Description
	}
	if req.SourceURL != nil {
		job.SourceURL = *req.SourceURL
	}

	cronChanged := req.CronExpr != nil && *req.CronExpr != job.CronExpr
	if cronChanged {
		next, err := s.NextRun(*req.CronExpr, s.now())
		if err != nil {
			return nil, err
		}
		job.CronExpr = *req.CronExpr
		job.NextRunAt = &next
	}

	if err := s.db.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	if cronChanged && job.IsActive {
		s.armAt(job.ID, *job.NextRunAt)
	}
	return job, nil
}

// Pause stops the timer; an in-flight run finishes but is not rescheduled.
// Pausing an already-paused job is a no-op success.
func (s *Scheduler) Pause(ctx context.Context, ownerID, id string) error {
	job, err := s.getOwned(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() || job.Status == models.JobStatusPaused {
		return nil
	}

	s.disarm(id)
	if err := s.db.SetJobStatus(ctx, id, models.JobStatusPaused, false); err != nil {
		return fmt.Errorf("pause job: %w", err)
	}
	s.logger.Info().Str("job_id", id).Msg("job paused")
	return nil
}

// Resume rearms a paused job; the next run is computed from now, not from
// the original schedule position.
func (s *Scheduler) Resume(ctx context.Context, ownerID, id string) error {
	job, err := s.getOwned(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrJobCancelled
	}
	if job.IsActive {
		return nil
	}

	next, err := s.NextRun(job.CronExpr, s.now())
	if err != nil {
		return err
	}
	if err := s.db.SetJobStatus(ctx, id, models.JobStatusActive, true); err != nil {
		return fmt.Errorf("resume job: %w", err)
	}
	if err := s.db.SetJobNextRun(ctx, id, next); err != nil {
		return fmt.Errorf("store next run: %w", err)
	}

	s.armAt(id, next)
	s.logger.Info().Str("job_id", id).Time("next_run", next).Msg("job resumed")
	return nil
}

// Cancel stops the timer and moves the job to its terminal state. An
// in-flight execution runs to completion; only future firings are prevented.
func (s *Scheduler) Cancel(ctx context.Context, ownerID, id string) error {
	job, err := s.getOwned(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	s.disarm(id)
	if err := s.db.SetJobStatus(ctx, id, models.JobStatusCancelled, false); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	s.logger.Info().Str("job_id", id).Msg("job cancelled")
	return nil
}

// Delete removes the job and its execution history.
func (s *Scheduler) Delete(ctx context.Context, ownerID, id string) error {
	s.disarm(id)
	if err := s.db.DeleteJob(ctx, id, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		return fmt.Errorf("delete job: %w", err)
	}
	s.logger.Info().Str("job_id", id).Msg("job deleted")
	return nil
}

// Trigger runs a job immediately, outside its cron schedule. The overlap
// guard still applies.
func (s *Scheduler) Trigger(ctx context.Context, ownerID, id string) error {
	job, err := s.getOwned(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrJobCancelled
	}

	go s.run(id, true)
	return nil
}

// Recover rearms every active job after a process restart. Jobs stuck in
// processing from a crashed run are returned to active first.
func (s *Scheduler) Recover(ctx context.Context) error {
	jobs, err := s.db.ListActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}

	for _, job := range jobs {
		if job.Status == models.JobStatusProcessing {
			if err := s.db.SetJobStatus(ctx, job.ID, models.JobStatusActive, true); err != nil {
				s.logger.Error().Err(err).Str("job_id", job.ID).Msg("reset stuck job")
				continue
			}
		}

		next, err := s.NextRun(job.CronExpr, s.now())
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Str("cron", job.CronExpr).Msg("stored cron no longer parses, leaving dormant")
			continue
		}
		if err := s.db.SetJobNextRun(ctx, job.ID, next); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("store next run")
			continue
		}

		s.armAt(job.ID, next)
		s.logger.Info().Str("job_id", job.ID).Time("next_run", next).Msg("job recovered")
	}

	s.logger.Info().Int("jobs", len(jobs)).Msg("startup recovery finished")
	return nil
}

// Stop disarms every timer. In-flight executions run to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.handles {
		if h.timer != nil {
			h.timer.Stop()
		}
		delete(s.handles, id)
	}
}

// Jobs lists an owner's jobs.
func (s *Scheduler) Jobs(ctx context.Context, ownerID string) ([]models.ImportJob, error) {
	return s.db.ListJobs(ctx, ownerID)
}

// Job returns one owned job.
func (s *Scheduler) Job(ctx context.Context, ownerID, id string) (*models.ImportJob, error) {
	return s.getOwned(ctx, id, ownerID)
}

func (s *Scheduler) getOwned(ctx context.Context, id, ownerID string) (*models.ImportJob, error) {
	job, err := s.db.GetJob(ctx, id, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// execute is the timer callback.
func (s *Scheduler) execute(jobID string) {
	s.run(jobID, false)
}

func (s *Scheduler) run(jobID string, force bool) {
	ctx := context.Background()

	job, err := s.db.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.disarm(jobID)
			return
		}
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("read job before run")
		return
	}

	if !force && !job.IsActive {
		s.logger.Debug().Str("job_id", jobID).Msg("job no longer active, skipping fire")
		return
	}

	h := s.handle(jobID)
	if !h.running.CompareAndSwap(false, true) {
		// A previous execution is still in flight; skip this fire and wait
		// for the next cron instant.
		s.logger.Debug().Str("job_id", jobID).Msg("previous execution still running, skipping fire")
		if !force {
			s.rearmFromNow(ctx, job)
		}
		return
	}
	defer h.running.Store(false)

	start := s.now()
	if err := s.db.SetJobStatus(ctx, jobID, models.JobStatusProcessing, job.IsActive); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("mark job processing")
	}

	runErr := s.runner.Execute(ctx, *job)

	// A failed run still reschedules: failures are not fatal to the schedule.
	var nextPtr *time.Time
	next, nextErr := s.NextRun(job.CronExpr, s.now())
	if nextErr == nil {
		nextPtr = &next
	}
	if err := s.db.FinalizeJobRun(ctx, jobID, runErr == nil, start, nextPtr); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("finalize job run")
	}

	// Re-read: the job may have been paused, cancelled or deleted mid-run.
	fresh, err := s.db.GetJobByID(ctx, jobID)
	if err != nil || !fresh.IsActive || nextPtr == nil {
		s.disarm(jobID)
		return
	}
	s.armAt(jobID, next)
}

func (s *Scheduler) rearmFromNow(ctx context.Context, job *models.ImportJob) {
	next, err := s.NextRun(job.CronExpr, s.now())
	if err != nil {
		return
	}
	if err := s.db.SetJobNextRun(ctx, job.ID, next); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("store next run")
	}
	s.armAt(job.ID, next)
}

func (s *Scheduler) handle(jobID string) *jobHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[jobID]
	if !ok {
		h = &jobHandle{}
		s.handles[jobID] = h
	}
	return h
}

// armAt stops any live timer for the job and arms a new one, so a job never
// has more than one timer pending.
func (s *Scheduler) armAt(jobID string, at time.Time) {
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[jobID]
	if !ok {
		h = &jobHandle{}
		s.handles[jobID] = h
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(delay, func() { s.execute(jobID) })
}

// disarm stops the job's timer but keeps the registry entry: the running
// guard must outlive pause/resume cycles while an execution is in flight.
func (s *Scheduler) disarm(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[jobID]; ok && h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
