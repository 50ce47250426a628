package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"karavan/internal/database"
	"karavan/internal/models"

	"github.com/rs/zerolog"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRunner) Execute(_ context.Context, _ models.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestScheduler(t *testing.T, runner Runner) (*Scheduler, *database.DB) {
	t.Helper()

	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	if err != nil {
		t.Fatalf("init db: %v", err)
	}

	if runner == nil {
		runner = &fakeRunner{}
	}
	s := New(db, runner, &logger)

	t.Cleanup(func() {
		s.Stop()
		db.Close()
	})
	return s, db
}

func scheduleTestJob(t *testing.T, s *Scheduler, ownerID string) *models.ImportJob {
	t.Helper()
	job, err := s.Schedule(context.Background(), ownerID, ScheduleRequest{
		Name:      "nightly import",
		CronExpr:  "0 2 * * *",
		SourceURL: "https://example.com/products.csv",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return job
}

func TestSchedule_NextRunStrictlyAfterNow(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	now := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	job := scheduleTestJob(t, s, "owner-1")

	if job.Status != models.JobStatusActive || !job.IsActive {
		t.Errorf("job status = %s/%v, want active/true", job.Status, job.IsActive)
	}
	if job.NextRunAt == nil || !job.NextRunAt.After(now) {
		t.Errorf("next run %v is not strictly after %v", job.NextRunAt, now)
	}

	want := time.Date(2024, 6, 2, 2, 0, 0, 0, time.UTC)
	if !job.NextRunAt.Equal(want) {
		t.Errorf("next run = %v, want %v", job.NextRunAt, want)
	}
}

func TestSchedule_InvalidCron(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	_, err := s.Schedule(context.Background(), "owner-1", ScheduleRequest{
		Name:      "broken",
		CronExpr:  "not a cron",
		SourceURL: "https://example.com/products.csv",
	})
	if !errors.Is(err, ErrInvalidCron) {
		t.Fatalf("expected ErrInvalidCron, got %v", err)
	}
}

func TestSchedule_RequiresNameAndSource(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	if _, err := s.Schedule(ctx, "owner-1", ScheduleRequest{CronExpr: "* * * * *", SourceURL: "https://x"}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := s.Schedule(ctx, "owner-1", ScheduleRequest{Name: "x", CronExpr: "* * * * *"}); err == nil {
		t.Error("expected error for missing source url")
	}
}

func TestPauseAndResume(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }
	ctx := context.Background()

	job := scheduleTestJob(t, s, "owner-1")

	if err := s.Pause(ctx, "owner-1", job.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got, err := s.Job(ctx, "owner-1", job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.JobStatusPaused || got.IsActive {
		t.Errorf("after pause status = %s/%v, want paused/false", got.Status, got.IsActive)
	}

	// Pausing again is a no-op success.
	if err := s.Pause(ctx, "owner-1", job.ID); err != nil {
		t.Fatalf("second pause: %v", err)
	}

	// Resume two days later: next run is computed from the resume instant,
	// not from where the old schedule left off.
	t1 := t0.Add(48 * time.Hour)
	s.now = func() time.Time { return t1 }
	if err := s.Resume(ctx, "owner-1", job.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	got, err = s.Job(ctx, "owner-1", job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.JobStatusActive || !got.IsActive {
		t.Errorf("after resume status = %s/%v, want active/true", got.Status, got.IsActive)
	}

	want, err := s.NextRun(job.CronExpr, t1)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Errorf("next run = %v, want %v", got.NextRunAt, want)
	}
}

func TestCancel_IsTerminal(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	job := scheduleTestJob(t, s, "owner-1")

	if err := s.Cancel(ctx, "owner-1", job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Cancelling again is a no-op.
	if err := s.Cancel(ctx, "owner-1", job.ID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}

	if err := s.Resume(ctx, "owner-1", job.ID); !errors.Is(err, ErrJobCancelled) {
		t.Errorf("resume on cancelled = %v, want ErrJobCancelled", err)
	}
	if err := s.Trigger(ctx, "owner-1", job.ID); !errors.Is(err, ErrJobCancelled) {
		t.Errorf("trigger on cancelled = %v, want ErrJobCancelled", err)
	}
	if _, err := s.Update(ctx, "owner-1", job.ID, UpdateRequest{}); !errors.Is(err, ErrJobCancelled) {
		t.Errorf("update on cancelled = %v, want ErrJobCancelled", err)
	}

	// Delete still works on a cancelled job.
	if err := s.Delete(ctx, "owner-1", job.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestOwnership_HidesForeignJobs(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	job := scheduleTestJob(t, s, "owner-1")

	if _, err := s.Job(ctx, "owner-2", job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("foreign get = %v, want ErrJobNotFound", err)
	}
	if err := s.Pause(ctx, "owner-2", job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("foreign pause = %v, want ErrJobNotFound", err)
	}
	if err := s.Delete(ctx, "owner-2", job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("foreign delete = %v, want ErrJobNotFound", err)
	}

	// Same error shape for a missing id.
	if _, err := s.Job(ctx, "owner-1", "no-such-id"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("missing get = %v, want ErrJobNotFound", err)
	}
}

func TestUpdate_CronChangeRecomputesNextRun(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	job := scheduleTestJob(t, s, "owner-1")

	newCron := "30 6 * * *"
	updated, err := s.Update(ctx, "owner-1", job.ID, UpdateRequest{CronExpr: &newCron})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	want := time.Date(2024, 6, 2, 6, 30, 0, 0, time.UTC)
	if updated.NextRunAt == nil || !updated.NextRunAt.Equal(want) {
		t.Errorf("next run = %v, want %v", updated.NextRunAt, want)
	}

	badCron := "nope"
	if _, err := s.Update(ctx, "owner-1", job.ID, UpdateRequest{CronExpr: &badCron}); !errors.Is(err, ErrInvalidCron) {
		t.Errorf("bad cron update = %v, want ErrInvalidCron", err)
	}
}

func TestTrigger_RunsAndFinalizes(t *testing.T) {
	runner := &fakeRunner{}
	s, db := newTestScheduler(t, runner)
	ctx := context.Background()

	job := scheduleTestJob(t, s, "owner-1")

	if err := s.Trigger(ctx, "owner-1", job.ID); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := db.GetJobByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.SuccessCount == 1 {
			if got.LastRunAt == nil {
				t.Error("last run not recorded")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("triggered run did not finalize in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if runner.callCount() != 1 {
		t.Errorf("runner called %d times, want 1", runner.callCount())
	}
}

func TestTrigger_FailedRunCountsError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("fetch failed")}
	s, db := newTestScheduler(t, runner)
	ctx := context.Background()

	job := scheduleTestJob(t, s, "owner-1")

	if err := s.Trigger(ctx, "owner-1", job.ID); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := db.GetJobByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.ErrorCount == 1 {
			// A failed run still reschedules.
			if got.Status != models.JobStatusActive || got.NextRunAt == nil {
				t.Errorf("after failed run status = %s next = %v, want active with next run", got.Status, got.NextRunAt)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("failed run did not finalize in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRun_SkipsWhenPreviousStillRunning(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, runner)

	job := scheduleTestJob(t, s, "owner-1")

	h := s.handle(job.ID)
	h.running.Store(true)

	s.run(job.ID, true)

	if runner.callCount() != 0 {
		t.Errorf("runner called %d times while previous run in flight, want 0", runner.callCount())
	}
}

type blockingRunner struct {
	fakeRunner
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingRunner) Execute(ctx context.Context, job models.ImportJob) error {
	if err := b.fakeRunner.Execute(ctx, job); err != nil {
		return err
	}
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil
}

func TestRun_OverlapGuardSurvivesPauseResume(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	s, _ := newTestScheduler(t, runner)
	ctx := context.Background()

	job := scheduleTestJob(t, s, "owner-1")

	done := make(chan struct{})
	go func() {
		s.run(job.ID, true)
		close(done)
	}()
	<-runner.started

	if err := s.Pause(ctx, "owner-1", job.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := s.Resume(ctx, "owner-1", job.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	// A fire landing while the first execution is still in flight is skipped,
	// even though pause/resume touched the timer registry in between.
	s.run(job.ID, true)
	if got := runner.callCount(); got != 1 {
		t.Fatalf("runner called %d times with an execution in flight, want 1", got)
	}

	close(runner.release)
	<-done

	// Guard released: the next fire executes normally.
	s.run(job.ID, true)
	if got := runner.callCount(); got != 2 {
		t.Errorf("runner called %d times after the first run finished, want 2", got)
	}
}

func TestRecover_RearmsActiveJobs(t *testing.T) {
	runner := &fakeRunner{}
	s, db := newTestScheduler(t, runner)
	ctx := context.Background()

	job := scheduleTestJob(t, s, "owner-1")
	paused := scheduleTestJob(t, s, "owner-2")
	if err := s.Pause(ctx, "owner-2", paused.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// Simulate a crash mid-run.
	if err := db.SetJobStatus(ctx, job.ID, models.JobStatusProcessing, true); err != nil {
		t.Fatalf("set status: %v", err)
	}
	s.Stop()

	if err := s.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	got, err := db.GetJobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.JobStatusActive {
		t.Errorf("stuck job status = %s, want active", got.Status)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now().Add(-time.Minute)) {
		t.Errorf("next run not refreshed: %v", got.NextRunAt)
	}

	s.mu.Lock()
	_, armed := s.handles[job.ID]
	_, pausedArmed := s.handles[paused.ID]
	s.mu.Unlock()
	if !armed {
		t.Error("active job was not rearmed")
	}
	if pausedArmed {
		t.Error("paused job was rearmed")
	}
}
