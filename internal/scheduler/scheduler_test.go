package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"resync/internal/db"
	"resync/internal/logging"
	"resync/internal/rsync"
	"resync/internal/services"
)

const previewStdout = `
Number of files: 3 (reg: 2, dir: 1)
Total file size: 2,000 bytes
total size is 2000  speedup is 1.00  (DRY RUN)
`

// stubProcess implements rsync.Process for testing
type stubProcess struct{}

func (stubProcess) Interrupt() error { return nil }

// stubRunner implements rsync.RunnerInterface with canned responses. Each
// Start hands out a fresh event channel carrying the configured events.
type stubRunner struct {
	events []rsync.Event
}

func (r *stubRunner) CheckInstalled(ctx context.Context) error { return nil }

func (r *stubRunner) BinaryPath() string { return "rsync" }

func (r *stubRunner) Preflight(ctx context.Context, spec rsync.CommandSpec) (*rsync.PreflightResult, error) {
	return &rsync.PreflightResult{Stdout: previewStdout}, nil
}

func (r *stubRunner) Start(spec rsync.CommandSpec, totalUnits uint64) (<-chan rsync.Event, rsync.Process, error) {
	events := make(chan rsync.Event, len(r.events))
	for _, ev := range r.events {
		events <- ev
	}
	close(events)
	return events, stubProcess{}, nil
}

func testSetup(t *testing.T, runner rsync.RunnerInterface) (*db.DB, *Scheduler) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	supervisor := services.NewSupervisor(database, runner, logging.Discard(), nil)
	return database, New(database, supervisor, logging.Discard())
}

func TestNextRun(t *testing.T) {
	_, s := testSetup(t, &stubRunner{})

	next, err := s.NextRun("*/5 * * * *")
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	if !next.After(time.Now()) {
		t.Errorf("NextRun = %v, want a future time", next)
	}
	if next.Minute()%5 != 0 {
		t.Errorf("NextRun minute = %d, want a multiple of 5", next.Minute())
	}

	if _, err := s.NextRun("not a cron expression"); err == nil {
		t.Error("NextRun should reject an invalid expression")
	}
	if _, err := s.NextRun("0 0 * * * *"); err == nil {
		t.Error("NextRun should reject six-field expressions")
	}
}

func TestStartStop(t *testing.T) {
	_, s := testSetup(t, &stubRunner{})

	s.Start()
	s.Start() // second call is a no-op
	s.Stop()
	s.Stop() // stopping again is safe

	// Scheduler is restartable after a stop.
	s.Start()
	s.Stop()
}

func TestCheckJobsRunsDueJob(t *testing.T) {
	runner := &stubRunner{events: []rsync.Event{
		rsync.FileEvent{Name: "a.txt"},
		rsync.FileEvent{Name: "b.txt"},
		rsync.DoneEvent{},
	}}
	database, s := testSetup(t, runner)

	past := time.Now().Add(-time.Minute)
	job, err := database.CreateScheduledJob(&db.ScheduledJob{
		Name:           "due",
		Source:         "/src/",
		Dest:           "host:/dst",
		CronExpression: "* * * * *",
		Enabled:        true,
		NextRunAt:      &past,
	})
	if err != nil {
		t.Fatalf("CreateScheduledJob failed: %v", err)
	}

	s.checkJobs(context.Background())
	s.wg.Wait()

	// Job ran to completion and was acknowledged, leaving the supervisor idle.
	if state := s.supervisor.State(); state != services.StateIdle {
		t.Errorf("supervisor state = %s, want %s", state, services.StateIdle)
	}

	run, err := database.GetLastRunForJob(job.ID)
	if err != nil {
		t.Fatalf("GetLastRunForJob failed: %v", err)
	}
	if run.Status != db.SyncRunStatusCompleted {
		t.Errorf("run status = %s, want %s", run.Status, db.SyncRunStatusCompleted)
	}
	if run.FilesTransferred != 2 {
		t.Errorf("files transferred = %d, want 2", run.FilesTransferred)
	}

	got, err := database.GetScheduledJob(job.ID)
	if err != nil {
		t.Fatalf("GetScheduledJob failed: %v", err)
	}
	if got.LastRunAt == nil {
		t.Error("LastRunAt should be set after a run")
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now().Add(-time.Second)) {
		t.Errorf("NextRunAt = %v, want advanced past now", got.NextRunAt)
	}
}

func TestCheckJobsSkipsNotDue(t *testing.T) {
	database, s := testSetup(t, &stubRunner{})

	future := time.Now().Add(time.Hour)
	job, err := database.CreateScheduledJob(&db.ScheduledJob{
		Name:           "later",
		Source:         "/src/",
		Dest:           "/dst",
		CronExpression: "0 * * * *",
		Enabled:        true,
		NextRunAt:      &future,
	})
	if err != nil {
		t.Fatalf("CreateScheduledJob failed: %v", err)
	}

	// Also a job with no next run time, which is never picked up.
	if _, err := database.CreateScheduledJob(&db.ScheduledJob{
		Name:           "unset",
		Source:         "/src/",
		Dest:           "/dst",
		CronExpression: "0 * * * *",
		Enabled:        true,
	}); err != nil {
		t.Fatalf("CreateScheduledJob failed: %v", err)
	}

	s.checkJobs(context.Background())
	s.wg.Wait()

	if _, err := database.GetLastRunForJob(job.ID); err == nil {
		t.Error("job ran before its scheduled time")
	}
	got, err := database.GetScheduledJob(job.ID)
	if err != nil {
		t.Fatalf("GetScheduledJob failed: %v", err)
	}
	if got.LastRunAt != nil {
		t.Errorf("LastRunAt = %v, want nil", got.LastRunAt)
	}
}

func TestCheckJobsSkipsDisabled(t *testing.T) {
	database, s := testSetup(t, &stubRunner{})

	past := time.Now().Add(-time.Minute)
	job, err := database.CreateScheduledJob(&db.ScheduledJob{
		Name:           "off",
		Source:         "/src/",
		Dest:           "/dst",
		CronExpression: "* * * * *",
		Enabled:        false,
		NextRunAt:      &past,
	})
	if err != nil {
		t.Fatalf("CreateScheduledJob failed: %v", err)
	}

	s.checkJobs(context.Background())
	s.wg.Wait()

	if _, err := database.GetLastRunForJob(job.ID); err == nil {
		t.Error("disabled job should not run")
	}
}

func TestRunJobSkipsWhenSupervisorBusy(t *testing.T) {
	// A runner whose event channel never closes keeps the supervisor running.
	busy := make(chan rsync.Event)
	t.Cleanup(func() { close(busy) })
	runner := &holdingRunner{events: busy}

	database, s := testSetup(t, runner)

	if _, err := s.supervisor.Start(context.Background(), services.JobRequest{Source: "/a/", Dest: "/b"}, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.supervisor.State() != services.StateRunning {
		t.Fatalf("supervisor state = %s, want %s", s.supervisor.State(), services.StateRunning)
	}

	past := time.Now().Add(-time.Minute)
	job, err := database.CreateScheduledJob(&db.ScheduledJob{
		Name:           "blocked",
		Source:         "/src/",
		Dest:           "/dst",
		CronExpression: "* * * * *",
		Enabled:        true,
		NextRunAt:      &past,
	})
	if err != nil {
		t.Fatalf("CreateScheduledJob failed: %v", err)
	}

	s.checkJobs(context.Background())
	s.wg.Wait()

	// The job was skipped, but its next run time still moved forward so it is
	// not retried every minute.
	if _, err := database.GetLastRunForJob(job.ID); err == nil {
		t.Error("job should not start a run while the supervisor is busy")
	}
	got, err := database.GetScheduledJob(job.ID)
	if err != nil {
		t.Fatalf("GetScheduledJob failed: %v", err)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(past) {
		t.Errorf("NextRunAt = %v, want advanced past %v", got.NextRunAt, past)
	}
}

// holdingRunner hands out a caller-owned event channel so tests can keep a
// transfer in the running state.
type holdingRunner struct {
	events chan rsync.Event
}

func (r *holdingRunner) CheckInstalled(ctx context.Context) error { return nil }

func (r *holdingRunner) BinaryPath() string { return "rsync" }

func (r *holdingRunner) Preflight(ctx context.Context, spec rsync.CommandSpec) (*rsync.PreflightResult, error) {
	return &rsync.PreflightResult{Stdout: previewStdout}, nil
}

func (r *holdingRunner) Start(spec rsync.CommandSpec, totalUnits uint64) (<-chan rsync.Event, rsync.Process, error) {
	return r.events, stubProcess{}, nil
}
