package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"resync/internal/db"
	"resync/internal/services"
)

// Scheduler runs recurring transfers on cron expressions. The supervisor
// handles one job at a time, so a due job is skipped with a log line when a
// transfer is already in progress.
type Scheduler struct {
	db         *db.DB
	supervisor *services.Supervisor
	logger     *log.Logger
	parser     cron.Parser

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	cancel   context.CancelFunc // Cancel function for running jobs
	wg       sync.WaitGroup     // Tracks spawned job goroutines
}

// New creates a new scheduler
func New(database *db.DB, supervisor *services.Supervisor, logger *log.Logger) *Scheduler {
	return &Scheduler{
		db:         database,
		supervisor: supervisor,
		logger:     logger,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop stops the scheduler and waits for running jobs to complete
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)

	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	// Check immediately on start
	s.checkJobs(ctx)

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.checkJobs(ctx)
		}
	}
}

// checkJobs checks for jobs that need to run
func (s *Scheduler) checkJobs(ctx context.Context) {
	jobs, err := s.db.GetEnabledJobs()
	if err != nil {
		s.logger.Error("scheduler: failed to get jobs", "err", err)
		return
	}

	now := time.Now()

	for _, job := range jobs {
		if job.NextRunAt == nil {
			continue
		}

		if now.After(*job.NextRunAt) || now.Equal(*job.NextRunAt) {
			s.wg.Add(1)
			go s.runJob(ctx, job)
		}
	}
}

// runJob executes a scheduled transfer and waits for it to finish so the
// terminal state can be acknowledged and the next run scheduled.
func (s *Scheduler) runJob(ctx context.Context, job *db.ScheduledJob) {
	defer s.wg.Done()

	s.logger.Info("scheduler: running job", "job", job.ID, "name", job.Name)

	if ctx.Err() != nil {
		s.logger.Info("scheduler: job cancelled before start", "job", job.ID)
		return
	}

	// Push the next run time forward first so a failing job is not retried
	// every minute.
	now := time.Now()
	schedule, err := s.parser.Parse(job.CronExpression)
	if err != nil {
		s.logger.Error("scheduler: invalid cron expression", "job", job.ID, "err", err)
		return
	}
	nextRun := schedule.Next(now)
	if err := s.db.UpdateJobRunTimes(job.ID, &now, &nextRun); err != nil {
		s.logger.Error("scheduler: failed to update job run times", "job", job.ID, "err", err)
	}

	if s.supervisor.State() != services.StateIdle {
		s.logger.Info("scheduler: supervisor busy, skipping job", "job", job.ID)
		return
	}

	req := services.JobRequest{
		Source:  job.Source,
		Dest:    job.Dest,
		Options: job.Options,
	}

	handle, err := s.supervisor.Start(ctx, req, &job.ID)
	if err != nil {
		s.logger.Error("scheduler: failed to start transfer", "job", job.ID, "err", err)
		s.acknowledge(handle)
		return
	}

	s.logger.Info("scheduler: started transfer", "job", job.ID, "handle", handle, "next_run", nextRun)
	s.waitForCompletion(ctx, handle)
}

// waitForCompletion drains snapshot updates until the job reaches a terminal
// state, then acknowledges it so later runs are accepted.
func (s *Scheduler) waitForCompletion(ctx context.Context, handle string) {
	updates := s.supervisor.Subscribe(handle)
	defer s.supervisor.Unsubscribe(handle, updates)

	// The subscription may race a fast job that already finished; check once
	// up front and keep polling as a backstop.
	if s.supervisor.Handle() != handle || s.supervisor.State() != services.StateRunning {
		s.acknowledge(handle)
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Shutdown: request a cooperative stop and let the supervisor
			// drain on its own.
			s.supervisor.Cancel(handle)
			return
		case _, ok := <-updates:
			if !ok {
				s.acknowledge(handle)
				return
			}
		case <-ticker.C:
			if s.supervisor.Handle() != handle || s.supervisor.State() != services.StateRunning {
				s.acknowledge(handle)
				return
			}
		}
	}
}

func (s *Scheduler) acknowledge(handle string) {
	if handle == "" {
		return
	}
	if err := s.supervisor.Acknowledge(handle); err != nil {
		s.logger.Debug("scheduler: acknowledge failed", "handle", handle, "err", err)
	}
}

// NextRun computes the next run time for a cron expression.
func (s *Scheduler) NextRun(expression string) (time.Time, error) {
	schedule, err := s.parser.Parse(expression)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(time.Now()), nil
}
