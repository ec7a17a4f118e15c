package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"resync/internal/db"
	"resync/internal/rsync"
	"resync/internal/types"
)

// State is the supervisor's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StatePreflight State = "preflight"
	StateReady     State = "ready"
	StateRunning   State = "running"
	StateFinished  State = "finished"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// terminal reports whether s is a terminal state.
func (s State) terminal() bool {
	return s == StateFinished || s == StateCancelled || s == StateFailed
}

// JobRequest holds the inputs for one source -> destination transfer.
type JobRequest struct {
	Source  string
	Dest    string
	Options rsync.Options
}

// JobSpec is the immutable job description, built once the preflight has
// produced the total unit-of-work count.
type JobSpec struct {
	Source     string
	Dest       string
	TotalUnits uint64
}

// subscriber wraps a channel with safe close handling
type subscriber struct {
	ch        chan *types.JobSnapshot
	closeOnce sync.Once
	closed    bool
}

func (sub *subscriber) close() {
	sub.closeOnce.Do(func() {
		sub.closed = true
		close(sub.ch)
	})
}

func (sub *subscriber) send(snap *types.JobSnapshot) bool {
	if sub.closed {
		return false
	}
	select {
	case sub.ch <- snap:
		return true
	default:
		return false
	}
}

// Supervisor owns the subprocess lifecycle for one job at a time: it runs
// the preflight, launches the real transfer, folds pump events into the
// current snapshot, and exposes cooperative cancellation. The snapshot has a
// single writer (the consume goroutine plus the start path); observers
// always read copies.
type Supervisor struct {
	db             *db.DB
	runner         rsync.RunnerInterface
	logger         *log.Logger
	authSignatures []string

	mu        sync.Mutex
	state     State
	handle    string
	spec      JobSpec
	snap      types.JobSnapshot
	proc      rsync.Process
	runID     int64
	cancelled bool

	subMu       sync.RWMutex
	subscribers map[string][]*subscriber
}

// NewSupervisor creates a supervisor. authSignatures are the substrings that
// classify a preflight stderr as an authentication failure; they are
// configuration rather than hard-coded because the exact text varies across
// rsync versions and locales.
func NewSupervisor(database *db.DB, runner rsync.RunnerInterface, logger *log.Logger, authSignatures []string) *Supervisor {
	if len(authSignatures) == 0 {
		authSignatures = []string{"Permission denied"}
	}
	return &Supervisor{
		db:             database,
		runner:         runner,
		logger:         logger,
		authSignatures: authSignatures,
		state:          StateIdle,
		subscribers:    make(map[string][]*subscriber),
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle returns the handle of the current (or last unacknowledged) job.
func (s *Supervisor) Handle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Snapshot returns a copy of the current job snapshot. Safe to call
// concurrently with the writer; readers never see a torn update.
func (s *Supervisor) Snapshot() types.JobSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copySnapshotLocked()
}

func (s *Supervisor) copySnapshotLocked() types.JobSnapshot {
	snap := s.snap
	snap.State = string(s.state)
	snap.Log = append([]string(nil), s.snap.Log...)
	snap.Errors = append([]string(nil), s.snap.Errors...)
	return snap
}

// Subscribe subscribes to snapshot updates for a job handle. The channel is
// closed when the job reaches a terminal state.
func (s *Supervisor) Subscribe(handle string) chan *types.JobSnapshot {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	sub := &subscriber{
		ch: make(chan *types.JobSnapshot, 10),
	}
	s.subscribers[handle] = append(s.subscribers[handle], sub)
	return sub.ch
}

// Unsubscribe removes a subscriber.
func (s *Supervisor) Unsubscribe(handle string, ch chan *types.JobSnapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	subs := s.subscribers[handle]
	for i, sub := range subs {
		if sub.ch == ch {
			s.subscribers[handle] = append(subs[:i], subs[i+1:]...)
			sub.close()
			break
		}
	}

	if len(s.subscribers[handle]) == 0 {
		delete(s.subscribers, handle)
	}
}

// broadcast sends a snapshot copy to all subscribers without blocking the
// writer.
func (s *Supervisor) broadcast(handle string, snap types.JobSnapshot) {
	s.subMu.RLock()
	subs := make([]*subscriber, len(s.subscribers[handle]))
	copy(subs, s.subscribers[handle])
	s.subMu.RUnlock()

	for _, sub := range subs {
		sub.send(&snap)
	}
}

func (s *Supervisor) closeSubscribers(handle string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subscribers[handle] {
		sub.close()
	}
	delete(s.subscribers, handle)
}

// Start runs the preflight synchronously, then launches the real transfer in
// the background. It returns the new job's handle, or an error when the
// preflight classifies the job as unstartable or a previous job has not been
// acknowledged yet.
func (s *Supervisor) Start(ctx context.Context, req JobRequest, scheduledJobID *int64) (string, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		if state.terminal() {
			return "", fmt.Errorf("previous job not acknowledged (state %s)", state)
		}
		return "", fmt.Errorf("a job is already in progress (state %s)", state)
	}

	handle := uuid.New().String()
	s.state = StatePreflight
	s.handle = handle
	s.cancelled = false
	s.proc = nil
	s.snap = types.JobSnapshot{
		Handle: handle,
		Speed:  "N/A",
		ETA:    "N/A",
	}
	s.mu.Unlock()

	// The preflight is a short, bounded preview run and is allowed to block
	// the caller.
	preflight := rsync.BuildPreflightCommand(s.runner.BinaryPath(), req.Source, req.Dest)
	result, err := s.runner.Preflight(ctx, preflight)
	if err != nil {
		return handle, s.failStart(handle, req, scheduledJobID, fmt.Sprintf("preview run failed: %v", err))
	}

	if stderr := strings.TrimSpace(result.Stderr); stderr != "" {
		if s.matchesAuthSignature(stderr) {
			msg := stderr + "\nAccess denied when connecting to the server via SSH. Please check if your SSH key is configured."
			return handle, s.failStart(handle, req, scheduledJobID, msg)
		}
		return handle, s.failStart(handle, req, scheduledJobID, stderr)
	}

	stats := rsync.ParseStats(result.Stdout)
	totalUnits, err := rsync.RegularFileCount(stats)
	if err != nil {
		msg := "Could not determine the file count for the transfer.\n" + result.Stdout
		return handle, s.failStart(handle, req, scheduledJobID, msg)
	}

	spec := JobSpec{Source: req.Source, Dest: req.Dest, TotalUnits: totalUnits}

	s.mu.Lock()
	s.state = StateReady
	s.spec = spec
	s.snap.TotalFiles = totalUnits
	s.mu.Unlock()

	run, err := s.db.CreateSyncRun(handle, req.Source, req.Dest, scheduledJobID, totalUnits)
	if err != nil {
		return handle, s.failStart(handle, req, scheduledJobID, fmt.Sprintf("failed to record run: %v", err))
	}

	command := rsync.BuildCommand(s.runner.BinaryPath(), req.Source, req.Dest, req.Options)
	events, proc, err := s.runner.Start(command, totalUnits)
	if err != nil {
		errMsg := err.Error()
		s.db.CompleteSyncRun(run.ID, db.SyncRunStatusFailed, &errMsg)
		return handle, s.failStart(handle, req, scheduledJobID, fmt.Sprintf("failed to start transfer: %v", err))
	}

	s.mu.Lock()
	s.state = StateRunning
	s.proc = proc
	s.runID = run.ID
	s.mu.Unlock()

	s.logger.Info("transfer started", "handle", handle, "source", req.Source, "dest", req.Dest, "files", totalUnits)
	go s.consume(handle, events)

	return handle, nil
}

// failStart records a preflight failure: the state machine never enters
// running, the diagnostic is surfaced on the snapshot, and the failed run is
// archived.
func (s *Supervisor) failStart(handle string, req JobRequest, scheduledJobID *int64, msg string) error {
	s.mu.Lock()
	s.state = StateFailed
	for _, line := range strings.Split(msg, "\n") {
		if line != "" {
			s.snap.Errors = append(s.snap.Errors, line)
		}
	}
	snap := s.copySnapshotLocked()
	s.mu.Unlock()

	if run, err := s.db.CreateSyncRun(handle, req.Source, req.Dest, scheduledJobID, 0); err == nil {
		s.db.CompleteSyncRun(run.ID, db.SyncRunStatusFailed, &msg)
	}

	s.logger.Error("job failed before start", "handle", handle, "err", msg)
	s.broadcast(handle, snap)
	s.closeSubscribers(handle)
	return fmt.Errorf("job failed before start: %s", firstLine(msg))
}

func (s *Supervisor) matchesAuthSignature(stderr string) bool {
	for _, sig := range s.authSignatures {
		if strings.Contains(stderr, sig) {
			return true
		}
	}
	return false
}

// consume is the aggregator loop: the single writer folding pump events into
// the snapshot in arrival order. Events are FIFO per stream but may
// interleave arbitrarily across the two streams.
func (s *Supervisor) consume(handle string, events <-chan rsync.Event) {
	for ev := range events {
		s.mu.Lock()
		switch ev := ev.(type) {
		case rsync.ProgressEvent:
			s.snap.CurrentFileFraction = float64(ev.Percentage) / 100
			if ev.OverallFraction > s.snap.OverallFraction {
				s.snap.OverallFraction = ev.OverallFraction
			}
			s.snap.Speed = ev.Speed
			s.snap.ETA = ev.ETA
			s.snap.BytesTransferred = ev.Bytes

		case rsync.FileEvent:
			s.snap.FilesTransferred++
			if s.snap.TotalFiles > 0 {
				s.snap.OverallFraction = float64(s.snap.FilesTransferred) / float64(s.snap.TotalFiles)
			}
			if ev.Name != "" {
				s.snap.Log = append(s.snap.Log, ev.Name)
			}

		case rsync.ErrorEvent:
			s.snap.Errors = append(s.snap.Errors, ev.Line)

		case rsync.DoneEvent:
			s.snap.Finished = true
			if s.cancelled {
				s.state = StateCancelled
			} else {
				s.state = StateFinished
			}
		}
		snap := s.copySnapshotLocked()
		runID := s.runID
		s.mu.Unlock()

		switch ev.(type) {
		case rsync.FileEvent:
			s.db.UpdateSyncRunProgress(runID, snap.FilesTransferred, snap.BytesTransferred)
		case rsync.DoneEvent:
			s.completeRun(runID, snap)
		}

		s.broadcast(handle, snap)
	}

	s.closeSubscribers(handle)
}

func (s *Supervisor) completeRun(runID int64, snap types.JobSnapshot) {
	status := db.SyncRunStatusCompleted
	var errMsg *string

	// Transfer-time error lines are non-fatal: the run still completes and
	// the accumulated text is archived alongside it.
	if State(snap.State) == StateCancelled {
		status = db.SyncRunStatusCancelled
		s.logger.Info("transfer cancelled", "handle", snap.Handle)
	} else {
		s.logger.Info("transfer finished", "handle", snap.Handle, "files", snap.FilesTransferred)
	}

	if len(snap.Errors) > 0 {
		joined := strings.Join(snap.Errors, "\n")
		errMsg = &joined
	}

	s.db.UpdateSyncRunProgress(runID, snap.FilesTransferred, snap.BytesTransferred)
	s.db.CompleteSyncRun(runID, status, errMsg)
}

// Cancel sends an interrupt to the subprocess. Cancellation is cooperative:
// the pumps keep draining until the process actually exits and both streams
// close, at which point normal completion handling fires. If the subprocess
// ignores the signal the job stays running; there is no force-kill.
func (s *Supervisor) Cancel(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if handle != s.handle {
		return fmt.Errorf("unknown job handle %q", handle)
	}
	if s.state != StateRunning {
		return fmt.Errorf("no running job to cancel (state %s)", s.state)
	}
	if s.cancelled {
		return nil
	}

	if err := s.proc.Interrupt(); err != nil {
		return fmt.Errorf("failed to interrupt transfer: %w", err)
	}

	s.cancelled = true
	s.snap.Log = append(s.snap.Log, "Operation cancelled")
	s.logger.Info("cancellation requested", "handle", handle)
	return nil
}

// Acknowledge clears a terminal job so a new start request is accepted. The
// archived run record in the database is untouched.
func (s *Supervisor) Acknowledge(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if handle != s.handle {
		return fmt.Errorf("unknown job handle %q", handle)
	}
	if !s.state.terminal() {
		return fmt.Errorf("job not finished (state %s)", s.state)
	}

	s.state = StateIdle
	s.handle = ""
	s.snap = types.JobSnapshot{}
	s.proc = nil
	s.runID = 0
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
