package rsync

import "context"

// RunnerInterface defines the interface for rsync operations.
// This allows mocking the runner in tests.
type RunnerInterface interface {
	// CheckInstalled verifies that rsync is installed and accessible
	CheckInstalled(ctx context.Context) error

	// BinaryPath returns the rsync binary path the runner will execute
	BinaryPath() string

	// Preflight runs the non-mutating preview invocation and captures output
	Preflight(ctx context.Context, spec CommandSpec) (*PreflightResult, error)

	// Start spawns the real transfer with one pump per output stream
	Start(spec CommandSpec, totalUnits uint64) (<-chan Event, Process, error)
}

// Ensure Runner implements RunnerInterface
var _ RunnerInterface = (*Runner)(nil)
