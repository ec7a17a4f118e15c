package rsync

// CommandSpec is a fully resolved subprocess invocation. The runner executes
// exactly what it is given and does not validate flag semantics.
type CommandSpec struct {
	Path string   // executable name or path
	Args []string // ordered argument list, source and destination last
}

// Options configures the mutating run. Archive supersedes the individual
// attribute flags, matching rsync's own -a semantics.
type Options struct {
	Archive     bool
	Recursive   bool
	Symlinks    bool
	Permissions bool
	Times       bool
	Group       bool
	Compress    bool
	Excludes    []string
}

// PreflightResult holds the captured output of a dry-run invocation.
type PreflightResult struct {
	Stdout string
	Stderr string
}

// Event is a single item on the stream between the pumps and the aggregator.
// Within one stream order is preserved; across the two streams events may
// interleave arbitrarily.
type Event interface {
	event()
}

// ProgressEvent is produced for every line matching the progress grammar.
type ProgressEvent struct {
	Bytes           uint64  // bytes transferred for the current file
	Percentage      int     // 0-100, current file
	Speed           string  // unit-annotated, e.g. "1.2MB/s"
	ETA             string  // HH:MM:SS textual form
	OverallFraction float64 // filesProcessedSoFar / totalUnits
}

// FileEvent is produced when a line denotes a per-file transfer action.
// Name may be empty; the file counter increments regardless.
type FileEvent struct {
	Name string
}

// ErrorEvent carries one line of error-stream content, order preserved.
type ErrorEvent struct {
	Line string
}

// DoneEvent is the completion sentinel. Exactly one is emitted per job,
// strictly after both streams have reached end-of-stream.
type DoneEvent struct{}

func (ProgressEvent) event() {}
func (FileEvent) event()     {}
func (ErrorEvent) event()    {}
func (DoneEvent) event()     {}
