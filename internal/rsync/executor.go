package rsync

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Runner executes rsync invocations and turns their streaming output into
// typed events.
type Runner struct {
	binaryPath string
	logger     *log.Logger
}

// NewRunner creates a runner that resolves rsync from the system PATH.
func NewRunner(logger *log.Logger) *Runner {
	return &Runner{
		binaryPath: "rsync",
		logger:     logger,
	}
}

// SetBinaryPath sets a custom path to the rsync binary.
func (r *Runner) SetBinaryPath(path string) {
	if path != "" {
		r.binaryPath = path
	}
}

// BinaryPath returns the rsync binary path the runner will execute.
func (r *Runner) BinaryPath() string {
	return r.binaryPath
}

// CheckInstalled verifies that rsync is installed and accessible.
func (r *Runner) CheckInstalled(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, r.binaryPath, "--version")
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("rsync not found or not executable: %w", err)
	}
	if !strings.Contains(string(output), "rsync") {
		return fmt.Errorf("unexpected output from rsync --version: %s", output)
	}
	return nil
}

// Preflight runs the non-mutating preview invocation synchronously and
// captures its output. A non-zero exit is not an error here: the caller
// classifies the outcome from the captured error text.
func (r *Runner) Preflight(ctx context.Context, spec CommandSpec) (*PreflightResult, error) {
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run preview: %w", err)
		}
	}

	return &PreflightResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}, nil
}

// Process is a handle to a running transfer, used for cooperative
// cancellation. Interrupt asks the subprocess to stop; it does not close
// pipes or stop the pumps, so final output still drains through the normal
// completion path.
type Process interface {
	Interrupt() error
}

type osProcess struct {
	cmd *exec.Cmd
}

func (p *osProcess) Interrupt() error {
	return p.cmd.Process.Signal(os.Interrupt)
}

// Start spawns the real transfer and attaches one pump per output stream.
// The returned channel carries progress, file, and error events in per-stream
// order, then exactly one DoneEvent after both streams reach end-of-stream,
// and is closed.
func (r *Runner) Start(spec CommandSpec, totalUnits uint64) (<-chan Event, Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start rsync: %w", err)
	}

	events := make(chan Event, 64)
	go r.pump(stdout, stderr, totalUnits, events, cmd.Wait)

	return events, &osProcess{cmd: cmd}, nil
}

// pump drains both streams concurrently, waits for the process to exit, then
// emits the completion sentinel and closes the channel. The wait function is
// injected so tests can drive the pumps from plain readers.
func (r *Runner) pump(stdout, stderr io.Reader, totalUnits uint64, events chan<- Event, wait func() error) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		r.pumpOutput(stdout, totalUnits, events)
	}()
	go func() {
		defer wg.Done()
		r.pumpErrors(stderr, events)
	}()

	wg.Wait()

	if wait != nil {
		if err := wait(); err != nil {
			r.logger.Debug("rsync exited", "err", err)
		}
	}

	events <- DoneEvent{}
	close(events)
}

// pumpOutput reads the output stream, classifies each line, and emits typed
// events. rsync rewrites the current line in place with carriage returns
// during live progress, so the scanner splits on '\r' as well as '\n' and a
// single read may yield several overwritten states.
func (r *Runner) pumpOutput(stream io.Reader, totalUnits uint64, events chan<- Event) {
	scanner := bufio.NewScanner(stream)
	scanner.Split(scanProgressLines)

	var filesProcessed uint64

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		if p, ok := ParseProgress(line); ok {
			var overall float64
			if totalUnits > 0 {
				overall = float64(filesProcessed) / float64(totalUnits)
			}
			events <- ProgressEvent{
				Bytes:           p.Bytes,
				Percentage:      p.Percentage,
				Speed:           p.Speed,
				ETA:             p.ETA,
				OverallFraction: overall,
			}
		}

		if name, ok := ClassifyFileLine(line); ok {
			filesProcessed++
			events <- FileEvent{Name: name}
		}

		r.logger.Debug("rsync", "line", line)
	}

	if err := scanner.Err(); err != nil {
		r.logger.Debug("output stream closed with error", "err", err)
	}
}

// pumpErrors forwards every error-stream line as an ErrorEvent, preserving
// order. No parsing is applied.
func (r *Runner) pumpErrors(stream io.Reader, events chan<- Event) {
	scanner := bufio.NewScanner(stream)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		events <- ErrorEvent{Line: line}
	}

	if err := scanner.Err(); err != nil {
		r.logger.Debug("error stream closed with error", "err", err)
	}
}

// scanProgressLines is a bufio.SplitFunc that treats '\r' as a line boundary
// in addition to '\n'.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
