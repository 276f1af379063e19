package export

import (
	"context"
	"sync"
	"sync/atomic"

	"dicomdisc/internal/archive"
)

// State is a job lifecycle state.
type State string

const (
	StateCreated    State = "created"
	StateResolving  State = "resolving"
	StateStaging    State = "staging"
	StateBundling   State = "bundling"
	StateAssembling State = "assembling"
	StateDone       State = "done"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

// IsTerminal reports whether s is absorbing.
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateCancelled, StateFailed:
		return true
	}
	return false
}

// Handle is the submitter's view of a running job.
type Handle struct {
	id         string
	stagingDir string
	outputPath string

	cancelled atomic.Bool
	processed atomic.Int64
	skipped   atomic.Int64
	total     atomic.Int64

	mu    sync.Mutex
	state State

	done   chan struct{}
	result *archive.File
	err    error
}

func newHandle(id, stagingDir, outputPath string) *Handle {
	return &Handle{
		id:         id,
		stagingDir: stagingDir,
		outputPath: outputPath,
		state:      StateCreated,
		done:       make(chan struct{}),
	}
}

// ID returns the job identifier.
func (h *Handle) ID() string { return h.id }

// StagingDir returns the job's private staging directory.
func (h *Handle) StagingDir() string { return h.stagingDir }

// OutputPath returns the archive destination.
func (h *Handle) OutputPath() string { return h.outputPath }

// Cancel requests cancellation. The job observes it before the next item
// and before assembly; work already in flight completes.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
}

// Progress returns items processed so far and the estimated total.
func (h *Handle) Progress() (processed, total int) {
	return int(h.processed.Load()), int(h.total.Load())
}

// Skipped returns the number of items dropped by per-item failures.
func (h *Handle) Skipped() int {
	return int(h.skipped.Load())
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.IsTerminal() {
		return
	}
	h.state = s
}

// Done is closed when the job reaches a terminal state and cleanup finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the job finishes or ctx ends. It returns the archive on
// success; a cancelled job returns services.ErrJobCancelled.
func (h *Handle) Wait(ctx context.Context) (*archive.File, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) finish(result *archive.File, err error) {
	h.result = result
	h.err = err
	close(h.done)
}
