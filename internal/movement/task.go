package movement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/worldgraph"
)

var (
	ErrCancelled        = errors.New("movement: task cancelled")
	ErrPositionDiverged = errors.New("movement: observed position does not match the planned edge")
	ErrStepFailed       = errors.New("movement: step could not be executed")
	ErrSettleTimeout    = errors.New("movement: surface did not settle before the next edge")
	ErrAlreadyStarted   = errors.New("movement: task already started")
)

const (
	defaultPollInterval  = 100 * time.Millisecond
	defaultSettleTimeout = 30 * time.Second
)

// Status is the observable lifecycle state of a Task.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	// StatusCancelling means cancellation was raised but the worker has not exited yet.
	StatusCancelling
	StatusSucceeded
	// StatusCancelled is terminal: the task stopped before executing every edge.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCancelling:
		return "cancelling"
	case StatusSucceeded:
		return "succeeded"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Config bounds the wait between edges.
type Config struct {
	// PollInterval is how often readiness is re-checked, and so the upper
	// bound on how long a cancellation can go unobserved.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// SettleTimeout caps the wait for the surface before each edge.
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`
}

// DefaultConfig returns the intervals used when none are configured.
func DefaultConfig() Config {
	return Config{PollInterval: defaultPollInterval, SettleTimeout: defaultSettleTimeout}
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = defaultSettleTimeout
	}
	return c
}

// Task walks a path edge by edge on a background goroutine. It is single
// shot: any divergence or failed step cancels the remainder of the path.
type Task struct {
	id       string
	path     worldgraph.Path
	reader   schemas.PositionReader
	executor schemas.StepExecutor
	cfg      Config
	logger   *zap.Logger
	noop     bool

	started    atomic.Bool
	cancelled  atomic.Bool
	terminated atomic.Bool
	completed  atomic.Int32

	mu       sync.Mutex
	reason   error
	cancelFn context.CancelFunc

	done chan struct{}
}

// New creates a task for path. It does nothing until Start is called.
func New(path worldgraph.Path, reader schemas.PositionReader, executor schemas.StepExecutor, cfg Config, logger *zap.Logger) *Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Task{
		id:       id,
		path:     path,
		reader:   reader,
		executor: executor,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("movement").With(zap.String("task_id", id)),
		done:     make(chan struct{}),
	}
}

var noopTask = func() *Task {
	t := &Task{
		id:     "noop",
		logger: zap.NewNop(),
		noop:   true,
		reason: ErrCancelled,
		done:   make(chan struct{}),
	}
	t.started.Store(true)
	t.cancelled.Store(true)
	t.terminated.Store(true)
	close(t.done)
	return t
}()

// Noop returns the shared pre-cancelled, already terminated task. Start and
// Cancel on it have no effect.
func Noop() *Task {
	return noopTask
}

// ID identifies the task in logs and journals.
func (t *Task) ID() string { return t.id }

// Path returns the path the task was created with.
func (t *Task) Path() worldgraph.Path { return t.path }

// IsNoop reports whether t is the shared sentinel.
func (t *Task) IsNoop() bool { return t.noop }

// Start launches the worker. The task is bound to ctx: cancelling it has the
// same effect as calling Cancel.
func (t *Task) Start(ctx context.Context) error {
	if t.noop {
		return nil
	}
	if !t.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancelFn = cancel
	preCancelled := t.cancelled.Load()
	t.mu.Unlock()
	if preCancelled {
		cancel()
	}

	t.logger.Info("Starting movement task.",
		zap.Stringer("from", t.path.Source.Coordinate),
		zap.Stringer("to", t.path.Destination.Coordinate),
		zap.Int("edges", t.path.Len()))

	go t.run(runCtx, cancel)
	return nil
}

// Cancel requests cooperative cancellation. A worker blocked waiting for the
// surface wakes immediately.
func (t *Task) Cancel() {
	t.cancelWith(ErrCancelled)
}

func (t *Task) cancelWith(reason error) {
	if t.noop {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled.CompareAndSwap(false, true) {
		t.reason = reason
	}
	if t.cancelFn != nil {
		t.cancelFn()
	}
}

// HasTerminated reports whether the worker has exited (or never needed to).
func (t *Task) HasTerminated() bool { return t.terminated.Load() }

// WasCancelled reports whether cancellation was raised for any reason.
func (t *Task) WasCancelled() bool { return t.cancelled.Load() }

// EdgesCompleted returns how many edges executed successfully.
func (t *Task) EdgesCompleted() int { return int(t.completed.Load()) }

// Err returns why the task was cancelled, or nil.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Done is closed once the task has terminated.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task terminates or ctx is done. It returns the
// cancellation reason, nil on success.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status derives the lifecycle state from the task flags.
func (t *Task) Status() Status {
	terminated := t.terminated.Load()
	cancelled := t.cancelled.Load()
	switch {
	case terminated && cancelled:
		return StatusCancelled
	case terminated:
		return StatusSucceeded
	case cancelled && t.started.Load():
		return StatusCancelling
	case t.started.Load():
		return StatusRunning
	default:
		return StatusPending
	}
}

func (t *Task) run(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		cancel()
		t.terminated.Store(true)
		close(t.done)
		if err := t.Err(); err != nil {
			t.logger.Info("Movement task cancelled.", zap.Int("edges_completed", t.EdgesCompleted()), zap.Error(err))
		} else {
			t.logger.Info("Movement task finished.", zap.Int("edges_completed", t.EdgesCompleted()))
		}
	}()

	if t.cancelled.Load() {
		return
	}

	var last *schemas.Coordinate
	for i, edge := range t.path.Edges {
		if ctx.Err() != nil {
			t.cancelWith(t.interruption(ctx))
			return
		}
		log := t.logger.With(zap.Int("edge", i), zap.Stringer("from", edge.From.Coordinate), zap.Stringer("to", edge.To.Coordinate))

		if err := t.awaitReady(ctx, last); err != nil {
			t.cancelWith(err)
			return
		}

		pos, err := t.reader.CurrentPosition(ctx)
		if err != nil {
			t.cancelWith(fmt.Errorf("%w: reading position: %v", ErrPositionDiverged, err))
			return
		}
		if pos != edge.From.Coordinate {
			log.Warn("Position diverged from plan.", zap.Stringer("observed", pos))
			t.cancelWith(fmt.Errorf("%w: expected %s, observed %s", ErrPositionDiverged, edge.From.Coordinate, pos))
			return
		}
		last = &pos

		kind, err := edge.Kind()
		if err != nil {
			t.cancelWith(fmt.Errorf("%w: %v", ErrStepFailed, err))
			return
		}

		log.Debug("Executing edge.", zap.Stringer("kind", kind))
		if err := t.executor.ExecuteStep(ctx, kind, edge.From.Coordinate, edge.To.Coordinate); err != nil {
			if ctx.Err() != nil {
				t.cancelWith(t.interruption(ctx))
				return
			}
			t.cancelWith(fmt.Errorf("%w: %s %s -> %s: %v", ErrStepFailed, kind, edge.From.Coordinate, edge.To.Coordinate, err))
			return
		}
		t.completed.Add(1)
	}
}

// awaitReady polls until the executor can act and the position has moved off
// last, the position verified before the previous edge.
func (t *Task) awaitReady(ctx context.Context, last *schemas.Coordinate) error {
	if t.ready(ctx, last) {
		return nil
	}

	deadline := time.NewTimer(t.cfg.SettleTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return t.interruption(ctx)
		case <-deadline.C:
			return fmt.Errorf("%w after %s", ErrSettleTimeout, t.cfg.SettleTimeout)
		case <-ticker.C:
		}
		if t.ready(ctx, last) {
			return nil
		}
	}
}

func (t *Task) ready(ctx context.Context, last *schemas.Coordinate) bool {
	if !t.executor.CanAct(ctx) {
		return false
	}
	if last == nil {
		return true
	}
	pos, err := t.reader.CurrentPosition(ctx)
	if err != nil {
		t.logger.Debug("Position read failed while waiting, will retry.", zap.Error(err))
		return false
	}
	return pos != *last
}

// interruption names the reason for a done context: an explicit Cancel keeps
// its own reason, anything else is reported as an outside cancellation.
func (t *Task) interruption(ctx context.Context) error {
	if t.cancelled.Load() {
		return t.Err()
	}
	return fmt.Errorf("%w: %v", ErrCancelled, context.Cause(ctx))
}
