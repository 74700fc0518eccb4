package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/movement"
	"github.com/xkilldash9x/wayfarer/internal/worldgraph"
)

var (
	// ErrUnknownLocation means a coordinate has no node in the world graph.
	ErrUnknownLocation = errors.New("navigator: location is not part of the world graph")
	// ErrTaskActive means the previous movement has not terminated yet.
	ErrTaskActive = errors.New("navigator: a movement task is still active")
)

const journalTimeout = 10 * time.Second

// -- Interfaces for Dependency Inversion --

// Journal records movement runs. Store satisfies it.
type Journal interface {
	RecordMovement(ctx context.Context, run schemas.MovementRun) error
}

// Options configures a Navigator.
type Options struct {
	SessionID string
	Movement  movement.Config
	// Journal is optional. Without one runs are only logged.
	Journal Journal
}

// Navigator turns "move to (x, y)" into a movement task over the world
// graph. At most one task is active per navigator.
type Navigator struct {
	graph   *worldgraph.Graph
	adapter schemas.Adapter
	opts    Options
	logger  *zap.Logger

	mu      sync.Mutex
	current *movement.Task

	journalWG sync.WaitGroup
}

// New creates a Navigator for one session.
func New(graph *worldgraph.Graph, adapter schemas.Adapter, opts Options, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{
		graph:   graph,
		adapter: adapter,
		opts:    opts,
		logger:  logger.With(zap.String("component", "navigator"), zap.String("session_id", opts.SessionID)),
		current: movement.Noop(),
	}
}

// Plan resolves the current position and destination to nodes and returns
// the cheapest path between them. ok is false when the destination cannot
// be reached.
func (n *Navigator) Plan(ctx context.Context, to schemas.Coordinate) (path worldgraph.Path, ok bool, err error) {
	from, err := n.adapter.CurrentPosition(ctx)
	if err != nil {
		return worldgraph.Path{}, false, fmt.Errorf("reading current position: %w", err)
	}
	return n.PlanFrom(from, to)
}

// PlanFrom is Plan with an explicit starting coordinate.
func (n *Navigator) PlanFrom(from, to schemas.Coordinate) (worldgraph.Path, bool, error) {
	src, found := n.graph.FindNodeAt(from.X, from.Y)
	if !found {
		return worldgraph.Path{}, false, fmt.Errorf("%w: source %s", ErrUnknownLocation, from)
	}
	dst, found := n.graph.FindNodeAt(to.X, to.Y)
	if !found {
		return worldgraph.Path{}, false, fmt.Errorf("%w: destination %s", ErrUnknownLocation, to)
	}
	path, ok := n.graph.ShortestPath(src, dst)
	return path, ok, nil
}

// MoveTo plans a route to the destination and starts walking it. The task is
// bound to ctx. When no route exists the shared no-op task is returned.
func (n *Navigator) MoveTo(ctx context.Context, to schemas.Coordinate) (*movement.Task, error) {
	if err := n.checkIdle(); err != nil {
		return nil, err
	}

	// Reading the position can sit in handle recovery, so it happens without
	// the lock; Current and Cancel stay responsive meanwhile.
	path, ok, err := n.Plan(ctx, to)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	// Another MoveTo may have started a task while this one was planning.
	if err := n.checkIdleLocked(); err != nil {
		return nil, err
	}
	if !ok {
		n.logger.Warn("No route to destination.", zap.Stringer("to", to))
		n.current = movement.Noop()
		return n.current, nil
	}

	task := movement.New(path, n.adapter, n.adapter, n.opts.Movement, n.logger)
	if err := task.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting movement task: %w", err)
	}
	n.current = task
	n.logger.Info("Movement planned.",
		zap.String("task_id", task.ID()),
		zap.Stringer("to", to),
		zap.Int("edges", path.Len()),
		zap.Float64("cost", path.Cost()))

	n.journal(ctx, task)
	return task, nil
}

func (n *Navigator) checkIdle() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.checkIdleLocked()
}

func (n *Navigator) checkIdleLocked() error {
	if !n.current.HasTerminated() {
		return fmt.Errorf("%w: task %s", ErrTaskActive, n.current.ID())
	}
	return nil
}

// Current returns the latest task, or the no-op task before the first move.
func (n *Navigator) Current() *movement.Task {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Cancel cancels the current task, if any.
func (n *Navigator) Cancel() {
	n.Current().Cancel()
}

// Wait blocks until pending journal writes finish.
func (n *Navigator) Wait() {
	n.journalWG.Wait()
}

func (n *Navigator) journal(ctx context.Context, task *movement.Task) {
	if n.opts.Journal == nil {
		return
	}
	path := task.Path()
	run := schemas.MovementRun{
		ID:          task.ID(),
		SessionID:   n.opts.SessionID,
		Source:      path.Source.Coordinate,
		Destination: path.Destination.Coordinate,
		Edges:       path.Len(),
		Status:      movement.StatusRunning.String(),
		StartedAt:   time.Now().UTC(),
	}
	// Journal writes outlive the movement context so a cancelled run is
	// still recorded.
	base := context.WithoutCancel(ctx)
	n.record(base, run)

	n.journalWG.Add(1)
	go func() {
		defer n.journalWG.Done()
		<-task.Done()
		run.EdgesCompleted = task.EdgesCompleted()
		run.Status = task.Status().String()
		if err := task.Err(); err != nil {
			run.Reason = err.Error()
		}
		run.FinishedAt = time.Now().UTC()
		n.record(base, run)
	}()
}

func (n *Navigator) record(ctx context.Context, run schemas.MovementRun) {
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	if err := n.opts.Journal.RecordMovement(ctx, run); err != nil {
		n.logger.Error("Failed to journal movement run.", zap.String("run_id", run.ID), zap.String("status", run.Status), zap.Error(err))
	}
}
