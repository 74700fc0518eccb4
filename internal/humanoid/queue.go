package humanoid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrQueueStopped is delivered for interactions dropped at, or submitted after, shutdown.
var ErrQueueStopped = errors.New("humanoid: interaction queue stopped")

type request struct {
	in     Interaction
	result chan error
}

// Queue serializes interactions onto a single worker and spaces them with
// randomized, human-like delays. Interactions run in enqueue order, one at a
// time.
type Queue struct {
	cfg     Config
	sampler *Sampler
	logger  *zap.Logger

	mu          sync.Mutex
	pending     []request
	outstanding int
	stopped     bool

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewQueue creates an idle queue. Call Start to begin dispatching.
func NewQueue(cfg Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = DefaultConfig().BaseInterval
	}
	return &Queue{
		cfg:     cfg,
		sampler: NewSampler(cfg),
		logger:  logger.Named("interaction_queue"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the worker. Actions run with ctx, which for browser work is
// the chromedp tab context.
func (q *Queue) Start(ctx context.Context) {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	q.logger.Debug("Starting interaction queue worker.")
	go q.run(ctx)
}

// Enqueue submits an interaction without blocking. The returned channel
// receives exactly one value: the action's error (nil on success), or
// ErrQueueStopped when the interaction is dropped.
func (q *Queue) Enqueue(in Interaction) <-chan error {
	result := make(chan error, 1)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		result <- ErrQueueStopped
		return result
	}
	q.pending = append(q.pending, request{in: in, result: result})
	q.outstanding++
	return result
}

// Submit enqueues in and waits for its result.
func (q *Queue) Submit(ctx context.Context, in Interaction) error {
	select {
	case err := <-q.Enqueue(in):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsEmpty reports whether every enqueued interaction has been dispatched.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding == 0
}

// Len returns the number of interactions not yet dispatched.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}

// Settle blocks until the queue is empty, polling at the base interval.
func (q *Queue) Settle(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.BaseInterval)
	defer ticker.Stop()
	for !q.IsEmpty() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for interaction queue to settle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Stop ends the worker after its current action or sleep and drops anything
// still pending. It waits for the worker to exit.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
	if q.started.Load() {
		<-q.done
	} else {
		q.drop()
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	defer q.drop()

	for {
		select {
		case <-q.stop:
			q.logger.Debug("Interaction queue stopped.")
			return
		default:
		}

		req, ok := q.next()
		if !ok {
			if !q.sleep(ctx, q.cfg.BaseInterval) {
				return
			}
			continue
		}

		err := q.dispatch(ctx, req.in)
		// Lower the count first so a caller woken by the result sees IsEmpty.
		q.finish()
		req.result <- err

		if !q.sleep(ctx, q.sampler.Next()) {
			return
		}
	}
}

func (q *Queue) dispatch(ctx context.Context, in Interaction) (err error) {
	log := q.logger.With(zap.Stringer("kind", in.Kind), zap.String("target", in.Target))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interaction %s panicked: %v", in.Kind, r)
			log.Error("Interaction panicked.", zap.Any("panic", r))
		}
	}()

	if in.Action == nil {
		return fmt.Errorf("interaction %s has no action", in.Kind)
	}
	if err = in.Action.Do(ctx); err != nil {
		log.Debug("Interaction failed.", zap.Error(err))
		return err
	}
	log.Debug("Interaction dispatched.")
	return nil
}

func (q *Queue) next() (request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return request{}, false
	}
	req := q.pending[0]
	q.pending[0] = request{}
	q.pending = q.pending[1:]
	return req, true
}

func (q *Queue) finish() {
	q.mu.Lock()
	q.outstanding--
	q.mu.Unlock()
}

// drop fails every pending interaction and refuses new ones.
func (q *Queue) drop() {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.outstanding = 0
	q.stopped = true
	q.mu.Unlock()

	for _, req := range dropped {
		req.result <- ErrQueueStopped
	}
	if len(dropped) > 0 {
		q.logger.Debug("Dropped pending interactions at shutdown.", zap.Int("count", len(dropped)))
	}
}

// sleep waits for d. It returns false when the worker should exit: silently
// on Stop, with a warning when ctx ends without a Stop.
func (q *Queue) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-q.stop:
		return false
	case <-ctx.Done():
		select {
		case <-q.stop:
		default:
			q.logger.Warn("Interaction queue context ended without a stop request, shutting down.", zap.Error(ctx.Err()))
		}
		return false
	}
}
