package browser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/browser/handle"
	"github.com/xkilldash9x/wayfarer/internal/config"
	"github.com/xkilldash9x/wayfarer/internal/humanoid"
)

var positionPattern = regexp.MustCompile(`(-?\d+)\s*,\s*(-?\d+)`)

// SessionObserver is told when a session closes.
type SessionObserver interface {
	unregisterSession(s *Session)
}

// Session is the execution surface for one browser tab. It reads the
// character's position from the page and realizes edges by queueing
// interactions through a humanized queue.
type Session struct {
	id       string
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      config.BrowserConfig
	recovery handle.Config
	scope    handle.Scope
	queue    *humanoid.Queue
	logger   *zap.Logger

	strategies map[schemas.TransitionKind]Strategy

	mu       sync.Mutex
	position *handle.Handle

	observer  SessionObserver
	closeOnce sync.Once
}

var _ schemas.Adapter = (*Session)(nil)

// SessionOptions carries everything a Session needs besides its tab.
type SessionOptions struct {
	ID       string
	Browser  config.BrowserConfig
	Queue    humanoid.Config
	Recovery handle.Config
	Observer SessionObserver
}

// NewSession wraps a tab context. Element queries go through scope, which is
// handle.Document for a real tab. The interaction queue starts immediately
// and is stopped by Close.
func NewSession(ctx context.Context, cancel context.CancelFunc, scope handle.Scope, opts SessionOptions, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cancel == nil {
		ctx, cancel = context.WithCancel(ctx)
	}
	strategies, err := buildStrategies(opts.Browser)
	if err != nil {
		cancel()
		return nil, err
	}

	log := logger.Named("session").With(zap.String("session_id", opts.ID))
	s := &Session{
		id:         opts.ID,
		ctx:        ctx,
		cancel:     cancel,
		cfg:        opts.Browser,
		recovery:   opts.Recovery,
		scope:      scope,
		queue:      humanoid.NewQueue(opts.Queue, log),
		logger:     log,
		strategies: strategies,
		observer:   opts.Observer,
	}
	s.queue.Start(ctx)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Context returns the tab context.
func (s *Session) Context() context.Context { return s.ctx }

// Queue exposes the interaction queue, e.g. to enqueue navigation.
func (s *Session) Queue() *humanoid.Queue { return s.queue }

// CurrentPosition reads "x, y" from the position element. The element handle
// is kept between calls and repairs itself when the page re-renders it.
func (s *Session) CurrentPosition(ctx context.Context) (schemas.Coordinate, error) {
	h, err := s.positionHandle(ctx)
	if err != nil {
		return schemas.Coordinate{}, err
	}
	text, err := h.Text(ctx)
	if errors.Is(err, handle.ErrUnrecoverable) {
		// The element may have moved to a different index; locate it afresh.
		s.resetPositionHandle(h)
		if h, err = s.positionHandle(ctx); err != nil {
			return schemas.Coordinate{}, err
		}
		text, err = h.Text(ctx)
	}
	if err != nil {
		return schemas.Coordinate{}, fmt.Errorf("reading position: %w", err)
	}
	return ParsePosition(text)
}

func (s *Session) positionHandle(ctx context.Context) (*handle.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.position != nil {
		return s.position, nil
	}
	h, err := handle.Find(ctx, s.scope, s.cfg.Selectors.Position, s.recovery, s.logger)
	if err != nil {
		return nil, fmt.Errorf("locating position element: %w", err)
	}
	s.position = h
	return h, nil
}

func (s *Session) resetPositionHandle(h *handle.Handle) {
	s.mu.Lock()
	if s.position == h {
		s.position = nil
	}
	s.mu.Unlock()
}

// ParsePosition extracts the first "x, y" pair from text.
func ParsePosition(text string) (schemas.Coordinate, error) {
	m := positionPattern.FindStringSubmatch(text)
	if m == nil {
		return schemas.Coordinate{}, fmt.Errorf("no coordinate in position text %q", text)
	}
	x, err := strconv.Atoi(m[1])
	if err != nil {
		return schemas.Coordinate{}, fmt.Errorf("position x %q: %w", m[1], err)
	}
	y, err := strconv.Atoi(m[2])
	if err != nil {
		return schemas.Coordinate{}, fmt.Errorf("position y %q: %w", m[2], err)
	}
	return schemas.Coordinate{X: x, Y: y}, nil
}

// CanAct reports whether the queue has drained and nothing on the page marks
// the character as busy.
func (s *Session) CanAct(ctx context.Context) bool {
	if !s.queue.IsEmpty() {
		return false
	}
	if s.cfg.Selectors.Busy == "" {
		return true
	}
	busy, err := s.scope.QueryAll(ctx, s.cfg.Selectors.Busy)
	if err != nil {
		s.logger.Debug("Busy check failed, treating the surface as busy.", zap.Error(err))
		return false
	}
	return len(busy) == 0
}

// ExecuteStep queues the interaction for the edge and waits for it to be
// dispatched, which can include the spacing left by the previous one.
func (s *Session) ExecuteStep(ctx context.Context, kind schemas.TransitionKind, from, to schemas.Coordinate) error {
	strategy, ok := s.strategies[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoStrategy, kind)
	}
	in, err := strategy.Interaction(s, from, to)
	if err != nil {
		return err
	}
	s.logger.Debug("Executing step.",
		zap.Stringer("kind", kind),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Stringer("interaction", in.Kind),
		zap.String("target", in.Target),
	)
	return s.queue.Submit(ctx, in)
}

// Navigate loads url in the tab through the interaction queue and waits for
// it to be dispatched.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.queue.Submit(ctx, Navigate(url))
}

// Close stops the queue and closes the tab. It is safe to call twice.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing session.")
		s.queue.Stop()
		s.cancel()
		if s.observer != nil {
			s.observer.unregisterSession(s)
		}
	})
	return nil
}
