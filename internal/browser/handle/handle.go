// Package handle wraps element references so that they repair themselves
// after the page silently replaces the underlying node.
//
// Every operation on a Handle first probes the element (its tag name is the
// cheapest read available). If the probe fails, or the operation reports
// ErrStale, the handle backs off, re-runs its locating query against its
// parent scope, takes the same index it was originally found at, and only
// rebinds if the new element has the same tag. Attempts are bounded; running
// out yields a *RecoveryError wrapping ErrUnrecoverable.
package handle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrStale             = errors.New("handle: element reference is stale")
	ErrUnrecoverable     = errors.New("handle: element could not be recovered")
	ErrNotFound          = errors.New("handle: no element matches query")
	ErrIndexOutOfRange   = errors.New("handle: fewer results than the original index")
	ErrSignatureMismatch = errors.New("handle: re-resolved element has a different tag")
)

// Element is a raw, possibly invalid, reference to a UI element.
// Implementations should wrap errors caused by a detached node with ErrStale.
type Element interface {
	Scope
	TagName(ctx context.Context) (string, error)
	Click(ctx context.Context) error
	SendKeys(ctx context.Context, text string) error
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, bool, error)
}

// Scope is anything a locating query can be run against: the whole page or
// a parent element.
type Scope interface {
	QueryAll(ctx context.Context, query string) ([]Element, error)
}

// Config bounds recovery.
type Config struct {
	Backoff     time.Duration `mapstructure:"backoff"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// DefaultConfig mirrors the defaults registered with viper.
func DefaultConfig() Config {
	return Config{Backoff: 250 * time.Millisecond, MaxAttempts: 5}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Backoff <= 0 {
		c.Backoff = d.Backoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	return c
}

// RecoveryError reports a handle that stayed broken through every attempt.
type RecoveryError struct {
	Query    string
	Index    int
	Tag      string
	Attempts int
	Err      error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("could not recover <%s> %q[%d] after %d attempts: %v", e.Tag, e.Query, e.Index, e.Attempts, e.Err)
}

func (e *RecoveryError) Unwrap() []error {
	return []error{ErrUnrecoverable, e.Err}
}

// Handle is a recoverable element reference. It is meant to be held by one
// caller at a time.
type Handle struct {
	mu     sync.Mutex
	elem   Element
	query  string
	scope  Scope
	index  int
	tag    string
	cfg    Config
	base   *zap.Logger
	logger *zap.Logger
}

// Find locates the first element matching query within scope.
func Find(ctx context.Context, scope Scope, query string, cfg Config, logger *zap.Logger) (*Handle, error) {
	elems, err := scope.QueryAll(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", query, err)
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, query)
	}
	return newHandle(ctx, elems[0], scope, query, 0, cfg, logger)
}

// FindAll locates every element matching query. Each handle remembers its
// index so it can reattach to the same position in a fresh result set.
func FindAll(ctx context.Context, scope Scope, query string, cfg Config, logger *zap.Logger) ([]*Handle, error) {
	elems, err := scope.QueryAll(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", query, err)
	}
	handles := make([]*Handle, 0, len(elems))
	for i, e := range elems {
		h, err := newHandle(ctx, e, scope, query, i, cfg, logger)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func newHandle(ctx context.Context, elem Element, scope Scope, query string, index int, cfg Config, logger *zap.Logger) (*Handle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tag, err := elem.TagName(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading tag of %q[%d]: %w", query, index, err)
	}
	return &Handle{
		elem:   elem,
		query:  query,
		scope:  scope,
		index:  index,
		tag:    strings.ToLower(tag),
		cfg:    cfg.withDefaults(),
		base:   logger,
		logger: logger.Named("handle").With(zap.String("query", query), zap.Int("index", index)),
	}, nil
}

// Query returns the locating query.
func (h *Handle) Query() string { return h.query }

// Index returns the position in the result set the handle was found at.
func (h *Handle) Index() int { return h.index }

// Tag returns the tag signature recorded when the handle was created.
func (h *Handle) Tag() string { return h.tag }

// Click clicks the element.
func (h *Handle) Click(ctx context.Context) error {
	return h.do(ctx, func(e Element) error { return e.Click(ctx) })
}

// SendKeys types text into the element.
func (h *Handle) SendKeys(ctx context.Context, text string) error {
	return h.do(ctx, func(e Element) error { return e.SendKeys(ctx, text) })
}

// Text reads the visible text of the element.
func (h *Handle) Text(ctx context.Context) (string, error) {
	var text string
	err := h.do(ctx, func(e Element) error {
		var err error
		text, err = e.Text(ctx)
		return err
	})
	return text, err
}

// Attribute reads an attribute of the element.
func (h *Handle) Attribute(ctx context.Context, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := h.do(ctx, func(e Element) error {
		var err error
		value, ok, err = e.Attribute(ctx, name)
		return err
	})
	return value, ok, err
}

// TagName probes the element and returns its current tag.
func (h *Handle) TagName(ctx context.Context) (string, error) {
	var tag string
	err := h.do(ctx, func(e Element) error {
		var err error
		tag, err = e.TagName(ctx)
		return err
	})
	return strings.ToLower(tag), err
}

// QueryAll runs query inside this element, so a Handle can be the parent
// scope of other handles.
func (h *Handle) QueryAll(ctx context.Context, query string) ([]Element, error) {
	var elems []Element
	err := h.do(ctx, func(e Element) error {
		var err error
		elems, err = e.QueryAll(ctx, query)
		return err
	})
	return elems, err
}

// Find locates the first descendant matching query.
func (h *Handle) Find(ctx context.Context, query string) (*Handle, error) {
	return Find(ctx, h, query, h.cfg, h.base)
}

// FindAll locates every descendant matching query.
func (h *Handle) FindAll(ctx context.Context, query string) ([]*Handle, error) {
	return FindAll(ctx, h, query, h.cfg, h.base)
}

// do runs op against the element, recovering the reference when it is stale.
func (h *Handle) do(ctx context.Context, op func(Element) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	// reattachErr is the reason the most recent rebind was refused. It explains
	// a terminal failure better than the probe error that follows it.
	var last, reattachErr error
	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		if _, err := h.elem.TagName(ctx); err != nil {
			last = err
		} else {
			err := op(h.elem)
			if err == nil || !errors.Is(err, ErrStale) {
				return err
			}
			last = err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == h.cfg.MaxAttempts {
			break
		}

		h.logger.Debug("Element reference is stale, recovering.", zap.Int("attempt", attempt), zap.Error(last))
		if err := sleep(ctx, h.cfg.Backoff); err != nil {
			return err
		}
		if err := h.reattach(ctx); err != nil {
			h.logger.Debug("Reattach failed.", zap.Int("attempt", attempt), zap.Error(err))
			reattachErr = err
		} else {
			reattachErr = nil
		}
	}

	if reattachErr != nil {
		last = reattachErr
	}
	h.logger.Warn("Element could not be recovered.", zap.Int("attempts", h.cfg.MaxAttempts), zap.Error(last))
	return &RecoveryError{Query: h.query, Index: h.index, Tag: h.tag, Attempts: h.cfg.MaxAttempts, Err: last}
}

// reattach re-resolves the query and rebinds to the element at the same index
// when its tag matches the recorded signature.
func (h *Handle) reattach(ctx context.Context) error {
	elems, err := h.scope.QueryAll(ctx, h.query)
	if err != nil {
		return fmt.Errorf("re-resolving %q: %w", h.query, err)
	}
	if h.index >= len(elems) {
		return fmt.Errorf("%w: want index %d, got %d results", ErrIndexOutOfRange, h.index, len(elems))
	}
	candidate := elems[h.index]
	tag, err := candidate.TagName(ctx)
	if err != nil {
		return fmt.Errorf("probing re-resolved element: %w", err)
	}
	if !strings.EqualFold(tag, h.tag) {
		return fmt.Errorf("%w: want <%s>, got <%s>", ErrSignatureMismatch, h.tag, strings.ToLower(tag))
	}
	h.elem = candidate
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
