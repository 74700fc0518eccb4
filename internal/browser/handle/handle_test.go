package handle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// -- Fakes --

type fakeElement struct {
	name     string
	tag      string
	text     string
	attrs    map[string]string
	children map[string][]Element
	stale    atomic.Bool
	clicks   atomic.Int32
	typed    []string
	mu       sync.Mutex
	// staleOnClick makes the next click report ErrStale after the probe passed.
	staleOnClick atomic.Bool
}

func newElement(name, tag string) *fakeElement {
	return &fakeElement{name: name, tag: tag, attrs: map[string]string{}, children: map[string][]Element{}}
}

func (f *fakeElement) check() error {
	if f.stale.Load() {
		return fmt.Errorf("%w: %s detached", ErrStale, f.name)
	}
	return nil
}

func (f *fakeElement) TagName(ctx context.Context) (string, error) {
	if err := f.check(); err != nil {
		return "", err
	}
	return f.tag, nil
}

func (f *fakeElement) Click(ctx context.Context) error {
	if f.staleOnClick.CompareAndSwap(true, false) {
		f.stale.Store(true)
		return fmt.Errorf("%w: detached mid-click", ErrStale)
	}
	if err := f.check(); err != nil {
		return err
	}
	f.clicks.Add(1)
	return nil
}

func (f *fakeElement) SendKeys(ctx context.Context, text string) error {
	if err := f.check(); err != nil {
		return err
	}
	f.mu.Lock()
	f.typed = append(f.typed, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeElement) Text(ctx context.Context) (string, error) {
	if err := f.check(); err != nil {
		return "", err
	}
	return f.text, nil
}

func (f *fakeElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := f.check(); err != nil {
		return "", false, err
	}
	v, ok := f.attrs[name]
	return v, ok, nil
}

func (f *fakeElement) QueryAll(ctx context.Context, query string) ([]Element, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.children[query], nil
}

// fakeScope answers each QueryAll with the next scripted result set; the
// last set repeats once the script runs out.
type fakeScope struct {
	mu      sync.Mutex
	results [][]Element
	calls   int
}

func (s *fakeScope) QueryAll(ctx context.Context, query string) ([]Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i], nil
}

func (s *fakeScope) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testConfig(attempts int) Config {
	return Config{Backoff: time.Millisecond, MaxAttempts: attempts}
}

// -- Test Cases --

func TestFind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("should bind to the first result", func(t *testing.T) {
		t.Parallel()
		a, b := newElement("a", "BUTTON"), newElement("b", "button")
		h, err := Find(ctx, &fakeScope{results: [][]Element{{a, b}}}, "button.move", testConfig(3), zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, "button", h.Tag())
		assert.Equal(t, 0, h.Index())

		require.NoError(t, h.Click(ctx))
		assert.Equal(t, int32(1), a.clicks.Load())
		assert.Zero(t, b.clicks.Load())
	})

	t.Run("should report no match", func(t *testing.T) {
		t.Parallel()
		_, err := Find(ctx, &fakeScope{results: [][]Element{{}}}, "#missing", testConfig(3), zap.NewNop())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("FindAll should index every result", func(t *testing.T) {
		t.Parallel()
		items := []Element{newElement("0", "li"), newElement("1", "li"), newElement("2", "li")}
		handles, err := FindAll(ctx, &fakeScope{results: [][]Element{items}}, "li.item", testConfig(3), nil)
		require.NoError(t, err)
		require.Len(t, handles, 3)
		for i, h := range handles {
			assert.Equal(t, i, h.Index())
		}
	})
}

func TestHandle_RecoversAfterStaleness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	original := newElement("original", "button")
	replacement := newElement("replacement", "button")
	scope := &fakeScope{results: [][]Element{
		{original},
		// The first two re-resolutions find an unrelated element of another kind.
		{newElement("banner", "div")},
		{newElement("banner", "div")},
		{replacement},
	}}

	h, err := Find(ctx, scope, ".walk-east", testConfig(5), zap.NewNop())
	require.NoError(t, err)
	original.stale.Store(true)

	require.NoError(t, h.Click(ctx))
	assert.Equal(t, int32(1), replacement.clicks.Load())
	assert.Zero(t, original.clicks.Load())
	assert.Equal(t, 4, scope.Calls())
}

func TestHandle_TerminalFailureOnSignatureMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	original := newElement("original", "button")
	scope := &fakeScope{results: [][]Element{
		{original},
		{newElement("impostor", "a")},
	}}
	h, err := Find(ctx, scope, ".walk-east", testConfig(4), zap.NewNop())
	require.NoError(t, err)
	original.stale.Store(true)

	err = h.Click(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnrecoverable)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	var recErr *RecoveryError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, 4, recErr.Attempts)
	assert.Equal(t, ".walk-east", recErr.Query)
	// One initial resolution plus a reattach between each pair of attempts.
	assert.Equal(t, 1+3, scope.Calls())
}

func TestHandle_IndexBasedReattach(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	first := []Element{newElement("i0", "li"), newElement("i1", "li"), newElement("i2", "li")}
	fresh := []Element{newElement("n0", "li"), newElement("n1", "li"), newElement("n2", "li")}
	scope := &fakeScope{results: [][]Element{first, fresh}}

	handles, err := FindAll(ctx, scope, "li.item", testConfig(3), zap.NewNop())
	require.NoError(t, err)
	first[2].(*fakeElement).stale.Store(true)
	first[2].(*fakeElement).text = "stale"
	fresh[2].(*fakeElement).text = "Air rune"

	text, err := handles[2].Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Air rune", text)
}

func TestHandle_ShrunkResultSetFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	first := []Element{newElement("i0", "li"), newElement("i1", "li"), newElement("i2", "li")}
	scope := &fakeScope{results: [][]Element{first, {newElement("n0", "li")}}}

	handles, err := FindAll(ctx, scope, "li.item", testConfig(3), zap.NewNop())
	require.NoError(t, err)
	first[2].(*fakeElement).stale.Store(true)

	_, err = handles[2].Text(ctx)
	assert.ErrorIs(t, err, ErrUnrecoverable)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestHandle_StaleDuringOperation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	original := newElement("original", "input")
	replacement := newElement("replacement", "input")
	scope := &fakeScope{results: [][]Element{{original}, {replacement}}}

	h, err := Find(ctx, scope, "#chat", testConfig(3), zap.NewNop())
	require.NoError(t, err)
	original.staleOnClick.Store(true)

	require.NoError(t, h.Click(ctx))
	assert.Equal(t, int32(1), replacement.clicks.Load())

	require.NoError(t, h.SendKeys(ctx, "hello"))
	assert.Equal(t, []string{"hello"}, replacement.typed)
}

func TestHandle_NonStaleErrorsAreReturnedDirectly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	el := newElement("e", "input")
	scope := &fakeScope{results: [][]Element{{el}}}
	h, err := Find(ctx, scope, "#q", testConfig(3), zap.NewNop())
	require.NoError(t, err)

	v, ok, err := h.Attribute(ctx, "data-missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
	assert.Equal(t, 1, scope.Calls(), "a healthy handle must not re-resolve")
}

func TestHandle_BackoffIsInterruptible(t *testing.T) {
	t.Parallel()
	original := newElement("original", "button")
	scope := &fakeScope{results: [][]Element{{original}}}
	h, err := Find(context.Background(), scope, ".b", Config{Backoff: time.Minute, MaxAttempts: 3}, zap.NewNop())
	require.NoError(t, err)
	original.stale.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = h.Click(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHandle_ChildScopeRecoversThroughParent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	oldPanel := newElement("panel-old", "div")
	oldSlot := newElement("slot-old", "img")
	oldPanel.children[".slot"] = []Element{oldSlot}

	newPanel := newElement("panel-new", "div")
	newSlot := newElement("slot-new", "img")
	newPanel.children[".slot"] = []Element{newSlot}

	scope := &fakeScope{results: [][]Element{{oldPanel}, {newPanel}}}
	panel, err := Find(ctx, scope, "#inventory", testConfig(3), zap.NewNop())
	require.NoError(t, err)
	slot, err := panel.Find(ctx, ".slot")
	require.NoError(t, err)

	// The whole panel is re-rendered.
	oldPanel.stale.Store(true)
	oldSlot.stale.Store(true)

	require.NoError(t, slot.Click(ctx))
	assert.Equal(t, int32(1), newSlot.clicks.Load())
}

func TestIsDetachedNodeError(t *testing.T) {
	t.Parallel()
	assert.True(t, isDetachedNodeError(errors.New("No node with given id found (-32000)")))
	assert.True(t, isDetachedNodeError(errors.New("Could not find node with given id")))
	assert.False(t, isDetachedNodeError(errors.New("websocket closed")))
	assert.ErrorIs(t, markStale(errors.New("x")), ErrStale)
}
