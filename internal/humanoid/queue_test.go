package humanoid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastConfig() Config {
	return Config{
		BaseInterval: 2 * time.Millisecond,
		MinDelay:     time.Millisecond,
		AverageDelay: 2 * time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

// recorder collects the order in which actions ran and detects overlap.
type recorder struct {
	mu      sync.Mutex
	order   []int
	running atomic.Int32
	overlap atomic.Bool
}

func (r *recorder) action(i int, hold time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if r.running.Add(1) > 1 {
			r.overlap.Store(true)
		}
		defer r.running.Add(-1)
		time.Sleep(hold)
		r.mu.Lock()
		r.order = append(r.order, i)
		r.mu.Unlock()
		return nil
	})
}

func (r *recorder) Order() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.order...)
}

func TestQueue_ExecutesInOrder(t *testing.T) {
	t.Parallel()
	q := NewQueue(fastConfig(), zap.NewNop())
	rec := &recorder{}

	const n = 25
	results := make([]<-chan error, n)
	for i := 0; i < n; i++ {
		results[i] = q.Enqueue(Interaction{Kind: InteractionClick, Target: fmt.Sprintf("#b%d", i), Action: rec.action(i, 0)})
	}
	assert.False(t, q.IsEmpty(), "queue must report pending work before dispatch")
	assert.Equal(t, n, q.Len())

	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < n; i++ {
		select {
		case err := <-results[i]:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatalf("interaction %d never dispatched", i)
		}
	}

	expected := make([]int, n)
	for i := range expected {
		expected[i] = i
	}
	assert.Equal(t, expected, rec.Order())
	assert.True(t, q.IsEmpty())
	assert.False(t, rec.overlap.Load(), "interactions must never run concurrently")
}

func TestQueue_EnqueueNeverBlocks(t *testing.T) {
	t.Parallel()
	q := NewQueue(fastConfig(), zap.NewNop())
	rec := &recorder{}

	start := time.Now()
	for i := 0; i < 10000; i++ {
		q.Enqueue(Interaction{Kind: InteractionClick, Action: rec.action(i, 0)})
	}
	assert.Less(t, time.Since(start), time.Second)
	q.Stop()
}

func TestQueue_IsEmptyDuringDispatch(t *testing.T) {
	t.Parallel()
	q := NewQueue(fastConfig(), zap.NewNop())
	release := make(chan struct{})
	entered := make(chan struct{})

	res := q.Enqueue(Interaction{Kind: InteractionNavigate, Target: "https://example.com", Action: chromedp.ActionFunc(func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	})})
	q.Start(context.Background())
	defer q.Stop()

	<-entered
	assert.False(t, q.IsEmpty(), "an interaction in flight is not yet dispatched")
	close(release)
	require.NoError(t, <-res)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Settle(ctx))
	assert.True(t, q.IsEmpty())
}

func TestQueue_EmptyAsSoonAsSubmitReturns(t *testing.T) {
	t.Parallel()
	q := NewQueue(fastConfig(), zap.NewNop())
	q.Start(context.Background())
	defer q.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < 200; i++ {
		err := q.Submit(ctx, Interaction{Kind: InteractionClick, Action: chromedp.ActionFunc(func(ctx context.Context) error { return nil })})
		require.NoError(t, err)
		require.True(t, q.IsEmpty(), "submit %d returned before the queue counted it as dispatched", i)
	}
}

func TestQueue_PropagatesActionErrors(t *testing.T) {
	t.Parallel()
	q := NewQueue(fastConfig(), zap.NewNop())
	q.Start(context.Background())
	defer q.Stop()

	boom := errors.New("element detached")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := q.Submit(ctx, Interaction{Kind: InteractionClick, Action: chromedp.ActionFunc(func(ctx context.Context) error { return boom })})
	assert.ErrorIs(t, err, boom)

	err = q.Submit(ctx, Interaction{Kind: InteractionRefresh})
	assert.Error(t, err, "an interaction without an action must fail")

	err = q.Submit(ctx, Interaction{Kind: InteractionGoBack, Action: chromedp.ActionFunc(func(ctx context.Context) error { panic("bad selector") })})
	assert.Error(t, err)

	// The worker survives all of the above.
	require.NoError(t, q.Submit(ctx, Interaction{Kind: InteractionGoForward, Action: chromedp.ActionFunc(func(ctx context.Context) error { return nil })}))
}

func TestQueue_StopDropsPending(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.MinDelay = 200 * time.Millisecond
	cfg.AverageDelay = 200 * time.Millisecond
	cfg.MaxDelay = 200 * time.Millisecond
	q := NewQueue(cfg, zap.NewNop())

	var ran atomic.Int32
	action := chromedp.ActionFunc(func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})

	first := q.Enqueue(Interaction{Kind: InteractionClick, Action: action})
	second := q.Enqueue(Interaction{Kind: InteractionClick, Action: action})
	q.Start(context.Background())

	require.NoError(t, <-first)
	// The worker is now in its 200ms post-interaction sleep.
	start := time.Now()
	q.Stop()
	assert.Less(t, time.Since(start), 150*time.Millisecond, "stop must interrupt the sleep")

	assert.ErrorIs(t, <-second, ErrQueueStopped)
	assert.Equal(t, int32(1), ran.Load(), "dropped interactions must never execute")
	assert.True(t, q.IsEmpty())

	late := q.Enqueue(Interaction{Kind: InteractionClick, Action: action})
	assert.ErrorIs(t, <-late, ErrQueueStopped)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), ran.Load())
}

func TestQueue_StopWithoutStart(t *testing.T) {
	t.Parallel()
	q := NewQueue(fastConfig(), zap.NewNop())
	res := q.Enqueue(Interaction{Kind: InteractionClick, Action: chromedp.ActionFunc(func(ctx context.Context) error { return nil })})
	q.Stop()
	assert.ErrorIs(t, <-res, ErrQueueStopped)
}

func TestQueue_ContextEndStopsWorker(t *testing.T) {
	t.Parallel()
	q := NewQueue(fastConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	cancel()

	select {
	case <-q.done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after its context ended")
	}
	res := q.Enqueue(Interaction{Kind: InteractionClick})
	assert.ErrorIs(t, <-res, ErrQueueStopped)
	q.Stop()
}

func TestQueue_SettleRespectsContext(t *testing.T) {
	t.Parallel()
	q := NewQueue(fastConfig(), zap.NewNop())
	q.Enqueue(Interaction{Kind: InteractionClick})
	defer q.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Settle(ctx), context.DeadlineExceeded)
}

func TestInteractionKind_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "click", InteractionClick.String())
	assert.Equal(t, "go_forward", InteractionGoForward.String())
	assert.Equal(t, "interaction(99)", InteractionKind(99).String())
}
