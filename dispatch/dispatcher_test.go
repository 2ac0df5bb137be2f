package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/moviola-io/moviola/cache"
	"github.com/moviola-io/moviola/dispatch"
	"github.com/moviola-io/moviola/types"
)

func newHarness(t *testing.T, backend *dispatch.StubBackend, workers int) (*dispatch.Dispatcher, *cache.Cache) {
	t.Helper()
	frames, err := cache.New(64*1024*1024, nil)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	d := dispatch.New(backend, frames, dispatch.Config{Workers: workers})
	t.Cleanup(func() { _ = d.Close() })
	return d, frames
}

func key(node, index int, gen uint64) types.FrameKey {
	return types.FrameKey{Node: types.NodeID(node), Index: index, Gen: types.Generation(gen)}
}

func awaitResult(t *testing.T, h *dispatch.Handle) dispatch.Result {
	t.Helper()
	select {
	case res := <-h.Done():
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame result")
		return dispatch.Result{}
	}
}

func TestDispatcher_DeliversFrame(t *testing.T) {
	backend := dispatch.NewStubBackend(100)
	d, frames := newHarness(t, backend, 2)

	h := d.Request(key(0, 10, 1), dispatch.PriorityDisplay)
	res := awaitResult(t, h)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Frame == nil || res.Frame.Pixels[1] != 10 {
		t.Fatal("payload does not match requested frame")
	}

	// Completion must have landed in the cache.
	if _, ok := frames.Get(key(0, 10, 1)); !ok {
		t.Error("completed frame not cached")
	}
}

func TestDispatcher_CoalescesConcurrentRequests(t *testing.T) {
	backend := dispatch.NewStubBackend(100)
	backend.Gate = make(chan struct{})
	d, _ := newHarness(t, backend, 2)

	k := key(0, 5, 1)
	handles := make([]*dispatch.Handle, 4)
	for i := range handles {
		handles[i] = d.Request(k, dispatch.PriorityPrefetch)
	}

	close(backend.Gate)

	var first *types.CachedFrame
	for i, h := range handles {
		res := awaitResult(t, h)
		if res.Err != nil {
			t.Fatalf("waiter %d got error: %v", i, res.Err)
		}
		if first == nil {
			first = res.Frame
		} else if res.Frame != first {
			t.Errorf("waiter %d got a different frame object", i)
		}
	}

	// Exactly one backend call for all four waiters.
	if got := backend.CallCount(); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
	if got := d.Stats().Coalesced; got != 3 {
		t.Errorf("Coalesced = %d, want 3", got)
	}
}

func TestDispatcher_CachedKeyResolvesWithoutBackendCall(t *testing.T) {
	backend := dispatch.NewStubBackend(100)
	d, _ := newHarness(t, backend, 2)

	k := key(0, 7, 1)
	awaitResult(t, d.Request(k, dispatch.PriorityDisplay))
	calls := backend.CallCount()

	res := awaitResult(t, d.Request(k, dispatch.PriorityDisplay))
	if res.Err != nil || res.Frame == nil {
		t.Fatalf("cached request failed: %v", res.Err)
	}
	if backend.CallCount() != calls {
		t.Error("cached key triggered a second backend call")
	}
}

func TestDispatcher_WorkerCapAndPriorityOrder(t *testing.T) {
	backend := dispatch.NewStubBackend(100)
	backend.Gate = make(chan struct{})
	d, _ := newHarness(t, backend, 1)

	// Occupy the single worker slot.
	busy := d.Request(key(0, 0, 1), dispatch.PriorityDisplay)

	// Queue read-ahead, then a display request. The display request must
	// preempt the queued read-ahead despite arriving later.
	ra := d.Request(key(0, 50, 1), dispatch.PriorityReadAhead)
	disp := d.Request(key(0, 1, 1), dispatch.PriorityDisplay)

	stats := d.Stats()
	if stats.Inflight != 1 {
		t.Fatalf("Inflight = %d, want 1 (worker cap)", stats.Inflight)
	}
	if stats.Queued != 2 {
		t.Fatalf("Queued = %d, want 2", stats.Queued)
	}

	// Release all gated completions.
	close(backend.Gate)

	awaitResult(t, busy)
	awaitResult(t, ra)
	awaitResult(t, disp)

	calls := backend.CallsSnapshot()
	if len(calls) != 3 {
		t.Fatalf("backend calls = %d, want 3", len(calls))
	}
	// Dispatch order: frame 0 (in flight), then frame 1 (display), then
	// frame 50 (read-ahead).
	if calls[1].Index != 1 || calls[2].Index != 50 {
		t.Errorf("dispatch order = %v, want display before read-ahead", calls)
	}
}

func TestDispatcher_StaleGenerationDiscarded(t *testing.T) {
	backend := dispatch.NewStubBackend(100)
	backend.Gate = make(chan struct{})
	d, frames := newHarness(t, backend, 2)

	// Request (node 0, frame 50, generation 1), then reload to
	// generation 2 while the request is in flight.
	h := d.Request(key(0, 50, 1), dispatch.PriorityDisplay)
	d.SetGeneration(2)
	frames.InvalidateGeneration(2)
	close(backend.Gate)

	res := awaitResult(t, h)
	if !errors.Is(res.Err, dispatch.ErrStaleGeneration) {
		t.Fatalf("expected ErrStaleGeneration, got %v", res.Err)
	}
	if _, ok := frames.Get(key(0, 50, 1)); ok {
		t.Error("stale completion must not be cached")
	}
	if got := d.Stats().StaleDiscards; got != 1 {
		t.Errorf("StaleDiscards = %d, want 1", got)
	}
}

func TestDispatcher_BackendErrorSurfacedToAllWaiters(t *testing.T) {
	backend := dispatch.NewStubBackend(100)
	backend.FailFrames = map[types.NodeID]map[int]error{
		0: {13: errors.New("malformed script output")},
	}
	d, frames := newHarness(t, backend, 2)

	k := key(0, 13, 1)
	a := d.Request(k, dispatch.PriorityDisplay)
	b := d.Request(k, dispatch.PriorityPrefetch)

	for _, h := range []*dispatch.Handle{a, b} {
		res := awaitResult(t, h)
		if !dispatch.IsBackendError(res.Err) {
			t.Fatalf("expected BackendError, got %v", res.Err)
		}
	}

	// Not cached, and not retried.
	if _, ok := frames.Get(k); ok {
		t.Error("failed frame must not be cached")
	}
	if got := backend.CallCount(); got != 1 {
		t.Errorf("backend calls = %d, want 1 (no automatic retry)", got)
	}
}

func TestDispatcher_CancelQueued(t *testing.T) {
	backend := dispatch.NewStubBackend(100)
	backend.Gate = make(chan struct{})
	d, _ := newHarness(t, backend, 1)

	busy := d.Request(key(0, 0, 1), dispatch.PriorityDisplay)
	queued := d.Request(key(0, 90, 1), dispatch.PriorityReadAhead)

	dropped := d.CancelQueued(func(k types.FrameKey, pri dispatch.Priority) bool {
		return pri == dispatch.PriorityReadAhead
	})
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}

	res := awaitResult(t, queued)
	if !errors.Is(res.Err, dispatch.ErrRequestCanceled) {
		t.Fatalf("expected ErrRequestCanceled, got %v", res.Err)
	}

	close(backend.Gate)
	awaitResult(t, busy)

	// The canceled request never reached the backend.
	if got := backend.CallCount(); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
}

func TestDispatcher_PromotionDoesNotReissue(t *testing.T) {
	backend := dispatch.NewStubBackend(100)
	backend.Gate = make(chan struct{})
	d, _ := newHarness(t, backend, 1)

	busy := d.Request(key(0, 0, 1), dispatch.PriorityDisplay)
	ra := d.Request(key(0, 20, 1), dispatch.PriorityReadAhead)
	// Same key again at display priority: attaches and promotes.
	promoted := d.Request(key(0, 20, 1), dispatch.PriorityDisplay)

	close(backend.Gate)
	awaitResult(t, busy)

	resA := awaitResult(t, ra)
	resB := awaitResult(t, promoted)
	if resA.Err != nil || resB.Err != nil {
		t.Fatalf("unexpected errors: %v, %v", resA.Err, resB.Err)
	}
	if got := backend.CallCount(); got != 2 {
		t.Errorf("backend calls = %d, want 2 (promotion must not re-issue)", got)
	}
}

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	backend := dispatch.NewStubBackend(100)
	backend.Gate = make(chan struct{})
	frames, _ := cache.New(1<<20, nil)
	d := dispatch.New(backend, frames, dispatch.Config{Workers: 1})

	busy := d.Request(key(0, 0, 1), dispatch.PriorityDisplay)
	queued := d.Request(key(0, 1, 1), dispatch.PriorityPrefetch)

	// Close drains the queue first, then waits for the gated in-flight
	// call. The queued waiter observing cancellation confirms the drain.
	done := make(chan struct{})
	go func() {
		_ = d.Close()
		close(done)
	}()

	res := awaitResult(t, queued)
	if !errors.Is(res.Err, dispatch.ErrRequestCanceled) {
		t.Fatalf("expected ErrRequestCanceled for queued request, got %v", res.Err)
	}

	close(backend.Gate)
	awaitResult(t, busy)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	h := d.Request(key(0, 2, 1), dispatch.PriorityDisplay)
	if res := awaitResult(t, h); !errors.Is(res.Err, dispatch.ErrDispatcherClosed) {
		t.Errorf("expected ErrDispatcherClosed after Close, got %v", res.Err)
	}
}

func TestHandle_AwaitRespectsContext(t *testing.T) {
	backend := dispatch.NewStubBackend(100)
	backend.Gate = make(chan struct{})
	d, _ := newHarness(t, backend, 1)
	defer close(backend.Gate)

	h := d.Request(key(0, 3, 1), dispatch.PriorityDisplay)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
