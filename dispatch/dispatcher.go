package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/moviola-io/moviola/cache"
	"github.com/moviola-io/moviola/log"
	"github.com/moviola-io/moviola/types"
)

// ErrStaleGeneration marks a completion for an invalidated generation.
// Not a true error: the result is dropped silently and waiters should
// simply ignore it.
var ErrStaleGeneration = errors.New("completion for stale generation")

// ErrRequestCanceled is delivered to waiters of a queued request that was
// dropped before dispatch.
var ErrRequestCanceled = errors.New("request canceled before dispatch")

// ErrDispatcherClosed is returned by Request after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// DefaultWorkers bounds in-flight backend calls when Config.Workers is
// unset.
const DefaultWorkers = 2

// Result is the outcome delivered to every waiter of a frame request.
type Result struct {
	Frame *types.CachedFrame
	Err   error
}

// Handle resolves with the result of one frame request. Multiple handles
// for the same FrameKey share a single backend call.
type Handle struct {
	// Key is the requested frame.
	Key types.FrameKey
	ch  chan Result
}

// Done returns the channel the result is delivered on. The channel is
// buffered; the dispatcher never blocks on a slow consumer.
func (h *Handle) Done() <-chan Result {
	return h.ch
}

// Await blocks until the result arrives or ctx is done.
func (h *Handle) Await(ctx context.Context) (*types.CachedFrame, error) {
	select {
	case res := <-h.ch:
		return res.Frame, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func resolvedHandle(key types.FrameKey, res Result) *Handle {
	ch := make(chan Result, 1)
	ch <- res
	return &Handle{Key: key, ch: ch}
}

type reqState int

const (
	stateQueued reqState = iota
	stateInflight
)

// pendingRequest tracks one in-flight or queued frame request and the set
// of waiters interested in its result. At most one exists per FrameKey.
type pendingRequest struct {
	key      types.FrameKey
	priority Priority
	state    reqState
	waiters  []chan Result
	issuedAt time.Time
}

// Config configures a Dispatcher.
type Config struct {
	// Workers caps simultaneously in-flight backend calls.
	// Defaults to DefaultWorkers.
	Workers int
	// Logger is optional.
	Logger *log.Logger
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	// Issued counts admitted requests (one per unique in-flight key).
	Issued int64
	// Coalesced counts callers attached to an existing pending request.
	Coalesced int64
	// Completed counts successful frame deliveries.
	Completed int64
	// Failed counts per-frame backend failures.
	Failed int64
	// StaleDiscards counts completions dropped for a dead generation.
	StaleDiscards int64
	// Canceled counts queued requests dropped before dispatch.
	Canceled int64
	// Queued and Inflight are current depths.
	Queued   int
	Inflight int
}

// Dispatcher issues bounded, prioritized, coalesced frame requests against
// the backend and routes completions into the cache and to waiters.
//
// Completions arrive on worker goroutines in an order unrelated to issue
// order; the pending table and cache are the only state shared with the
// issuing context, and both are mutex-guarded with short critical sections.
type Dispatcher struct {
	backend Backend
	frames  *cache.Cache
	logger  *log.Logger
	workers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	pending  map[types.FrameKey]*pendingRequest
	queue    requestQueue
	inflight int
	gen      types.Generation
	closed   bool

	issued, coalesced, completed, failed, stale, canceled int64
}

// New creates a dispatcher over the given backend and frame cache.
func New(backend Backend, frames *cache.Cache, cfg Config) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		backend: backend,
		frames:  frames,
		logger:  logger,
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[types.FrameKey]*pendingRequest),
		gen:     1,
	}
}

// SetGeneration installs the live generation. Completions carrying any
// other generation are discarded from then on. Called by the registry on
// script reload.
func (d *Dispatcher) SetGeneration(gen types.Generation) {
	d.mu.Lock()
	d.gen = gen
	d.mu.Unlock()
}

// Generation returns the live generation.
func (d *Dispatcher) Generation() types.Generation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

// Request asks for a frame. A cached frame resolves immediately; a key
// already pending attaches the caller as an additional waiter; otherwise a
// new request is admitted, dispatching at once when a worker slot is free
// and queueing by priority when not.
//
// Requesting a queued key at a higher priority promotes it; the request is
// never re-issued.
func (d *Dispatcher) Request(key types.FrameKey, pri Priority) *Handle {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()
		return resolvedHandle(key, Result{Err: ErrDispatcherClosed})
	}

	if frame, ok := d.frames.Get(key); ok {
		d.mu.Unlock()
		return resolvedHandle(key, Result{Frame: frame})
	}

	ch := make(chan Result, 1)

	if req, ok := d.pending[key]; ok {
		req.waiters = append(req.waiters, ch)
		d.coalesced++
		if req.state == stateQueued && pri < req.priority {
			d.queue.remove(req)
			req.priority = pri
			d.queue.push(req)
		}
		d.mu.Unlock()
		return &Handle{Key: key, ch: ch}
	}

	req := &pendingRequest{
		key:      key,
		priority: pri,
		waiters:  []chan Result{ch},
		issuedAt: time.Now(),
	}
	d.pending[key] = req
	d.issued++
	// Pending-waiter pin: the frame must survive eviction between
	// completion and display.
	d.frames.Pin(key)

	if d.inflight < d.workers {
		d.startLocked(req)
	} else {
		d.queue.push(req)
	}
	d.mu.Unlock()

	return &Handle{Key: key, ch: ch}
}

// startLocked moves req to in-flight and spawns its worker.
// Caller must hold mu.
func (d *Dispatcher) startLocked(req *pendingRequest) {
	req.state = stateInflight
	d.inflight++
	d.wg.Add(1)
	go d.run(req)
}

// run performs the backend call off the issuing context and routes the
// completion.
func (d *Dispatcher) run(req *pendingRequest) {
	defer d.wg.Done()
	data, err := d.backend.RenderFrame(d.ctx, req.key.Node, req.key.Index)
	d.complete(req, data, err)
}

// complete handles a backend completion: cache the frame unless its
// generation died, release the pending slot, start the next queued
// request, and notify every waiter with the same result.
func (d *Dispatcher) complete(req *pendingRequest, data *FrameData, err error) {
	d.mu.Lock()
	delete(d.pending, req.key)
	d.inflight--
	if next := d.queue.pop(); next != nil {
		d.startLocked(next)
	}
	live := d.gen

	var res Result
	switch {
	case req.key.Gen != live:
		// Reload happened while the request was in flight. Discard
		// silently; nothing is cached.
		d.stale++
		res = Result{Err: ErrStaleGeneration}
	case err != nil:
		d.failed++
		res = Result{Err: &BackendError{Node: req.key.Node, Index: req.key.Index, Err: err}}
	default:
		frame := &types.CachedFrame{
			Key:    req.key,
			Pixels: data.Pixels,
			Stride: data.Stride,
			Format: data.Format,
			Props:  data.Props,
		}
		// An oversized frame is not retained but is still delivered to
		// waiters for one display.
		_ = d.frames.Put(req.key, frame)
		d.completed++
		res = Result{Frame: frame}
	}
	d.frames.Unpin(req.key)
	d.mu.Unlock()

	if res.Err != nil && !errors.Is(res.Err, ErrStaleGeneration) {
		d.logger.Warn("frame request failed", map[string]any{
			"node":  int(req.key.Node),
			"frame": req.key.Index,
			"error": res.Err.Error(),
		})
	}

	d.notify(req, res)
}

// notify delivers res to every waiter. Channels are buffered one deep and
// each handle is consumed by a single caller, so sends never block.
func (d *Dispatcher) notify(req *pendingRequest, res Result) {
	for _, ch := range req.waiters {
		ch <- res
	}
}

// CancelQueued drops queued-but-undispatched requests matching pred,
// notifying their waiters with ErrRequestCanceled. Requests already
// dispatched to the backend are left to complete into the cache; their
// result may still be useful later.
//
// Returns the number of requests dropped.
func (d *Dispatcher) CancelQueued(pred func(key types.FrameKey, pri Priority) bool) int {
	d.mu.Lock()
	matched := d.queue.collect(pred)
	for _, req := range matched {
		d.queue.remove(req)
		delete(d.pending, req.key)
		d.frames.Unpin(req.key)
		d.canceled++
	}
	d.mu.Unlock()

	for _, req := range matched {
		d.notify(req, Result{Err: ErrRequestCanceled})
	}
	return len(matched)
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Issued:        d.issued,
		Coalesced:     d.coalesced,
		Completed:     d.completed,
		Failed:        d.failed,
		StaleDiscards: d.stale,
		Canceled:      d.canceled,
		Queued:        d.queue.len(),
		Inflight:      d.inflight,
	}
}

// Close drops all queued requests, cancels the worker context, and waits
// for in-flight backend calls to return. The backend itself is not closed;
// the session owns its lifecycle.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	drained := d.queue.drain()
	for _, req := range drained {
		delete(d.pending, req.key)
		d.frames.Unpin(req.key)
		d.canceled++
	}
	d.mu.Unlock()

	for _, req := range drained {
		d.notify(req, Result{Err: ErrRequestCanceled})
	}

	d.cancel()
	d.wg.Wait()
	return nil
}
