// Package dispatch implements the asynchronous frame fetch dispatcher.
//
// The dispatcher sits between the engine and the external frame-producing
// backend. It coalesces concurrent requests for the same frame, bounds the
// number of simultaneously in-flight backend calls, orders queued work by
// display priority, and demultiplexes out-of-order completions back to
// every interested waiter.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moviola-io/moviola/types"
)

// FrameData is a decoded frame as produced by the backend, before it is
// keyed and cached.
type FrameData struct {
	Pixels []byte
	Stride int
	Format string
	Props  types.FrameProps
}

// Backend is the external frame-producing service. The engine never
// decodes or filters pixels itself; it orchestrates calls to this
// interface.
//
// RenderFrame may block for the full decode latency and must be safe for
// concurrent calls on different node/frame pairs. A dispatched call cannot
// be forcibly cancelled; ctx cancellation applies to transport, not to
// decode work already committed.
type Backend interface {
	// Nodes returns metadata for every output node of the loaded script.
	// Called at load and on every reload.
	Nodes(ctx context.Context) ([]types.OutputNode, error)

	// RenderFrame decodes a single frame of a node.
	RenderFrame(ctx context.Context, node types.NodeID, index int) (*FrameData, error)

	// Close releases backend resources.
	Close() error
}

// BackendError is a typed decode failure for a specific frame. Decode
// errors are typically deterministic and script-level, so the dispatcher
// never retries them.
type BackendError struct {
	Node  types.NodeID
	Index int
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend failed for node %d frame %d: %v", e.Node, e.Index, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsBackendError reports whether err is a per-frame backend failure.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// StubBackend is a test backend serving synthetic frames. Latency and
// per-frame failures are scriptable; calls are recorded for assertions.
type StubBackend struct {
	mu sync.Mutex

	// NodeSet is returned by Nodes.
	NodeSet []types.OutputNode
	// FrameSize is the pixel payload size per frame.
	FrameSize int
	// Latency delays every RenderFrame call.
	Latency time.Duration
	// FailFrames maps frame indices to errors, keyed per node.
	FailFrames map[types.NodeID]map[int]error
	// Calls records every RenderFrame invocation in order.
	Calls []FrameCall
	// Closed indicates whether Close was called.
	Closed bool

	// Gate, when non-nil, is received from before every RenderFrame
	// returns. Lets tests hold completions in flight.
	Gate chan struct{}
}

// FrameCall records one RenderFrame invocation.
type FrameCall struct {
	Node  types.NodeID
	Index int
}

// NewStubBackend creates a stub with a single node of the given length.
func NewStubBackend(frames int) *StubBackend {
	return &StubBackend{
		NodeSet: []types.OutputNode{{
			ID:         0,
			FrameCount: frames,
			FPS:        types.Rational{Num: 24, Den: 1},
			Width:      64,
			Height:     36,
			Format:     "RGB24",
		}},
		FrameSize: 64 * 36 * 3,
	}
}

// Nodes returns the configured node set.
func (b *StubBackend) Nodes(_ context.Context) ([]types.OutputNode, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	nodes := make([]types.OutputNode, len(b.NodeSet))
	copy(nodes, b.NodeSet)
	return nodes, nil
}

// RenderFrame serves a synthetic frame whose first bytes encode the
// node and index, so tests can verify payload identity.
func (b *StubBackend) RenderFrame(ctx context.Context, node types.NodeID, index int) (*FrameData, error) {
	b.mu.Lock()
	b.Calls = append(b.Calls, FrameCall{Node: node, Index: index})
	latency := b.Latency
	gate := b.Gate
	failErr := error(nil)
	if fails, ok := b.FailFrames[node]; ok {
		failErr = fails[index]
	}
	size := b.FrameSize
	b.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failErr != nil {
		return nil, failErr
	}

	pixels := make([]byte, size)
	if size > 1 {
		pixels[0] = byte(node)
		pixels[1] = byte(index)
	}
	return &FrameData{
		Pixels: pixels,
		Stride: 64 * 3,
		Format: "RGB24",
		Props: types.FrameProps{
			{Name: types.PropNameMatrix, Kind: types.PropInt, Int: 1},
		},
	}, nil
}

// CallsSnapshot returns a copy of the recorded RenderFrame calls.
func (b *StubBackend) CallsSnapshot() []FrameCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	calls := make([]FrameCall, len(b.Calls))
	copy(calls, b.Calls)
	return calls
}

// CallCount returns the number of RenderFrame calls so far.
func (b *StubBackend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Calls)
}

// Close marks the backend as closed.
func (b *StubBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = true
	return nil
}

// Verify StubBackend implements the backend interface.
var _ Backend = (*StubBackend)(nil)
