// Package registry tracks the output nodes of the loaded script, the
// selected node, and each node's playback state.
//
// A script reload replaces the entire node set atomically: new node
// metadata is fetched, the generation counter increments (invalidating
// every cached key from the old generation), and surviving nodes' frame
// indices are clamped to their new valid range. Reload never crashes on a
// script edit that shrinks a clip.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/moviola-io/moviola/cache"
	"github.com/moviola-io/moviola/dispatch"
	"github.com/moviola-io/moviola/log"
	"github.com/moviola-io/moviola/types"
)

// ErrNoNodes is returned when the script exposes no output nodes.
var ErrNoNodes = errors.New("script has no output nodes")

// ErrUnknownNode is returned for operations on a node id that is not part
// of the current node set.
var ErrUnknownNode = errors.New("unknown output node")

// Registry owns the node set and per-node playback state.
type Registry struct {
	backend    dispatch.Backend
	dispatcher *dispatch.Dispatcher
	frames     *cache.Cache
	logger     *log.Logger

	mu      sync.Mutex
	gen     types.Generation
	nodes   []types.OutputNode
	byID    map[types.NodeID]int
	states  map[types.NodeID]*types.PlaybackState
	current types.NodeID
	// displayed tracks the pinned displayed-frame key per node so the
	// pin can be moved when the index changes.
	displayed map[types.NodeID]types.FrameKey
}

// New creates an empty registry. Call Load before use.
func New(backend dispatch.Backend, dispatcher *dispatch.Dispatcher, frames *cache.Cache, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Nop()
	}
	return &Registry{
		backend:    backend,
		dispatcher: dispatcher,
		frames:     frames,
		logger:     logger,
		byID:       make(map[types.NodeID]int),
		states:     make(map[types.NodeID]*types.PlaybackState),
		displayed:  make(map[types.NodeID]types.FrameKey),
	}
}

// Load performs the initial node fetch at generation 1.
func (r *Registry) Load(ctx context.Context) error {
	return r.load(ctx, 1)
}

// Reload re-fetches the node set and advances the generation. Previously
// selected frame indices are clamped per node; states for node ids that no
// longer exist are dropped. In-flight requests for the old generation are
// left to complete and be discarded by the dispatcher.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	next := r.gen + 1
	r.mu.Unlock()
	return r.load(ctx, next)
}

func (r *Registry) load(ctx context.Context, gen types.Generation) error {
	nodes, err := r.backend.Nodes(ctx)
	if err != nil {
		return fmt.Errorf("fetching output nodes: %w", err)
	}
	if len(nodes) == 0 {
		return ErrNoNodes
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen = gen
	r.dispatcher.SetGeneration(gen)
	r.frames.InvalidateGeneration(gen)

	r.nodes = nodes
	r.byID = make(map[types.NodeID]int, len(nodes))
	for i := range nodes {
		r.byID[nodes[i].ID] = i
	}

	// Carry over surviving states, clamping each node's index to its new
	// range. States for vanished nodes are dropped.
	states := make(map[types.NodeID]*types.PlaybackState, len(nodes))
	displayed := make(map[types.NodeID]types.FrameKey, len(nodes))
	for i := range nodes {
		node := &nodes[i]
		state, ok := r.states[node.ID]
		if !ok {
			state = &types.PlaybackState{StepSize: 1}
		}
		state.Frame = node.ClampFrame(state.Frame)
		state.Playing = false
		states[node.ID] = state

		key := types.FrameKey{Node: node.ID, Index: state.Frame, Gen: gen}
		r.frames.Pin(key)
		displayed[node.ID] = key
	}
	// Dead-generation pins were already purged by InvalidateGeneration.
	r.states = states
	r.displayed = displayed

	if _, ok := r.byID[r.current]; !ok {
		r.current = nodes[0].ID
	}

	r.logger.Info("node set loaded", map[string]any{
		"generation": uint64(gen),
		"nodes":      len(nodes),
	})
	return nil
}

// Generation returns the live generation.
func (r *Registry) Generation() types.Generation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// Nodes returns the current node set in id order.
func (r *Registry) Nodes() []types.OutputNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	nodes := make([]types.OutputNode, len(r.nodes))
	copy(nodes, r.nodes)
	return nodes
}

// Node returns the metadata for id.
func (r *Registry) Node(id types.NodeID) (types.OutputNode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byID[id]
	if !ok {
		return types.OutputNode{}, false
	}
	return r.nodes[i], true
}

// Current returns the selected node id.
func (r *Registry) Current() types.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Select switches the displayed node. In-flight requests for the
// previously displayed node are not cancelled; their results may complete
// into the cache and be reused later at low cost.
func (r *Registry) Select(id types.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	r.current = id
	return nil
}

// SelectFromEnd selects the node at the given offset back from the
// highest node id. Offset 0 selects the highest-numbered node.
func (r *Registry) SelectFromEnd(offset int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.nodes) == 0 {
		return ErrNoNodes
	}
	i := len(r.nodes) - 1 - offset
	if i < 0 {
		i = 0
	}
	r.current = r.nodes[i].ID
	return nil
}

// CurrentFrame returns the displayed frame index of id.
func (r *Registry) CurrentFrame(id types.NodeID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.states[id]; ok {
		return state.Frame
	}
	return 0
}

// SetCurrentFrame moves a node's displayed frame index, clamped to the
// node's valid range, and moves the displayed-frame pin with it.
// Returns the clamped index.
func (r *Registry) SetCurrentFrame(id types.NodeID, idx int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.byID[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	node := &r.nodes[i]
	idx = node.ClampFrame(idx)

	state := r.states[id]
	state.Frame = idx

	key := types.FrameKey{Node: id, Index: idx, Gen: r.gen}
	if old, ok := r.displayed[id]; ok && old != key {
		r.frames.Pin(key)
		r.frames.Unpin(old)
		r.displayed[id] = key
	} else if !ok {
		r.frames.Pin(key)
		r.displayed[id] = key
	}
	return idx, nil
}

// Key builds a FrameKey for id/idx under the live generation.
func (r *Registry) Key(id types.NodeID, idx int) types.FrameKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return types.FrameKey{Node: id, Index: idx, Gen: r.gen}
}

// State returns a copy of a node's playback state.
func (r *Registry) State(id types.NodeID) (types.PlaybackState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[id]
	if !ok {
		return types.PlaybackState{}, false
	}
	return *state, true
}

// UpdateState applies fn to a node's playback state under the registry
// lock. fn must not block.
func (r *Registry) UpdateState(id types.NodeID, fn func(*types.PlaybackState)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	fn(state)
	return nil
}
