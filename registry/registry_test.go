package registry_test

import (
	"errors"
	"testing"

	"github.com/moviola-io/moviola/cache"
	"github.com/moviola-io/moviola/dispatch"
	"github.com/moviola-io/moviola/registry"
	"github.com/moviola-io/moviola/types"
)

func newRegistry(t *testing.T, backend *dispatch.StubBackend) (*registry.Registry, *cache.Cache, *dispatch.Dispatcher) {
	t.Helper()
	frames, err := cache.New(1<<20, nil)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	d := dispatch.New(backend, frames, dispatch.Config{Workers: 2})
	t.Cleanup(func() { _ = d.Close() })
	reg := registry.New(backend, d, frames, nil)
	if err := reg.Load(t.Context()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return reg, frames, d
}

func twoNodeBackend(framesA, framesB int) *dispatch.StubBackend {
	backend := dispatch.NewStubBackend(framesA)
	backend.NodeSet = append(backend.NodeSet, types.OutputNode{
		ID:         1,
		Title:      "Filtered",
		FrameCount: framesB,
		FPS:        types.Rational{Num: 24, Den: 1},
		Width:      64,
		Height:     36,
		Format:     "RGB24",
	})
	return backend
}

func TestRegistry_LoadAndList(t *testing.T) {
	reg, _, _ := newRegistry(t, twoNodeBackend(100, 50))

	nodes := reg.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("Nodes() = %d nodes, want 2", len(nodes))
	}
	if reg.Current() != 0 {
		t.Errorf("Current() = %d, want 0", reg.Current())
	}
	if reg.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", reg.Generation())
	}
}

func TestRegistry_SelectByIDAndFromEnd(t *testing.T) {
	reg, _, _ := newRegistry(t, twoNodeBackend(100, 50))

	if err := reg.Select(1); err != nil {
		t.Fatalf("Select(1) failed: %v", err)
	}
	if reg.Current() != 1 {
		t.Errorf("Current() = %d, want 1", reg.Current())
	}

	if err := reg.Select(7); !errors.Is(err, registry.ErrUnknownNode) {
		t.Errorf("Select(7) = %v, want ErrUnknownNode", err)
	}

	// Offset 0 from the end is the highest-numbered node.
	if err := reg.SelectFromEnd(0); err != nil {
		t.Fatalf("SelectFromEnd failed: %v", err)
	}
	if reg.Current() != 1 {
		t.Errorf("SelectFromEnd(0): Current() = %d, want 1", reg.Current())
	}
	if err := reg.SelectFromEnd(1); err != nil {
		t.Fatalf("SelectFromEnd failed: %v", err)
	}
	if reg.Current() != 0 {
		t.Errorf("SelectFromEnd(1): Current() = %d, want 0", reg.Current())
	}
}

func TestRegistry_SetCurrentFrameClamps(t *testing.T) {
	reg, _, _ := newRegistry(t, twoNodeBackend(100, 50))

	// Node has 100 frames; seek to 150 clamps to 99.
	got, err := reg.SetCurrentFrame(0, 150)
	if err != nil {
		t.Fatalf("SetCurrentFrame failed: %v", err)
	}
	if got != 99 {
		t.Errorf("clamped index = %d, want 99", got)
	}
	if reg.CurrentFrame(0) != 99 {
		t.Errorf("CurrentFrame = %d, want 99", reg.CurrentFrame(0))
	}
}

func TestRegistry_DisplayedFramePinned(t *testing.T) {
	backend := dispatch.NewStubBackend(100)
	backend.FrameSize = 100
	reg, frames, d := newRegistry(t, backend)

	// Small cache so pressure is easy to create.
	_ = frames
	if _, err := reg.SetCurrentFrame(0, 10); err != nil {
		t.Fatalf("SetCurrentFrame failed: %v", err)
	}

	h := d.Request(reg.Key(0, 10), dispatch.PriorityDisplay)
	if frame, err := h.Await(t.Context()); err != nil || frame == nil {
		t.Fatalf("fetch failed: %v", err)
	}

	if _, ok := frames.Get(reg.Key(0, 10)); !ok {
		t.Fatal("displayed frame missing from cache")
	}
}

func TestRegistry_ReloadClampsAndBumpsGeneration(t *testing.T) {
	backend := twoNodeBackend(100, 50)
	reg, frames, _ := newRegistry(t, backend)

	if _, err := reg.SetCurrentFrame(0, 90); err != nil {
		t.Fatal(err)
	}

	// Cache a generation-1 frame, then shrink node 0 and drop node 1.
	key1 := reg.Key(0, 90)
	_ = frames.Put(key1, &types.CachedFrame{Key: key1, Pixels: make([]byte, 10)})

	backend.NodeSet = backend.NodeSet[:1]
	backend.NodeSet[0].FrameCount = 60

	if err := reg.Reload(t.Context()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if reg.Generation() != 2 {
		t.Errorf("Generation = %d, want 2", reg.Generation())
	}
	// 90 is out of the shrunk range; clamped to the new last frame.
	if got := reg.CurrentFrame(0); got != 59 {
		t.Errorf("CurrentFrame after shrink = %d, want 59", got)
	}
	// Old-generation frame is purged, not returned.
	if _, ok := frames.Get(key1); ok {
		t.Error("old-generation frame survived reload")
	}
	// Vanished node's state is dropped.
	if _, ok := reg.State(1); ok {
		t.Error("state for removed node should be dropped")
	}
	// Selection falls back to an existing node.
	if reg.Current() != 0 {
		t.Errorf("Current() = %d, want 0 after node removal", reg.Current())
	}
}

func TestRegistry_UpdateState(t *testing.T) {
	reg, _, _ := newRegistry(t, dispatch.NewStubBackend(100))

	err := reg.UpdateState(0, func(s *types.PlaybackState) {
		s.Loop = true
		s.StepSize = 12
	})
	if err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}

	state, ok := reg.State(0)
	if !ok {
		t.Fatal("State(0) missing")
	}
	if !state.Loop || state.Step() != 12 {
		t.Errorf("state not applied: %+v", state)
	}
}
