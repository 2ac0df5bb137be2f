// Package cache implements the bounded frame cache.
//
// The cache is keyed by (node, frame index, generation) and bounded by
// total payload bytes, not frame count, since frame size varies with node
// format and resolution. Eviction is least-recently-used over an intrusive
// list plus hash index, so insertion cost is O(1) amortized with no scans.
//
// Pinned frames (the currently displayed frame of every node and any frame
// a pending waiter references) are never evicted regardless of recency.
// The byte budget may be exceeded only to accommodate pinned frames.
package cache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/moviola-io/moviola/log"
	"github.com/moviola-io/moviola/types"
)

// ErrFrameTooLarge is returned by Put when a single frame exceeds the
// total cache capacity. The frame is not retained; callers still display
// it once from the fetch result.
var ErrFrameTooLarge = errors.New("frame exceeds total cache capacity")

// ErrInvalidCapacity is returned by New for a non-positive byte budget.
var ErrInvalidCapacity = errors.New("cache capacity must be positive")

// Stats is a snapshot of cache counters.
type Stats struct {
	// Hits and Misses count Get outcomes.
	Hits   int64
	Misses int64
	// Evictions counts frames removed by capacity pressure.
	Evictions int64
	// Overflows counts Put calls rejected because a single frame
	// exceeded total capacity.
	Overflows int64
	// Purged counts frames dropped by generation invalidation.
	Purged int64
	// Resident is the current number of cached frames.
	Resident int
	// UsedBytes is the current total payload size.
	UsedBytes int64
}

type entry struct {
	key   types.FrameKey
	frame *types.CachedFrame
}

// Cache is a byte-bounded LRU frame store. Safe for concurrent use; the
// issuing context and completion callbacks both touch it.
type Cache struct {
	mu       sync.Mutex
	capacity int64
	used     int64

	// recency holds *entry values, most recently used at the front.
	recency *list.List
	index   map[types.FrameKey]*list.Element

	// pins refcounts keys that must survive eviction.
	pins map[types.FrameKey]int

	logger *log.Logger

	hits, misses, evictions, overflows, purged int64
}

// New creates a cache with the given byte capacity.
func New(capacity int64, logger *log.Logger) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Cache{
		capacity: capacity,
		recency:  list.New(),
		index:    make(map[types.FrameKey]*list.Element),
		pins:     make(map[types.FrameKey]int),
		logger:   logger,
	}, nil
}

// Get returns the cached frame for key, or nil and false when absent.
// A hit refreshes the key's recency.
func (c *Cache) Get(key types.FrameKey) (*types.CachedFrame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.recency.MoveToFront(elem)
	return elem.Value.(*entry).frame, true
}

// Put inserts a frame, evicting least-recently-used unpinned frames until
// the insertion fits. At most one frame exists per key; inserting an
// already-cached key replaces the payload in place.
//
// A frame larger than total capacity is rejected with ErrFrameTooLarge
// and a warning; the cache itself never fails on oversized input.
func (c *Cache) Put(key types.FrameKey, frame *types.CachedFrame) error {
	size := frame.SizeBytes()

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.capacity {
		c.overflows++
		c.logger.Warn("frame larger than cache capacity, not retained", map[string]any{
			"node":       int(key.Node),
			"frame":      key.Index,
			"size_bytes": size,
			"capacity":   c.capacity,
		})
		return fmt.Errorf("%w: %d bytes against %d capacity", ErrFrameTooLarge, size, c.capacity)
	}

	if elem, ok := c.index[key]; ok {
		old := elem.Value.(*entry)
		c.used -= old.frame.SizeBytes()
		old.frame = frame
		c.used += size
		c.recency.MoveToFront(elem)
		c.evictUntilFits()
		return nil
	}

	c.used += size
	c.index[key] = c.recency.PushFront(&entry{key: key, frame: frame})
	c.evictUntilFits()
	return nil
}

// evictUntilFits removes unpinned frames from the cold end until the byte
// budget is met. Pinned frames are skipped, so the budget can be exceeded
// while pins outweigh it. Caller must hold mu.
func (c *Cache) evictUntilFits() {
	elem := c.recency.Back()
	for c.used > c.capacity && elem != nil {
		prev := elem.Prev()
		ent := elem.Value.(*entry)
		if c.pins[ent.key] == 0 {
			c.removeLocked(elem, ent)
			c.evictions++
		}
		elem = prev
	}
}

func (c *Cache) removeLocked(elem *list.Element, ent *entry) {
	c.recency.Remove(elem)
	delete(c.index, ent.key)
	c.used -= ent.frame.SizeBytes()
}

// Pin marks a key as non-evictable. Pins are refcounted: a frame both
// displayed and awaited by a prefetch carries two pins.
// Pinning a key that is not yet cached is valid; the pin applies when the
// frame arrives.
func (c *Cache) Pin(key types.FrameKey) {
	c.mu.Lock()
	c.pins[key]++
	c.mu.Unlock()
}

// Unpin releases one pin on key. Releasing the last pin makes the frame
// evictable again and immediately re-applies the byte budget.
func (c *Cache) Unpin(key types.FrameKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.pins[key]
	if n <= 1 {
		delete(c.pins, key)
	} else {
		c.pins[key] = n - 1
	}
	c.evictUntilFits()
}

// InvalidateGeneration purges every frame and pin whose generation is not
// live. Called on script reload; stale in-flight completions are handled
// by the dispatcher and never reach Put.
func (c *Cache) InvalidateGeneration(live types.Generation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var purged int64
	for elem := c.recency.Front(); elem != nil; {
		next := elem.Next()
		ent := elem.Value.(*entry)
		if ent.key.Gen != live {
			c.removeLocked(elem, ent)
			purged++
		}
		elem = next
	}
	for key := range c.pins {
		if key.Gen != live {
			delete(c.pins, key)
		}
	}
	c.purged += purged

	if purged > 0 {
		c.logger.Debug("purged stale generation", map[string]any{
			"live_generation": uint64(live),
			"purged_frames":   purged,
		})
	}
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Overflows: c.overflows,
		Purged:    c.purged,
		Resident:  c.recency.Len(),
		UsedBytes: c.used,
	}
}

// UsedBytes returns the current total payload size.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Capacity returns the configured byte budget.
func (c *Cache) Capacity() int64 {
	return c.capacity
}
