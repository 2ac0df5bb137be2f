// Package metrics provides per-session metrics collection.
//
// The Collector accumulates counters for one preview session. It is a leaf
// package with no internal dependencies. Cache and dispatcher counters are
// absorbed from their own stats snapshots rather than recorded live,
// avoiding double-counting.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation.
type Snapshot struct {
	// Display
	FramesDisplayed int64
	FramesDropped   int64
	FrameErrors     int64

	// Fetch pipeline (absorbed from dispatcher stats)
	FramesRequested int64
	FramesCoalesced int64
	FramesCompleted int64
	FramesFailed    int64
	StaleDiscards   int64

	// Cache (absorbed from cache stats)
	CacheHits      int64
	CacheMisses    int64
	CacheEvictions int64
	CacheOverflows int64
	CacheResident  int64
	CacheUsedBytes int64

	// Session lifecycle
	Reloads      int64
	ExportsOK    int64
	ExportsFail  int64
	HostRestarts int64

	// Dimensions (informational, set at construction)
	SessionID string
	Script    string
	Backend   string
}

// Collector accumulates metrics for a single session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	framesDisplayed int64
	framesDropped   int64
	frameErrors     int64

	framesRequested int64
	framesCoalesced int64
	framesCompleted int64
	framesFailed    int64
	staleDiscards   int64

	cacheHits      int64
	cacheMisses    int64
	cacheEvictions int64
	cacheOverflows int64
	cacheResident  int64
	cacheUsedBytes int64

	reloads      int64
	exportsOK    int64
	exportsFail  int64
	hostRestarts int64

	sessionID string
	script    string
	backend   string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(sessionID, script, backend string) *Collector {
	return &Collector{
		sessionID: sessionID,
		script:    script,
		backend:   backend,
	}
}

// IncFrameDisplayed records one frame committed to the display.
func (c *Collector) IncFrameDisplayed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesDisplayed++
	c.mu.Unlock()
}

// IncFramesDropped records frames skipped during drop-frame catch-up.
func (c *Collector) IncFramesDropped(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesDropped += n
	c.mu.Unlock()
}

// IncFrameError records a per-frame decode failure shown to the user.
func (c *Collector) IncFrameError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.frameErrors++
	c.mu.Unlock()
}

// IncReload records a script reload.
func (c *Collector) IncReload() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.reloads++
	c.mu.Unlock()
}

// IncExportOK records a successful frame export.
func (c *Collector) IncExportOK() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.exportsOK++
	c.mu.Unlock()
}

// IncExportFail records a failed frame export.
func (c *Collector) IncExportFail() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.exportsFail++
	c.mu.Unlock()
}

// IncHostRestart records a script host restart after a crash.
func (c *Collector) IncHostRestart() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.hostRestarts++
	c.mu.Unlock()
}

// AbsorbDispatchStats copies fetch-pipeline counters from a dispatcher
// stats snapshot. Called on each stats refresh with cumulative values.
func (c *Collector) AbsorbDispatchStats(requested, coalesced, completed, failed, stale int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesRequested = requested
	c.framesCoalesced = coalesced
	c.framesCompleted = completed
	c.framesFailed = failed
	c.staleDiscards = stale
	c.mu.Unlock()
}

// AbsorbCacheStats copies cache counters from a cache stats snapshot.
func (c *Collector) AbsorbCacheStats(hits, misses, evictions, overflows, resident, usedBytes int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cacheHits = hits
	c.cacheMisses = misses
	c.cacheEvictions = evictions
	c.cacheOverflows = overflows
	c.cacheResident = resident
	c.cacheUsedBytes = usedBytes
	c.mu.Unlock()
}

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		FramesDisplayed: c.framesDisplayed,
		FramesDropped:   c.framesDropped,
		FrameErrors:     c.frameErrors,

		FramesRequested: c.framesRequested,
		FramesCoalesced: c.framesCoalesced,
		FramesCompleted: c.framesCompleted,
		FramesFailed:    c.framesFailed,
		StaleDiscards:   c.staleDiscards,

		CacheHits:      c.cacheHits,
		CacheMisses:    c.cacheMisses,
		CacheEvictions: c.cacheEvictions,
		CacheOverflows: c.cacheOverflows,
		CacheResident:  c.cacheResident,
		CacheUsedBytes: c.cacheUsedBytes,

		Reloads:      c.reloads,
		ExportsOK:    c.exportsOK,
		ExportsFail:  c.exportsFail,
		HostRestarts: c.hostRestarts,

		SessionID: c.sessionID,
		Script:    c.script,
		Backend:   c.backend,
	}
}
