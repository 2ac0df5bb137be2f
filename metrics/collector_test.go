package metrics_test

import (
	"sync"
	"testing"

	"github.com/moviola-io/moviola/metrics"
)

func TestCollector_CountersAccumulate(t *testing.T) {
	c := metrics.NewCollector("sess-1", "clip.vpy", "subprocess")

	c.IncFrameDisplayed()
	c.IncFrameDisplayed()
	c.IncFramesDropped(3)
	c.IncFrameError()
	c.IncReload()
	c.IncExportOK()
	c.IncExportFail()
	c.IncHostRestart()

	s := c.Snapshot()
	if s.FramesDisplayed != 2 {
		t.Errorf("FramesDisplayed = %d, want 2", s.FramesDisplayed)
	}
	if s.FramesDropped != 3 {
		t.Errorf("FramesDropped = %d, want 3", s.FramesDropped)
	}
	if s.FrameErrors != 1 || s.Reloads != 1 || s.ExportsOK != 1 || s.ExportsFail != 1 || s.HostRestarts != 1 {
		t.Errorf("snapshot = %+v", s)
	}
	if s.SessionID != "sess-1" || s.Script != "clip.vpy" || s.Backend != "subprocess" {
		t.Errorf("dimensions = %q %q %q", s.SessionID, s.Script, s.Backend)
	}
}

func TestCollector_AbsorbedStatsReplaceNotAccumulate(t *testing.T) {
	c := metrics.NewCollector("sess-1", "clip.vpy", "subprocess")

	c.AbsorbDispatchStats(10, 4, 9, 1, 2)
	c.AbsorbDispatchStats(20, 8, 18, 2, 3)
	c.AbsorbCacheStats(100, 30, 5, 1, 12, 1<<20)

	s := c.Snapshot()
	if s.FramesRequested != 20 || s.FramesCoalesced != 8 || s.FramesCompleted != 18 {
		t.Errorf("dispatch stats = %+v", s)
	}
	if s.FramesFailed != 2 || s.StaleDiscards != 3 {
		t.Errorf("dispatch stats = %+v", s)
	}
	if s.CacheHits != 100 || s.CacheMisses != 30 || s.CacheEvictions != 5 {
		t.Errorf("cache stats = %+v", s)
	}
	if s.CacheOverflows != 1 || s.CacheResident != 12 || s.CacheUsedBytes != 1<<20 {
		t.Errorf("cache stats = %+v", s)
	}
}

func TestCollector_NilReceiverSafe(t *testing.T) {
	var c *metrics.Collector

	c.IncFrameDisplayed()
	c.IncFramesDropped(5)
	c.IncFrameError()
	c.AbsorbDispatchStats(1, 2, 3, 4, 5)
	c.AbsorbCacheStats(1, 2, 3, 4, 5, 6)

	if s := c.Snapshot(); s.FramesDisplayed != 0 || s.CacheHits != 0 {
		t.Errorf("nil collector snapshot = %+v, want zero", s)
	}
}

func TestCollector_ConcurrentIncrements(t *testing.T) {
	c := metrics.NewCollector("sess-1", "clip.vpy", "subprocess")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.IncFrameDisplayed()
			}
		}()
	}
	wg.Wait()

	if s := c.Snapshot(); s.FramesDisplayed != 1000 {
		t.Errorf("FramesDisplayed = %d, want 1000", s.FramesDisplayed)
	}
}
