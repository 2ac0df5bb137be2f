package session

import (
	"context"
	"fmt"
	"time"

	"github.com/moviola-io/moviola/adapter"
	"github.com/moviola-io/moviola/metrics"
	"github.com/moviola-io/moviola/types"
)

// notifyTimeout bounds each adapter publish so a slow downstream never
// stalls the session.
const notifyTimeout = 5 * time.Second

// notify publishes a session event if a notifier is configured. Publish
// failures are logged, never surfaced: notifications are best-effort.
func (s *Session) notify(ctx context.Context, event *adapter.SessionEvent) {
	if s.notifier == nil {
		return
	}
	event.SessionID = s.id
	event.Script = s.scriptPath
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)

	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := s.notifier.Publish(ctx, event); err != nil {
		s.logger.Warn("session event publish failed", map[string]any{
			"session_id": s.id,
			"event_type": event.EventType,
			"error":      err.Error(),
		})
	}
}

// SaveFrame fetches a frame at display priority, exports it under the
// expanded save-name template, and returns the final location.
func (s *Session) SaveFrame(ctx context.Context, id types.NodeID, index int) (string, error) {
	if s.exporter == nil {
		return "", fmt.Errorf("no export destination configured")
	}
	node, ok := s.reg.Node(id)
	if !ok {
		return "", fmt.Errorf("unknown node %d", id)
	}

	frame, err := s.FetchFrame(ctx, id, index)
	if err != nil {
		s.stats.IncExportFail()
		return "", err
	}

	name := s.SaveFrameName(node, index, frame.Props)
	location, err := s.exporter.Save(ctx, name, frame, node)
	if err != nil {
		s.stats.IncExportFail()
		return "", err
	}
	s.stats.IncExportOK()

	s.notify(ctx, &adapter.SessionEvent{
		EventType: adapter.EventFrameSaved,
		Node:      int(id),
		Frame:     index,
		Path:      location,
	})
	return location, nil
}

// AddScene marks a single-frame scene on the node's selected list and
// publishes a scene_added event.
func (s *Session) AddScene(ctx context.Context, id types.NodeID, frame int, label string) types.Scene {
	sc := s.scenes.AddSingle(id, frame, label)
	s.notifySceneAdded(ctx, sc)
	return sc
}

// MarkScene opens a range at frame on the first call and closes it into
// a scene on the next; marking the same frame twice produces a
// single-frame scene. Closing publishes a scene_added event.
func (s *Session) MarkScene(ctx context.Context, id types.NodeID, frame int) (types.Scene, bool) {
	start, open := s.scenes.OpenMark(id)
	if !open {
		s.scenes.Open(id, frame)
		return types.Scene{}, false
	}
	if start == frame {
		s.scenes.Discard(id)
		return s.AddScene(ctx, id, frame, ""), true
	}
	sc, err := s.scenes.ExtendTo(id, frame, "")
	if err != nil {
		// The mark vanished between the check and the close; reopen.
		s.scenes.Open(id, frame)
		return types.Scene{}, false
	}
	s.notifySceneAdded(ctx, sc)
	return sc, true
}

func (s *Session) notifySceneAdded(ctx context.Context, sc types.Scene) {
	s.notify(ctx, &adapter.SessionEvent{
		EventType: adapter.EventSceneAdded,
		Node:      int(sc.Node),
		Frame:     sc.Start,
		Label:     sc.Label,
	})
}

// Metrics returns the session's metrics collector.
func (s *Session) Metrics() *metrics.Collector { return s.stats }

// MetricsSnapshot absorbs the current cache and dispatcher counters into
// the collector and returns a point-in-time view.
func (s *Session) MetricsSnapshot() metrics.Snapshot {
	cs := s.frames.Stats()
	s.stats.AbsorbCacheStats(cs.Hits, cs.Misses, cs.Evictions, cs.Overflows, int64(cs.Resident), cs.UsedBytes)

	ds := s.disp.Stats()
	s.stats.AbsorbDispatchStats(ds.Issued, ds.Coalesced, ds.Completed, ds.Failed, ds.StaleDiscards)

	return s.stats.Snapshot()
}
