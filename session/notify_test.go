package session_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/moviola-io/moviola/adapter"
	"github.com/moviola-io/moviola/dispatch"
	"github.com/moviola-io/moviola/export"
	"github.com/moviola-io/moviola/session"
)

// recordingAdapter captures published session events.
type recordingAdapter struct {
	mu     sync.Mutex
	events []adapter.SessionEvent
	closed bool
}

func (a *recordingAdapter) Publish(_ context.Context, event *adapter.SessionEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, *event)
	return nil
}

func (a *recordingAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *recordingAdapter) byType(eventType string) []adapter.SessionEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []adapter.SessionEvent
	for _, ev := range a.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func newWiredSession(t *testing.T, dir string) (*session.Session, *recordingAdapter) {
	t.Helper()
	dest, err := export.NewLocalDir(dir)
	if err != nil {
		t.Fatalf("NewLocalDir failed: %v", err)
	}
	notifier := &recordingAdapter{}
	s, err := session.New(dispatch.NewStubBackend(100), session.Config{
		ScriptPath: "/videos/haruhi.vpy",
		CacheBytes: 1 << 20,
		Exporter:   export.New(dest, nil),
		Notifier:   notifier,
	})
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Open(t.Context()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s, notifier
}

func TestSession_SaveFrameExportsAndNotifies(t *testing.T) {
	dir := t.TempDir()
	s, notifier := newWiredSession(t, dir)

	location, err := s.SaveFrame(t.Context(), 0, 10)
	if err != nil {
		t.Fatalf("SaveFrame failed: %v", err)
	}
	if filepath.Base(location) != "haruhi_10.png" {
		t.Errorf("location = %q, want base haruhi_10.png", location)
	}
	if _, err := os.Stat(location); err != nil {
		t.Errorf("exported file missing: %v", err)
	}

	saved := notifier.byType(adapter.EventFrameSaved)
	if len(saved) != 1 {
		t.Fatalf("frame_saved events = %d, want 1", len(saved))
	}
	ev := saved[0]
	if ev.Node != 0 || ev.Frame != 10 || ev.Path != location {
		t.Errorf("event = %+v", ev)
	}
	if ev.SessionID != s.ID() || ev.Script != "/videos/haruhi.vpy" {
		t.Errorf("event dimensions = %+v", ev)
	}
	if ev.Timestamp == "" {
		t.Error("event timestamp unset")
	}

	snap := s.MetricsSnapshot()
	if snap.ExportsOK != 1 || snap.ExportsFail != 0 {
		t.Errorf("exports ok/fail = %d/%d, want 1/0", snap.ExportsOK, snap.ExportsFail)
	}
}

func TestSession_SaveFrameWithoutExporterFails(t *testing.T) {
	s := newSession(t, dispatch.NewStubBackend(100), "clip.vpy")
	if _, err := s.SaveFrame(t.Context(), 0, 1); err == nil {
		t.Fatal("expected error without exporter")
	}
}

func TestSession_SaveNotifiesSessionSaved(t *testing.T) {
	s, notifier := newWiredSession(t, t.TempDir())

	path := filepath.Join(t.TempDir(), "haruhi.yml")
	if err := s.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	saved := notifier.byType(adapter.EventSessionSaved)
	if len(saved) != 1 || saved[0].Path != path {
		t.Errorf("session_saved events = %+v", saved)
	}
}

func TestSession_ReloadNotifiesWithGeneration(t *testing.T) {
	s, notifier := newWiredSession(t, t.TempDir())

	if err := s.Reload(t.Context()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	reloaded := notifier.byType(adapter.EventScriptReloaded)
	if len(reloaded) != 1 {
		t.Fatalf("script_reloaded events = %d, want 1", len(reloaded))
	}
	if reloaded[0].Generation != uint64(s.Registry().Generation()) {
		t.Errorf("event generation = %d, want %d", reloaded[0].Generation, s.Registry().Generation())
	}

	snap := s.MetricsSnapshot()
	if snap.Reloads != 1 {
		t.Errorf("reloads = %d, want 1", snap.Reloads)
	}
}

func TestSession_AddScenePublishesEvent(t *testing.T) {
	s, notifier := newWiredSession(t, t.TempDir())

	sc := s.AddScene(t.Context(), 0, 42, "cut")
	if sc.Start != 42 || sc.Label != "cut" {
		t.Errorf("scene = %+v", sc)
	}

	added := notifier.byType(adapter.EventSceneAdded)
	if len(added) != 1 || added[0].Frame != 42 || added[0].Label != "cut" {
		t.Errorf("scene_added events = %+v", added)
	}
}

func TestSession_MarkSceneClosesRangeAndNotifies(t *testing.T) {
	s, notifier := newWiredSession(t, t.TempDir())
	ctx := t.Context()

	if _, closed := s.MarkScene(ctx, 0, 10); closed {
		t.Fatal("first mark should only open the range")
	}
	sc, closed := s.MarkScene(ctx, 0, 30)
	if !closed {
		t.Fatal("second mark should close the range")
	}
	if sc.Start != 10 || sc.End != 30 {
		t.Errorf("scene = [%d, %d], want [10, 30]", sc.Start, sc.End)
	}

	added := notifier.byType(adapter.EventSceneAdded)
	if len(added) != 1 || added[0].Frame != 10 {
		t.Errorf("scene_added events = %+v", added)
	}
}

func TestSession_MarkSceneSameFrameIsSingle(t *testing.T) {
	s, notifier := newWiredSession(t, t.TempDir())
	ctx := t.Context()

	s.MarkScene(ctx, 0, 50)
	sc, closed := s.MarkScene(ctx, 0, 50)
	if !closed || sc.Start != 50 || sc.End != 50 {
		t.Errorf("scene = %+v closed=%v, want single-frame at 50", sc, closed)
	}
	if added := notifier.byType(adapter.EventSceneAdded); len(added) != 1 {
		t.Errorf("scene_added events = %d, want 1", len(added))
	}
}

func TestSession_CloseClosesNotifier(t *testing.T) {
	s, notifier := newWiredSession(t, t.TempDir())
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !notifier.closed {
		t.Error("notifier not closed with session")
	}
}

func TestSession_MetricsAbsorbPipelineCounters(t *testing.T) {
	s, _ := newWiredSession(t, t.TempDir())

	if _, err := s.FetchFrame(t.Context(), 0, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FetchFrame(t.Context(), 0, 3); err != nil {
		t.Fatal(err)
	}

	snap := s.MetricsSnapshot()
	if snap.FramesCompleted < 1 {
		t.Errorf("frames completed = %d, want >= 1", snap.FramesCompleted)
	}
	if snap.CacheHits < 1 {
		t.Errorf("cache hits = %d, want >= 1 for repeated fetch", snap.CacheHits)
	}
	if snap.CacheResident < 1 || snap.CacheUsedBytes <= 0 {
		t.Errorf("cache resident/bytes = %d/%d", snap.CacheResident, snap.CacheUsedBytes)
	}
	if !strings.Contains(snap.Script, "haruhi") {
		t.Errorf("snapshot script = %q", snap.Script)
	}
}
