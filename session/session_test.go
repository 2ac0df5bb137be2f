package session_test

import (
	"path/filepath"
	"testing"

	"github.com/moviola-io/moviola/dispatch"
	"github.com/moviola-io/moviola/session"
	"github.com/moviola-io/moviola/types"
)

func newSession(t *testing.T, backend *dispatch.StubBackend, scriptPath string) *session.Session {
	t.Helper()
	s, err := session.New(backend, session.Config{
		ScriptPath: scriptPath,
		CacheBytes: 1 << 20,
	})
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Open(t.Context()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestSession_ScriptNameStripsExtension(t *testing.T) {
	s := newSession(t, dispatch.NewStubBackend(100), "/videos/haruhi.vpy")
	if got := s.ScriptName(); got != "haruhi" {
		t.Errorf("ScriptName = %q, want %q", got, "haruhi")
	}
}

func TestSession_SaveFrameNameUsesDefaultTemplate(t *testing.T) {
	s := newSession(t, dispatch.NewStubBackend(100), "/videos/haruhi.vpy")

	node, _ := s.Registry().Node(0)
	got := s.SaveFrameName(node, 10, nil)
	if got != "haruhi_10" {
		t.Errorf("SaveFrameName = %q, want %q", got, "haruhi_10")
	}
}

func TestSession_FetchFrame(t *testing.T) {
	s := newSession(t, dispatch.NewStubBackend(100), "clip.vpy")

	frame, err := s.FetchFrame(t.Context(), 0, 7)
	if err != nil {
		t.Fatalf("FetchFrame failed: %v", err)
	}
	if frame.Key.Index != 7 {
		t.Errorf("frame index = %d, want 7", frame.Key.Index)
	}
}

func TestSession_SaveAndLoadRoundTrip(t *testing.T) {
	backend := dispatch.NewStubBackend(100)
	s := newSession(t, backend, "clip.vpy")

	if _, err := s.Registry().SetCurrentFrame(0, 33); err != nil {
		t.Fatal(err)
	}
	_ = s.Registry().UpdateState(0, func(st *types.PlaybackState) {
		st.FPS = types.Rational{Num: 30, Den: 1}
	})
	s.Sync().Join(2, 0)
	if _, err := s.Scenes().AddRange(0, 10, 20, "opening"); err != nil {
		t.Fatal(err)
	}
	s.SetSaveTemplate("{script_name}_{frame}_{format}")

	path := filepath.Join(t.TempDir(), "clip.yml")
	if err := s.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := newSession(t, backend, "clip.vpy")
	if err := restored.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if got := restored.Registry().CurrentFrame(0); got != 33 {
		t.Errorf("restored frame = %d, want 33", got)
	}
	state, _ := restored.Registry().State(0)
	if state.FPS != (types.Rational{Num: 30, Den: 1}) {
		t.Errorf("restored fps = %v, want 30/1", state.FPS)
	}
	if group, ok := restored.Sync().Group(0); !ok || group != 2 {
		t.Errorf("restored sync group = (%d, %v), want (2, true)", group, ok)
	}
	scenes := restored.Scenes().Scenes(0, "Scene List 1")
	if len(scenes) != 1 || scenes[0].Label != "opening" {
		t.Errorf("restored scenes = %+v", scenes)
	}
	if got := restored.SaveTemplate(); got != "{script_name}_{frame}_{format}" {
		t.Errorf("restored template = %q", got)
	}
}

func TestSession_LoadSkipsStaleRecords(t *testing.T) {
	s := newSession(t, dispatch.NewStubBackend(100), "clip.vpy")

	// Records for a node that does not exist, and a frame past the end of
	// one that does: neither may block opening.
	s.Restore(types.SessionRecord{
		Nodes: []types.NodeRecord{
			{NodeID: 9, DisplayedFrame: 5},
			{NodeID: 0, DisplayedFrame: 500},
		},
		Scenes: []types.SceneRecord{
			{NodeID: 9, List: "Scene List 1", Start: 1, End: 2},
			{NodeID: 0, List: "Scene List 1", Start: 9, End: 3},
		},
	})

	if got := s.Registry().CurrentFrame(0); got != 99 {
		t.Errorf("restored frame = %d, want 99 (clamped)", got)
	}
	if got := s.Scenes().Scenes(0, "Scene List 1"); len(got) != 0 {
		t.Errorf("invalid scenes restored: %+v", got)
	}
}

func TestSession_LoadMissingFileIsNotAnError(t *testing.T) {
	s := newSession(t, dispatch.NewStubBackend(100), "clip.vpy")
	if err := s.LoadFile(filepath.Join(t.TempDir(), "absent.yml")); err != nil {
		t.Errorf("missing session file should be ignored, got %v", err)
	}
}

func TestDefaultSessionPath(t *testing.T) {
	if got := session.DefaultSessionPath("/videos/haruhi.vpy"); got != "/videos/haruhi.yml" {
		t.Errorf("DefaultSessionPath = %q, want %q", got, "/videos/haruhi.yml")
	}
}
