package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moviola-io/moviola/adapter"
	"github.com/moviola-io/moviola/iox"
	"github.com/moviola-io/moviola/types"
)

// DefaultSessionPath derives the session file location from the script
// path: same directory, same base name, .yml extension.
func DefaultSessionPath(scriptPath string) string {
	return strings.TrimSuffix(scriptPath, filepath.Ext(scriptPath)) + ".yml"
}

// Snapshot captures the persistable session state.
func (s *Session) Snapshot() types.SessionRecord {
	rec := types.SessionRecord{
		SessionID:    s.id,
		Version:      types.Version,
		ScriptPath:   s.scriptPath,
		SavedAt:      time.Now().UTC().Format(time.RFC3339),
		SaveTemplate: s.saveTemplate,
		ZoomLevels:   s.zoomLevels,
		Toolbars:     s.toolbars,
	}

	for _, node := range s.reg.Nodes() {
		state, ok := s.reg.State(node.ID)
		if !ok {
			continue
		}
		nr := types.NodeRecord{
			NodeID:         int(node.ID),
			DisplayedFrame: state.Frame,
			PlaybackFPS:    state.FPS,
		}
		if group, ok := s.sync.Group(node.ID); ok {
			id := int(group)
			nr.SyncGroupID = &id
		}
		rec.Nodes = append(rec.Nodes, nr)
	}

	for _, sc := range s.scenes.All() {
		rec.Scenes = append(rec.Scenes, types.SceneRecord{
			NodeID: int(sc.Node),
			List:   sc.List,
			Start:  sc.Start,
			End:    sc.End,
			Label:  sc.Label,
		})
	}
	return rec
}

// Save writes the session file atomically: the record is marshalled to a
// temp file in the target directory and renamed into place, so a crash
// mid-write never leaves a truncated session behind.
func (s *Session) Save(path string) error {
	data, err := yaml.Marshal(s.Snapshot())
	if err != nil {
		return fmt.Errorf("marshalling session: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".session-*.yml")
	if err != nil {
		return fmt.Errorf("creating session temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		iox.DiscardClose(tmp)
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing session temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}

	s.logger.Info("session saved", map[string]any{
		"session_id": s.id,
		"path":       path,
	})
	s.notify(context.Background(), &adapter.SessionEvent{
		EventType: adapter.EventSessionSaved,
		Path:      path,
	})
	return nil
}

// LoadFile reads a session file and applies it. A missing file is not an
// error; restore itself is best-effort per record.
func (s *Session) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading session file: %w", err)
	}

	var rec types.SessionRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("parsing session file: %w", err)
	}
	s.Restore(rec)
	return nil
}

// Restore applies a session record. Records referencing nodes that no
// longer exist or scenes with invalid ranges are skipped and counted, not
// fatal: a script edit between save and load must never block opening.
func (s *Session) Restore(rec types.SessionRecord) {
	skipped := 0

	for _, nr := range rec.Nodes {
		id := types.NodeID(nr.NodeID)
		if _, ok := s.reg.Node(id); !ok {
			skipped++
			continue
		}
		// SetCurrentFrame clamps, so a shrunk clip restores in range.
		_, _ = s.reg.SetCurrentFrame(id, nr.DisplayedFrame)
		fps := nr.PlaybackFPS
		_ = s.reg.UpdateState(id, func(st *types.PlaybackState) {
			st.FPS = fps
		})
		if nr.SyncGroupID != nil {
			s.sync.Join(types.SyncGroupID(*nr.SyncGroupID), id)
		}
	}

	for _, sr := range rec.Scenes {
		sc := types.Scene{
			Node:  types.NodeID(sr.NodeID),
			List:  sr.List,
			Start: sr.Start,
			End:   sr.End,
			Label: sr.Label,
		}
		if _, ok := s.reg.Node(sc.Node); !ok {
			skipped++
			continue
		}
		if err := s.scenes.Restore(sc); err != nil {
			skipped++
		}
	}

	if rec.SaveTemplate != "" {
		s.saveTemplate = rec.SaveTemplate
	}
	s.zoomLevels = rec.ZoomLevels
	s.toolbars = rec.Toolbars

	if skipped > 0 {
		s.logger.Warn("session records skipped on restore", map[string]any{
			"session_id": s.id,
			"skipped":    skipped,
		})
	}
}
