package types

// Session file schema. These records are what the session package
// (de)serializes; they are deliberately flat and YAML-tagged so a session
// file survives engine refactors. Load is best-effort: a record that no
// longer matches a live node or list is skipped, not fatal.

// SessionRecord is the root of a persisted session.
type SessionRecord struct {
	SessionID    string          `yaml:"session_id"`
	Version      string          `yaml:"version"`
	ScriptPath   string          `yaml:"script_path"`
	SavedAt      string          `yaml:"saved_at"`
	SaveTemplate string          `yaml:"save_file_name_template,omitempty"`
	Nodes        []NodeRecord    `yaml:"nodes"`
	Scenes       []SceneRecord   `yaml:"scenes"`
	ZoomLevels   []float64       `yaml:"zoom_levels,omitempty"`
	Toolbars     map[string]bool `yaml:"toolbars,omitempty"`
}

// NodeRecord is the persisted per-node playback state.
type NodeRecord struct {
	NodeID         int      `yaml:"node_id"`
	DisplayedFrame int      `yaml:"displayed_frame"`
	PlaybackFPS    Rational `yaml:"playback_fps,omitempty"`
	SyncGroupID    *int     `yaml:"sync_group_id,omitempty"`
}

// SceneRecord is one persisted scene.
type SceneRecord struct {
	NodeID int    `yaml:"node_id"`
	List   string `yaml:"list"`
	Start  int    `yaml:"start"`
	End    int    `yaml:"end"`
	Label  string `yaml:"label,omitempty"`
}
