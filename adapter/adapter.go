// Package adapter defines the session-event notifier boundary.
//
// Adapters publish session lifecycle notifications (frames saved, session
// persisted, script reloaded) to downstream systems, letting encode
// pipelines or review tooling react to preview activity. The session owns
// adapter lifecycle; users provide configuration only.
package adapter

import "context"

// Event types published over the adapter boundary.
const (
	// EventFrameSaved fires after a frame export lands at its destination.
	EventFrameSaved = "frame_saved"
	// EventSessionSaved fires after the session file is written.
	EventSessionSaved = "session_saved"
	// EventScriptReloaded fires after a reload swapped the node set.
	EventScriptReloaded = "script_reloaded"
	// EventSceneAdded fires when a scene is added to a list.
	EventSceneAdded = "scene_added"
)

// SessionEvent is the payload published on session activity.
type SessionEvent struct {
	EventType string `json:"event_type"`
	SessionID string `json:"session_id"`
	Script    string `json:"script"`
	Timestamp string `json:"timestamp"` // ISO 8601
	Node      int    `json:"node,omitempty"`
	Frame     int    `json:"frame,omitempty"`
	// Path is the export destination for frame_saved, the session file
	// for session_saved.
	Path  string `json:"path,omitempty"`
	Label string `json:"label,omitempty"`
	// Generation is the live generation after a reload.
	Generation uint64 `json:"generation,omitempty"`
}

// Adapter publishes session events to a downstream system.
// Implementations must be safe for concurrent use within one session.
type Adapter interface {
	// Publish sends a session event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SessionEvent) error

	// Close releases adapter resources.
	Close() error
}
