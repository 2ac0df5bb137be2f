package types

// Scene is a user-defined labeled frame range used for navigation and
// annotation. Scenes are only ever created by explicit user action.
type Scene struct {
	// Node is the owning output node.
	Node NodeID
	// List is the named scene list this scene belongs to.
	List string
	// Start and End are the inclusive frame range. A single-frame scene
	// has Start == End.
	Start int
	End   int
	// Label is the optional user annotation.
	Label string
}

// Contains reports whether frame falls inside the scene's range.
func (s *Scene) Contains(frame int) bool {
	return frame >= s.Start && frame <= s.End
}

// SingleFrame reports whether the scene covers exactly one frame.
func (s *Scene) SingleFrame() bool {
	return s.Start == s.End
}
