package types

// PlaybackState is the per-node playback configuration and position.
type PlaybackState struct {
	// Frame is the current (target) frame index.
	Frame int
	// Playing reports whether continuous playback is active.
	Playing bool
	// FPS overrides the node's native rate when set. Zero means native.
	FPS Rational
	// Unlimited disables interval pacing entirely: the scheduler
	// advances as soon as the current frame is displayed.
	Unlimited bool
	// Variable derives per-frame intervals from frame duration
	// properties instead of a constant rate.
	Variable bool
	// StepSize is the frame count for jump-by-n seeks. Minimum 1.
	StepSize int
	// Loop wraps playback to the first frame at clip bounds instead of
	// pausing.
	Loop bool
}

// EffectiveFPS returns the rate playback should target for a node:
// the override when set, otherwise the node's native rate.
func (s *PlaybackState) EffectiveFPS(node *OutputNode) Rational {
	if !s.FPS.IsZero() {
		return s.FPS
	}
	return node.FPS
}

// Step returns the configured step size, never less than 1.
func (s *PlaybackState) Step() int {
	if s.StepSize < 1 {
		return 1
	}
	return s.StepSize
}

// SyncGroupID identifies a group of nodes whose frame index moves
// together while sync is enabled.
type SyncGroupID int
