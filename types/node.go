// Package types defines core domain types for the moviola engine.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"time"
)

// NodeID identifies an output node of the processing graph.
// IDs are stable small integers assigned by the script in output order.
type NodeID int

// Rational is an exact frames-per-second (or duration) ratio.
type Rational struct {
	Num int64 `yaml:"num" msgpack:"num" json:"num"`
	Den int64 `yaml:"den" msgpack:"den" json:"den"`
}

// IsZero reports whether the rational is unset.
func (r Rational) IsZero() bool {
	return r.Num == 0 || r.Den == 0
}

// FrameInterval returns the wall-clock duration of one frame at this rate.
// Returns 0 for an unset rate; callers must fall back to a nominal rate.
func (r Rational) FrameInterval() time.Duration {
	if r.IsZero() {
		return 0
	}
	return time.Duration(int64(time.Second) * r.Den / r.Num)
}

// Float returns the rate as a float for display purposes only.
// Scheduling math uses FrameInterval to avoid cumulative rounding.
func (r Rational) Float() float64 {
	if r.IsZero() {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// OutputNode describes one named output of the processing graph.
// Immutable once the script is loaded; a reload replaces the whole set.
type OutputNode struct {
	// ID is the stable node index assigned by the script.
	ID NodeID
	// Title is the display name from the node's Name frame property.
	// Empty when the script did not set one; see DisplayName.
	Title string
	// FrameCount is the total number of frames.
	FrameCount int
	// FPS is the node's native frame rate.
	FPS Rational
	// Width and Height are the frame dimensions in pixels.
	Width  int
	Height int
	// Format is the pixel format tag (e.g. "YUV420P8", "RGB24").
	Format string
	// AudioNode is the paired audio node id, if any.
	// Audio playback itself is outside the engine; the pairing is
	// preserved for session persistence.
	AudioNode *NodeID
}

// DisplayName returns the node title, falling back to the node index.
func (n *OutputNode) DisplayName() string {
	if n.Title != "" {
		return n.Title
	}
	return fmt.Sprintf("Video Node %d", n.ID)
}

// LastFrame returns the index of the last valid frame.
func (n *OutputNode) LastFrame() int {
	if n.FrameCount <= 0 {
		return 0
	}
	return n.FrameCount - 1
}

// ClampFrame clamps idx to the node's valid frame range [0, FrameCount).
// Out-of-range seeks are clamped, never errors.
func (n *OutputNode) ClampFrame(idx int) int {
	if idx < 0 {
		return 0
	}
	if idx > n.LastFrame() {
		return n.LastFrame()
	}
	return idx
}
