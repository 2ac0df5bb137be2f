package types_test

import (
	"testing"
	"time"

	"github.com/moviola-io/moviola/types"
)

func TestRational_FrameInterval(t *testing.T) {
	tests := []struct {
		name string
		fps  types.Rational
		want time.Duration
	}{
		{"24fps", types.Rational{Num: 24, Den: 1}, time.Second / 24},
		{"ntsc", types.Rational{Num: 30000, Den: 1001}, time.Duration(int64(time.Second) * 1001 / 30000)},
		{"unset", types.Rational{}, 0},
		{"zero_den", types.Rational{Num: 24}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fps.FrameInterval(); got != tt.want {
				t.Errorf("FrameInterval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutputNode_ClampFrame(t *testing.T) {
	node := &types.OutputNode{ID: 0, FrameCount: 100}

	tests := []struct {
		name string
		idx  int
		want int
	}{
		{"in_range", 50, 50},
		{"negative", -10, 0},
		{"past_end", 150, 99},
		{"last", 99, 99},
		{"first", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := node.ClampFrame(tt.idx); got != tt.want {
				t.Errorf("ClampFrame(%d) = %d, want %d", tt.idx, got, tt.want)
			}
		})
	}
}

func TestOutputNode_DisplayName(t *testing.T) {
	named := &types.OutputNode{ID: 2, Title: "Source"}
	if got := named.DisplayName(); got != "Source" {
		t.Errorf("expected title, got %q", got)
	}

	unnamed := &types.OutputNode{ID: 2}
	if got := unnamed.DisplayName(); got != "Video Node 2" {
		t.Errorf("expected index fallback, got %q", got)
	}
}
