package session_test

import (
	"testing"

	"github.com/moviola-io/moviola/session"
	"github.com/moviola-io/moviola/types"
)

func TestExpandTemplate_Default(t *testing.T) {
	got := session.ExpandTemplate("", session.TemplateContext{
		ScriptName: "haruhi",
		Frame:      10,
	})
	if got != "haruhi_10" {
		t.Errorf("default template = %q, want %q", got, "haruhi_10")
	}
}

func TestExpandTemplate_AllPlaceholders(t *testing.T) {
	ctx := session.TemplateContext{
		ScriptName: "clip",
		Frame:      42,
		Node: types.OutputNode{
			ID:         3,
			Format:     "YUV420P8",
			FrameCount: 1000,
			Width:      1920,
			Height:     1080,
			FPS:        types.Rational{Num: 24000, Den: 1001},
		},
		Props: types.FrameProps{
			{Name: types.PropNameMatrix, Kind: types.PropInt, Int: 1},
			{Name: types.PropNameColorRange, Kind: types.PropString, Str: "limited"},
		},
	}

	tests := []struct {
		template string
		want     string
	}{
		{"{script_name}_{frame}", "clip_42"},
		// index is the output node's index, not the frame number.
		{"{script_name}_{index}_{format}", "clip_3_YUV420P8"},
		{"{index}_{frame}", "3_42"},
		{"{width}x{height}@{fps_num}-{fps_den}", "1920x1080@24000-1001"},
		{"{frame}_of_{total_frames}", "42_of_1000"},
		{"{matrix}_{range}", "1_limited"},
		// Absent colorimetry renders empty, not a placeholder.
		{"p{primaries}", "p"},
		// Unknown placeholders stay verbatim so typos are visible.
		{"{script_name}_{framez}", "clip_{framez}"},
	}
	for _, tt := range tests {
		if got := session.ExpandTemplate(tt.template, ctx); got != tt.want {
			t.Errorf("ExpandTemplate(%q) = %q, want %q", tt.template, got, tt.want)
		}
	}
}
