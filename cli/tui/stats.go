package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/moviola-io/moviola/metrics"
)

// renderStats renders the session metrics pane toggled with the stats
// key. Boxes show the display path, stat lines the fetch pipeline.
func renderStats(snap metrics.Snapshot) string {
	boxes := lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Displayed", fmt.Sprintf("%d", snap.FramesDisplayed)),
		statBox("Dropped", fmt.Sprintf("%d", snap.FramesDropped)),
		statBox("Errors", fmt.Sprintf("%d", snap.FrameErrors)),
		statBox("Cache", hitRate(snap.CacheHits, snap.CacheMisses)),
	)

	lines := fmt.Sprintf(
		"requested %d · coalesced %d · completed %d · failed %d · stale %d\n"+
			"cache %d frames / %s · evictions %d · reloads %d · exports %d",
		snap.FramesRequested,
		snap.FramesCoalesced,
		snap.FramesCompleted,
		snap.FramesFailed,
		snap.StaleDiscards,
		snap.CacheResident,
		formatBytes(snap.CacheUsedBytes),
		snap.CacheEvictions,
		snap.Reloads,
		snap.ExportsOK,
	)

	return boxes + "\n" + StatLabelStyle.Render(lines) + "\n"
}

func statBox(label, value string) string {
	content := StatValueStyle.Render(value) + "\n" + StatLabelStyle.Render(label)
	return StatBoxStyle.Render(content)
}

// hitRate formats cache hits as a percentage of lookups.
func hitRate(hits, misses int64) string {
	total := hits + misses
	if total == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.0f%%", float64(hits)/float64(total)*100)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
