package viz

import (
	"fmt"
	"strings"
)

// StatsOverview renders buffer fill-level bars.
func StatsOverview(stats BufferStats) string {
	var b strings.Builder

	b.WriteString("Buffer Health\n")
	writeBar(&b, "Logs", stats.RecentLogs, stats.RecentCapacity)
	writeBar(&b, "Samples", stats.Samples, stats.SampleCapacity)
	writeBar(&b, "Pending", stats.Pending, stats.MaxPending)
	fmt.Fprintf(&b, "  History: %s entries\n", formatCount(stats.HistoryLogs))
	if stats.Paused {
		b.WriteString("  ⏸ paused\n")
	}

	return b.String()
}

func writeBar(b *strings.Builder, label string, count, capacity int) {
	barWidth := 20
	filled := 0
	if capacity > 0 {
		filled = count * barWidth / capacity
	}
	if filled > barWidth {
		filled = barWidth
	}

	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)

	// Pad label to 8 chars for alignment
	paddedLabel := fmt.Sprintf("%-8s", label)
	fmt.Fprintf(b, "  %s [%s]  %s / %s\n", paddedLabel, bar, formatCount(count), formatCount(capacity))
}

func formatCount(n int) string {
	if n < 0 {
		return "-" + formatCount(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1_000_000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1_000_000, (n%1_000_000)/1000, n%1000)
}
