package viz

import (
	"fmt"
	"strings"
)

// ActiveErrors renders a compact table of active errors.
func ActiveErrors(rows []ErrorRow) string {
	if len(rows) == 0 {
		return "Active Errors (0)\n  none\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active Errors (%d)\n", len(rows))

	for _, r := range rows {
		id := r.ID
		if len(id) > 16 {
			id = id[:15] + "…"
		}

		msg := r.Message
		if len(msg) > 50 {
			msg = msg[:49] + "…"
		}

		fmt.Fprintf(&b, "  %s %-16s  %s\n", levelIcon(r.Level), id, msg)
	}

	return b.String()
}

func levelIcon(level string) string {
	switch level {
	case "error":
		return "✗"
	case "warn":
		return "!"
	default:
		return "·"
	}
}
