package logcodec

import (
	"slices"
	"strings"

	"github.com/aetherius/gcs-realtime/internal/storage"
)

// FilterOptions selects log entries by identifier positions.
// Empty fields allow everything.
type FilterOptions struct {
	Categories  []string `json:"categories,omitempty"`
	Severities  []string `json:"severities,omitempty"`  // raw chars, e.g. "1", "2"
	Importances []string `json:"importances,omitempty"` // raw chars, e.g. "1", "2"
	Sequence    string   `json:"sequence,omitempty"`    // substring of the two sequence chars
}

// ProminentOptions hides minor-importance entries, as the dashboard feed does.
func ProminentOptions() FilterOptions {
	return FilterOptions{Importances: []string{"1", "2"}}
}

// IsZero reports whether opts allows every entry.
func (opts FilterOptions) IsZero() bool {
	return len(opts.Categories) == 0 && len(opts.Severities) == 0 &&
		len(opts.Importances) == 0 && opts.Sequence == ""
}

// ShouldDisplay reports whether entry passes every filter.
func ShouldDisplay(entry storage.LogEntry, opts FilterOptions) bool {
	id := entry.Identifier

	if len(opts.Categories) > 0 && !slices.Contains(opts.Categories, slice(id, 0, 2)) {
		return false
	}
	if len(opts.Severities) > 0 && !slices.Contains(opts.Severities, slice(id, 2, 3)) {
		return false
	}
	if len(opts.Importances) > 0 && !slices.Contains(opts.Importances, slice(id, 3, 4)) {
		return false
	}
	if opts.Sequence != "" && !strings.Contains(slice(id, 4, 6), opts.Sequence) {
		return false
	}
	return true
}

// Filter returns the entries that pass opts, preserving order.
func Filter(entries []storage.LogEntry, opts FilterOptions) []storage.LogEntry {
	if opts.IsZero() {
		return entries
	}

	result := make([]storage.LogEntry, 0, len(entries))
	for _, e := range entries {
		if ShouldDisplay(e, opts) {
			result = append(result, e)
		}
	}
	return result
}
