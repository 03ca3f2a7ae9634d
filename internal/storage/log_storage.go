package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

// DefaultRecentLogCapacity caps the insertion-ordered live view.
const DefaultRecentLogCapacity = 1000

// LogEntry is one vehicle or ground-station log record.
// The identifier encodes category, severity, importance and sequence; see
// package logcodec.
type LogEntry struct {
	Identifier     string         `json:"identifier"`
	TimestampNanos int64          `json:"timestampNanos"`
	Variables      map[string]any `json:"variables,omitempty"`
}

// Key returns the dedupe key: identifier + "-" + timestamp.
func (e LogEntry) Key() string {
	return e.Identifier + "-" + strconv.FormatInt(e.TimestampNanos, 10)
}

// UnmarshalJSON accepts both the current field names and the backend's
// legacy log_id/timestamp names. Non-object variables are wrapped as
// {"value": v}.
func (e *LogEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Identifier     json.RawMessage `json:"identifier"`
		LogID          json.RawMessage `json:"log_id"`
		TimestampNanos json.RawMessage `json:"timestampNanos"`
		Timestamp      json.RawMessage `json:"timestamp"`
		Variables      json.RawMessage `json:"variables"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	idRaw := raw.Identifier
	if len(idRaw) == 0 {
		idRaw = raw.LogID
	}
	id, err := decodeIdentifier(idRaw)
	if err != nil {
		return fmt.Errorf("log identifier: %w", err)
	}

	tsRaw := raw.TimestampNanos
	if len(tsRaw) == 0 {
		tsRaw = raw.Timestamp
	}
	ts, err := decodeNanos(tsRaw)
	if err != nil {
		return fmt.Errorf("log timestamp: %w", err)
	}

	vars, err := decodeVariables(raw.Variables)
	if err != nil {
		return fmt.Errorf("log variables: %w", err)
	}

	*e = LogEntry{Identifier: id, TimestampNanos: ts, Variables: vars}
	return nil
}

// decodeIdentifier accepts a JSON string or a bare number.
func decodeIdentifier(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func decodeNanos(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("missing")
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	// 2^63 is exactly representable; anything at or past it does not fit.
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("timestamp %s out of range", n)
	}
	return int64(f), nil
}

func decodeVariables(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"value": v}, nil
}

// LogStore keeps two views of the log stream: a deduplicated history sorted
// ascending by timestamp, and a capped insertion-ordered recent view for live
// display. Out-of-order delivery (a backfill racing live messages) only
// affects where an entry lands in the history, never the recent view.
type LogStore struct {
	mu      sync.RWMutex
	seen    map[string]struct{}
	history []LogEntry
	recent  *RingBuffer[LogEntry]

	duplicates atomic.Uint64
	notifier   *Notifier
}

// NewLogStore creates a log store whose recent view holds recentCapacity entries.
// A non-positive capacity selects DefaultRecentLogCapacity.
func NewLogStore(recentCapacity int, notifier *Notifier) *LogStore {
	if recentCapacity <= 0 {
		recentCapacity = DefaultRecentLogCapacity
	}
	return &LogStore{
		seen:     make(map[string]struct{}),
		recent:   NewRingBuffer[LogEntry](recentCapacity),
		notifier: notifier,
	}
}

// Insert adds entry unless its dedupe key is already recorded.
// It reports whether the entry was new. Inserting the same entry twice never
// changes the history.
func (ls *LogStore) Insert(entry LogEntry) bool {
	key := entry.Key()

	ls.mu.Lock()
	if _, exists := ls.seen[key]; exists {
		ls.mu.Unlock()
		ls.duplicates.Add(1)
		return false
	}
	ls.seen[key] = struct{}{}

	// Insert after every entry with an equal or smaller timestamp so the
	// history stays sorted and equal timestamps keep arrival order.
	idx := sort.Search(len(ls.history), func(i int) bool {
		return ls.history[i].TimestampNanos > entry.TimestampNanos
	})
	ls.history = append(ls.history, LogEntry{})
	copy(ls.history[idx+1:], ls.history[idx:])
	ls.history[idx] = entry
	ls.recent.Add(entry)
	ls.mu.Unlock()

	ls.notifier.Notify()
	return true
}

// Contains reports whether an entry with the same dedupe key is recorded.
func (ls *LogStore) Contains(entry LogEntry) bool {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	_, ok := ls.seen[entry.Key()]
	return ok
}

// History returns the full deduplicated history, ascending by timestamp.
func (ls *LogStore) History() []LogEntry {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	out := make([]LogEntry, len(ls.history))
	copy(out, ls.history)
	return out
}

// Recent returns the n most recently inserted entries, newest first.
// A non-positive n returns the whole recent view.
func (ls *LogStore) Recent(n int) []LogEntry {
	return ls.recent.Newest(n)
}

// Len returns the number of entries in the history.
func (ls *LogStore) Len() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return len(ls.history)
}

// Clear removes all entries from both views.
func (ls *LogStore) Clear() {
	ls.mu.Lock()
	ls.seen = make(map[string]struct{})
	ls.history = nil
	ls.mu.Unlock()

	ls.recent.Clear()
	ls.notifier.Notify()
}

// Stats returns current log store statistics.
func (ls *LogStore) Stats() LogStoreStats {
	ls.mu.RLock()
	stats := LogStoreStats{HistoryCount: len(ls.history)}
	if n := len(ls.history); n > 0 {
		stats.OldestNanos = ls.history[0].TimestampNanos
		stats.NewestNanos = ls.history[n-1].TimestampNanos
	}
	ls.mu.RUnlock()

	stats.RecentCount = ls.recent.Size()
	stats.RecentCapacity = ls.recent.Capacity()
	stats.DuplicatesDropped = ls.duplicates.Load()
	return stats
}

// LogStoreStats contains statistics about the log store.
type LogStoreStats struct {
	HistoryCount      int    `json:"history_count"`
	RecentCount       int    `json:"recent_count"`
	RecentCapacity    int    `json:"recent_capacity"`
	DuplicatesDropped uint64 `json:"duplicates_dropped"`
	OldestNanos       int64  `json:"oldest_nanos,omitempty"`
	NewestNanos       int64  `json:"newest_nanos,omitempty"`
}
