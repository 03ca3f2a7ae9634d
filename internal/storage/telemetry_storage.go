package storage

import (
	"sort"
	"sync"
)

// DefaultSampleBufferCapacity bounds the rolling chart buffer.
const DefaultSampleBufferCapacity = 600

// Sample is one chart sample as sent by the backend: telemetry key to value.
type Sample = map[string]any

// TelemetryStore holds the latest value per telemetry key plus a rolling
// buffer of recent samples used for charting.
//
// Values are stored as decoded JSON (maps, slices, numbers, strings) and are
// never mutated in place; Merge swaps whole values per key.
type TelemetryStore struct {
	mu     sync.RWMutex
	values map[string]any
	buffer *RingBuffer[Sample]

	notifier *Notifier
}

// NewTelemetryStore creates a telemetry store whose sample buffer holds
// bufferCapacity samples. A non-positive capacity selects
// DefaultSampleBufferCapacity.
func NewTelemetryStore(bufferCapacity int, notifier *Notifier) *TelemetryStore {
	if bufferCapacity <= 0 {
		bufferCapacity = DefaultSampleBufferCapacity
	}
	return &TelemetryStore{
		values:   make(map[string]any),
		buffer:   NewRingBuffer[Sample](bufferCapacity),
		notifier: notifier,
	}
}

// Merge applies payload with per-key last-write-wins. Keys absent from the
// payload keep their current values; nothing is ever reset.
func (ts *TelemetryStore) Merge(payload map[string]any) {
	if len(payload) == 0 {
		return
	}

	ts.mu.Lock()
	for key, value := range payload {
		ts.values[key] = value
	}
	ts.mu.Unlock()

	ts.notifier.Notify()
}

// Get returns the latest value for key.
func (ts *TelemetryStore) Get(key string) (any, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	v, ok := ts.values[key]
	return v, ok
}

// Snapshot returns a shallow copy of the latest value per key.
func (ts *TelemetryStore) Snapshot() map[string]any {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	out := make(map[string]any, len(ts.values))
	for k, v := range ts.values {
		out[k] = v
	}
	return out
}

// Keys returns the known telemetry keys in sorted order.
func (ts *TelemetryStore) Keys() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	keys := make([]string, 0, len(ts.values))
	for k := range ts.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReplaceBuffer replaces the rolling sample buffer wholesale.
// Only the most recent BufferCapacity() samples are kept.
func (ts *TelemetryStore) ReplaceBuffer(samples []Sample) {
	ts.buffer.Replace(samples)
	ts.notifier.Notify()
}

// Buffer returns the rolling sample buffer, oldest first.
func (ts *TelemetryStore) Buffer() []Sample {
	return ts.buffer.GetAll()
}

// BufferCapacity returns the maximum number of buffered samples.
func (ts *TelemetryStore) BufferCapacity() int {
	return ts.buffer.Capacity()
}

// Len returns the number of telemetry keys.
func (ts *TelemetryStore) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.values)
}
