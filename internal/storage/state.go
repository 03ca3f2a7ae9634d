package storage

// State groups the three real-time stores behind one change notifier.
// Consumers read from it; only the event dispatcher writes.
type State struct {
	telemetry *TelemetryStore
	logs      *LogStore
	errors    *ErrorRegister
	notifier  *Notifier
}

// NewState creates empty stores sharing a single notifier.
func NewState(recentLogCapacity, sampleBufferCapacity int) *State {
	n := NewNotifier()
	return &State{
		telemetry: NewTelemetryStore(sampleBufferCapacity, n),
		logs:      NewLogStore(recentLogCapacity, n),
		errors:    NewErrorRegister(n),
		notifier:  n,
	}
}

// Telemetry returns the telemetry snapshot store.
func (s *State) Telemetry() *TelemetryStore {
	return s.telemetry
}

// Logs returns the deduplicating log store.
func (s *State) Logs() *LogStore {
	return s.logs
}

// Errors returns the active error register.
func (s *State) Errors() *ErrorRegister {
	return s.errors
}

// Notifier returns the shared change notifier.
func (s *State) Notifier() *Notifier {
	return s.notifier
}

// Subscribe is shorthand for Notifier().Subscribe().
func (s *State) Subscribe() (<-chan struct{}, func()) {
	return s.notifier.Subscribe()
}

// Stats summarizes all stores.
func (s *State) Stats() StateStats {
	return StateStats{
		TelemetryKeys:  s.telemetry.Len(),
		BufferedSample: len(s.telemetry.Buffer()),
		Logs:           s.logs.Stats(),
		ActiveErrors:   s.errors.Len(),
	}
}

// StateStats contains summary counts across all stores.
type StateStats struct {
	TelemetryKeys  int           `json:"telemetry_keys"`
	BufferedSample int           `json:"buffered_samples"`
	Logs           LogStoreStats `json:"logs"`
	ActiveErrors   int           `json:"active_errors"`
}
