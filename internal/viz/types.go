package viz

// BufferStats describes fill levels for the stats overview.
// Decoupled from storage types so viz is a pure rendering package.
type BufferStats struct {
	RecentLogs     int
	RecentCapacity int
	HistoryLogs    int
	Pending        int
	MaxPending     int
	Samples        int
	SampleCapacity int
	Paused         bool
}

// ErrorRow describes one active error for the error table.
type ErrorRow struct {
	ID      string
	Level   string // "info", "warn", "error"
	Message string
}

// Series is one telemetry key's buffered values, oldest first.
type Series struct {
	Key    string
	Values []float64
}
