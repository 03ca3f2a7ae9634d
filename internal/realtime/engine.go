package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aetherius/gcs-realtime/internal/storage"
)

// ErrNoHistory is returned by FetchTelemetryHistory when no history source
// is configured.
var ErrNoHistory = errors.New("no history source configured")

// HistorySource is the backend's historical REST API.
type HistorySource interface {
	// FetchLogs returns raw log records with timestamps in [start, end].
	// end <= 0 means "until now".
	FetchLogs(ctx context.Context, start, end int64) ([]json.RawMessage, error)
	// FetchTelemetry returns time-ordered telemetry samples in [start, end].
	FetchTelemetry(ctx context.Context, start, end int64) ([]storage.Sample, error)
}

// Config configures an Engine.
type Config struct {
	WebSocketURL   string
	Header         http.Header
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	ReadLimit      int64
	WriteTimeout   time.Duration

	MaxPending int
	Overflow   OverflowPolicy

	RecentLogCapacity    int
	SampleBufferCapacity int

	// HistoryTimeout bounds one historical log backfill.
	HistoryTimeout time.Duration
}

// Engine is one client session: it owns the stores and every component that
// feeds them. Construct one per session and hand it to consumers; consumers
// read the stores, call Subscribe for change signals, and send commands.
type Engine struct {
	cfg Config

	state      *storage.State
	dispatcher *Dispatcher
	gate       *PauseGate
	conn       *ConnManager
	commands   *CommandChannel
	history    HistorySource

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	bgMu    sync.Mutex
	stopped bool

	backfills       atomic.Uint64
	backfillRecords atomic.Uint64
	backfillErr     atomic.Pointer[string]
}

// New wires an engine. history may be nil, which disables backfill.
func New(cfg Config, history HistorySource) *Engine {
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = 30 * time.Second
	}

	e := &Engine{
		cfg:     cfg,
		state:   storage.NewState(cfg.RecentLogCapacity, cfg.SampleBufferCapacity),
		history: history,
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.dispatcher = NewDispatcher(e.state)
	e.gate = NewPauseGate(e.dispatcher, GateConfig{
		MaxPending: cfg.MaxPending,
		Overflow:   cfg.Overflow,
		OnGap:      func(uint64) { e.backfill("resume after drops") },
	})
	e.conn = NewConnManager(ConnConfig{
		URL:            cfg.WebSocketURL,
		ReconnectDelay: cfg.ReconnectDelay,
		DialTimeout:    cfg.DialTimeout,
		ReadLimit:      cfg.ReadLimit,
		Header:         cfg.Header,
	}, e.gate.OnMessage)
	e.commands = NewCommandChannel(e.conn, cfg.WriteTimeout)

	e.conn.OnStateChange(func(s ConnState) {
		e.state.Notifier().Notify()
		if s == Open {
			e.backfill("connected")
		}
	})

	return e
}

// Start connects to the backend. The connection is retried in the
// background; Start only fails on invalid configuration.
func (e *Engine) Start(ctx context.Context) error {
	return e.conn.Start(ctx)
}

// Stop disconnects and waits for background work to finish.
func (e *Engine) Stop() {
	e.conn.Stop()

	e.bgMu.Lock()
	e.stopped = true
	e.bgMu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// backfill fetches the historical log and hands it to the gate, so the
// records are deduplicated and ordered exactly like live inserts and respect
// a pause in progress without taking slots in the pause queue.
func (e *Engine) backfill(reason string) {
	if e.history == nil {
		return
	}

	e.bgMu.Lock()
	defer e.bgMu.Unlock()
	if e.stopped {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.HistoryTimeout)
		defer cancel()

		records, err := e.history.FetchLogs(ctx, 0, 0)
		if err != nil {
			if e.ctx.Err() == nil {
				log.Printf("⚠️  realtime: historical log fetch (%s) failed: %v\n", reason, err)
				msg := err.Error()
				e.backfillErr.Store(&msg)
			}
			return
		}
		e.backfillErr.Store(nil)

		batch := make([]Message, 0, len(records))
		for _, raw := range records {
			batch = append(batch, Message{Type: TypeLog, Data: raw})
		}
		e.gate.OnBackfill(batch)
		e.backfills.Add(1)
		e.backfillRecords.Add(uint64(len(records)))
		log.Printf("📜 realtime: backfilled %d historical log records (%s)\n", len(records), reason)
	}()
}

// State returns the stores.
func (e *Engine) State() *storage.State { return e.state }

// Telemetry returns the telemetry snapshot store.
func (e *Engine) Telemetry() *storage.TelemetryStore { return e.state.Telemetry() }

// Logs returns the log store.
func (e *Engine) Logs() *storage.LogStore { return e.state.Logs() }

// Errors returns the active error register.
func (e *Engine) Errors() *storage.ErrorRegister { return e.state.Errors() }

// Subscribe returns a coalescing change signal fired after every store
// mutation and connection state change.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	return e.state.Subscribe()
}

// OnLogInserted registers a hook for newly inserted log entries.
func (e *Engine) OnLogInserted(fn func(storage.LogEntry)) {
	e.dispatcher.OnLogInserted(fn)
}

// SetPaused engages or releases the pause gate.
func (e *Engine) SetPaused(paused bool) {
	e.gate.SetPaused(paused)
	e.state.Notifier().Notify()
}

// Paused reports whether the pause gate is engaged.
func (e *Engine) Paused() bool { return e.gate.Paused() }

// ConnState returns the connection state.
func (e *Engine) ConnState() ConnState { return e.conn.State() }

// SendNamed sends a named operator action. Silently dropped when not connected.
func (e *Engine) SendNamed(action string) { e.commands.SendNamed(action) }

// SendRaw sends a raw vehicle command. Silently dropped when not connected.
func (e *Engine) SendRaw(command any, params []any) { e.commands.SendRaw(command, params) }

// SendLog asks the backend to record a client-side log entry.
func (e *Engine) SendLog(identifier string, variables map[string]any) {
	e.commands.SendLog(identifier, variables)
}

// FetchTelemetryHistory returns historical telemetry samples for charting.
// It does not touch the telemetry store.
func (e *Engine) FetchTelemetryHistory(ctx context.Context, start, end int64) ([]storage.Sample, error) {
	if e.history == nil {
		return nil, ErrNoHistory
	}
	return e.history.FetchTelemetry(ctx, start, end)
}

// Status summarizes the engine for operator surfaces.
type Status struct {
	Connection ConnStats          `json:"connection"`
	Gate       GateStats          `json:"gate"`
	Dispatcher DispatcherStats    `json:"dispatcher"`
	Commands   CommandStats       `json:"commands"`
	Stores     storage.StateStats `json:"stores"`
	Backfill   BackfillStats      `json:"backfill"`
}

// BackfillStats describes historical log fetches.
type BackfillStats struct {
	Enabled   bool   `json:"enabled"`
	Completed uint64 `json:"completed"`
	Records   uint64 `json:"records"`
	LastError string `json:"last_error,omitempty"`
}

// Status returns a point-in-time summary.
func (e *Engine) Status() Status {
	bf := BackfillStats{
		Enabled:   e.history != nil,
		Completed: e.backfills.Load(),
		Records:   e.backfillRecords.Load(),
	}
	if p := e.backfillErr.Load(); p != nil {
		bf.LastError = *p
	}

	return Status{
		Connection: e.conn.Stats(),
		Gate:       e.gate.Stats(),
		Dispatcher: e.dispatcher.Stats(),
		Commands:   e.commands.Stats(),
		Stores:     e.state.Stats(),
		Backfill:   bf,
	}
}
