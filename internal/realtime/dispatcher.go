package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/aetherius/gcs-realtime/internal/logcodec"
	"github.com/aetherius/gcs-realtime/internal/storage"
)

// Dispatcher routes each message to the store its type names. It is the only
// component that mutates the stores and never touches the connection.
type Dispatcher struct {
	state *storage.State

	hookMu   sync.RWMutex
	logHooks []func(storage.LogEntry)

	dispatched atomic.Uint64
	anomalies  atomic.Uint64

	// Anomaly logging is throttled so a misbehaving backend cannot flood the log.
	anomalyLog rate.Sometimes
}

// NewDispatcher creates a dispatcher writing into state.
func NewDispatcher(state *storage.State) *Dispatcher {
	return &Dispatcher{
		state:      state,
		anomalyLog: rate.Sometimes{First: 10, Interval: 5 * time.Second},
	}
}

// OnLogInserted registers fn to be called with every newly inserted log
// entry. Hooks run on the dispatch path and must not block.
func (d *Dispatcher) OnLogInserted(fn func(storage.LogEntry)) {
	d.hookMu.Lock()
	defer d.hookMu.Unlock()
	d.logHooks = append(d.logHooks, fn)
}

// Dispatch applies msg. Unknown types and undecodable payloads are logged as
// anomalies and leave every store unchanged.
func (d *Dispatcher) Dispatch(msg Message) error {
	var err error
	switch msg.Type {
	case TypeTelemetry:
		err = d.telemetry(msg.Data)
	case TypeBuffer:
		err = d.buffer(msg.Data)
	case TypeLog:
		err = d.log(msg.Data)
	case TypeErrorRaise:
		err = d.errorRaise(msg.Data)
	case TypeErrorClear:
		err = d.errorClear(msg.Data)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	if err != nil {
		d.anomaly("dispatch %s: %v", msg.Type, err)
		return err
	}
	d.dispatched.Add(1)
	return nil
}

func (d *Dispatcher) telemetry(data json.RawMessage) error {
	var payload map[string]any
	if err := decodeObject(data, &payload); err != nil {
		return err
	}
	d.state.Telemetry().Merge(payload)
	return nil
}

func (d *Dispatcher) buffer(data json.RawMessage) error {
	var samples []storage.Sample
	if len(data) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return fmt.Errorf("%w: empty buffer payload", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, &samples); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	d.state.Telemetry().ReplaceBuffer(samples)
	return nil
}

func (d *Dispatcher) log(data json.RawMessage) error {
	var entry storage.LogEntry
	if err := decodeObject(data, &entry); err != nil {
		return err
	}

	if _, err := logcodec.Parse(entry.Identifier); err != nil {
		// Still recorded: the backend is the source of truth for its own ids.
		d.anomaly("log: %v", err)
	}

	if !d.state.Logs().Insert(entry) {
		return nil
	}

	d.hookMu.RLock()
	hooks := d.logHooks
	d.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(entry)
	}
	return nil
}

func (d *Dispatcher) errorRaise(data json.RawMessage) error {
	var entry storage.ErrorEntry
	if err := decodeObject(data, &entry); err != nil {
		return err
	}
	if entry.ID == "" {
		return fmt.Errorf("%w: error_raise without id", ErrMalformedPayload)
	}
	d.state.Errors().Raise(entry)
	return nil
}

func (d *Dispatcher) errorClear(data json.RawMessage) error {
	// Accept {"id": "..."} and a bare id string.
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		var entry storage.ErrorEntry
		if err := decodeObject(data, &entry); err != nil {
			return err
		}
		id = entry.ID
	}
	if id == "" {
		return fmt.Errorf("%w: error_clear without id", ErrMalformedPayload)
	}
	d.state.Errors().Clear(id)
	return nil
}

func decodeObject(data json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: expected JSON object", ErrMalformedPayload)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func (d *Dispatcher) anomaly(format string, args ...any) {
	d.anomalies.Add(1)
	d.anomalyLog.Do(func() {
		log.Printf("⚠️  realtime: "+format+"\n", args...)
	})
}

// DispatcherStats counts dispatch outcomes.
type DispatcherStats struct {
	Dispatched uint64 `json:"dispatched"`
	Anomalies  uint64 `json:"anomalies"`
}

// Stats returns dispatch counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Dispatched: d.dispatched.Load(),
		Anomalies:  d.anomalies.Load(),
	}
}

// IsAnomaly reports whether err came from a message the dispatcher rejected.
func IsAnomaly(err error) bool {
	return errors.Is(err, ErrUnknownType) || errors.Is(err, ErrMalformedPayload)
}
