package storage

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// ErrorLevel classifies an active error.
type ErrorLevel string

const (
	LevelInfo  ErrorLevel = "info"
	LevelWarn  ErrorLevel = "warn"
	LevelError ErrorLevel = "error"
)

// ParseErrorLevel normalizes a level string. Unknown levels map to LevelError
// so that an unrecognized condition is never shown as benign.
func ParseErrorLevel(s string) ErrorLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	default:
		return LevelError
	}
}

// ErrorEntry is one currently active error condition.
type ErrorEntry struct {
	ID      string     `json:"id"`
	Message string     `json:"message"`
	Level   ErrorLevel `json:"level"`
}

// UnmarshalJSON accepts the legacy error_id and name fields alongside id and
// message.
func (e *ErrorEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      string `json:"id"`
		ErrorID string `json:"error_id"`
		Message string `json:"message"`
		Name    string `json:"name"`
		Level   string `json:"level"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.ID = raw.ID
	if e.ID == "" {
		e.ID = raw.ErrorID
	}
	e.Message = raw.Message
	if e.Message == "" {
		e.Message = raw.Name
	}
	e.Level = ParseErrorLevel(raw.Level)
	return nil
}

// ErrorRegister maps error id to its active description.
// Only existence matters: there is no ordering or counting.
type ErrorRegister struct {
	mu     sync.RWMutex
	active map[string]ErrorEntry

	notifier *Notifier
}

// NewErrorRegister creates an empty register.
func NewErrorRegister(notifier *Notifier) *ErrorRegister {
	return &ErrorRegister{
		active:   make(map[string]ErrorEntry),
		notifier: notifier,
	}
}

// Raise upserts entry by id.
func (er *ErrorRegister) Raise(entry ErrorEntry) {
	er.mu.Lock()
	er.active[entry.ID] = entry
	er.mu.Unlock()

	er.notifier.Notify()
}

// Clear removes the error with the given id. It reports whether an entry was
// removed; clearing an unknown id is a no-op.
func (er *ErrorRegister) Clear(id string) bool {
	er.mu.Lock()
	_, ok := er.active[id]
	delete(er.active, id)
	er.mu.Unlock()

	if ok {
		er.notifier.Notify()
	}
	return ok
}

// Get returns the active error with the given id.
func (er *ErrorRegister) Get(id string) (ErrorEntry, bool) {
	er.mu.RLock()
	defer er.mu.RUnlock()
	e, ok := er.active[id]
	return e, ok
}

// Active returns all active errors sorted by id.
func (er *ErrorRegister) Active() []ErrorEntry {
	er.mu.RLock()
	out := make([]ErrorEntry, 0, len(er.active))
	for _, e := range er.active {
		out = append(out, e)
	}
	er.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of active errors.
func (er *ErrorRegister) Len() int {
	er.mu.RLock()
	defer er.mu.RUnlock()
	return len(er.active)
}
