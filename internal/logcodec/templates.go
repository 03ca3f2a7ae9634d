package logcodec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aetherius/gcs-realtime/internal/storage"
)

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// TemplateSet maps a log identifier to its message template. Templates use
// {name} placeholders filled from the entry's variables.
//
// A TemplateSet is safe for concurrent use; Replace swaps the whole map so a
// reload never exposes a partially loaded set.
type TemplateSet struct {
	mu        sync.RWMutex
	templates map[string]string
}

// NewTemplateSet creates a set from an in-memory map. A nil map yields an
// empty set in which every entry renders with an empty body.
func NewTemplateSet(templates map[string]string) *TemplateSet {
	ts := &TemplateSet{}
	ts.Replace(templates)
	return ts
}

// LoadTemplateFile reads a flat identifier -> template map from path.
// Files ending in .yaml or .yml are parsed as YAML, anything else as JSON.
func LoadTemplateFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	templates := make(map[string]string)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &templates); err != nil {
			return nil, fmt.Errorf("failed to parse YAML templates %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &templates); err != nil {
			return nil, fmt.Errorf("failed to parse JSON templates %s: %w", path, err)
		}
	}
	return templates, nil
}

// LoadTemplateSet is LoadTemplateFile followed by NewTemplateSet.
func LoadTemplateSet(path string) (*TemplateSet, error) {
	templates, err := LoadTemplateFile(path)
	if err != nil {
		return nil, err
	}
	return NewTemplateSet(templates), nil
}

// Replace swaps in a new template map.
func (ts *TemplateSet) Replace(templates map[string]string) {
	cp := make(map[string]string, len(templates))
	for k, v := range templates {
		cp[k] = v
	}

	ts.mu.Lock()
	ts.templates = cp
	ts.mu.Unlock()
}

// Lookup returns the template for id.
func (ts *TemplateSet) Lookup(id string) (string, bool) {
	if ts == nil {
		return "", false
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.templates[id]
	return t, ok
}

// Len returns the number of templates.
func (ts *TemplateSet) Len() int {
	if ts == nil {
		return 0
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.templates)
}

// Render fills the entry's template. Unknown identifiers render as "" and
// placeholders without a matching variable render as "". A variable present
// with a null value renders as "null".
func (ts *TemplateSet) Render(entry storage.LogEntry) string {
	tmpl, ok := ts.Lookup(entry.Identifier)
	if !ok {
		return ""
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := entry.Variables[name]
		if !ok {
			return ""
		}
		if v == nil {
			return "null"
		}
		return fmt.Sprint(v)
	})
}

// Format renders entry as "HH:MM:SS.mmm: [ID] body" in local time.
func (ts *TemplateSet) Format(entry storage.LogEntry) string {
	return fmt.Sprintf("%s: [%s] %s", FormatTimestamp(entry.TimestampNanos), entry.Identifier, ts.Render(entry))
}

// FormatTimestamp renders a nanosecond Unix timestamp as local HH:MM:SS.mmm.
func FormatTimestamp(nanos int64) string {
	return time.Unix(0, nanos).Format("15:04:05.000")
}

// Style describes how an entry should be presented.
type Style struct {
	Level      storage.ErrorLevel `json:"level"`
	Emphasized bool               `json:"emphasized"`
}

// StyleFor maps an identifier's severity to a display level and its
// importance to emphasis. Unknown severities display as info.
func StyleFor(id string) Style {
	s := Style{Level: storage.LevelInfo}
	switch SeverityChar(id) {
	case '1':
		s.Level = storage.LevelWarn
	case '2':
		s.Level = storage.LevelError
	}
	s.Emphasized = ImportanceChar(id) == '2'
	return s
}
