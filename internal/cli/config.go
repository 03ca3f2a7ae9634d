package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aetherius/gcs-realtime/internal/realtime"
)

// Config holds the runtime configuration for the ground control link.
// It can be populated from CLI flags, config files, or both.
type Config struct {
	// Comment field for user documentation (ignored by the application)
	Comment string `json:"comment,omitempty"`

	// Backend endpoints
	WebSocketURL string `json:"websocket_url,omitempty"` // realtime stream, e.g. ws://127.0.0.1:8000/ws/telemetry
	APIURL       string `json:"api_url,omitempty"`       // REST root for historical fetches; empty disables backfill

	// Connection timing (Go duration strings, e.g. "2s")
	ReconnectDelay string `json:"reconnect_delay,omitempty"`
	DialTimeout    string `json:"dial_timeout,omitempty"`
	WriteTimeout   string `json:"write_timeout,omitempty"`

	// Pause gate
	MaxPending int    `json:"max_pending,omitempty"`
	Overflow   string `json:"overflow,omitempty"` // "drop-oldest" (default) or "drop-newest"

	// Store sizes
	RecentLogCapacity    int `json:"recent_log_capacity,omitempty"`
	SampleBufferCapacity int `json:"sample_buffer_capacity,omitempty"`

	// Log message templates (JSON or YAML); reloaded on change
	TemplatesFile string `json:"templates_file,omitempty"`

	// MCP transport configuration
	Transport string `json:"transport,omitempty"` // "stdio" (default) or "http"
	HTTPHost  string `json:"http_host,omitempty"` // HTTP server bind address
	HTTPPort  int    `json:"http_port,omitempty"` // HTTP server port
	Stateless bool   `json:"stateless,omitempty"` // Run HTTP transport in stateless mode

	// Operator console configuration
	ConsolePort int    `json:"console_port,omitempty"` // 0 = same port as HTTP transport, or disabled on stdio
	ConsoleHost string `json:"console_host,omitempty"` // default: 127.0.0.1

	// OTLP log mirror; empty endpoint disables it
	OTLPEndpoint    string `json:"otlp_endpoint,omitempty"`
	OTLPServiceName string `json:"otlp_service_name,omitempty"`

	// Logging configuration
	Verbose bool `json:"verbose,omitempty"`
}

// DefaultConfig returns a Config with sensible default values:
// - backend on localhost:8000
// - 2s reconnect delay
// - 10,000 queued messages while paused, oldest dropped first
// - 1,000 entry recent log view, 600 chart samples
// - stdio transport (or http on port 4390)
func DefaultConfig() *Config {
	return &Config{
		WebSocketURL:         "ws://127.0.0.1:8000/ws/telemetry",
		APIURL:               "http://127.0.0.1:8000",
		ReconnectDelay:       "2s",
		DialTimeout:          "10s",
		WriteTimeout:         "5s",
		MaxPending:           realtime.DefaultMaxPending,
		Overflow:             string(realtime.DropOldest),
		RecentLogCapacity:    1000,
		SampleBufferCapacity: 600,
		Transport:            "stdio",
		HTTPHost:             "127.0.0.1",
		HTTPPort:             4390,
		Stateless:            false,
		ConsolePort:          0,
		ConsoleHost:          "127.0.0.1",
		OTLPServiceName:      "gcs-realtime",
		Verbose:              false,
	}
}

// LoadConfigFromFile loads configuration from a JSON file at the given path.
// It returns an error if the file cannot be read or parsed.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &config, nil
}

// FindProjectConfig searches for a .gcs-realtime.json config file.
// It starts in the current directory and walks up looking for the file,
// stopping when it finds a .git directory (project root) or reaches root.
func FindProjectConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return findProjectConfigFrom(dir)
}

func findProjectConfigFrom(dir string) (string, error) {
	for {
		configPath := filepath.Join(dir, ".gcs-realtime.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// Stop at the repo root even if no config was found
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}

// GlobalConfigPath returns the path to the global config file.
// This is ~/.config/gcs-realtime/config.json
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gcs-realtime", "config.json")
}

// MergeConfigs merges two configs with the overlay taking precedence.
// Fields in overlay override corresponding fields in base.
// Returns a new Config with the merged values.
func MergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	if overlay == nil {
		return base
	}

	merged := *base

	// Backend endpoints
	if overlay.WebSocketURL != "" {
		merged.WebSocketURL = overlay.WebSocketURL
	}
	if overlay.APIURL != "" {
		merged.APIURL = overlay.APIURL
	}

	// Timing
	if overlay.ReconnectDelay != "" {
		merged.ReconnectDelay = overlay.ReconnectDelay
	}
	if overlay.DialTimeout != "" {
		merged.DialTimeout = overlay.DialTimeout
	}
	if overlay.WriteTimeout != "" {
		merged.WriteTimeout = overlay.WriteTimeout
	}

	// Pause gate and store sizes
	if overlay.MaxPending > 0 {
		merged.MaxPending = overlay.MaxPending
	}
	if overlay.Overflow != "" {
		merged.Overflow = overlay.Overflow
	}
	if overlay.RecentLogCapacity > 0 {
		merged.RecentLogCapacity = overlay.RecentLogCapacity
	}
	if overlay.SampleBufferCapacity > 0 {
		merged.SampleBufferCapacity = overlay.SampleBufferCapacity
	}
	if overlay.TemplatesFile != "" {
		merged.TemplatesFile = overlay.TemplatesFile
	}

	// MCP transport
	if overlay.Transport != "" {
		merged.Transport = overlay.Transport
	}
	if overlay.HTTPHost != "" {
		merged.HTTPHost = overlay.HTTPHost
	}
	if overlay.HTTPPort > 0 {
		merged.HTTPPort = overlay.HTTPPort
	}
	if overlay.Stateless {
		merged.Stateless = overlay.Stateless
	}

	// Console
	if overlay.ConsolePort > 0 {
		merged.ConsolePort = overlay.ConsolePort
	}
	if overlay.ConsoleHost != "" {
		merged.ConsoleHost = overlay.ConsoleHost
	}

	// OTLP mirror
	if overlay.OTLPEndpoint != "" {
		merged.OTLPEndpoint = overlay.OTLPEndpoint
	}
	if overlay.OTLPServiceName != "" {
		merged.OTLPServiceName = overlay.OTLPServiceName
	}

	if overlay.Verbose {
		merged.Verbose = overlay.Verbose
	}

	return &merged
}

// LoadEffectiveConfig loads the effective configuration by merging:
// 1. Built-in defaults
// 2. Global config file (if exists)
// 3. Project config file (if exists)
// 4. Explicit config file (if specified via configPath)
// Later sources override earlier ones.
func LoadEffectiveConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// Global config is optional; errors are ignored
	if globalPath := GlobalConfigPath(); globalPath != "" {
		if globalCfg, err := LoadConfigFromFile(globalPath); err == nil {
			config = MergeConfigs(config, globalCfg)
		}
	}

	if configPath == "" {
		if projectPath, err := FindProjectConfig(); err == nil {
			projectCfg, err := LoadConfigFromFile(projectPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load project config: %w", err)
			}
			config = MergeConfigs(config, projectCfg)
		}
	} else {
		explicitCfg, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = MergeConfigs(config, explicitCfg)
	}

	return config, nil
}

// EngineConfig converts the file-level settings into a realtime.Config.
func (c *Config) EngineConfig() (realtime.Config, error) {
	overflow, err := realtime.ParseOverflowPolicy(c.Overflow)
	if err != nil {
		return realtime.Config{}, err
	}

	reconnect, err := parseDuration("reconnect_delay", c.ReconnectDelay)
	if err != nil {
		return realtime.Config{}, err
	}
	dial, err := parseDuration("dial_timeout", c.DialTimeout)
	if err != nil {
		return realtime.Config{}, err
	}
	write, err := parseDuration("write_timeout", c.WriteTimeout)
	if err != nil {
		return realtime.Config{}, err
	}

	if c.WebSocketURL == "" {
		return realtime.Config{}, fmt.Errorf("websocket_url is required")
	}

	return realtime.Config{
		WebSocketURL:         c.WebSocketURL,
		ReconnectDelay:       reconnect,
		DialTimeout:          dial,
		WriteTimeout:         write,
		MaxPending:           c.MaxPending,
		Overflow:             overflow,
		RecentLogCapacity:    c.RecentLogCapacity,
		SampleBufferCapacity: c.SampleBufferCapacity,
	}, nil
}

func parseDuration(name, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", name, s)
	}
	return d, nil
}
