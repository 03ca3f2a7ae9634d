package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aetherius/gcs-realtime/internal/realtime"
)

func TestMergeConfigs(t *testing.T) {
	base := DefaultConfig()
	overlay := &Config{
		WebSocketURL: "ws://vehicle:9000/ws",
		MaxPending:   50,
		Overflow:     "drop-newest",
		Transport:    "http",
	}

	merged := MergeConfigs(base, overlay)

	assert.Equal(t, "ws://vehicle:9000/ws", merged.WebSocketURL)
	assert.Equal(t, 50, merged.MaxPending)
	assert.Equal(t, "drop-newest", merged.Overflow)
	assert.Equal(t, "http", merged.Transport)
	assert.Equal(t, base.APIURL, merged.APIURL, "unset overlay fields keep the base value")
	assert.Equal(t, "2s", merged.ReconnectDelay)

	assert.Equal(t, "ws://127.0.0.1:8000/ws/telemetry", base.WebSocketURL, "base is not modified")
	assert.Same(t, base, MergeConfigs(base, nil))
	assert.Equal(t, overlay.WebSocketURL, MergeConfigs(nil, overlay).WebSocketURL)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"comment": "bench rig",
		"websocket_url": "ws://10.0.0.5:8000/ws/telemetry",
		"templates_file": "/etc/gcs/templates.yaml",
		"max_pending": 500
	}`), 0o644))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.5:8000/ws/telemetry", cfg.WebSocketURL)
	assert.Equal(t, "/etc/gcs/templates.yaml", cfg.TemplatesFile)
	assert.Equal(t, 500, cfg.MaxPending)

	_, err = LoadConfigFromFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{not json`), 0o644))
	_, err = LoadConfigFromFile(bad)
	assert.Error(t, err)
}

func TestLoadEffectiveConfigExplicitFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "explicit.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_url":"http://bench:8000"}`), 0o644))

	cfg, err := LoadEffectiveConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://bench:8000", cfg.APIURL)
	assert.Equal(t, DefaultConfig().WebSocketURL, cfg.WebSocketURL)

	_, err = LoadEffectiveConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestFindProjectConfigStopsAtGitRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	_, err := findProjectConfigFrom(nested)
	assert.ErrorIs(t, err, os.ErrNotExist)

	want := filepath.Join(root, ".gcs-realtime.json")
	require.NoError(t, os.WriteFile(want, []byte(`{}`), 0o644))

	got, err := findProjectConfigFrom(nested)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEngineConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectDelay = "500ms"
	cfg.Overflow = "drop-newest"

	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, ec.ReconnectDelay)
	assert.Equal(t, 5*time.Second, ec.WriteTimeout)
	assert.Equal(t, realtime.DropNewest, ec.Overflow)
	assert.Equal(t, realtime.DefaultMaxPending, ec.MaxPending)

	cfg.Overflow = "drop-everything"
	_, err = cfg.EngineConfig()
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.DialTimeout = "soon"
	_, err = cfg.EngineConfig()
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.ReconnectDelay = "-1s"
	_, err = cfg.EngineConfig()
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.WebSocketURL = ""
	_, err = cfg.EngineConfig()
	assert.Error(t, err)
}
