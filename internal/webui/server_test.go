package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aetherius/gcs-realtime/internal/logcodec"
	"github.com/aetherius/gcs-realtime/internal/realtime"
	"github.com/aetherius/gcs-realtime/internal/storage"
)

func newTestConsole(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	engine := realtime.New(realtime.Config{WebSocketURL: "ws://127.0.0.1:1/ws"}, nil)
	t.Cleanup(engine.Stop)

	s := New(engine, logcodec.NewTemplateSet(map[string]string{
		"GC0001": "ground control started",
		"NW1201": "link degraded: {rssi} dBm",
	}))
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)
	return s, hs
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestStatusEndpoint(t *testing.T) {
	s, hs := newTestConsole(t)
	s.engine.Telemetry().Merge(map[string]any{"ALT": 1.0})

	var st statusResponse
	getJSON(t, hs.URL+"/api/status", &st)
	assert.Equal(t, "disconnected", st.Connection)
	assert.Equal(t, 1, st.Telemetry)
	assert.False(t, st.Paused)
}

func TestTelemetryEndpoint(t *testing.T) {
	s, hs := newTestConsole(t)
	s.engine.Telemetry().Merge(map[string]any{"ALT": 12.5})
	s.engine.Telemetry().ReplaceBuffer([]storage.Sample{{"ALT": 12.0}})

	var resp struct {
		Values map[string]any   `json:"values"`
		Buffer []storage.Sample `json:"buffer"`
	}
	getJSON(t, hs.URL+"/api/telemetry", &resp)
	assert.Equal(t, 12.5, resp.Values["ALT"])
	assert.Empty(t, resp.Buffer)

	getJSON(t, hs.URL+"/api/telemetry?buffer=true", &resp)
	assert.Len(t, resp.Buffer, 1)
}

func TestTelemetryHistoryWithoutSource(t *testing.T) {
	_, hs := newTestConsole(t)

	resp, err := http.Get(hs.URL + "/api/telemetry/history?start=0")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, err = http.Get(hs.URL + "/api/telemetry/history?start=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogsEndpoint(t *testing.T) {
	s, hs := newTestConsole(t)
	s.engine.Logs().Insert(storage.LogEntry{Identifier: "GC0001", TimestampNanos: 100})
	s.engine.Logs().Insert(storage.LogEntry{Identifier: "NW1201", TimestampNanos: 200, Variables: map[string]any{"rssi": -90.0}})
	s.engine.Logs().Insert(storage.LogEntry{Identifier: "EX2200", TimestampNanos: 300})

	var logs []logView
	getJSON(t, hs.URL+"/api/logs", &logs)
	require.Len(t, logs, 3)
	assert.Equal(t, "EX2200", logs[0].Identifier)
	assert.Equal(t, storage.LevelError, logs[0].Level)
	assert.Equal(t, "", logs[0].Text, "no template renders empty")

	getJSON(t, hs.URL+"/api/logs?prominent=true", &logs)
	require.Len(t, logs, 1)
	assert.Equal(t, "link degraded: -90 dBm", logs[0].Text)
	assert.Equal(t, storage.LevelWarn, logs[0].Level)

	getJSON(t, hs.URL+"/api/logs?category=GC,EX&limit=1", &logs)
	require.Len(t, logs, 1)
	assert.Equal(t, "EX2200", logs[0].Identifier)
}

func TestErrorsEndpoint(t *testing.T) {
	s, hs := newTestConsole(t)
	s.engine.Errors().Raise(storage.ErrorEntry{ID: "E1", Message: "GPS lost", Level: storage.LevelError})

	var errs []storage.ErrorEntry
	getJSON(t, hs.URL+"/api/errors", &errs)
	require.Len(t, errs, 1)
	assert.Equal(t, "GPS lost", errs[0].Message)
}

func TestPauseEndpoint(t *testing.T) {
	s, hs := newTestConsole(t)

	resp, err := http.Post(hs.URL+"/api/pause", "application/json", strings.NewReader(`{"paused":true}`))
	require.NoError(t, err)
	var st statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.True(t, st.Paused)
	assert.True(t, s.engine.Paused())

	resp, err = http.Post(hs.URL+"/api/pause", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(hs.URL + "/api/pause")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCommandEndpoint(t *testing.T) {
	s, hs := newTestConsole(t)

	resp, err := http.Post(hs.URL+"/api/command", "application/json", strings.NewReader(`{"action":"arm"}`))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, false, out["sent"])
	assert.Equal(t, uint64(1), s.engine.Status().Commands.Skipped)

	resp, err = http.Post(hs.URL+"/api/command", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUIServed(t *testing.T) {
	_, hs := newTestConsole(t)

	resp, err := http.Get(hs.URL + "/ui/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func readUpdate(t *testing.T, ctx context.Context, conn *websocket.Conn) wsUpdate {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var u wsUpdate
	require.NoError(t, json.Unmarshal(data, &u))
	return u
}

func TestWebSocketPushesOnChange(t *testing.T) {
	s, hs := newTestConsole(t)
	s.engine.Telemetry().Merge(map[string]any{"ALT": 1.0})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(hs.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	initial := readUpdate(t, ctx, conn)
	assert.Equal(t, 1.0, initial.Telemetry["ALT"])
	assert.Empty(t, initial.Errors)

	s.engine.Errors().Raise(storage.ErrorEntry{ID: "E9", Message: "geofence", Level: storage.LevelWarn})

	// Updates coalesce; read until the raise is visible.
	for {
		u := readUpdate(t, ctx, conn)
		if len(u.Errors) == 1 {
			assert.Equal(t, "E9", u.Errors[0].ID)
			assert.Equal(t, 1, u.Status.ActiveErrors)
			break
		}
	}
}

func TestWebSocketFilterMessage(t *testing.T) {
	s, hs := newTestConsole(t)
	s.engine.Logs().Insert(storage.LogEntry{Identifier: "GC0001", TimestampNanos: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(hs.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	initial := readUpdate(t, ctx, conn)
	assert.Empty(t, initial.Logs, "minor entries are hidden by default")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"recent":true,"prominent":false}`)))
	u := readUpdate(t, ctx, conn)
	require.Len(t, u.Logs, 1)
	assert.Equal(t, "ground control started", u.Logs[0].Text)
}
