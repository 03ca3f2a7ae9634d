package webui

import (
	"context"
	"embed"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/aetherius/gcs-realtime/internal/logcodec"
	"github.com/aetherius/gcs-realtime/internal/realtime"
	"github.com/aetherius/gcs-realtime/internal/storage"
)

//go:embed static/index.html
var staticFiles embed.FS

const (
	defaultLogLimit = 100
	maxLogLimit     = 2000

	keepaliveInterval = 15 * time.Second
	wsWriteTimeout    = 5 * time.Second
)

// Server serves the operator console: JSON endpoints over the engine's
// stores and a WebSocket that pushes a fresh view on every store change.
type Server struct {
	engine    *realtime.Engine
	templates *logcodec.TemplateSet
	started   time.Time
}

// New creates a console server for engine. templates may be nil.
func New(engine *realtime.Engine, templates *logcodec.TemplateSet) *Server {
	return &Server{engine: engine, templates: templates, started: time.Now()}
}

// RegisterRoutes attaches console routes to an existing ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ui/", s.handleUI)
	mux.HandleFunc("GET /ui", s.handleUIRedirect)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /api/telemetry/history", s.handleTelemetryHistory)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/errors", s.handleErrors)
	mux.HandleFunc("POST /api/pause", s.handlePause)
	mux.HandleFunc("POST /api/command", s.handleCommand)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// ListenAndServe starts a standalone HTTP server for the console.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleUIRedirect redirects /ui to /ui/ for consistent routing.
func (s *Server) handleUIRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/ui/", http.StatusMovedPermanently)
}

// handleUI serves the embedded index.html.
func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "UI not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// statusResponse is the JSON shape for /api/status.
type statusResponse struct {
	Connection   string          `json:"connection"`
	Paused       bool            `json:"paused"`
	Pending      int             `json:"pending"`
	Dropped      uint64          `json:"dropped"`
	Logs         int             `json:"logs"`
	ActiveErrors int             `json:"active_errors"`
	Telemetry    int             `json:"telemetry_keys"`
	Uptime       float64         `json:"uptime_seconds"`
	Details      realtime.Status `json:"details"`
}

func (s *Server) status() statusResponse {
	st := s.engine.Status()
	return statusResponse{
		Connection:   st.Connection.State,
		Paused:       st.Gate.Paused,
		Pending:      st.Gate.Pending,
		Dropped:      st.Gate.Dropped,
		Logs:         st.Stores.Logs.HistoryCount,
		ActiveErrors: st.Stores.ActiveErrors,
		Telemetry:    st.Stores.TelemetryKeys,
		Uptime:       time.Since(s.started).Seconds(),
		Details:      st,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

// handleTelemetry returns the latest values, plus the chart buffer when
// buffer=true.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	store := s.engine.Telemetry()
	resp := struct {
		Values map[string]any   `json:"values"`
		Buffer []storage.Sample `json:"buffer,omitempty"`
	}{Values: store.Snapshot()}

	if r.URL.Query().Get("buffer") == "true" {
		resp.Buffer = store.Buffer()
	}
	writeJSON(w, resp)
}

func (s *Server) handleTelemetryHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseInt(q.Get("start"))
	if err != nil {
		http.Error(w, "invalid start: "+err.Error(), http.StatusBadRequest)
		return
	}
	end, err := parseInt(q.Get("end"))
	if err != nil {
		http.Error(w, "invalid end: "+err.Error(), http.StatusBadRequest)
		return
	}

	samples, err := s.engine.FetchTelemetryHistory(r.Context(), start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, samples)
}

// logView is one rendered log line.
type logView struct {
	Time       string             `json:"time"`
	Identifier string             `json:"identifier"`
	Text       string             `json:"text"`
	Level      storage.ErrorLevel `json:"level"`
	Emphasized bool               `json:"emphasized"`
	Timestamp  int64              `json:"timestamp_nanos"`
}

func (s *Server) view(e storage.LogEntry) logView {
	style := logcodec.StyleFor(e.Identifier)
	return logView{
		Time:       logcodec.FormatTimestamp(e.TimestampNanos),
		Identifier: e.Identifier,
		Text:       s.templates.Render(e),
		Level:      style.Level,
		Emphasized: style.Emphasized,
		Timestamp:  e.TimestampNanos,
	}
}

// logFilter is the filter accepted by /api/logs and sent by /ws clients.
type logFilter struct {
	Categories  []string `json:"categories"`
	Severities  []string `json:"severities"`
	Importances []string `json:"importances"`
	Sequence    string   `json:"sequence"`
	Prominent   bool     `json:"prominent"`
	Recent      bool     `json:"recent"`
	Limit       int      `json:"limit"`
	Paused      bool     `json:"paused"` // client-side view freeze, not the engine's pause gate
}

func (f logFilter) options() logcodec.FilterOptions {
	opts := logcodec.FilterOptions{
		Categories:  f.Categories,
		Severities:  f.Severities,
		Importances: f.Importances,
		Sequence:    f.Sequence,
	}
	if f.Prominent && len(opts.Importances) == 0 {
		opts.Importances = logcodec.ProminentOptions().Importances
	}
	return opts
}

// logs returns filtered entries newest first.
func (s *Server) logs(f logFilter) []logView {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	limit = min(limit, maxLogLimit)

	var entries []storage.LogEntry
	if f.Recent {
		entries = s.engine.Logs().Recent(0)
	} else {
		history := s.engine.Logs().History()
		entries = make([]storage.LogEntry, len(history))
		for i, e := range history {
			entries[len(history)-1-i] = e
		}
	}

	matched := logcodec.Filter(entries, f.options())
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]logView, 0, len(matched))
	for _, e := range matched {
		out = append(out, s.view(e))
	}
	return out
}

// handleLogs serves the filtered log. Filters are comma-separated lists:
// /api/logs?category=GC,NW&severity=2&prominent=true&limit=50
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := logFilter{
		Categories:  splitList(q.Get("category")),
		Severities:  splitList(q.Get("severity")),
		Importances: splitList(q.Get("importance")),
		Sequence:    q.Get("sequence"),
		Prominent:   q.Get("prominent") == "true",
		Recent:      q.Get("recent") == "true",
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			f.Limit = n
		}
	}

	writeJSON(w, s.logs(f))
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Errors().Active())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Paused *bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Paused == nil {
		http.Error(w, `expected {"paused": true|false}`, http.StatusBadRequest)
		return
	}

	s.engine.SetPaused(*body.Paused)
	writeJSON(w, s.status())
}

// handleCommand forwards {"action": "..."} as a named command or
// {"command": ..., "params": [...]} as a raw one.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action  string `json:"action"`
		Command any    `json:"command"`
		Params  []any  `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	state := s.engine.ConnState()
	switch {
	case body.Action != "":
		s.engine.SendNamed(body.Action)
	case body.Command != nil:
		s.engine.SendRaw(body.Command, body.Params)
	default:
		http.Error(w, "action or command is required", http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{
		"connection": state.String(),
		"sent":       state == realtime.Open,
	})
}

// wsUpdate is the server-sent update message on the WebSocket.
type wsUpdate struct {
	Status    statusResponse       `json:"status"`
	Telemetry map[string]any       `json:"telemetry"`
	Errors    []storage.ErrorEntry `json:"errors"`
	Logs      []logView            `json:"logs"`
}

// handleWebSocket upgrades to WebSocket and streams a full view on every
// store change. Changes are coalesced by the notifier, so a burst of
// messages produces one update.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for localhost dev
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	notifyCh, unsubscribe := s.engine.Subscribe()
	defer unsubscribe()

	filter := logFilter{Prominent: true, Recent: true}

	filterCh := make(chan logFilter, 4)
	go func() {
		defer close(filterCh)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var f logFilter
			if json.Unmarshal(data, &f) == nil {
				select {
				case filterCh <- f:
				default:
				}
			}
		}
	}()

	s.sendWSUpdate(ctx, conn, filter)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return

		case f, ok := <-filterCh:
			if !ok {
				return
			}
			filter = f
			if !filter.Paused {
				s.sendWSUpdate(ctx, conn, filter)
			}

		case <-notifyCh:
			if filter.Paused {
				continue
			}
			s.sendWSUpdate(ctx, conn, filter)

		case <-keepalive.C:
			if filter.Paused {
				continue
			}
			s.sendWSUpdate(ctx, conn, filter)
		}
	}
}

func (s *Server) sendWSUpdate(ctx context.Context, conn *websocket.Conn, filter logFilter) {
	update := wsUpdate{
		Status:    s.status(),
		Telemetry: s.engine.Telemetry().Snapshot(),
		Errors:    s.engine.Errors().Active(),
		Logs:      s.logs(filter),
	}

	data, err := json.Marshal(update)
	if err != nil {
		log.Printf("webui: failed to marshal update: %v", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		// Connection closed; the main loop will handle cleanup.
		return
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "")
	if err := enc.Encode(v); err != nil {
		log.Printf("webui: failed to write JSON: %v", err)
	}
}
