package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aetherius/gcs-realtime/internal/logcodec"
	"github.com/aetherius/gcs-realtime/internal/realtime"
	"github.com/aetherius/gcs-realtime/internal/storage"
)

// ═══════════════════════════════════════════════════════════════════════════
// GROUND CONTROL TOOLS
//
// Read the live link:
// 1. get_status - Connection, pause gate and store health
// 2. get_telemetry - Latest value of every telemetry key
// 3. get_logs - Vehicle log, filtered by identifier positions
// 4. get_active_errors - Conditions currently raised by the vehicle
// 5. get_telemetry_history - Historical samples from the backend
//
// Act on it:
// 6. set_paused - Freeze the view; updates queue and replay on resume
// 7. send_command - Named operator action
// 8. send_raw_command - Raw vehicle command with parameters
//
// At a glance:
// 9. get_dashboard - Text dashboard with buffer bars, errors and sparklines
// ═══════════════════════════════════════════════════════════════════════════

const (
	defaultLogLimit = 50
	maxLogLimit     = 1000
)

// Tool 1: get_status

type GetStatusInput struct{}

type GetStatusOutput struct {
	Connection string          `json:"connection" jsonschema:"Link state: disconnected, connecting or open"`
	Paused     bool            `json:"paused" jsonschema:"Whether the pause gate is engaged"`
	Pending    int             `json:"pending" jsonschema:"Messages queued behind the pause gate"`
	Summary    string          `json:"summary" jsonschema:"One-line human readable summary"`
	Details    realtime.Status `json:"details" jsonschema:"Full counters for every engine component"`
}

func (s *Server) handleGetStatus(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetStatusInput,
) (*mcp.CallToolResult, GetStatusOutput, error) {
	st := s.engine.Status()
	return &mcp.CallToolResult{}, GetStatusOutput{
		Connection: st.Connection.State,
		Paused:     st.Gate.Paused,
		Pending:    st.Gate.Pending,
		Summary:    summarize(st),
		Details:    st,
	}, nil
}

func summarize(st realtime.Status) string {
	link := "link " + st.Connection.State
	if st.Gate.Paused {
		link += fmt.Sprintf(", paused (%d pending)", st.Gate.Pending)
	}
	return fmt.Sprintf("%s; %d telemetry keys, %d logs, %d active errors",
		link, st.Stores.TelemetryKeys, st.Stores.Logs.HistoryCount, st.Stores.ActiveErrors)
}

// Tool 2: get_telemetry

type GetTelemetryInput struct {
	Keys          []string `json:"keys,omitempty" jsonschema:"Only return these keys (default: all)"`
	IncludeBuffer bool     `json:"include_buffer,omitempty" jsonschema:"Also return the rolling sample buffer used for charts"`
}

type GetTelemetryOutput struct {
	Values  map[string]any   `json:"values" jsonschema:"Latest value per telemetry key"`
	Missing []string         `json:"missing,omitempty" jsonschema:"Requested keys the vehicle has not reported"`
	Buffer  []storage.Sample `json:"buffer,omitempty" jsonschema:"Rolling sample buffer, oldest first"`
}

func (s *Server) handleGetTelemetry(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetTelemetryInput,
) (*mcp.CallToolResult, GetTelemetryOutput, error) {
	store := s.engine.Telemetry()

	var out GetTelemetryOutput
	if len(input.Keys) == 0 {
		out.Values = store.Snapshot()
	} else {
		out.Values = make(map[string]any, len(input.Keys))
		for _, k := range input.Keys {
			if v, ok := store.Get(k); ok {
				out.Values[k] = v
			} else {
				out.Missing = append(out.Missing, k)
			}
		}
	}
	if input.IncludeBuffer {
		out.Buffer = store.Buffer()
	}

	return &mcp.CallToolResult{}, out, nil
}

// Tool 3: get_logs

type GetLogsInput struct {
	Limit       int      `json:"limit,omitempty" jsonschema:"Maximum entries to return, newest first (default 50, max 1000)"`
	RecentOnly  bool     `json:"recent_only,omitempty" jsonschema:"Read the bounded recent feed instead of the full history"`
	Prominent   bool     `json:"prominent,omitempty" jsonschema:"Hide minor-importance entries (importance 1 or 2 only)"`
	Categories  []string `json:"categories,omitempty" jsonschema:"Two-letter categories to keep, e.g. GC, NW"`
	Severities  []string `json:"severities,omitempty" jsonschema:"Severity chars to keep: 0 info, 1 warning, 2 error"`
	Importances []string `json:"importances,omitempty" jsonschema:"Importance chars to keep: 0 minor, 1 normal, 2 major"`
	Sequence    string   `json:"sequence,omitempty" jsonschema:"Substring of the two sequence chars"`
}

type LogView struct {
	Identifier     string         `json:"identifier"`
	TimestampNanos int64          `json:"timestamp_nanos"`
	Time           string         `json:"time"`
	Category       string         `json:"category"`
	Severity       string         `json:"severity"`
	Importance     string         `json:"importance"`
	Text           string         `json:"text" jsonschema:"Rendered template text, empty when no template matches"`
	Variables      map[string]any `json:"variables,omitempty"`
}

type GetLogsOutput struct {
	Logs    []LogView `json:"logs"`
	Matched int       `json:"matched" jsonschema:"Entries passing the filter before the limit"`
	Total   int       `json:"total" jsonschema:"Entries in the searched view"`
}

func (s *Server) handleGetLogs(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetLogsInput,
) (*mcp.CallToolResult, GetLogsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	limit = min(limit, maxLogLimit)

	opts := logcodec.FilterOptions{
		Categories:  input.Categories,
		Severities:  input.Severities,
		Importances: input.Importances,
		Sequence:    input.Sequence,
	}
	if input.Prominent && len(opts.Importances) == 0 {
		opts.Importances = logcodec.ProminentOptions().Importances
	}

	// Both views come back newest first.
	var entries []storage.LogEntry
	if input.RecentOnly {
		entries = s.engine.Logs().Recent(0)
	} else {
		history := s.engine.Logs().History()
		entries = make([]storage.LogEntry, len(history))
		for i, e := range history {
			entries[len(history)-1-i] = e
		}
	}

	matched := logcodec.Filter(entries, opts)
	out := GetLogsOutput{
		Matched: len(matched),
		Total:   len(entries),
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out.Logs = make([]LogView, 0, len(matched))
	for _, e := range matched {
		out.Logs = append(out.Logs, s.logView(e))
	}

	return &mcp.CallToolResult{}, out, nil
}

func (s *Server) logView(e storage.LogEntry) LogView {
	id, _ := logcodec.Parse(e.Identifier)
	return LogView{
		Identifier:     e.Identifier,
		TimestampNanos: e.TimestampNanos,
		Time:           logcodec.FormatTimestamp(e.TimestampNanos),
		Category:       id.Category,
		Severity:       string(id.Severity),
		Importance:     string(id.Importance),
		Text:           s.templates.Render(e),
		Variables:      e.Variables,
	}
}

// Tool 4: get_active_errors

type GetActiveErrorsInput struct{}

type GetActiveErrorsOutput struct {
	Errors []storage.ErrorEntry `json:"errors" jsonschema:"Currently raised conditions, sorted by id"`
	Count  int                  `json:"count"`
}

func (s *Server) handleGetActiveErrors(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetActiveErrorsInput,
) (*mcp.CallToolResult, GetActiveErrorsOutput, error) {
	active := s.engine.Errors().Active()
	return &mcp.CallToolResult{}, GetActiveErrorsOutput{
		Errors: active,
		Count:  len(active),
	}, nil
}

// Tool 5: get_telemetry_history

type GetTelemetryHistoryInput struct {
	Start int64 `json:"start" jsonschema:"Range start, unix nanoseconds"`
	End   int64 `json:"end,omitempty" jsonschema:"Range end, unix nanoseconds (0 = now)"`
}

type GetTelemetryHistoryOutput struct {
	Samples []storage.Sample `json:"samples"`
	Count   int              `json:"count"`
}

func (s *Server) handleGetTelemetryHistory(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetTelemetryHistoryInput,
) (*mcp.CallToolResult, GetTelemetryHistoryOutput, error) {
	if input.End > 0 && input.End < input.Start {
		return nil, GetTelemetryHistoryOutput{}, fmt.Errorf("end (%d) is before start (%d)", input.End, input.Start)
	}

	samples, err := s.engine.FetchTelemetryHistory(ctx, input.Start, input.End)
	if err != nil {
		return nil, GetTelemetryHistoryOutput{}, fmt.Errorf("failed to fetch telemetry history: %w", err)
	}

	if samples == nil {
		samples = []storage.Sample{}
	}
	return &mcp.CallToolResult{}, GetTelemetryHistoryOutput{
		Samples: samples,
		Count:   len(samples),
	}, nil
}

// Tool 6: set_paused

type SetPausedInput struct {
	Paused bool `json:"paused" jsonschema:"true to freeze the stores, false to replay queued updates and resume"`
}

type SetPausedOutput struct {
	Paused  bool   `json:"paused"`
	Pending int    `json:"pending" jsonschema:"Messages still queued"`
	Dropped uint64 `json:"dropped" jsonschema:"Messages discarded by the overflow policy since start"`
}

func (s *Server) handleSetPaused(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetPausedInput,
) (*mcp.CallToolResult, SetPausedOutput, error) {
	s.engine.SetPaused(input.Paused)

	gate := s.engine.Status().Gate
	return &mcp.CallToolResult{}, SetPausedOutput{
		Paused:  gate.Paused,
		Pending: gate.Pending,
		Dropped: gate.Dropped,
	}, nil
}

// Tool 7: send_command

type SendCommandInput struct {
	Action string `json:"action" jsonschema:"Named operator action, e.g. arm, takeoff, return_home"`
}

type SendCommandOutput struct {
	Connection string `json:"connection" jsonschema:"Link state when the command was handed off"`
	Sent       bool   `json:"sent" jsonschema:"False when the link was not open and the command was dropped"`
	Message    string `json:"message"`
}

func (s *Server) handleSendCommand(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SendCommandInput,
) (*mcp.CallToolResult, SendCommandOutput, error) {
	action := strings.TrimSpace(input.Action)
	if action == "" {
		return nil, SendCommandOutput{}, fmt.Errorf("action is required")
	}

	out := s.sendOutcome()
	s.engine.SendNamed(action)
	if out.Sent {
		out.Message = fmt.Sprintf("sent %q", action)
	} else {
		out.Message = fmt.Sprintf("link is %s, %q was dropped", out.Connection, action)
	}
	return &mcp.CallToolResult{}, out, nil
}

// Tool 8: send_raw_command

type SendRawCommandInput struct {
	Command any   `json:"command" jsonschema:"Vehicle command name or numeric id"`
	Params  []any `json:"params,omitempty" jsonschema:"Positional command parameters"`
}

func (s *Server) handleSendRawCommand(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SendRawCommandInput,
) (*mcp.CallToolResult, SendCommandOutput, error) {
	switch c := input.Command.(type) {
	case string:
		if strings.TrimSpace(c) == "" {
			return nil, SendCommandOutput{}, fmt.Errorf("command is required")
		}
	case float64:
	default:
		return nil, SendCommandOutput{}, fmt.Errorf("command must be a string or number, got %T", input.Command)
	}

	out := s.sendOutcome()
	s.engine.SendRaw(input.Command, input.Params)
	if out.Sent {
		out.Message = fmt.Sprintf("sent raw command %v with %d params", input.Command, len(input.Params))
	} else {
		out.Message = fmt.Sprintf("link is %s, raw command %v was dropped", out.Connection, input.Command)
	}
	return &mcp.CallToolResult{}, out, nil
}

// sendOutcome samples the link right before a send. The command channel is
// fire-and-forget, so this is best effort.
func (s *Server) sendOutcome() SendCommandOutput {
	state := s.engine.ConnState()
	return SendCommandOutput{
		Connection: state.String(),
		Sent:       state == realtime.Open,
	}
}

// Register all tools

func (s *Server) registerTools() error {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_status",
		Description: "START HERE: link state (disconnected/connecting/open), pause gate, and counts for telemetry, logs and active errors. Check this before sending commands; commands sent while the link is down are dropped.",
	}, s.handleGetStatus)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_telemetry",
		Description: "Latest value of every telemetry key the vehicle has reported (position, attitude, battery, mode...). Pass keys to narrow the result, include_buffer for the rolling chart samples.",
	}, s.handleGetTelemetry)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_logs",
		Description: "Vehicle log, newest first, rendered through the message templates. Identifiers are six chars: category (2), severity (0 info, 1 warning, 2 error), importance (0 minor, 1 normal, 2 major), sequence (2). Filter on any position; prominent=true hides minor entries like the dashboard feed.",
	}, s.handleGetLogs)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_active_errors",
		Description: "Error conditions the vehicle currently has raised. Entries disappear when the vehicle clears them.",
	}, s.handleGetActiveErrors)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_telemetry_history",
		Description: "Fetch historical telemetry samples for a time range from the backend's REST API. Does not change live state.",
	}, s.handleGetTelemetryHistory)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_paused",
		Description: "Freeze (paused=true) or resume (paused=false) the live view. While paused, incoming updates queue in arrival order; resuming applies them all before any newer update.",
	}, s.handleSetPaused)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "send_command",
		Description: "Send a named operator action (arm, takeoff, return_home...) to the vehicle. Fire-and-forget: there is no acknowledgement, and the command is dropped if the link is not open.",
	}, s.handleSendCommand)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "send_raw_command",
		Description: "Send a raw vehicle command (name or numeric id) with positional params. Fire-and-forget, dropped when the link is not open. Prefer send_command for named actions.",
	}, s.handleSendRawCommand)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_dashboard",
		Description: "Plain-text overview for a quick look: buffer fill bars, the active error table and a sparkline per numeric telemetry key over the rolling sample buffer.",
	}, s.handleGetDashboard)

	return nil
}
