package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// registerResources registers all MCP resources and resource templates.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "gcs://status",
		Name:        "status",
		Description: "Link state, pause gate, store counts and backfill health.",
		MIMEType:    "text/plain",
	}, s.handleStatusResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "gcs://errors",
		Name:        "errors",
		Description: "Currently active vehicle error conditions.",
		MIMEType:    "text/plain",
	}, s.handleErrorsResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "gcs://telemetry",
		Name:        "telemetry",
		Description: "Latest value of every telemetry key.",
		MIMEType:    "text/plain",
	}, s.handleTelemetryResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "gcs://dashboard",
		Name:        "dashboard",
		Description: "Buffer health, active errors and telemetry sparklines as plain text.",
		MIMEType:    "text/plain",
	}, s.handleDashboardResource)

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "gcs://telemetry/{key}",
		Name:        "telemetry-key",
		Description: "Latest value of a single telemetry key as JSON.",
		MIMEType:    "application/json",
	}, s.handleTelemetryKeyResource)
}

// ─── Static resource handlers ───────────────────────────────────────────

func (s *Server) handleStatusResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	st := s.engine.Status()

	var b strings.Builder
	b.WriteString("Ground Control Link\n")
	b.WriteString("═══════════════════\n")
	fmt.Fprintf(&b, "  Backend:   %s\n", st.Connection.URL)
	fmt.Fprintf(&b, "  State:     %s\n", st.Connection.State)
	fmt.Fprintf(&b, "  Connects:  %s of %s attempts\n", fmtNum(int(st.Connection.Connects)), fmtNum(int(st.Connection.Attempts)))
	fmt.Fprintf(&b, "  Frames:    %s (%s unparseable)\n", fmtNum(int(st.Connection.Frames)), fmtNum(int(st.Connection.ParseErrors)))

	b.WriteString("\n  Pause Gate\n")
	paused := "no"
	if st.Gate.Paused {
		paused = "yes"
	}
	fmt.Fprintf(&b, "    Paused:   %s\n", paused)
	fmt.Fprintf(&b, "    Pending:  %s / %s (%s)\n",
		fmtNum(st.Gate.Pending), fmtNum(st.Gate.MaxPending), fmtPct(st.Gate.Pending, st.Gate.MaxPending))
	fmt.Fprintf(&b, "    Dropped:  %s (%s)\n", fmtNum(int(st.Gate.Dropped)), st.Gate.Overflow)

	logs := st.Stores.Logs
	b.WriteString("\n  Store      Count       Capacity    Usage\n")
	b.WriteString("  ───────    ─────────   ─────────   ─────\n")
	fmt.Fprintf(&b, "  Recent     %-10s  %-10s  %s\n",
		fmtNum(logs.RecentCount), fmtNum(logs.RecentCapacity), fmtPct(logs.RecentCount, logs.RecentCapacity))
	fmt.Fprintf(&b, "  History    %-10s  %-10s  %s\n", fmtNum(logs.HistoryCount), "─", "─")
	fmt.Fprintf(&b, "  Telemetry  %-10s  %-10s  %s\n", fmtNum(st.Stores.TelemetryKeys), "─", "─")
	fmt.Fprintf(&b, "  Errors     %-10s  %-10s  %s\n", fmtNum(st.Stores.ActiveErrors), "─", "─")

	fmt.Fprintf(&b, "\n  Duplicates dropped: %s\n", fmtNum(int(logs.DuplicatesDropped)))
	fmt.Fprintf(&b, "  Anomalies:          %s\n", fmtNum(int(st.Dispatcher.Anomalies)))
	fmt.Fprintf(&b, "  Commands:           %s\n", st.Commands)

	if st.Backfill.Enabled {
		fmt.Fprintf(&b, "  Backfills:          %s (%s records)\n",
			fmtNum(int(st.Backfill.Completed)), fmtNum(int(st.Backfill.Records)))
		if st.Backfill.LastError != "" {
			fmt.Fprintf(&b, "  Last backfill error: %s\n", st.Backfill.LastError)
		}
	}

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleErrorsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	active := s.engine.Errors().Active()

	var b strings.Builder
	fmt.Fprintf(&b, "Active Errors (%d)\n", len(active))
	b.WriteString("═════════════\n")
	if len(active) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, e := range active {
		fmt.Fprintf(&b, "  • [%s] %s: %s\n", e.Level, e.ID, e.Message)
	}

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleTelemetryResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	store := s.engine.Telemetry()
	keys := store.Keys()

	var b strings.Builder
	fmt.Fprintf(&b, "Telemetry (%d keys)\n", len(keys))
	b.WriteString("═════════\n")
	for _, k := range keys {
		v, _ := store.Get(k)
		fmt.Fprintf(&b, "  %-24s %v\n", k, v)
	}

	return textResult(req.Params.URI, b.String()), nil
}

// ─── Template resource handlers ─────────────────────────────────────────

func (s *Server) handleTelemetryKeyResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	key, err := extractURIParam(req.Params.URI, "gcs://telemetry/")
	if err != nil {
		return nil, err
	}

	v, ok := s.engine.Telemetry().Get(key)
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	data, err := json.Marshal(map[string]any{"key": key, "value": v})
	if err != nil {
		return nil, fmt.Errorf("failed to encode telemetry value: %w", err)
	}
	return textResult(req.Params.URI, string(data)), nil
}

// ─── Helpers ────────────────────────────────────────────────────────────

// extractURIParam extracts the parameter value from a URI by stripping the prefix
// and URL-decoding the remainder.
func extractURIParam(uri, prefix string) (string, error) {
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("invalid URI: %s", uri)
	}
	param := strings.TrimPrefix(uri, prefix)
	if param == "" {
		return "", fmt.Errorf("empty parameter in URI: %s", uri)
	}
	decoded, err := url.PathUnescape(param)
	if err != nil {
		return "", fmt.Errorf("invalid encoding in URI: %w", err)
	}
	return decoded, nil
}

// textResult wraps a string in a ReadResourceResult.
func textResult(uri, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:  uri,
			Text: text,
		}},
	}
}

// fmtNum formats an integer with comma separators (e.g. 10,000).
func fmtNum(n int) string {
	if n < 0 {
		return "-" + fmtNum(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}

	s := fmt.Sprintf("%d", n)
	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// fmtPct formats a percentage like "62%" or "100%".
func fmtPct(count, capacity int) string {
	if capacity == 0 {
		return "─"
	}
	pct := float64(count) / float64(capacity) * 100
	return fmt.Sprintf("%.0f%%", pct)
}
