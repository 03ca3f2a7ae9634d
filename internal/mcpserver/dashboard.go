package mcpserver

import (
	"context"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aetherius/gcs-realtime/internal/storage"
	"github.com/aetherius/gcs-realtime/internal/viz"
)

// Tool 9: get_dashboard

type GetDashboardInput struct {
	Keys  []string `json:"keys,omitempty" jsonschema:"Telemetry keys to chart; default is every numeric key in the sample buffer"`
	Width int      `json:"width,omitempty" jsonschema:"Columns per sparkline (default 40)"`
}

type GetDashboardOutput struct {
	Text string `json:"text" jsonschema:"Plain-text dashboard: buffer health, active errors and telemetry sparklines"`
}

func (s *Server) handleGetDashboard(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetDashboardInput,
) (*mcp.CallToolResult, GetDashboardOutput, error) {
	return &mcp.CallToolResult{}, GetDashboardOutput{Text: s.renderDashboard(input.Keys, input.Width)}, nil
}

func (s *Server) handleDashboardResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	return textResult(req.Params.URI, s.renderDashboard(nil, 0)), nil
}

func (s *Server) renderDashboard(keys []string, width int) string {
	st := s.engine.Status()

	rows := make([]viz.ErrorRow, 0, st.Stores.ActiveErrors)
	for _, e := range s.engine.Errors().Active() {
		rows = append(rows, viz.ErrorRow{ID: e.ID, Level: string(e.Level), Message: e.Message})
	}

	var b strings.Builder
	b.WriteString(viz.StatsOverview(viz.BufferStats{
		RecentLogs:     st.Stores.Logs.RecentCount,
		RecentCapacity: st.Stores.Logs.RecentCapacity,
		HistoryLogs:    st.Stores.Logs.HistoryCount,
		Pending:        st.Gate.Pending,
		MaxPending:     st.Gate.MaxPending,
		Samples:        st.Stores.BufferedSample,
		SampleCapacity: s.engine.Telemetry().BufferCapacity(),
		Paused:         st.Gate.Paused,
	}))
	b.WriteByte('\n')
	b.WriteString(viz.ActiveErrors(rows))

	if series := seriesFromBuffer(s.engine.Telemetry().Buffer(), keys); len(series) > 0 {
		b.WriteByte('\n')
		b.WriteString(viz.Sparklines(series, width))
	}
	return b.String()
}

// seriesFromBuffer extracts numeric values per key, oldest first. With no
// keys given, every key holding a number in some sample is charted.
func seriesFromBuffer(buffer []storage.Sample, keys []string) []viz.Series {
	if len(keys) == 0 {
		seen := make(map[string]bool)
		for _, sample := range buffer {
			for k, v := range sample {
				if _, ok := toFloat(v); ok && !seen[k] {
					seen[k] = true
					keys = append(keys, k)
				}
			}
		}
		sort.Strings(keys)
	}

	series := make([]viz.Series, 0, len(keys))
	for _, k := range keys {
		s := viz.Series{Key: k}
		for _, sample := range buffer {
			if f, ok := toFloat(sample[k]); ok {
				s.Values = append(s.Values, f)
			}
		}
		series = append(series, s)
	}
	return series
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
