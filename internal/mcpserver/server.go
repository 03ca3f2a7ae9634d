package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aetherius/gcs-realtime/internal/logcodec"
	"github.com/aetherius/gcs-realtime/internal/realtime"
)

// Server exposes one realtime engine to agents over MCP.
type Server struct {
	mcpServer *mcp.Server
	engine    *realtime.Engine
	templates *logcodec.TemplateSet
	verbose   bool
}

// ServerOptions configures the MCP server.
type ServerOptions struct {
	Verbose bool // Enable verbose logging
	Version string
}

// NewServer creates an MCP server backed by engine. templates may be nil,
// in which case log text falls back to the raw identifier.
func NewServer(engine *realtime.Engine, templates *logcodec.TemplateSet, opts ...ServerOptions) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("realtime engine cannot be nil")
	}

	var o ServerOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Version == "" {
		o.Version = "0.1.0-dev"
	}

	s := &Server{
		engine:    engine,
		templates: templates,
		verbose:   o.Verbose,
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "gcs-realtime",
		Title:   "Ground Control Realtime Link",
		Version: o.Version,
	}, &mcp.ServerOptions{
		Instructions: `Live ground-control link to a vehicle backend. Holds the latest telemetry, the
vehicle log and the set of active errors in memory.

Read: get_status, get_telemetry, get_logs, get_active_errors, get_telemetry_history.
Act: set_paused (freeze the view, updates queue), send_command, send_raw_command.
Commands are dropped silently while the link is down; check get_status first.
Resources: gcs://status.`,
		SubscribeHandler:   func(_ context.Context, _ *mcp.SubscribeRequest) error { return nil },
		UnsubscribeHandler: func(_ context.Context, _ *mcp.UnsubscribeRequest) error { return nil },
	})

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	s.registerResources()

	return s, nil
}

// Run starts the MCP server on stdio transport.
// This method blocks until the context is cancelled or EOF is received on stdin.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for use with alternative transports.
// This enables the server to be used with StreamableHTTPHandler for HTTP transport.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// Engine returns the engine the tools operate on.
func (s *Server) Engine() *realtime.Engine {
	return s.engine
}
