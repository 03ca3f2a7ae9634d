package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"

	"github.com/aetherius/gcs-realtime/internal/mcpserver"
	"github.com/aetherius/gcs-realtime/internal/webui"
)

// ServeCommand returns the CLI command definition for the 'serve' subcommand.
// This command connects to the backend and exposes the live link over MCP.
func ServeCommand(version string) *cli.Command {
	flags := append(connectionFlags(),
		&cli.StringFlag{
			Name:  "transport",
			Usage: "MCP transport: stdio or http",
		},
		&cli.StringFlag{
			Name:  "http-host",
			Usage: "HTTP transport bind address",
		},
		&cli.IntFlag{
			Name:  "http-port",
			Usage: "HTTP transport port",
		},
		&cli.BoolFlag{
			Name:  "stateless",
			Usage: "Run the HTTP transport without sessions",
		},
		&cli.IntFlag{
			Name:  "console-port",
			Usage: "Operator console port (0 = share the HTTP transport port; disabled on stdio)",
		},
		&cli.StringFlag{
			Name:  "otlp-endpoint",
			Usage: "Mirror vehicle logs to this OTLP gRPC collector (e.g. 127.0.0.1:4317)",
		},
		&cli.IntFlag{
			Name:  "max-pending",
			Usage: "Messages queued while paused before the overflow policy applies",
		},
		&cli.StringFlag{
			Name:  "overflow",
			Usage: "Pause queue overflow policy: drop-oldest or drop-newest",
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Connect to the backend and serve the live link over MCP",
		Description: `Connects to the ground station backend's realtime stream, keeps the
latest telemetry, the vehicle log and the active errors in memory, and
exposes them to agents over MCP (stdio by default, or streamable HTTP).
An operator console can be served alongside.`,
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runServe(ctx, cmd, version)
		},
	}
}

func serveConfig(cmd *cli.Command) (*Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	overlay := &Config{}
	if cmd.IsSet("transport") {
		overlay.Transport = cmd.String("transport")
	}
	if cmd.IsSet("http-host") {
		overlay.HTTPHost = cmd.String("http-host")
	}
	if cmd.IsSet("http-port") {
		overlay.HTTPPort = cmd.Int("http-port")
	}
	if cmd.IsSet("stateless") {
		overlay.Stateless = cmd.Bool("stateless")
	}
	if cmd.IsSet("console-port") {
		overlay.ConsolePort = cmd.Int("console-port")
	}
	if cmd.IsSet("otlp-endpoint") {
		overlay.OTLPEndpoint = cmd.String("otlp-endpoint")
	}
	if cmd.IsSet("max-pending") {
		overlay.MaxPending = cmd.Int("max-pending")
	}
	if cmd.IsSet("overflow") {
		overlay.Overflow = cmd.String("overflow")
	}
	cfg = MergeConfigs(cfg, overlay)

	switch cfg.Transport {
	case "stdio", "http":
	default:
		return nil, fmt.Errorf("invalid transport %q (want stdio or http)", cfg.Transport)
	}
	return cfg, nil
}

// runServe wires together the engine, the MCP server and the console.
func runServe(cliCtx context.Context, cmd *cli.Command, version string) error {
	cfg, err := serveConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.Verbose {
		log.Println("🔧 Configuration:")
		log.Printf("  Backend stream: %s\n", cfg.WebSocketURL)
		log.Printf("  Backend API: %s\n", valueOr(cfg.APIURL, "(backfill disabled)"))
		log.Printf("  Pause queue: %d messages, %s\n", cfg.MaxPending, cfg.Overflow)
		log.Printf("  Transport: %s\n", cfg.Transport)
		log.Println()
	}

	ctx, cancel := context.WithCancel(cliCtx)
	defer cancel()

	sess, err := openSession(ctx, cfg, sessionOptions{history: true, mirror: true})
	if err != nil {
		return err
	}
	defer sess.close()

	mcpServer, err := mcpserver.NewServer(sess.engine, sess.templates, mcpserver.ServerOptions{
		Verbose: cfg.Verbose,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if err := sess.start(ctx); err != nil {
		return err
	}
	log.Printf("🔌 Connecting to %s\n", cfg.WebSocketURL)

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			if cfg.Verbose {
				log.Printf("📡 Received signal %v, initiating graceful shutdown...\n", sig)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	console := webui.New(sess.engine, sess.templates)

	if cfg.Transport == "http" {
		return runHTTPTransport(ctx, cfg, mcpServer, console)
	}

	if cfg.ConsolePort > 0 {
		addr := fmt.Sprintf("%s:%d", cfg.ConsoleHost, cfg.ConsolePort)
		go func() {
			if err := console.ListenAndServe(ctx, addr); err != nil {
				log.Printf("⚠️  Console server error: %v\n", err)
			}
		}()
		log.Printf("🖥️  Operator console on http://%s/ui/\n", addr)
	}

	log.Println("🎯 MCP server ready on stdio")
	log.Println()

	if err := mcpServer.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// runHTTPTransport serves MCP over streamable HTTP at /mcp. The console
// shares the listener unless it has its own port.
func runHTTPTransport(ctx context.Context, cfg *Config, mcpServer *mcpserver.Server, console *webui.Server) error {
	handler := mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return mcpServer.MCPServer() },
		&mcp.StreamableHTTPOptions{Stateless: cfg.Stateless},
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)

	addr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)
	if cfg.ConsolePort == 0 {
		console.RegisterRoutes(mux)
		log.Printf("🖥️  Operator console on http://%s/ui/\n", addr)
	} else {
		consoleAddr := fmt.Sprintf("%s:%d", cfg.ConsoleHost, cfg.ConsolePort)
		go func() {
			if err := console.ListenAndServe(ctx, consoleAddr); err != nil {
				log.Printf("⚠️  Console server error: %v\n", err)
			}
		}()
		log.Printf("🖥️  Operator console on http://%s/ui/\n", consoleAddr)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	log.Printf("🎯 MCP server ready on http://%s/mcp\n", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
