package cli

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/aetherius/gcs-realtime/internal/history"
	"github.com/aetherius/gcs-realtime/internal/logcodec"
	"github.com/aetherius/gcs-realtime/internal/otlpexport"
	"github.com/aetherius/gcs-realtime/internal/realtime"
)

// session is one engine plus the optional pieces wired around it.
type session struct {
	engine    *realtime.Engine
	templates *logcodec.TemplateSet
	watcher   *logcodec.TemplateWatcher
	exporter  *otlpexport.Exporter
}

type sessionOptions struct {
	history bool // enable historical backfill when api_url is set
	mirror  bool // enable the OTLP log mirror when otlp_endpoint is set
}

// openSession builds the engine for cfg. Hooks may be registered on the
// returned engine before calling start.
func openSession(ctx context.Context, cfg *Config, opts sessionOptions) (*session, error) {
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}

	s := &session{}

	if cfg.TemplatesFile != "" {
		s.templates, err = logcodec.LoadTemplateSet(cfg.TemplatesFile)
		if err != nil {
			return nil, err
		}
		s.watcher, err = logcodec.NewTemplateWatcher(cfg.TemplatesFile, s.templates)
		if err != nil {
			return nil, err
		}
		if err := s.watcher.Start(ctx); err != nil {
			s.watcher.Stop()
			return nil, err
		}
		if cfg.Verbose {
			log.Printf("📝 Loaded %d log templates from %s (watching for changes)\n", s.templates.Len(), cfg.TemplatesFile)
		}
	} else {
		s.templates = logcodec.NewTemplateSet(nil)
	}

	var source realtime.HistorySource
	if opts.history && cfg.APIURL != "" {
		client, err := history.NewClient(history.Config{BaseURL: cfg.APIURL})
		if err != nil {
			s.close()
			return nil, err
		}
		source = client
	}

	s.engine = realtime.New(engineCfg, source)

	if opts.mirror && cfg.OTLPEndpoint != "" {
		s.exporter, err = otlpexport.New(otlpexport.Config{
			Endpoint:    cfg.OTLPEndpoint,
			ServiceName: cfg.OTLPServiceName,
		}, s.templates)
		if err != nil {
			s.close()
			return nil, err
		}
		s.exporter.Start()
		s.engine.OnLogInserted(s.exporter.Enqueue)
	}

	return s, nil
}

// start connects the engine.
func (s *session) start(ctx context.Context) error {
	if err := s.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start realtime engine: %w", err)
	}
	return nil
}

// close stops the engine first so the mirror receives every last entry.
func (s *session) close() {
	if s.engine != nil {
		s.engine.Stop()
	}
	if s.exporter != nil {
		s.exporter.Stop()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
}

// connectionFlags are shared by every command that talks to the backend.
func connectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to config file (default: .gcs-realtime.json in project or ~/.config/gcs-realtime/config.json)",
		},
		&cli.StringFlag{
			Name:  "ws-url",
			Usage: "Backend WebSocket URL",
		},
		&cli.StringFlag{
			Name:  "api-url",
			Usage: "Backend REST root for historical logs and telemetry",
		},
		&cli.StringFlag{
			Name:  "templates",
			Usage: "Log message template file (JSON or YAML)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
		},
	}
}

// loadConfig resolves the effective config and applies explicitly set flags.
func loadConfig(cmd *cli.Command) (*Config, error) {
	cfg, err := LoadEffectiveConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	overlay := &Config{}
	if cmd.IsSet("ws-url") {
		overlay.WebSocketURL = cmd.String("ws-url")
	}
	if cmd.IsSet("api-url") {
		overlay.APIURL = cmd.String("api-url")
	}
	if cmd.IsSet("templates") {
		overlay.TemplatesFile = cmd.String("templates")
	}
	if cmd.IsSet("verbose") {
		overlay.Verbose = cmd.Bool("verbose")
	}
	cfg = MergeConfigs(cfg, overlay)

	// An explicit empty --api-url disables backfill.
	if cmd.IsSet("api-url") && strings.TrimSpace(cmd.String("api-url")) == "" {
		cfg.APIURL = ""
	}

	return cfg, nil
}

// waitForOpen blocks until the engine's link is open or ctx ends.
func waitForOpen(ctx context.Context, engine *realtime.Engine) error {
	changes, unsubscribe := engine.Subscribe()
	defer unsubscribe()

	for engine.ConnState() != realtime.Open {
		select {
		case <-ctx.Done():
			return fmt.Errorf("link not open (state %s): %w", engine.ConnState(), ctx.Err())
		case <-changes:
		}
	}
	return nil
}
