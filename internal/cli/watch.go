package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/aetherius/gcs-realtime/internal/logcodec"
	"github.com/aetherius/gcs-realtime/internal/otlpexport"
	"github.com/aetherius/gcs-realtime/internal/realtime"
	"github.com/aetherius/gcs-realtime/internal/storage"
)

// WatchCommand returns the CLI command definition for the 'watch' subcommand.
func WatchCommand() *cli.Command {
	flags := append(connectionFlags(),
		&cli.StringSliceFlag{
			Name:  "category",
			Usage: "Only print these two-letter categories (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:  "severity",
			Usage: "Only print these severities: 0 info, 1 warning, 2 error (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "prominent",
			Usage: "Hide minor-importance entries",
		},
		&cli.BoolFlag{
			Name:  "otlp-json",
			Usage: "Print each entry as an OTLP/JSON logs export request instead of text",
		},
	)

	return &cli.Command{
		Name:  "watch",
		Usage: "Stream the vehicle log and error changes to stdout",
		Description: `Connects to the backend and prints every new log entry through the
message templates, plus link state changes and raised or cleared errors.
With --otlp-json each entry is printed as one line of OTLP/JSON, suitable
for piping into an OpenTelemetry collector's file receiver.`,
		Flags:  flags,
		Action: runWatch,
	}
}

func runWatch(cliCtx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cliCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := openSession(ctx, cfg, sessionOptions{history: true})
	if err != nil {
		return err
	}
	defer sess.close()

	p := &logPrinter{
		out:       os.Stdout,
		templates: sess.templates,
		filter: logcodec.FilterOptions{
			Categories: cmd.StringSlice("category"),
			Severities: cmd.StringSlice("severity"),
		},
		otlpJSON:    cmd.Bool("otlp-json"),
		serviceName: cfg.OTLPServiceName,
		errors:      make(map[string]storage.ErrorEntry),
	}
	if cmd.Bool("prominent") {
		p.filter.Importances = logcodec.ProminentOptions().Importances
	}

	sess.engine.OnLogInserted(p.printLog)

	changes, unsubscribe := sess.engine.Subscribe()
	defer unsubscribe()

	if err := sess.start(ctx); err != nil {
		return err
	}
	log.Printf("🔌 Watching %s\n", cfg.WebSocketURL)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			p.printChanges(sess.engine)
		}
	}
}

// logPrinter writes log entries and state transitions. printLog runs on the
// engine's dispatch path, printChanges on the watch loop.
type logPrinter struct {
	out         io.Writer
	templates   *logcodec.TemplateSet
	filter      logcodec.FilterOptions
	otlpJSON    bool
	serviceName string

	// owned by printChanges
	state  realtime.ConnState
	errors map[string]storage.ErrorEntry
}

func (p *logPrinter) printLog(entry storage.LogEntry) {
	if !logcodec.ShouldDisplay(entry, p.filter) {
		return
	}

	if p.otlpJSON {
		data, err := otlpexport.MarshalJSON([]storage.LogEntry{entry}, p.templates, p.serviceName)
		if err != nil {
			log.Printf("⚠️  %v\n", err)
			return
		}
		fmt.Fprintf(p.out, "%s\n", data)
		return
	}

	fmt.Fprintln(p.out, p.templates.Format(entry))
}

// printChanges reports link transitions and the difference between the
// active error set and the last one printed. Errors are skipped in OTLP
// mode so stdout stays valid JSON lines.
func (p *logPrinter) printChanges(engine *realtime.Engine) {
	if s := engine.ConnState(); s != p.state {
		p.state = s
		log.Printf("🔌 link %s\n", s)
	}

	if p.otlpJSON {
		return
	}

	current := make(map[string]storage.ErrorEntry)
	for _, e := range engine.Errors().Active() {
		current[e.ID] = e
		if _, seen := p.errors[e.ID]; !seen {
			fmt.Fprintf(p.out, "!! raised [%s] %s: %s\n", e.Level, e.ID, e.Message)
		}
	}
	for id, e := range p.errors {
		if _, still := current[id]; !still {
			fmt.Fprintf(p.out, "!! cleared %s: %s\n", id, e.Message)
		}
	}
	p.errors = current
}
