package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/aetherius/gcs-realtime/internal/realtime"
)

// SendCommand returns the CLI command definition for the 'send' subcommand.
func SendCommand() *cli.Command {
	flags := append(connectionFlags(),
		&cli.BoolFlag{
			Name:  "raw",
			Usage: "Send a raw vehicle command instead of a named action",
		},
		&cli.StringSliceFlag{
			Name:  "param",
			Usage: "Raw command parameter (repeatable); JSON values are decoded, anything else is sent as a string",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "How long to wait for the link to open",
			Value: 10 * time.Second,
		},
	)

	return &cli.Command{
		Name:      "send",
		Usage:     "Send one command to the vehicle and exit",
		ArgsUsage: "<action | command>",
		Description: `Connects to the backend, waits for the link to open and sends a single
command. Examples:

  gcs-realtime send arm
  gcs-realtime send --raw MAV_CMD_NAV_TAKEOFF --param 0 --param 10`,
		Flags:  flags,
		Action: runSend,
	}
}

func runSend(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one action or command, got %d", cmd.Args().Len())
	}
	name := cmd.Args().First()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	sess, err := openSession(ctx, cfg, sessionOptions{})
	if err != nil {
		return err
	}
	defer sess.close()

	if err := sess.start(ctx); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()
	if err := waitForOpen(waitCtx, sess.engine); err != nil {
		return err
	}

	if cmd.Bool("raw") {
		err = sendRaw(sess.engine, name, cmd.StringSlice("param"))
	} else {
		err = sendNamed(sess.engine, name)
	}
	if err != nil {
		return err
	}

	log.Printf("✅ sent %s\n", name)
	return nil
}

func sendNamed(engine *realtime.Engine, action string) error {
	before := engine.Status().Commands
	engine.SendNamed(action)
	return checkSent(before, engine.Status().Commands)
}

func sendRaw(engine *realtime.Engine, command string, rawParams []string) error {
	params := make([]any, 0, len(rawParams))
	for _, p := range rawParams {
		params = append(params, parseParam(p))
	}

	before := engine.Status().Commands
	engine.SendRaw(parseParam(command), params)
	return checkSent(before, engine.Status().Commands)
}

// checkSent turns the command channel's counters into an exit status, since
// the channel itself never reports errors to callers.
func checkSent(before, after realtime.CommandStats) error {
	switch {
	case after.Sent > before.Sent:
		return nil
	case after.Skipped > before.Skipped:
		return fmt.Errorf("link closed before the command was sent")
	default:
		return fmt.Errorf("command was not sent")
	}
}

// parseParam decodes JSON scalars ("10", "true", "null") and keeps anything
// else as a string.
func parseParam(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		switch v.(type) {
		case float64, bool, string, nil:
			return v
		}
	}
	return s
}
