package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aetherius/gcs-realtime/internal/cli"
	cliframework "github.com/urfave/cli/v3"
)

const version = "0.1.0-dev"

func main() {
	app := &cliframework.Command{
		Name:    "gcs-realtime",
		Usage:   "Realtime ground control link with an MCP server for AI agents",
		Version: version,
		Commands: []*cliframework.Command{
			cli.ServeCommand(version),
			cli.WatchCommand(),
			cli.SendCommand(),
			cli.DoctorCommand(version),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ error: %v\n", err)
		os.Exit(1)
	}
}
