// Package main is the entry point for the Argus security telemetry service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"argus/bootstrap"
	"argus/cmd"

	"github.com/spf13/cobra"
)

// cliCommands maps a first argument to its command family. Anything else
// starts the server.
var cliCommands = map[string]func() *cobra.Command{
	"detections": cmd.NewDetectionsCmd,
	"alerts":     cmd.NewAlertsCmd,
	"allowlist":  cmd.NewAllowlistCmd,
	"events":     cmd.NewEventsCmd,
	"users":      cmd.NewUsersCmd,
}

// run initializes and starts the Argus server.
func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx := context.Background()

	app, err := bootstrap.NewApp(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()

	return nil
}

// main dispatches to a CLI command family or runs the server.
func main() {
	if len(os.Args) > 1 {
		if newCmd, ok := cliCommands[os.Args[1]]; ok {
			// Strip the family name; the command already knows it
			os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

			if err := newCmd().Execute(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
