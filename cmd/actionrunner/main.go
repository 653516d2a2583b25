// Command actionrunner runs automation actions and serves them over MCP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/deixis/actionrunner"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "actionrunner: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	config   string
	logLevel string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "actionrunner",
		Short: "Run automation actions as supervised child processes",
		Long: `actionrunner executes pack actions as child processes with a timeout,
captures their output and recovers a structured result from it.

Configuration is read from .actionrunner.yaml in the working directory or
one of its parents, or from the file named by --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.config, "config", "", "path to .actionrunner.yaml (default: search upward from the working directory)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newRunCmd(g),
		newValidateCmd(g),
		newListCmd(g),
		newInspectCmd(g),
		newOutputCmd(g),
		newDatastoreCmd(g),
		newServeCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), actionrunner.Version)
			},
		},
	)
	return root
}

// statusError carries the exit code of a finished execution that did not
// succeed.
type statusError struct {
	status string
	code   int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("action %s", e.status)
}

func exitCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 1
}
