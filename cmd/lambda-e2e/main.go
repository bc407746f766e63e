// lambda-e2e deploys the handlers of a directory to a throwaway stack,
// invokes them and removes the stack again.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trufnetwork/lambda-e2e/config"
	"github.com/trufnetwork/lambda-e2e/lib/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// app is the state shared by all subcommands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	var (
		logLevel  string
		suiteFile string
	)
	cmd := &cobra.Command{
		Use:           "lambda-e2e",
		Short:         "Deploy, invoke and tear down Lambda handlers for end-to-end tests",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.ParseEnvironment[config.Environment]()
			if err != nil {
				return fmt.Errorf("parse environment: %w", err)
			}
			if cmd.Flags().Changed("log-level") {
				env.LogLevel = logLevel
			}
			if suiteFile != "" {
				env.SuiteFile = suiteFile
			}
			a.cfg, err = config.FromEnvironment(env)
			if err != nil {
				return err
			}
			a.logger, err = logging.New(a.cfg.LogLevel)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&suiteFile, "suite", "", "TOML suite file (overrides E2E_SUITE_FILE)")

	cmd.AddCommand(
		newRunCommand(a),
		newSynthCommand(a),
		newDeployCommand(a),
		newInvokeCommand(a),
		newDestroyCommand(a),
	)
	return cmd
}
