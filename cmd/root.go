// Package cmd defines and implements the CLI commands for the fcw-targeted executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Dev-pucci/FCW-Targeted/internal/logging"
)

// Version is stamped at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

type loggerKeyType string

const loggerKey loggerKeyType = "logger"

var (
	cfgFile string
	debug   bool
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fcw-targeted",
		Short: "Locate known enterprise agreements in the Fair Work Commission search listing.",
		Long: `fcw-targeted scans the paginated agreement search in parallel, stops as soon
as every target agreement has been found, and widens the search in bounded
passes until the page budget is spent.`,
		SilenceUsage: true,

		// Runs before every subcommand so each one gets the same logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.NewAtLevel(true, logging.Level(debug))
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey, logger))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			_ = loggerFrom(cmd.Context()).Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the JSON (or YAML) run configuration")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging and debug page captures")

	cmd.AddCommand(newRunCmd(), newValidateCmd(), newVersionCmd())
	return cmd
}

func loggerFrom(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return zap.NewNop()
}

func requireConfig() error {
	if cfgFile == "" {
		return errors.New("--config is required")
	}
	return nil
}

// Execute is the main entry point.
func Execute() {
	ctx := context.Background()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fcw-targeted: %v\n", err)
		os.Exit(1)
	}
}
