package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Dev-pucci/FCW-Targeted/internal/app"
	"github.com/Dev-pucci/FCW-Targeted/internal/config"
	"github.com/Dev-pucci/FCW-Targeted/internal/logging"
)

// newRunCmd creates the 'run' subcommand.
func newRunCmd() *cobra.Command {
	var opts config.RunOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a targeted crawl",
		Long: `Loads the run configuration, crawls every start URL until all target
agreements are found or the page budget is spent, and writes the CSV export,
the not-found report and the run summary.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("workers") {
				opts.Workers = 0
			}
			if !cmd.Flags().Changed("pages-per-worker") {
				opts.PagesPerWorker = 0
			}
			opts.Debug = debug
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.Workers, "workers", 4, "number of parallel workers per pass")
	cmd.Flags().IntVar(&opts.PagesPerWorker, "pages-per-worker", 5, "pages each worker scans in the first pass")
	cmd.Flags().StringVar(&opts.Growth, "growth", "", "pages-per-worker growth across passes: fixed or exponential")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.Headless, "headless", false, "render listing pages in headless Chrome")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts config.RunOptions) error {
	if err := requireConfig(); err != nil {
		return err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg.ApplyFlags(opts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := runLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("failed to close application services", zap.Error(cerr))
		}
	}()

	res, err := a.Run(ctx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "found %d of %d targets in %d pages\n",
		len(res.Report.Result.Found), res.Report.Targets, res.Report.PagesVisited)
	if res.Files.CSV != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "results: %s\n", res.Files.CSV)
	}
	if res.Files.NotFound != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "not found: %s\n", res.Files.NotFound)
	}
	return nil
}

// newValidateCmd creates the 'validate' subcommand.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a run configuration without crawling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireConfig(); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ids, _ := cfg.TargetIDs()
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d targets, %d start urls, maxPages %d\n",
				len(ids), len(cfg.StartURLs), cfg.MaxPages)
			return nil
		},
	}
}

// newVersionCmd creates the 'version' subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

// runLogger replaces the bootstrap logger with one built from the run's
// logging section.
func runLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.NewAtLevel(cfg.Logging.Development, logging.Level(cfg.Logging.Debug))
	if err != nil {
		return nil, fmt.Errorf("init run logger: %w", err)
	}
	return logger, nil
}
