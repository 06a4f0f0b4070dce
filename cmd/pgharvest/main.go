// pgharvest is a two-phase property-listing harvester: a list phase that
// enumerates search-result pages and a detail phase that extracts per-listing
// fields, both driven by a shared work queue with tiered retries.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pgharvest/internal/config"
	"pgharvest/internal/harvest"
	"pgharvest/internal/logging"
	"pgharvest/internal/notify"
	"pgharvest/internal/offline"
)

var (
	// Global flags
	verbose bool
	cfgPath string
	outDir  string
	site    string

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pgharvest",
	Short: "Two-phase property listing harvester",
	Long: `pgharvest collects property listings in two phases: ADLIST enumerates
search-result pages into a listing index, ADVIEW visits every listing and
extracts its fields. Each phase runs a worker pool over a shared work queue
with tiered retries, per-worker proxy assignment, and a final sweep over
deferred pages.

Run without arguments to start a harvest with the configured categories.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHarvest()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the two-phase harvest",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHarvest()
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract <dir>",
	Short: "Re-extract already-collected payload files into a CSV",
	Long: `extract walks a directory of saved detail payloads (plain .json,
gzipped, or zip archives) and re-runs field extraction offline, writing
<site>_extract.csv into the directory. No network access is involved.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, n, err := offline.Run(logger, args[0], site)
		if err != nil {
			return err
		}
		fmt.Printf("Extracted %d rows -> %s\n", n, out)
		return nil
	},
}

func runHarvest() error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if outDir != "" {
		cfg.OutputRoot = outDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	logs, err := logging.New(cfg.OutputRoot)
	if err != nil {
		return err
	}
	defer logs.CloseAll()

	sink := notify.New(logger)
	sink.Start()
	defer sink.Stop()

	logger.Info("Starting harvest",
		zap.Int("adlist_workers", cfg.AdlistWorkers),
		zap.Int("adview_workers", cfg.AdviewWorkers),
		zap.Int("proxies", len(cfg.Proxies)),
		zap.Int("categories", len(cfg.Categories)))

	return harvest.New(cfg, logger, logs, sink).Run(ctx)
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "pgharvest.yaml", "path to the YAML configuration")
	rootCmd.PersistentFlags().StringVarP(&outDir, "out", "o", "", "override the configured output root")
	extractCmd.Flags().StringVar(&site, "site", "propertyguru", "payload site schema (propertyguru | iproperty)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(extractCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
