package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/keralariders/server/internal/config"
	"github.com/keralariders/server/internal/logging"
	"github.com/keralariders/server/internal/metrics"
	"github.com/keralariders/server/internal/server"
)

// Version information, set via ldflags during build.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	serve := newServeCommand(opts)
	root := &cobra.Command{
		Use:   "server",
		Short: "Kerala Riders API server",
		Long: `Kerala Riders API server: rider accounts, community events with
waitlists, and Strava activity sync.

Configuration comes from an optional YAML file (--config) overlaid by
environment variables such as PORT, DB_PATH and JWT_SECRET.`,
		SilenceUsage: true,
		// No subcommand means serve.
		RunE: serve.RunE,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path (optional, env vars override it)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: json or text")

	root.AddCommand(serve, newSyncCommand(opts), newVersionCommand())
	return root
}

// load reads the configuration and builds the logger. Flags win over the
// file and the environment.
func (o *rootOptions) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	return cfg, logging.New(cfg.LogLevel, cfg.LogFormat), nil
}

// ensureDBDir creates the directory of a file-based database.
func ensureDBDir(dbPath string) error {
	if dbPath == ":memory:" {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	return nil
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if err := ensureDBDir(cfg.DBPath); err != nil {
				return err
			}
			metrics.Init(Version)

			srv, err := server.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			// Start blocks until SIGINT/SIGTERM and closes the database.
			return srv.Start()
		},
	}
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync today's Strava activities for every connected rider",
		Long: `Runs one sync pass over every active, Strava-connected rider and prints
the totals. Intended for cron when SYNC_INTERVAL is not used.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if err := ensureDBDir(cfg.DBPath); err != nil {
				return err
			}

			srv, err := server.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := srv.SyncAll(ctx)
			if stats != nil {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Users:     %d (%d ok, %d failed)\n", stats.TotalUsers, stats.SuccessfulSyncs, stats.FailedSyncs)
				fmt.Fprintf(out, "Stored:    %d\n", stats.TotalActivitiesStored)
				fmt.Fprintf(out, "Skipped:   %d\n", stats.TotalActivitiesSkipped)
				for _, e := range stats.Errors {
					fmt.Fprintf(out, "  %s\n", e)
				}
			}
			return err
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Kerala Riders server\n")
			fmt.Fprintf(out, "Version:    %s\n", Version)
			fmt.Fprintf(out, "Git commit: %s\n", GitCommit)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
