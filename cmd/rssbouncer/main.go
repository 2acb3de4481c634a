package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"RSSBouncer/internal/app"
	"RSSBouncer/internal/config"
	"RSSBouncer/internal/infrastructure/secrets"
	"RSSBouncer/internal/infrastructure/storage"
	"RSSBouncer/internal/logging"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	logLevel   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rssbouncer",
		Short:         "Classify new RSS entries with an LLM and file them into bookmark collections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config (default $RSSBOUNCER_CONFIG)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(), newServeCmd(), newStateCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process every configured feed once and print the run summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), func(ctx context.Context, application *app.Application) error {
				summary, err := application.RunOnce(ctx)
				if summary != nil {
					fmt.Fprintln(cmd.OutOrStdout(), summary.String())
				}
				return err
			})
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run on the configured interval and expose the HTTP trigger API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), func(ctx context.Context, application *app.Application) error {
				return application.Serve(ctx)
			})
		},
	}
}

func newStateCmd() *cobra.Command {
	state := &cobra.Command{
		Use:   "state",
		Short: "Inspect the processed-entry store",
	}

	var feedURL string
	count := &cobra.Command{
		Use:   "count",
		Short: "Print how many entries of a feed are marked as processed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog.Close()

			store, err := storage.Open(cmd.Context(), cfg.State)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Count(cmd.Context(), feedURL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	count.Flags().StringVar(&feedURL, "feed", "", "feed URL to count markers for")
	_ = count.MarkFlagRequired("feed")

	state.AddCommand(count)
	return state
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func loadConfig() (config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, closer, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, logger, closer, nil
}

func withApplication(ctx context.Context, fn func(context.Context, *app.Application) error) error {
	cfg, logger, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog.Close()

	application, err := app.New(ctx, cfg, logger, secrets.NewEnvProvider())
	if err != nil {
		logger.Error("application init failed", "error", err)
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	err = fn(ctx, application)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application stopped", "error", err)
		return err
	}
	return nil
}
