package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"campus/internal/app"
	"campus/internal/config"
	"campus/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "campusd",
		Short:         "Campus backend: chat relay, timetables, tasks and class reminders",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadEnvFile(flags.envFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", os.Getenv("CAMPUS_CONFIG_FILE"), "JSON or YAML config file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before configuration")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newMigrateCmd(flags))
	root.AddCommand(newRemindCmd(flags))
	return root
}

// loadEnvFile applies a dotenv file without overriding variables already set.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadConfig(flags *globalFlags) (*config.Config, zerolog.Logger, func() error, error) {
	cfg, err := config.LoadConfigWithPrecedence(flags.configPath)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	log, closeLog, err := logging.New(*cfg.Logging)
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return cfg, log, closeLog, nil
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, chat and reminder server (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), flags)
		},
	}
}

// serve runs until SIGINT/SIGTERM or a fatal server error, then shuts down gracefully.
func serve(parent context.Context, flags *globalFlags) error {
	cfg, log, closeLog, err := loadConfig(flags)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err, ok := <-application.Errors():
		if ok {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, closeLog, err := loadConfig(flags)
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			store, applied, err := app.OpenStore(cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) to %s\n", applied, cfg.Database.Path)
			return nil
		},
	}
}

func newRemindCmd(flags *globalFlags) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Run one reminder scan and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, closeLog, err := loadConfig(flags)
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			var now time.Time
			if at != "" {
				now, err = time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
			}

			store, _, err := app.OpenStore(cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			scheduler, _, err := app.NewScheduler(cfg, store, log)
			if err != nil {
				return err
			}
			if !now.IsZero() {
				scheduler.SetClock(func() time.Time { return now })
			}

			report, err := scheduler.Tick(cmd.Context())
			if err != nil {
				return fmt.Errorf("reminder scan failed: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate as of this RFC3339 time instead of now")
	return cmd
}
