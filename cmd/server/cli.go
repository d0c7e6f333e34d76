package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crewdesk/taskengine/internal/config"
	"github.com/crewdesk/taskengine/internal/platform/logger"
	"github.com/crewdesk/taskengine/internal/platform/postgres"
)

// newRootCommand builds the command tree:
//
//	server serve                       HTTP API and scheduler loop
//	server migrate up|down|status|version
//	server tick                        one scheduler tick, then exit
func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "server",
		Short:         "Recurring task lifecycle engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (default: ./config.yaml when present)")

	root.AddCommand(
		newServeCommand(&configFile),
		newMigrateCommand(&configFile),
		newTickCommand(&configFile),
	)
	return root
}

func newServeCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the API and run the scheduler loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			loader := config.NewLoader(*configFile)
			cfg, log, err := loadConfig(loader)
			if err != nil {
				return err
			}
			watchConfig(loader, log)

			app, err := newApplication(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.cleanup()

			return app.Run(ctx)
		},
	}
}

func newMigrateCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down|status|version>",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{postgres.MigrateUp, postgres.MigrateDown, postgres.MigrateStatus, postgres.MigrateVersion},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(config.NewLoader(*configFile))
			if err != nil {
				return err
			}
			if cfg.Database.Driver != config.DriverPostgres {
				return fmt.Errorf("migrations need the %s driver, configured driver is %s",
					config.DriverPostgres, cfg.Database.Driver)
			}

			db, err := postgres.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			return postgres.Migrate(cmd.Context(), db, args[0], log)
		},
	}
}

func newTickCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run a single scheduler tick and print its report",
		Long: "Run a single scheduler tick and print its report as JSON. " +
			"Meant for deployments that trigger the scheduler from an external cron.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(config.NewLoader(*configFile))
			if err != nil {
				return err
			}

			app, err := newApplication(cmd.Context(), cfg, log)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.cleanup()

			report := app.loop.Tick(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("writing tick report: %w", err)
			}
			return report.Err
		},
	}
}

// loadConfig loads the configuration and sets up logging from it.
func loadConfig(loader *config.Loader) (*config.Config, *slog.Logger, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(cfg.Server)
	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"database_driver", cfg.Database.Driver,
		"scheduler_enabled", cfg.Scheduler.Enabled,
		"webhook_configured", cfg.Notify.WebhookURL != "")
	return cfg, log, nil
}

// watchConfig applies log level changes from the config file at runtime.
// Other settings need a restart.
func watchConfig(loader *config.Loader, log *slog.Logger) {
	loader.Watch(func(cfg *config.Config, err error) {
		if err != nil {
			log.Warn("ignoring invalid config reload", "error", err)
			return
		}
		level := logger.SetLevel(cfg.Server.LogLevel)
		log.Info("log level updated", "log_level", level.String())
	})
}
