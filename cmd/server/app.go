package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/crewdesk/taskengine/internal/clock"
	"github.com/crewdesk/taskengine/internal/config"
	"github.com/crewdesk/taskengine/internal/engine"
	"github.com/crewdesk/taskengine/internal/events"
	"github.com/crewdesk/taskengine/internal/platform/memory"
	"github.com/crewdesk/taskengine/internal/platform/postgres"
	"github.com/crewdesk/taskengine/internal/platform/webhook"
	"github.com/crewdesk/taskengine/internal/service"
	"github.com/crewdesk/taskengine/internal/service/auth"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB
	clock  clock.Clock

	// Stores
	stores engine.Stores

	// Service interfaces
	verifier        auth.TokenVerifier
	templateService service.TemplateService
	instanceService service.InstanceService

	// Notification dispatch
	sink events.Sink

	// Scheduler
	metrics *engine.Metrics
	loop    *engine.Loop
}

// newApplication creates a new application instance with all dependencies initialized.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config:  cfg,
		logger:  logger,
		clock:   clock.Real(),
		metrics: engine.NewMetrics(),
	}

	var err error
	app.verifier, err = auth.NewJWTVerifier(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	if err := app.setupStores(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	app.sink = app.setupSink()

	app.templateService, err = service.NewTemplateService(app.stores.Templates, app.clock, logger)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create template service: %w", err)
	}
	app.instanceService, err = service.NewInstanceService(app.stores.Instances, app.sink, app.clock, app.metrics, logger)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create instance service: %w", err)
	}

	app.loop = engine.NewLoop(app.stores, app.sink, app.clock, engine.ConfigFrom(cfg.Scheduler), app.metrics, logger)

	logger.Info("application initialized")
	return app, nil
}

// setupStores connects the configured store driver. The postgres driver
// optionally applies pending migrations first.
func (app *application) setupStores(ctx context.Context) error {
	switch app.config.Database.Driver {
	case config.DriverMemory:
		db := memory.NewDB()
		app.stores = engine.Stores{
			Templates: memory.NewTemplateStore(db),
			Instances: memory.NewInstanceStore(db),
			Reminders: memory.NewReminderStore(db),
		}
		app.logger.Warn("using in-memory store, state is lost on exit")
		return nil

	case config.DriverPostgres:
		db, err := postgres.Open(ctx, app.config.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		app.db = db
		app.logger.Info("database connection established")

		if app.config.Database.MigrateOnStart {
			if err := postgres.Migrate(ctx, db, postgres.MigrateUp, app.logger); err != nil {
				return fmt.Errorf("failed to apply migrations: %w", err)
			}
		}

		app.stores = engine.Stores{
			Templates: postgres.NewPostgresTemplateStore(db, app.logger),
			Instances: postgres.NewPostgresInstanceStore(db, app.logger),
			Reminders: postgres.NewPostgresReminderStore(db, app.logger),
		}
		return nil

	default:
		return fmt.Errorf("unknown database driver %q", app.config.Database.Driver)
	}
}

// setupSink posts notifications to the configured webhook, or only logs
// them when none is configured.
func (app *application) setupSink() events.Sink {
	n := app.config.Notify
	if n.WebhookURL == "" {
		app.logger.Warn("no notification webhook configured, notifications are only logged")
		return events.NewFanOut(app.logger, events.NewLogSink(app.logger))
	}

	return events.NewFanOut(app.logger, webhook.New(webhook.Config{
		URL:        n.WebhookURL,
		Timeout:    n.Timeout,
		RatePerSec: n.RatePerSec,
		Burst:      n.Burst,
	}, nil, app.logger))
}

// Run serves the API and, when enabled, runs the scheduler loop until ctx
// is cancelled.
func (app *application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan error, 1)
	if app.config.Scheduler.Enabled {
		go func() { loopDone <- app.loop.Run(ctx) }()
	} else {
		app.logger.Info("scheduler loop disabled")
		loopDone <- nil
	}

	err := app.startHTTPServer(ctx, app.setupRouter())
	cancel()
	if loopErr := <-loopDone; loopErr != nil && err == nil {
		err = loopErr
	}
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
		app.db = nil
	}

	app.logger.Info("application shutdown completed")
}
