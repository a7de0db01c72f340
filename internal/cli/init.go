// Package cli provides the initialization shared by the piggy commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"piggy/internal/config"
	"piggy/internal/credential"
	"piggy/internal/events"
	"piggy/internal/log"
	"piggy/internal/securestore"
	"piggy/internal/services"
	"piggy/internal/storage"
)

// SetupLogger builds the application logger from the configuration and sets
// it as the default logger.
func SetupLogger(cfg *config.Config, out io.Writer) *log.Logger {
	if out == nil {
		out = os.Stderr
	}
	lc := log.DefaultConfig()
	lc.Level = log.ParseLevel(cfg.LogLevel)
	lc.Component = log.ComponentCLI
	lc.Output = out
	lc.JSON = cfg.LogFormat == "json"
	logger := log.New(lc)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// App holds every component a command may need. Components are opened in
// dependency order and closed in reverse.
type App struct {
	Config    *config.Config
	Logger    *log.Logger
	Facade    *storage.Facade
	Store     *securestore.BoltStore
	Guard     *credential.Guard
	Publisher events.Publisher
	Backups   *services.BackupService
	Vaults    *services.VaultService
}

// Open initializes storage, the secure store and the event publisher. The
// database schema is migrated before Open returns.
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	app.Facade = storage.NewFacade(storage.NewManager(cfg.DBPath, storage.WithLogger(logger)), logger)
	if err := app.Facade.Initialize(ctx); err != nil {
		app.Close()
		return nil, err
	}

	store, err := securestore.NewBoltStore(cfg.SecureStorePath)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("open secure store: %w", err)
	}
	app.Store = store
	app.Guard = credential.NewGuard(store, credential.WithLogger(logger))

	app.Publisher = NewPublisher(cfg, logger)
	app.Backups = services.NewBackupService(app.Facade, app.Publisher, logger)
	app.Vaults = services.NewVaultService(app.Facade, app.Guard, app.Publisher, logger)

	logger.InfoContext(ctx, "Application initialized",
		log.FieldOperation, log.OpStartup,
		log.FieldPath, cfg.DBPath,
		"events_enabled", cfg.EventsEnabled())
	return app, nil
}

// NewPublisher returns an AMQP publisher when a broker is configured and a
// no-op publisher otherwise.
func NewPublisher(cfg *config.Config, logger *log.Logger) events.Publisher {
	if !cfg.EventsEnabled() {
		return events.NopPublisher{}
	}
	return events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey, logger)
}

// Close releases every opened component.
func (a *App) Close() error {
	var errs []error
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("secure store: %w", err))
		}
	}
	if a.Facade != nil {
		if err := a.Facade.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	err := errors.Join(errs...)
	if a.Logger != nil {
		a.Logger.Debug("Application closed", log.NewFields().WithOperation(log.OpShutdown).WithError(err).ToSlice()...)
	}
	return err
}

// CommandContext returns a context cancelled on SIGINT, SIGTERM or after
// timeout, carrying logger.
func CommandContext(parent context.Context, logger *log.Logger, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	ctx = log.NewContext(ctx, logger)
	return ctx, func() {
		cancel()
		stop()
	}
}
