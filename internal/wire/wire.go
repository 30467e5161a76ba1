// Package wire provides dependency injection for capa.
// It creates singleton services with lazy initialization.
package wire

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	cliadapter "github.com/example/capa/internal/adapters/cli"
	"github.com/example/capa/internal/adapters/logaudit"
	"github.com/example/capa/internal/adapters/sqlite"
	"github.com/example/capa/internal/app"
	"github.com/example/capa/internal/config"
	"github.com/example/capa/internal/core/overdue"
	"github.com/example/capa/internal/db"
	"github.com/example/capa/internal/logging"
	"github.com/example/capa/internal/ports/primary"
	"github.com/example/capa/internal/scheduler"
	"github.com/example/capa/internal/telemetry"
	"github.com/example/capa/internal/version"
)

// Options are the command-line overrides applied on top of the loaded config.
type Options struct {
	ConfigPath string // empty means ~/.capa/config.yaml if it exists
	LogLevel   string
	LogFile    string
}

var (
	opts Options

	cfg              *config.Config
	logger           = zerolog.Nop()
	database         *sql.DB
	provider         *telemetry.Provider
	actionService    primary.ActionService
	reconcileService primary.ReconcileService
	sweepScheduler   *scheduler.Scheduler
	closeLog         func()

	once    sync.Once
	initErr error
)

// Configure sets the overrides used by the first service lookup.
// It has no effect once services are initialized.
func Configure(o Options) {
	opts = o
}

// ActionService returns the singleton ActionService instance.
func ActionService() (primary.ActionService, error) {
	once.Do(initServices)
	return actionService, initErr
}

// ReconcileService returns the singleton ReconcileService instance.
func ReconcileService() (primary.ReconcileService, error) {
	once.Do(initServices)
	return reconcileService, initErr
}

// Scheduler returns the singleton sweep scheduler.
func Scheduler() (*scheduler.Scheduler, error) {
	once.Do(initServices)
	return sweepScheduler, initErr
}

// Config returns the effective configuration.
func Config() (*config.Config, error) {
	once.Do(initServices)
	return cfg, initErr
}

// Logger returns the root logger. Before initialization it is a no-op logger.
func Logger() zerolog.Logger {
	return logger
}

// initServices initializes all services and their dependencies.
// This is called once via sync.Once.
func initServices() {
	initErr = buildServices()
}

func buildServices() error {
	path := opts.ConfigPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	loaded, err := config.LoadOptional(path)
	if err != nil {
		return err
	}
	if opts.LogLevel != "" {
		loaded.LogLevel = opts.LogLevel
	}
	if opts.LogFile != "" {
		loaded.LogFile = opts.LogFile
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	logger, closeLog, err = logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		if dbPath, err = db.DefaultPath(); err != nil {
			return err
		}
	}
	database, err = db.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Debug().Str("db_path", dbPath).Msg("database ready")

	provider, err = telemetry.Init(cfg.Telemetry, version.Version)
	if err != nil {
		return err
	}
	meter := provider.Meter()

	// Create repository adapters (secondary ports) - sqlite adapters with injected DB
	workItems := sqlite.NewWorkItemRepository(database)
	subItems := sqlite.NewSubItemRepository(database)
	eventLog := sqlite.NewAuditRepository(database)

	// Events are recorded by the repositories; the sink only sees committed ones.
	sink, err := telemetry.NewCountingEmitter(meter, logaudit.NewEmitter(logger))
	if err != nil {
		return err
	}
	observer, err := telemetry.NewSweepMetrics(meter)
	if err != nil {
		return err
	}

	policy := overdue.Policy{CompletedLateIsOverdue: cfg.Sweep.CompletedLateIsOverdue}

	// Create services (primary ports implementation)
	actionService = app.NewActionService(workItems, subItems, sink, eventLog, policy, logger)
	reconcileService = app.NewReconcileService(workItems, subItems, sink, eventLog, policy, cfg.Sweep.BatchSize, observer, logger)
	sweepScheduler = scheduler.New(cfg.Sweep, reconcileService, logger)
	return nil
}

// Close releases the database, flushes metrics and closes the log file.
func Close(ctx context.Context) error {
	var errs []error
	if provider != nil {
		errs = append(errs, provider.Shutdown(ctx))
	}
	if database != nil {
		errs = append(errs, database.Close())
	}
	if closeLog != nil {
		closeLog()
	}
	return errors.Join(errs...)
}

// ActionAdapter returns a new ActionAdapter writing to stdout.
// Each call creates a new adapter (adapters are stateless translators).
func ActionAdapter() (*cliadapter.ActionAdapter, error) {
	return ActionAdapterWithOutput(os.Stdout)
}

// ActionAdapterWithOutput returns a new ActionAdapter writing to the given output.
func ActionAdapterWithOutput(out io.Writer) (*cliadapter.ActionAdapter, error) {
	svc, err := ActionService()
	if err != nil {
		return nil, err
	}
	return cliadapter.NewActionAdapter(svc, out), nil
}

// SweepAdapter returns a new SweepAdapter writing to stdout.
func SweepAdapter() (*cliadapter.SweepAdapter, error) {
	return SweepAdapterWithOutput(os.Stdout)
}

// SweepAdapterWithOutput returns a new SweepAdapter writing to the given output.
func SweepAdapterWithOutput(out io.Writer) (*cliadapter.SweepAdapter, error) {
	svc, err := ReconcileService()
	if err != nil {
		return nil, err
	}
	return cliadapter.NewSweepAdapter(svc, out), nil
}

// Database returns the open database handle.
func Database() (*sql.DB, error) {
	once.Do(initServices)
	return database, initErr
}
