package stepflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/RealZimboGuy/stepflow/internal/actions"
	"github.com/RealZimboGuy/stepflow/internal/config"
	"github.com/RealZimboGuy/stepflow/internal/controllers"
	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/internal/loader"
	"github.com/RealZimboGuy/stepflow/internal/metrics"
	"github.com/RealZimboGuy/stepflow/internal/migrations"
	"github.com/RealZimboGuy/stepflow/internal/repository"
	"github.com/RealZimboGuy/stepflow/internal/scheduler"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
)

const shutdownTimeout = 10 * time.Second

// runner is the dispatch side of a scheduler backend.
type runner interface {
	Run(ctx context.Context, handler scheduler.Handler) error
}

// App is a fully wired engine: stores, scheduler, action registry and HTTP
// router. Nothing runs until Run is called.
type App struct {
	DB          *sql.DB
	Definitions *repository.WorkflowDefinitionRepository
	Instances   *repository.WorkflowInstanceRepository
	Executors   *repository.ExecutorRepository
	Jobs        *repository.JobRepository
	Actions     *actions.Registry
	Engine      *engine.Engine
	Metrics     *metrics.Metrics
	Router      http.Handler

	redis      *redis.Client
	dispatcher runner
}

// Setup opens the configured database, migrates it and wires an App.
func Setup() (*App, error) {
	return SetupWithClock(core.NewRealClock())
}

func SetupWithClock(clock core.Clock) (*App, error) {
	databaseType := config.GetSystemSettingString(config.DATABASE_TYPE)

	var db *sql.DB
	var err error
	switch databaseType {
	case config.DATABASE_TYPE_POSTGRES:
		db, err = setupPostgresDatabase()
	case config.DATABASE_TYPE_MYSQL:
		db, err = setupMysqlDatabase()
	case config.DATABASE_TYPE_SQLLITE:
		db, err = setupSqlLiteDatabase()
	default:
		return nil, fmt.Errorf("%s must be one of POSTGRES, MYSQL, SQLLITE, got %q", config.DATABASE_TYPE, databaseType)
	}
	if err != nil {
		return nil, err
	}
	app, err := NewApp(db, clock)
	if err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

// NewApp wires an App on an already migrated database.
func NewApp(db *sql.DB, clock core.Clock) (*App, error) {
	clock = core.OrReal(clock)
	m := metrics.New(prometheus.NewRegistry())

	app := &App{
		DB:          db,
		Definitions: repository.NewWorkflowDefinitionRepository(db),
		Instances:   repository.NewWorkflowInstanceRepository(db),
		Executors:   repository.NewExecutorRepository(db),
		Jobs:        repository.NewJobRepository(db, clock),
		Actions:     actions.NewDefaultRegistry(),
		Metrics:     m,
	}

	cfg := scheduler.ConfigFromSettings()
	var sched engine.Scheduler
	switch schedulerType := config.GetSystemSettingString(config.SCHEDULER_TYPE); schedulerType {
	case config.SCHEDULER_TYPE_DATABASE:
		manager := scheduler.NewManager(scheduler.NewJobQueue(app.Jobs, clock), app.Executors, cfg, m)
		sched, app.dispatcher = manager, manager
	case config.SCHEDULER_TYPE_REDIS:
		addr := config.GetSystemSettingString(config.REDIS_ADDR)
		slog.Info("Using redis scheduler", "addr", addr)
		app.redis = redis.NewClient(&redis.Options{Addr: addr})
		queue := scheduler.NewRedisQueue(app.redis, config.GetSystemSettingString(config.REDIS_PREFIX), cfg, clock, m)
		sched, app.dispatcher = queue, queue
	default:
		return nil, fmt.Errorf("%s must be one of DATABASE, REDIS, got %q", config.SCHEDULER_TYPE, schedulerType)
	}

	app.Engine = engine.New(app.Definitions, app.Instances, sched, app.Actions,
		engine.WithClock(clock),
		engine.WithMetrics(m),
		engine.WithCounterLimit(int64(config.GetSystemSettingInteger(config.ENGINE_COUNTER_LIMIT))),
		engine.WithConflictRetries(config.GetSystemSettingInteger(config.ENGINE_CONFLICT_RETRIES)),
	)

	app.Router = controllers.NewRouter(
		controllers.NewWorkflowsController(app.Definitions, app.Instances, app.Engine),
		controllers.NewExecutorsController(app.Executors),
		m.Handler(),
	)
	return app, nil
}

// Run loads definition files, serves HTTP and dispatches scheduled advances
// until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if dir := config.GetSystemSettingString(config.DEFINITIONS_DIR); dir != "" {
		if _, err := loader.LoadDir(ctx, a.Definitions, dir); err != nil {
			slog.ErrorContext(ctx, "Failed to load some workflow definitions", "dir", dir, "error", err)
		}
	}

	addr := config.GetListenAddr()
	server := &http.Server{
		Addr:              addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting HTTP server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	dispatchErr := make(chan error, 1)
	go func() {
		dispatchErr <- a.dispatcher.Run(runCtx, a.Engine.Advance)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			slog.ErrorContext(ctx, "HTTP server failed", "error", err)
			runErr = err
		}
	case err := <-dispatchErr:
		if err != nil {
			slog.ErrorContext(ctx, "Scheduler exited with error", "error", err)
			runErr = err
		}
		dispatchErr = nil
	}

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "HTTP server shutdown failed", "error", err)
	}
	if dispatchErr != nil {
		<-dispatchErr
	}
	slog.InfoContext(ctx, "Stepflow stopped")
	return runErr
}

func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func setupPostgresDatabase() (*sql.DB, error) {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		return nil, fmt.Errorf("%s must be set when using the POSTGRES database type", config.DATABASE_URL)
	}
	slog.Info("Using Postgres database")
	slog.Info("Running migrations")
	if err := migrations.Run(migrations.Postgres, dbURL); err != nil {
		return nil, fmt.Errorf("postgres migration failed: %w", err)
	}
	db, err := sql.Open("postgres", repository.EnsureBinaryParametersNo(dbURL))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repository.ConfigurePool(db, 2*config.GetSystemSettingInteger(config.ENGINE_EXECUTOR_SIZE))
	return db, nil
}

func setupSqlLiteDatabase() (*sql.DB, error) {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	if fileName == "" {
		return nil, fmt.Errorf("%s must be set", config.DATABASE_SQLLITE_FILE_NAME)
	}
	slog.Info("Using SQLite database", "file", fileName)
	slog.Info("Running migrations")
	if err := migrations.Run(migrations.SQLite, "sqlite3://"+fileName); err != nil {
		return nil, fmt.Errorf("sqlite migration failed: %w", err)
	}
	db, err := sql.Open("sqlite3", fileName+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time; concurrent workers queue on the pool
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func setupMysqlDatabase() (*sql.DB, error) {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		return nil, fmt.Errorf("%s must be set when using the MYSQL database type", config.DATABASE_URL)
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		return nil, fmt.Errorf("%s must contain 'parseTime=true' for MySQL", config.DATABASE_URL)
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		return nil, fmt.Errorf("%s must start with 'mysql://' for MySQL", config.DATABASE_URL)
	}
	slog.Info("Using MySQL database")
	slog.Info("Running migrations")
	if err := migrations.Run(migrations.MySQL, dbURL); err != nil {
		return nil, fmt.Errorf("mysql migration failed: %w", err)
	}
	db, err := sql.Open("mysql", strings.TrimPrefix(dbURL, "mysql://"))
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	repository.ConfigurePool(db, 2*config.GetSystemSettingInteger(config.ENGINE_EXECUTOR_SIZE))
	return db, nil
}

func SetupLogger() {
	SetupLoggerWithClock(config.GetLogLevel(), core.NewRealClock())
}

// SetupLoggerWithClock installs a tint handler whose timestamps come from
// clock, so logs line up with a fake clock in tests.
func SetupLoggerWithClock(level slog.Level, clock core.Clock) {
	clock = core.OrReal(clock)
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339Nano,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Time(slog.TimeKey, clock.Now())
				}
				return a
			},
		}),
	))
}
