// Package server initializes and runs the inspector: it opens the record
// store, applies migrations, builds the blob store and inference clients,
// and serves the HTTP API next to the gRPC health service until the
// process is signalled.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/lscinspector/internal/logging"
	"github.com/dmitrijs2005/lscinspector/internal/server/config"
	"github.com/dmitrijs2005/lscinspector/internal/server/httpapi"
	"github.com/dmitrijs2005/lscinspector/internal/server/inference"
	"github.com/dmitrijs2005/lscinspector/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/lscinspector/internal/server/services"
	"github.com/dmitrijs2005/lscinspector/internal/server/storage"

	gs "github.com/dmitrijs2005/lscinspector/internal/server/grpc"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	config      *config.Config
	logger      logging.Logger
	closeLogger func() error
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

// NewApp sets up logging and the database pool. Remote clients are built
// by Run so that `migrate` needs only the database.
func NewApp(c *config.Config) (*App, error) {
	logger, closeLogger, err := logging.New(logging.Options{
		Format: c.LogFormat,
		Level:  c.LogLevel,
		File:   c.LogFile,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		_ = closeLogger()
		return nil, fmt.Errorf("db init error: %w", err)
	}

	return &App{
		config:      c,
		logger:      logger,
		closeLogger: closeLogger,
		db:          db,
		repomanager: repomanager.NewPostgresRepositoryManager(),
	}, nil
}

// Close releases the database pool and flushes the logger.
func (app *App) Close() error {
	return errors.Join(app.db.Close(), app.closeLogger())
}

// Migrate applies pending schema migrations.
func (app *App) Migrate(ctx context.Context) error {
	app.logger.Info(ctx, "Applying migrations...")
	if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations error: %w", err)
	}
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) buildHandler(ctx context.Context) (*httpapi.Handler, error) {
	store, err := storage.NewS3Store(ctx, app.config)
	if err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}
	ic := inference.NewClient(app.config, &http.Client{})

	files := services.NewFileService(app.db, app.repomanager, store, ic, app.config, app.logger)
	weights := services.NewWeightService(app.db, app.repomanager, store, ic, files, app.config, app.logger)
	users := services.NewUserService(app.db, app.repomanager, store, app.config, app.logger)

	return httpapi.NewHandler(files, weights, users, app.db, app.config, app.logger), nil
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc, h *httpapi.Handler) {
	srv := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           httpapi.NewRouter(h, app.config.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "http shutdown error", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewHealthServer(app.config.EndpointAddrGRPC, app.db, app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run migrates the schema and serves until ctx is cancelled, a signal
// arrives or one of the servers fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	if err := app.Migrate(ctx); err != nil {
		return err
	}
	h, err := app.buildHandler(ctx)
	if err != nil {
		return err
	}

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc, h)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return nil
}
