package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"

	"camwatch/app/handler"
	"camwatch/internal/jobs"
	"camwatch/pkg/config"
	"camwatch/pkg/interfaces"
	"camwatch/pkg/logger"
	"camwatch/pkg/monitoring"
	"camwatch/pkg/provider"
	"camwatch/pkg/reconciler"
	"camwatch/pkg/scheduler"
	mysqlstore "camwatch/pkg/store/mysql"
	redisstore "camwatch/pkg/store/redis"
)

// Application manages the lifecycle of the entire application
type Application struct {
	// Infrastructure components
	config      *config.Config
	clients     provider.Clients
	mysqlRepo   *mysqlstore.Repository
	redisClient *redisstore.RedisClient
	natsConn    *nats.Conn

	// Reconciler collaborators
	providers *provider.BusinessProviders
	recorders []interfaces.EventRecorder

	// Reconciler
	reconcilerMgr *reconciler.Manager
	collector     *monitoring.Collector

	// Handler layer
	reconcilerHandler *handler.ReconcilerHandler
	eventHub          *handler.EventHub

	// HTTP server
	httpServer *http.Server
	ginEngine  *gin.Engine

	// Scheduling (one of the two, by scheduler.mode)
	jobsManager  *jobs.Manager
	asynqManager *scheduler.Manager

	// Context management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cleanupFuncs []func()
}

// NewApplication creates a new Application instance
func NewApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:          ctx,
		cancel:       cancel,
		cleanupFuncs: make([]func(), 0),
	}
}

// Initialize initializes all application components
func (app *Application) Initialize() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"AWS", app.initAWS},
		{"Redis", app.initRedis},
		{"MySQL", app.initMySQL},
		{"NATS", app.initNATS},
		{"Business Providers", app.initProviders},
		{"Reconciler", app.initReconciler},
		{"Scheduler", app.initScheduler},
		{"Handler Layer", app.initHandlers},
		{"HTTP Server", app.initHTTPServer},
	}

	for _, step := range steps {
		logger.InfoCtx(app.ctx, "Initializing %s...", step.name)
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.InfoCtx(app.ctx, "%s initialized successfully", step.name)
	}

	logger.InfoCtx(app.ctx, "Application initialization completed")
	return nil
}

// Start starts all application components
func (app *Application) Start() error {
	logger.InfoCtx(app.ctx, "Starting application components...")

	// 1. Start scheduling
	if app.jobsManager != nil {
		logger.InfoCtx(app.ctx, "Starting background job manager: %v", app.jobsManager.Jobs())
		app.jobsManager.Start()
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.jobsManager.Wait()
		}()
	}
	if app.asynqManager != nil {
		if err := app.asynqManager.Start(); err != nil {
			return err
		}
	}

	// 2. Start HTTP server
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		logger.InfoCtx(app.ctx, "HTTP server listening on: %s", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.FatalCtx(app.ctx, "HTTP server error: %v", err)
		}
	}()

	logger.InfoCtx(app.ctx, "All components started successfully")
	return nil
}

// RunOnce runs a single reconcile cycle (and a sweep when enabled), then
// releases resources. It returns the process exit code.
func (app *Application) RunOnce() int {
	defer app.runCleanup()

	code := 0
	report, err := app.reconcilerMgr.RunOnce(app.ctx)
	if err != nil {
		logger.ErrorCtx(app.ctx, "Reconcile cycle failed: %v", err)
		code = 1
	} else if report.Failed > 0 {
		code = 2
	}

	if app.config.Sweeper.Enabled {
		if _, err := app.reconcilerMgr.Sweep(app.ctx); err != nil {
			logger.ErrorCtx(app.ctx, "Orphan sweep failed: %v", err)
		}
	}
	return code
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.InfoCtx(app.ctx, "Starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. Stop scheduling; an in-flight cycle sees the cancelled context
	logger.InfoCtx(app.ctx, "Canceling background jobs...")
	app.cancel()
	if app.jobsManager != nil {
		app.jobsManager.Stop()
	}
	if app.asynqManager != nil {
		app.asynqManager.Stop()
	}

	// 2. Stop HTTP server (stop accepting new requests)
	logger.InfoCtx(app.ctx, "Shutting down HTTP server...")
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCtx(app.ctx, "HTTP server shutdown error: %v", err)
	}

	// 3. Wait for background goroutines
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InfoCtx(app.ctx, "All background jobs completed")
	case <-shutdownCtx.Done():
		logger.WarnCtx(app.ctx, "Shutdown timeout, some jobs may not have completed")
	}

	app.runCleanup()
	logger.InfoCtx(app.ctx, "Graceful shutdown completed")
	return nil
}

// runCleanup executes cleanup functions in reverse registration order
func (app *Application) runCleanup() {
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		app.cleanupFuncs[i]()
	}
	app.cleanupFuncs = nil
}

// registerCleanup registers cleanup function
func (app *Application) registerCleanup(cleanup func()) {
	app.cleanupFuncs = append(app.cleanupFuncs, cleanup)
}
