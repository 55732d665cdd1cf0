package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"camwatch/app/handler"
	"camwatch/app/router"
	"camwatch/pkg/config"
	"camwatch/pkg/interfaces"
	"camwatch/pkg/logger"
	"camwatch/pkg/monitoring"
	"camwatch/pkg/notification"
	"camwatch/pkg/provider"
	"camwatch/pkg/reconciler"
	"camwatch/pkg/scheduler"
	jsstore "camwatch/pkg/store/jetstream"
	mysqlstore "camwatch/pkg/store/mysql"
	redisstore "camwatch/pkg/store/redis"
)

const connectTimeout = 10 * time.Second

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.InfoCtx(app.ctx, "Logging system has been closed")
		_ = logger.Sync()
	})
	return nil
}

// needsAWS reports whether any selected backend talks to AWS
func needsAWS(cfg *config.Config) bool {
	return cfg.Registry.Type == "kinesisvideo" ||
		cfg.Metrics.Type == "cloudwatch" ||
		cfg.Store.Type == "dynamodb" ||
		cfg.Supervisor.Type == "ecs"
}

// initAWS loads the shared SDK config
func (app *Application) initAWS() error {
	if !needsAWS(app.config) {
		logger.InfoCtx(app.ctx, "No AWS backend selected, skipping AWS config")
		return nil
	}

	ctx, cancel := context.WithTimeout(app.ctx, connectTimeout)
	defer cancel()

	awsCfg, err := provider.LoadAWSConfig(ctx, app.config.AWS)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	logger.InfoCtx(app.ctx, "AWS config loaded, region: %s", awsCfg.Region)
	app.clients.AWS = &awsCfg
	return nil
}

// initRedis initializes Redis (optional)
func (app *Application) initRedis() error {
	if !app.config.Redis.Enabled() {
		logger.InfoCtx(app.ctx, "Redis not configured, running in single-instance mode")
		return nil
	}

	ctx, cancel := context.WithTimeout(app.ctx, connectTimeout)
	defer cancel()
	client, err := redisstore.NewRedisClient(ctx, app.config.Redis)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.clients.Redis = client
	app.registerCleanup(func() {
		_ = client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})
	return nil
}

// initMySQL initializes MySQL (optional) and migrates the tables
func (app *Application) initMySQL() error {
	if !app.config.MySQL.Enabled {
		logger.InfoCtx(app.ctx, "MySQL disabled, event history is not persisted")
		return nil
	}

	repo, err := mysqlstore.NewRepository(app.config.MySQL)
	if err != nil {
		return err
	}
	app.registerCleanup(func() {
		_ = repo.Close()
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})

	ctx, cancel := context.WithTimeout(app.ctx, connectTimeout)
	defer cancel()
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate mysql tables: %w", err)
	}

	app.mysqlRepo = repo
	app.clients.MySQL = repo
	return nil
}

// initNATS connects to NATS and opens the assignment bucket (jetstream store only)
func (app *Application) initNATS() error {
	if app.config.Store.Type != "jetstream" {
		return nil
	}

	nc, err := nats.Connect(app.config.NATS.URL,
		nats.Name("camwatch"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WarnCtx(app.ctx, "NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.InfoCtx(app.ctx, "NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}
	app.natsConn = nc
	app.registerCleanup(func() {
		_ = nc.Drain()
		logger.InfoCtx(app.ctx, "NATS connection has been drained")
	})

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(app.ctx, connectTimeout)
	defer cancel()
	kv, err := jsstore.EnsureBucket(ctx, js, app.config.NATS.Bucket, 3)
	if err != nil {
		return err
	}
	app.clients.KV = kv
	return nil
}

// initProviders builds the registry, metric source, store and supervisor
func (app *Application) initProviders() error {
	factory := provider.NewProviderFactory(app.config, app.clients)

	providers, err := factory.CreateBusinessProviders()
	if err != nil {
		return err
	}
	logger.InfoCtx(app.ctx, "Providers: registry=%s, metrics=%s, store=%s, supervisor=%s",
		app.config.Registry.Type, app.config.Metrics.Type, app.config.Store.Type, app.config.Supervisor.Type)

	app.providers = providers
	return nil
}

// initReconciler wires the reconciler, sweeper, recorders and observers
func (app *Application) initReconciler() error {
	cfg := app.config
	factory := provider.NewProviderFactory(cfg, app.clients)

	// event recorders: live feed, audit history, operator alerts
	app.eventHub = handler.NewEventHub()
	app.recorders = []interfaces.EventRecorder{app.eventHub}
	if app.mysqlRepo != nil {
		app.recorders = append(app.recorders, app.mysqlRepo.ReconcileEvent)
	}
	if feishu := notification.NewFeishuNotifier(cfg.Notification.FeishuWebhookURL); feishu.Enabled() {
		app.recorders = append(app.recorders, feishu)
	}

	opts := reconciler.Options{
		Concurrency: cfg.Reconciler.Concurrency,
		CallTimeout: cfg.Reconciler.CallTimeout(),
		MaxRetries:  cfg.Reconciler.Retries(),
		Window:      factory.WindowFunc(),
	}
	p := app.providers
	r := reconciler.New(p.Registry, p.Metrics, p.Store, p.Supervisor, opts, app.recorders...)

	app.collector = monitoring.NewCollector(p.Store)
	managerOpts := []reconciler.ManagerOption{reconciler.WithObserver(app.collector)}
	if cfg.Sweeper.Enabled {
		managerOpts = append(managerOpts, reconciler.WithSweeper(
			reconciler.NewSweeper(p.Store, p.Supervisor, cfg.Sweeper.GracePeriod(), opts, app.recorders...),
		))
	}

	var redisClient *redis.Client
	if app.redisClient != nil {
		redisClient = app.redisClient.GetClient()
	}
	if !cfg.Reconciler.LockEnabled {
		managerOpts = append(managerOpts, reconciler.WithLocks(
			reconciler.NewRedisDistributedLock(nil, reconciler.ReconcileLockKey),
			reconciler.NewRedisDistributedLock(nil, reconciler.SweepLockKey),
		))
	}

	app.reconcilerMgr = reconciler.NewManager(r, cfg.Reconciler.Enabled, redisClient, managerOpts...)
	return nil
}

// initScheduler sets up the ticker jobs or the asynq periodic tasks
func (app *Application) initScheduler() error {
	switch app.config.Scheduler.Mode {
	case "once":
		return nil
	case "asynq":
		sweepInterval := time.Duration(0)
		if app.config.Sweeper.Enabled {
			sweepInterval = app.config.Sweeper.Interval()
		}
		mgr, err := scheduler.NewManager(app.config.Redis, app.config.Scheduler.Interval(), sweepInterval)
		if err != nil {
			return err
		}
		mgr.RegisterHandler(scheduler.TypeReconcile, scheduler.NewHandler("reconcile", app.reconcilerMgr.RunScheduled))
		mgr.RegisterHandler(scheduler.TypeSweep, scheduler.NewHandler("sweep", app.reconcilerMgr.SweepScheduled))
		app.asynqManager = mgr
		app.registerCleanup(func() {
			_ = mgr.Close()
		})
		// retention still runs on a ticker
		return app.initJobs(false)
	default:
		return app.initJobs(true)
	}
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	var history handler.EventHistory
	if app.mysqlRepo != nil {
		history = app.mysqlRepo.ReconcileEvent
	}
	app.reconcilerHandler = handler.NewReconcilerHandler(app.reconcilerMgr, app.providers.Store, history)

	if app.redisClient != nil {
		app.reconcilerHandler.AddReadinessCheck("redis", app.redisClient)
	}
	if app.mysqlRepo != nil {
		app.reconcilerHandler.AddReadinessCheck("mysql", app.mysqlRepo)
	}
	if app.natsConn != nil {
		app.reconcilerHandler.AddReadinessCheck("nats", handler.PingFunc(app.natsConn.FlushWithContext))
	}
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	r := router.NewRouter(app.reconcilerHandler, app.eventHub, app.collector.Handler(), app.config.Server.APIKey)

	gin.SetMode(app.config.Server.Mode)
	app.ginEngine = gin.New()
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.ginEngine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}
