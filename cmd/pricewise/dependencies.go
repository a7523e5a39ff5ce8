package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/pricewise/config"
	"github.com/Ramsey-B/pricewise/internal/handlers"
	"github.com/Ramsey-B/pricewise/pkg/database"
	"github.com/Ramsey-B/pricewise/pkg/health"
	"github.com/Ramsey-B/pricewise/pkg/httpclient"
	"github.com/Ramsey-B/pricewise/pkg/kafka"
	"github.com/Ramsey-B/pricewise/pkg/middleware"
	"github.com/Ramsey-B/pricewise/pkg/reconcile"
	"github.com/Ramsey-B/pricewise/pkg/redis"
	"github.com/Ramsey-B/pricewise/pkg/repositories"
	"github.com/Ramsey-B/pricewise/pkg/scheduler"
	"github.com/Ramsey-B/pricewise/pkg/search"
	"github.com/Ramsey-B/pricewise/pkg/startup"
	"github.com/Ramsey-B/pricewise/pkg/tracing"
	"github.com/Ramsey-B/pricewise/pkg/tracing/exporters"
)

// app holds everything the startup dependencies build, in start order.
type app struct {
	cfg    *config.Config
	logger ectologger.Logger
	health *health.Checker

	shutdownTracing func(context.Context) error
	db              *database.DatabaseInstance
	repo            repositories.TrackedProductRepo
	redis           *redis.Client
	producer        *kafka.Producer
	gateway         *search.Gateway
	scheduler       *scheduler.Scheduler
	server          *http.Server
	serverErr       chan error
}

func newApp(cfg *config.Config, logger ectologger.Logger) *app {
	return &app{
		cfg:       cfg,
		logger:    logger,
		health:    health.NewChecker(cfg.Version),
		serverErr: make(chan error, 1),
	}
}

func (a *app) register(s *startup.Startup) {
	s.AddDependency(&startup.Dependency{Name: "tracing", StartFunc: a.startTracing, StopFunc: a.stopTracing})
	s.AddDependency(&startup.Dependency{Name: "database", StartFunc: a.startStore, StopFunc: a.stopStore})
	s.AddDependency(&startup.Dependency{Name: "redis", StartFunc: a.startRedis, StopFunc: a.stopRedis})
	s.AddDependency(&startup.Dependency{Name: "kafka", StartFunc: a.startKafka, StopFunc: a.stopKafka})
	s.AddDependency(&startup.Dependency{
		Name:      "scheduler",
		Requires:  []string{"tracing", "database", "redis", "kafka"},
		StartFunc: a.startScheduler,
		StopFunc:  a.stopScheduler,
	})
	s.AddDependency(&startup.Dependency{
		Name:      "http",
		Requires:  []string{"scheduler"},
		StartFunc: a.startHTTP,
		StopFunc:  a.stopHTTP,
	})
}

func (a *app) startTracing(ctx context.Context) error {
	providerCfg := tracing.ProviderConfig{
		ServiceName:    a.cfg.AppName,
		ServiceVersion: a.cfg.Version,
	}
	if a.cfg.OTLPEnabled {
		providerCfg.OTLP = &exporters.OTLPConfig{
			Endpoint: a.cfg.OTLPEndpoint,
			Protocol: a.cfg.OTLPProtocol,
			Insecure: a.cfg.OTLPInsecure,
		}
	}

	shutdown, err := tracing.Setup(ctx, providerCfg)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.shutdownTracing = shutdown
	return nil
}

func (a *app) stopTracing(ctx context.Context) error {
	if a.shutdownTracing == nil {
		return nil
	}
	return a.shutdownTracing(ctx)
}

func (a *app) startStore(ctx context.Context) error {
	if a.cfg.StoreDriver == "memory" {
		a.repo = repositories.NewMemoryTrackedProductRepository()
		return nil
	}

	db, err := database.Connect(ctx, a.cfg.DatabaseDSN(), database.PoolConfig{
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return err
	}

	migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.MigratePostgres(db.DB, a.cfg.DatabaseName); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	a.db = db
	a.repo = repositories.NewTrackedProductRepository(db, a.logger)
	a.health.AddCheck("database", health.PingerFunc(db.PingContext))
	return nil
}

func (a *app) stopStore(_ context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *app) startRedis(ctx context.Context) error {
	if !a.cfg.RedisEnabled {
		return nil
	}

	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}

	a.redis = client
	// a lost lock backend only stops passes, the API keeps serving
	a.health.AddOptionalCheck("redis", client)
	return nil
}

func (a *app) stopRedis(_ context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *app) startKafka(_ context.Context) error {
	if !a.cfg.KafkaEnabled {
		return nil
	}

	a.producer = kafka.NewProducer(kafka.Config{
		Brokers:    a.cfg.KafkaBrokerList(),
		PriceTopic: a.cfg.KafkaPriceTopic,
		PassTopic:  a.cfg.KafkaPassTopic,
	}, a.logger)
	return nil
}

func (a *app) stopKafka(_ context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

func (a *app) startScheduler(ctx context.Context) error {
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = a.cfg.SerpAPITimeout

	gateway, err := search.NewGateway(search.Config{
		APIKey:         a.cfg.SerpAPIKey,
		BaseURL:        a.cfg.SerpAPIBaseURL,
		Engine:         a.cfg.SerpAPIEngine,
		GoogleDomain:   a.cfg.SerpAPIGoogleDomain,
		Country:        a.cfg.SerpAPICountry,
		Language:       a.cfg.SerpAPILanguage,
		ResultsPath:    a.cfg.SerpAPIResultsPath,
		CurrencySymbol: a.cfg.SerpAPICurrency,
		RateLimit:      a.cfg.SerpAPIRateLimit,
		MaxAttempts:    a.cfg.SerpAPIMaxAttempts,
		RetryWait:      a.cfg.SerpAPIRetryWait,
	}, httpclient.NewClient(clientCfg, a.logger), a.logger)
	if err != nil {
		return err
	}
	a.gateway = gateway

	var reconcileOpts []reconcile.Option
	var schedulerOpts []scheduler.Option
	if a.producer != nil {
		reconcileOpts = append(reconcileOpts, reconcile.WithNotifier(a.producer))
		schedulerOpts = append(schedulerOpts, scheduler.WithSummaryPublisher(a.producer))
	}
	if a.redis != nil {
		lock := redis.NewPassLock(redis.NewLocker(a.redis, ""), "")
		schedulerOpts = append(schedulerOpts, scheduler.WithPassLocker(lock))
	}

	reconciler := reconcile.NewReconciler(gateway, a.repo, a.logger, reconcileOpts...)
	a.scheduler = scheduler.NewScheduler(a.repo, reconciler, scheduler.Config{
		Interval:          a.cfg.SchedulerInterval,
		Jitter:            a.cfg.SchedulerJitter,
		RunOnStart:        a.cfg.SchedulerRunOnStart,
		Workers:           a.cfg.SchedulerWorkers,
		PageSize:          a.cfg.SchedulerPageSize,
		ItemTimeout:       a.cfg.SchedulerItemTimeout,
		LockTTL:           a.cfg.SchedulerLockTTL,
		LockRenewInterval: a.cfg.SchedulerLockRenewInterval,
	}, a.logger, schedulerOpts...)

	if !a.cfg.SchedulerEnabled {
		a.logger.Warn("Scheduler disabled, passes run only when triggered through the API")
		return nil
	}
	err = a.scheduler.Start(ctx)
	if errors.Is(err, scheduler.ErrSchedulerAlreadyRunning) {
		return nil
	}
	return err
}

func (a *app) stopScheduler(ctx context.Context) error {
	if a.scheduler == nil {
		return nil
	}
	return a.scheduler.Stop(ctx)
}

func (a *app) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))

	a.health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	handlers.NewTrackerHandler(a.repo, a.scheduler, a.logger).RegisterRoutes(api)
	handlers.NewProductHandler(a.gateway, a.logger).RegisterRoutes(api)
	return e
}

func (a *app) startHTTP(_ context.Context) error {
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           a.newEcho(),
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serverErr <- err
		}
	}()
	return nil
}

func (a *app) stopHTTP(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
