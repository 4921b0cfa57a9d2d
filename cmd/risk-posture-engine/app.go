package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/isectech/risk-posture-engine/config"
	httpdelivery "github.com/isectech/risk-posture-engine/delivery/http"
	"github.com/isectech/risk-posture-engine/domain/repository"
	"github.com/isectech/risk-posture-engine/domain/service"
	"github.com/isectech/risk-posture-engine/infrastructure/cache"
	"github.com/isectech/risk-posture-engine/infrastructure/database"
	"github.com/isectech/risk-posture-engine/infrastructure/discovery"
	"github.com/isectech/risk-posture-engine/infrastructure/external"
	"github.com/isectech/risk-posture-engine/infrastructure/messaging"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/pkg/metrics"
	"github.com/isectech/risk-posture-engine/shared/common"
	"github.com/isectech/risk-posture-engine/usecase"
)

// Application owns every long-lived component of the engine
type Application struct {
	config  *config.Config
	logger  *logging.Logger
	metrics *metrics.Collector
	clock   common.Clock

	postgres  *sqlx.DB
	redisTier *cache.RedisTier
	publisher messaging.Publisher

	inventory repository.InventoryRepository
	baselines repository.BaselineRepository
	drifts    repository.DriftRepository
	postures  repository.PostureRepository

	snapshots      service.SnapshotProvider
	exploitability service.ExploitabilityService
	threatIntel    service.ThreatIntelService

	driftUC   *usecase.DriftDetectionUseCase
	postureUC *usecase.PostureAssessmentUseCase
	riskUC    *usecase.RiskScoringUseCase
	scheduler *usecase.AssessmentScheduler

	health     *httpdelivery.HealthHandler
	httpServer *httpdelivery.Server
	registrar  *discovery.Registrar

	shutdownCh chan os.Signal
	wg         sync.WaitGroup
}

// NewApplication loads configuration from path; empty searches the defaults
func NewApplication(path string) (*Application, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &Application{
		config:     cfg,
		clock:      common.SystemClock{},
		shutdownCh: make(chan os.Signal, 1),
	}, nil
}

// Initialize wires stores, providers and use cases. The HTTP server and
// scheduler are built by InitializeServers.
func (app *Application) Initialize(ctx context.Context) error {
	if err := app.initLogger(); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	app.logger.Info("Initializing risk posture engine",
		logging.String("version", app.config.Service.Version),
		logging.String("environment", app.config.Service.Environment))

	app.metrics = metrics.NewCollector(app.config.Metrics.Namespace)

	if err := app.initStores(ctx); err != nil {
		return fmt.Errorf("failed to init stores: %w", err)
	}
	if err := app.initCache(ctx); err != nil {
		return fmt.Errorf("failed to init cache: %w", err)
	}
	if err := app.initProviders(); err != nil {
		return fmt.Errorf("failed to init providers: %w", err)
	}
	if err := app.initPublisher(); err != nil {
		return fmt.Errorf("failed to init publisher: %w", err)
	}
	if err := app.initUseCases(); err != nil {
		return fmt.Errorf("failed to init use cases: %w", err)
	}

	app.logger.Info("Application initialization complete")
	return nil
}

func (app *Application) initLogger() error {
	logger, err := logging.NewLogger(logging.Config{
		Level:       app.config.Logging.Level,
		Format:      app.config.Logging.Format,
		Output:      app.config.Logging.Output,
		ServiceName: app.config.Service.Name,
		Development: app.config.Service.Environment == "development",
	})
	if err != nil {
		return err
	}
	app.logger = logger
	return nil
}

func (app *Application) initStores(ctx context.Context) error {
	switch app.config.Database.Driver {
	case "postgres":
		db, err := database.Connect(ctx, app.config.Database.PostgreSQL, app.logger)
		if err != nil {
			return err
		}
		if app.config.Database.PostgreSQL.MigrateOnStart {
			if err := database.Migrate(ctx, db, app.logger); err != nil {
				_ = db.Close()
				return err
			}
		}
		app.postgres = db
		app.inventory = database.NewPostgreSQLInventoryRepository(db, app.logger)
		app.baselines = database.NewPostgreSQLBaselineRepository(db, app.logger)
		app.drifts = database.NewPostgreSQLDriftRepository(db, app.logger)
		app.postures = database.NewPostgreSQLPostureRepository(db, app.logger)

	default:
		inventory := database.NewMemoryInventory()
		if path := app.config.Database.InventoryFile; path != "" {
			loaded, err := database.LoadInventoryFile(path)
			if err != nil {
				return err
			}
			inventory = loaded
		}
		app.inventory = inventory
		app.baselines = database.NewMemoryBaselineRepository()
		app.drifts = database.NewMemoryDriftRepository()
		app.postures = database.NewMemoryPostureRepository()
		app.logger.Warn("Using in-memory stores; state is lost on restart")
	}
	return nil
}

func (app *Application) initCache(ctx context.Context) error {
	if !app.config.Cache.Redis.Enabled {
		return nil
	}
	tier, err := cache.NewRedisTier(ctx, app.config.Cache.Redis, app.logger)
	if err != nil {
		return err
	}
	app.redisTier = tier
	return nil
}

func (app *Application) initProviders() error {
	switch app.config.Collector.Source {
	case "http":
		collector, err := external.NewHTTPSnapshotCollector(app.config.Collector, app.clock, app.logger)
		if err != nil {
			return err
		}
		app.snapshots = collector
	case "file":
		provider, err := external.NewFileSnapshotProvider(app.config.Collector.Directory, app.clock)
		if err != nil {
			return err
		}
		app.snapshots = provider
	default:
		app.snapshots = service.NewStaticSnapshots(app.clock.Now)
	}

	if app.config.Intel.FeedURL != "" {
		feed, err := external.NewFeedThreatIntel(app.config.Intel, app.clock, app.logger)
		if err != nil {
			return err
		}
		app.exploitability = feed
		app.threatIntel = feed
	}
	return nil
}

func (app *Application) initPublisher() error {
	publisher, err := messaging.NewPublisher(app.config.Messaging, app.metrics, app.logger)
	if err != nil {
		return err
	}
	app.publisher = publisher
	return nil
}

func (app *Application) dependencies() usecase.Dependencies {
	return usecase.Dependencies{
		Inventory:      app.inventory,
		Baselines:      app.baselines,
		Drifts:         app.drifts,
		Postures:       app.postures,
		Snapshots:      app.snapshots,
		Exploitability: app.exploitability,
		ThreatIntel:    app.threatIntel,
		Publisher:      app.publisher,
		Collector:      app.metrics,
		Clock:          app.clock,
		Logger:         app.logger,
	}
}

func (app *Application) cacheSettings(ttl time.Duration) usecase.CacheSettings {
	settings := usecase.CacheSettings{TTL: ttl, MaxEntries: app.config.Cache.MaxEntries}
	if app.redisTier != nil {
		settings.Tier = app.redisTier
		settings.Codec = cache.NewCodec(app.config.Cache.Redis.Compress)
	}
	return settings
}

func (app *Application) initUseCases() error {
	mode, err := usecase.ParsePersistenceMode(app.config.Drift.PersistenceMode)
	if err != nil {
		return err
	}
	deps := app.dependencies()

	app.driftUC, err = usecase.NewDriftDetectionUseCase(deps, nil, mode)
	if err != nil {
		return err
	}
	app.postureUC, err = usecase.NewPostureAssessmentUseCase(deps, app.cacheSettings(app.config.Cache.PostureTTL), app.config.Scheduler.PostureInterval)
	if err != nil {
		return err
	}
	app.riskUC, err = usecase.NewRiskScoringUseCase(deps, app.postureUC, nil, app.cacheSettings(app.config.Cache.RiskTTL))
	return err
}

// InitializeServers builds the scheduler, HTTP server and registrar for serve
func (app *Application) InitializeServers() error {
	var opts []usecase.SchedulerOption
	if path := app.config.Scheduler.BaselineFile; path != "" {
		seeds, err := loadBaselineSeeds(path)
		if err != nil {
			return err
		}
		opts = append(opts, usecase.WithBaselineSeeds(seeds))
	}

	if app.config.Scheduler.Enabled {
		scheduler, err := usecase.NewAssessmentScheduler(app.config.Scheduler, app.dependencies(), app.driftUC, app.postureUC, app.riskUC, opts...)
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		app.scheduler = scheduler
	}

	app.initHealth()

	if app.config.HTTP.Enabled {
		metricsPath := ""
		if app.config.Metrics.Enabled {
			metricsPath = app.config.Metrics.Path
		}
		app.httpServer = httpdelivery.NewServer(app.config.HTTP, app.driftUC, app.postureUC, app.riskUC, app.health, app.metrics, metricsPath, app.logger)
	}

	if app.config.Discovery.Enabled {
		host := app.config.HTTP.Host
		if host == "" || host == "0.0.0.0" {
			if hostname, err := os.Hostname(); err == nil {
				host = hostname
			}
		}
		registrar, err := discovery.NewRegistrar(app.config.Discovery, app.config.Service, host, app.config.HTTP.Port, app.logger)
		if err != nil {
			return fmt.Errorf("failed to create consul registrar: %w", err)
		}
		app.registrar = registrar
	}
	return nil
}

func (app *Application) initHealth() {
	app.health = httpdelivery.NewHealthHandler(app.config.Service.Name, app.config.Service.Version, app.logger)
	if app.postgres != nil {
		app.health.AddCheck("postgres", func(ctx context.Context) error {
			return database.Health(ctx, app.postgres)
		})
	}
	if app.redisTier != nil {
		app.health.AddCheck("redis", app.redisTier.Ping)
	}
	if app.scheduler != nil {
		app.health.AddInfo("baseline_bootstrap", bootstrapStatus(app.scheduler))
	}
}

// bootstrapStatus reports startup baseline capture without gating readiness
func bootstrapStatus(s *usecase.AssessmentScheduler) httpdelivery.InfoFunc {
	return func() string {
		if s.Bootstrapped() {
			return "complete"
		}
		return "in_progress"
	}
}

// Start runs the HTTP server and scheduler and registers with Consul
func (app *Application) Start(ctx context.Context) error {
	if app.httpServer != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.httpServer.Start(); err != nil {
				app.logger.Error("HTTP server failed", logging.Error(err))
				app.shutdownCh <- syscall.SIGTERM
			}
		}()
	}

	if app.scheduler != nil {
		if err := app.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	if app.registrar != nil {
		if err := app.registrar.Register(); err != nil {
			app.logger.Warn("Consul registration failed", logging.Error(err))
		}
	}

	app.logger.Info("Risk posture engine started")
	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM
func (app *Application) WaitForShutdown() {
	signal.Notify(app.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-app.shutdownCh
	app.logger.Info("Received shutdown signal", logging.String("signal", sig.String()))
}

// Shutdown stops components in reverse start order within the configured timeout
func (app *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Service.ShutdownTimeout)
	defer cancel()

	var errs []error
	if app.registrar != nil {
		if err := app.registrar.Deregister(); err != nil {
			errs = append(errs, fmt.Errorf("consul deregister: %w", err))
		}
	}
	if app.httpServer != nil {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if app.scheduler != nil {
		if err := app.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
		}
	}
	app.wg.Wait()

	if err := app.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown completed with errors: %v", errs)
	}
	app.logger.Info("Application shutdown complete")
	return nil
}

// Close releases connections; used directly by the one-shot commands
func (app *Application) Close() error {
	var firstErr error
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publisher close: %w", err)
		}
	}
	if app.redisTier != nil {
		if err := app.redisTier.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("redis close: %w", err)
		}
	}
	if app.postgres != nil {
		if err := app.postgres.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("postgres close: %w", err)
		}
	}
	if app.logger != nil {
		app.logger.Cleanup()
	}
	return firstErr
}

func loadBaselineSeeds(path string) ([]usecase.BaselineSeed, error) {
	file, err := external.LoadBaselineFile(path)
	if err != nil {
		return nil, err
	}
	seeds := make([]usecase.BaselineSeed, 0, len(file.Baselines))
	for _, doc := range file.Baselines {
		seeds = append(seeds, usecase.BaselineSeed{
			SystemID:      doc.SystemID,
			CapturedBy:    doc.CapturedBy,
			Configuration: doc.Configuration,
		})
	}
	return seeds, nil
}
