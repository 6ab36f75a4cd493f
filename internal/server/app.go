// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/scamwatch-io/scamwatch/internal/api"
	"github.com/scamwatch-io/scamwatch/internal/cache"
	"github.com/scamwatch-io/scamwatch/internal/classify/heuristic"
	"github.com/scamwatch-io/scamwatch/internal/clock/system"
	"github.com/scamwatch-io/scamwatch/internal/config"
	"github.com/scamwatch-io/scamwatch/internal/dispatcher"
	"github.com/scamwatch-io/scamwatch/internal/gateway"
	"github.com/scamwatch-io/scamwatch/internal/hash/sha256"
	"github.com/scamwatch-io/scamwatch/internal/id/uuid"
	"github.com/scamwatch-io/scamwatch/internal/logging"
	collylookup "github.com/scamwatch-io/scamwatch/internal/lookup/colly"
	"github.com/scamwatch-io/scamwatch/internal/policy/ratelimit"
	memorypublisher "github.com/scamwatch-io/scamwatch/internal/publisher/memory"
	gcppublisher "github.com/scamwatch-io/scamwatch/internal/publisher/pubsub"
	queuememory "github.com/scamwatch-io/scamwatch/internal/queue/memory"
	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
	memorystorage "github.com/scamwatch-io/scamwatch/internal/storage/memory"
	pgstore "github.com/scamwatch-io/scamwatch/internal/storage/postgres"
	"github.com/scamwatch-io/scamwatch/internal/store"
	"github.com/scamwatch-io/scamwatch/internal/stream"
	"github.com/scamwatch-io/scamwatch/internal/telemetry"
	"github.com/scamwatch-io/scamwatch/internal/verify/domain"
	"github.com/scamwatch-io/scamwatch/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	registry        *stream.Registry
	queue           *queuememory.Queue
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	reportStore     store.ReportRepository
	tracerShutdown  func(context.Context) error
	metricShutdown  func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Application.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies", zap.Int("port", cfg.Server.Port))

	tp, mp, err := telemetry.InitTelemetry(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	app.metricShutdown = mp.Shutdown

	clock := system.New()
	dedup := cache.New(cache.Config{
		TTL:     cfg.CacheTTL(),
		MaxSize: cfg.Cache.MaxSize,
	}, clock, sha256.New())

	app.registry = stream.NewRegistry(stream.Config{
		SubscriberBuffer: cfg.Stream.SubscriberBuffer,
		GracePeriod:      cfg.GracePeriod(),
		IdleTimeout:      cfg.IdleTimeout(),
		SweepInterval:    cfg.SweepInterval(),
		Logger:           logger.Named("stream"),
	}, clock)

	if err := setupDatabase(ctx, app); err != nil {
		return nil, err
	}

	notifier, err := setupNotifier(ctx, app)
	if err != nil {
		return nil, err
	}

	lookup := collylookup.New(collylookup.Config{
		UserAgent:    cfg.Lookup.UserAgent,
		Timeout:      time.Duration(cfg.Lookup.TimeoutSeconds) * time.Second,
		SnippetBytes: cfg.Lookup.SnippetBytes,
	})
	var policy scamcheck.Policy
	if cfg.RateLimit.Enabled {
		policy = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
		})
	}
	verifier := domain.New(domain.Config{})
	classifier := heuristic.New(clock)

	app.queue = queuememory.NewQueue(cfg.Analysis.QueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Analysis.Concurrency)
	for i := 0; i < cfg.Analysis.Concurrency; i++ {
		workers = append(workers, worker.New(
			app.queue, app.reportStore, dedup, app.registry,
			lookup, verifier, classifier, policy,
			notifier, clock,
			worker.Config{
				StepTimeout: cfg.StepTimeout(),
				MaxEvidence: cfg.Analysis.MaxEvidence,
			},
			logger.Named("worker"),
		))
	}
	app.dispatch = dispatcher.New(app.queue, workers)

	gw := gateway.New(app.registry, clock, gateway.Config{
		IdleTimeout: cfg.IdleTimeout(),
	}, logger.Named("gateway"))

	app.apiServer = api.NewServer(
		app.reportStore,
		app.dispatch,
		app.registry,
		gw,
		uuid.NewUUIDGenerator(),
		clock,
		*cfg,
		logger.Named("api"),
	)

	return app, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.registry != nil {
		if err := a.registry.Close(ctx); err != nil {
			a.logger.Warn("stream registry close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if pgRepo, ok := a.reportStore.(*pgstore.ReportStore); ok {
		pgRepo.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.metricShutdown != nil {
		if err := a.metricShutdown(ctx); err != nil {
			a.logger.Warn("metric shutdown failed", zap.Error(err))
		}
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Info("no database DSN configured, using in-memory report store")
		app.reportStore = memorystorage.NewReportStore()
		return nil
	}
	pg, err := pgstore.NewReportStore(ctx, pgstore.ReportStoreConfig{DSN: app.cfg.DB.DSN})
	if err != nil {
		return fmt.Errorf("report store init failed: %w", err)
	}
	app.reportStore = pg
	app.logger.Info("postgres report store initialized")
	return nil
}

func setupNotifier(ctx context.Context, app *App) (*worker.Notifier, error) {
	var publisher scamcheck.Publisher
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		publisher = memorypublisher.New()
	} else {
		client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubClient = client
		app.pubsubPublisher = client.Publisher(app.cfg.PubSub.TopicName)
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.TopicName),
		)
		publisher = gcppublisher.New(app.pubsubPublisher)
	}
	return worker.NewNotifier(
		publisher,
		app.registry,
		app.cfg.PubSub.TopicName,
		0,
		app.logger.Named("notifier"),
	), nil
}
