// Package server builds the long-running archiver service and owns its
// shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/recurse-archiver/internal/api"
	"github.com/JakeFAU/recurse-archiver/internal/clock/system"
	"github.com/JakeFAU/recurse-archiver/internal/config"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/dispatcher"
	"github.com/JakeFAU/recurse-archiver/internal/export"
	"github.com/JakeFAU/recurse-archiver/internal/id/uuid"
	"github.com/JakeFAU/recurse-archiver/internal/jobs"
	"github.com/JakeFAU/recurse-archiver/internal/metrics"
	"github.com/JakeFAU/recurse-archiver/internal/progress"
	progresssinks "github.com/JakeFAU/recurse-archiver/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/recurse-archiver/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/recurse-archiver/internal/queue/memory"
	"github.com/JakeFAU/recurse-archiver/internal/storage/gcs"
	memoryStorage "github.com/JakeFAU/recurse-archiver/internal/storage/memory"
	pgstore "github.com/JakeFAU/recurse-archiver/internal/storage/postgres"
	"github.com/JakeFAU/recurse-archiver/internal/storage/sqlite"
	"github.com/JakeFAU/recurse-archiver/internal/telemetry"
	"github.com/JakeFAU/recurse-archiver/internal/worker"
)

// Version is reported as the service version on traces.
var Version = "dev"

const shutdownTimeout = 30 * time.Second

// App contains the service dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	apiServer   *api.Server
	registry    *jobs.Registry
	dispatch    *dispatcher.Dispatcher
	queue       *queueMemory.Queue
	progressHub *progress.Hub
	driver      *Driver

	jobStore        crawler.JobStore
	pgStore         *pgstore.JobStore
	history         *sqlite.Store
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	gcsClient       *storage.Client
	tracer          *sdktrace.TracerProvider

	registerer prometheus.Registerer
}

// Option configures Build.
type Option func(*App)

// WithRegisterer overrides where the progress metrics are registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) {
		if reg != nil {
			a.registerer = reg
		}
	}
}

// Build creates the application's dependencies. On error everything created
// so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.WithoutCancel(ctx))
			app = nil
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("driver", cfg.Capture.Driver),
		zap.Int("workers", cfg.Jobs.Workers),
	)
	metrics.Init()

	if err = app.setupTelemetry(ctx); err != nil {
		return app, err
	}
	if err = app.setupJobStore(ctx); err != nil {
		return app, err
	}
	if err = app.setupHistory(); err != nil {
		return app, err
	}
	if err = app.setupPublisher(ctx); err != nil {
		return app, err
	}
	if err = app.setupProgress(); err != nil {
		return app, err
	}
	if err = app.setupGCS(ctx); err != nil {
		return app, err
	}
	app.driver, err = NewDriver(cfg.Capture, time.Duration(cfg.Archive.TimeoutMs)*time.Millisecond, logger)
	if err != nil {
		return app, err
	}
	if err = app.setupJobs(); err != nil {
		return app, err
	}

	app.apiServer = api.NewServer(app.registry, cfg, logger,
		api.WithHistory(api.NewHistoryHandler(app.history, logger.Named("history"))),
		api.WithReadiness(app.ready),
	)
	return app, nil
}

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and drains jobs until ctx is canceled or a termination
// signal arrives, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Jobs.Workers))
		a.dispatch.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Close releases every dependency. Jobs still queued are dropped.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.driver != nil {
		a.driver.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("history store close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

func (a *App) ready(ctx context.Context) error {
	if a.history == nil {
		return nil
	}
	if err := a.history.Ping(ctx); err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	return nil
}

func (a *App) setupTelemetry(ctx context.Context) error {
	if !a.cfg.Telemetry.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Telemetry.ServiceName, Version, a.cfg.Telemetry.SampleRatio)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracer = tp
	a.logger.Info("tracing enabled", zap.Float64("sample_ratio", a.cfg.Telemetry.SampleRatio))
	return nil
}

func (a *App) setupJobStore(ctx context.Context) error {
	if a.cfg.Storage.PostgresDSN == "" {
		a.logger.Info("using in-memory job store")
		a.jobStore = memoryStorage.NewJobStore()
		return nil
	}
	store, err := pgstore.NewJobStore(ctx, pgstore.Config{
		DSN:   a.cfg.Storage.PostgresDSN,
		Table: a.cfg.Storage.PostgresTable,
	})
	if err != nil {
		return fmt.Errorf("job store init failed: %w", err)
	}
	a.pgStore = store
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("job store schema: %w", err)
	}
	a.jobStore = store
	a.logger.Info("using postgres job store", zap.String("table", a.cfg.Storage.PostgresTable))
	return nil
}

func (a *App) setupHistory() error {
	path := a.cfg.Storage.SQLitePath
	if path == "" {
		path = config.DefaultSQLitePath()
	}
	store, err := sqlite.Open(path, sqlite.DefaultOptions())
	if err != nil {
		return fmt.Errorf("history store init failed: %w", err)
	}
	a.history = store
	a.logger.Info("crawl history store opened", zap.String("path", path))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.Topic == "" {
		a.logger.Info("no Pub/Sub topic configured, job events are not published")
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return nil
}

func (a *App) setupProgress() error {
	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		progresssinks.NewJobStoreSink(a.jobStore, a.logger.Named("progress_store")),
	}
	if a.pubsubPublisher != nil {
		sinkList = append(sinkList,
			progresssinks.NewPublishSink(a.pubsubPublisher, a.cfg.PubSub.Topic, a.logger.Named("progress_publish")))
	}
	a.progressHub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")}, sinkList...)
	a.logger.Info("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}

func (a *App) setupGCS(ctx context.Context) error {
	if !strings.HasPrefix(a.cfg.Export.OutputDir, gcs.Scheme+"://") {
		return nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("gcs client init failed: %w", err)
	}
	a.gcsClient = client
	a.logger.Info("exporting archives to GCS", zap.String("output_dir", a.cfg.Export.OutputDir))
	return nil
}

func (a *App) setupJobs() error {
	clock := system.New()
	a.queue = queueMemory.NewQueue(a.cfg.Jobs.QueueDepth)

	exporter := export.New(
		export.WithLogger(a.logger.Named("export")),
		export.WithClock(clock),
		export.WithGCSClient(a.gcsClient),
	)
	registry, err := jobs.New(a.jobStore, a.queue, a.driver,
		jobs.WithEmitter(a.progressHub),
		jobs.WithRepository(a.history),
		jobs.WithExporter(exporter),
		jobs.WithIDGenerator(uuid.New()),
		jobs.WithClock(clock),
		jobs.WithOutputDir(a.cfg.Export.OutputDir),
		jobs.WithRateLimiter(AssetLimiter(a.cfg.Capture)),
		jobs.WithLogger(a.logger.Named("jobs")),
	)
	if err != nil {
		return fmt.Errorf("job registry init failed: %w", err)
	}
	a.registry = registry

	workerCfg := worker.Config{
		MaxAttempts:  a.cfg.Jobs.MaxAttempts,
		RetryBackoff: a.cfg.RetryBackoff(),
	}
	workers := make([]*worker.Worker, 0, a.cfg.Jobs.Workers)
	for i := 0; i < a.cfg.Jobs.Workers; i++ {
		workers = append(workers, worker.New(
			a.queue,
			a.jobStore,
			registry,
			clock,
			workerCfg,
			a.logger.With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, workers)
	return nil
}
