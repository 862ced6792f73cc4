// Package server builds the collector's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/AparnaKarve/aiops-data-collector/internal/api"
	"github.com/AparnaKarve/aiops-data-collector/internal/clock/system"
	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
	"github.com/AparnaKarve/aiops-data-collector/internal/config"
	"github.com/AparnaKarve/aiops-data-collector/internal/dispatcher"
	"github.com/AparnaKarve/aiops-data-collector/internal/download"
	"github.com/AparnaKarve/aiops-data-collector/internal/hash/sha256"
	"github.com/AparnaKarve/aiops-data-collector/internal/id/uuid"
	"github.com/AparnaKarve/aiops-data-collector/internal/inventory"
	"github.com/AparnaKarve/aiops-data-collector/internal/logging"
	"github.com/AparnaKarve/aiops-data-collector/internal/metrics"
	"github.com/AparnaKarve/aiops-data-collector/internal/paginate"
	"github.com/AparnaKarve/aiops-data-collector/internal/parser/jsonfile"
	"github.com/AparnaKarve/aiops-data-collector/internal/policy/ratelimit"
	memorypublisher "github.com/AparnaKarve/aiops-data-collector/internal/publisher/memory"
	gcppublisher "github.com/AparnaKarve/aiops-data-collector/internal/publisher/pubsub"
	queueMemory "github.com/AparnaKarve/aiops-data-collector/internal/queue/memory"
	"github.com/AparnaKarve/aiops-data-collector/internal/relay"
	gcsstorage "github.com/AparnaKarve/aiops-data-collector/internal/storage/gcs"
	localstorage "github.com/AparnaKarve/aiops-data-collector/internal/storage/local"
	memoryStorage "github.com/AparnaKarve/aiops-data-collector/internal/storage/memory"
	pgstore "github.com/AparnaKarve/aiops-data-collector/internal/storage/postgres"
	s3storage "github.com/AparnaKarve/aiops-data-collector/internal/storage/s3"
	"github.com/AparnaKarve/aiops-data-collector/internal/telemetry"
	"github.com/AparnaKarve/aiops-data-collector/internal/tenant"
	"github.com/AparnaKarve/aiops-data-collector/internal/transport"
	"github.com/AparnaKarve/aiops-data-collector/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	metrics        *metrics.Prometheus
	apiServer      *api.Server
	dispatch       *dispatcher.Dispatcher
	executor       *worker.Worker
	queue          *queueMemory.Queue
	ids            collector.IDGenerator
	clock          collector.Clock
	gcsArchive     *gcsstorage.BlobStore
	pubsub         *gcppublisher.Publisher
	ledger         *pgstore.OutcomeStore
	outcomes       collector.OutcomeStore
	readiness      []api.ReadinessCheck
	tracerShutdown telemetry.ShutdownFunc
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewPrometheus(),
		ids:     uuid.New(),
		clock:   system.New(),
	}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("strategy", cfg.Collector.Strategy),
		zap.Int("concurrency", cfg.Jobs.Concurrency),
		zap.Int("queue_depth", cfg.Jobs.QueueDepth),
	)

	app.tracerShutdown, err = telemetry.Setup(ctx, cfg.Telemetry.Enabled, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	client := setupTransport(app)

	archive, err := setupArchive(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	ledger, err := setupLedger(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	stages, err := setupStages(app, client)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	stages.Archive = archive
	stages.Ledger = ledger
	app.outcomes = ledger
	stages.Publisher = publisher
	stages.Clock = app.clock

	app.queue = queueMemory.NewQueue(cfg.Jobs.QueueDepth)
	app.dispatch = setupDispatcher(app, stages)

	app.apiServer = api.NewServer(
		app.dispatch,
		app.metrics,
		app.metrics,
		cfg,
		logger.Named("api"),
		app.readiness...,
	)
	return app, nil
}

func setupTransport(app *App) *transport.Client {
	var limiter transport.Limiter
	if app.cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   app.cfg.RateLimit.DefaultRPS,
			DefaultBurst: app.cfg.RateLimit.DefaultBurst,
		}, app.logger.Named("ratelimit"))
		app.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", app.cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", app.cfg.RateLimit.DefaultBurst),
		)
	}
	return transport.New(transport.Config{
		Attempts:  app.cfg.Transport.Attempts,
		Timeout:   app.cfg.TransportTimeout(),
		UserAgent: app.cfg.Transport.UserAgent,
	}, limiter, app.metrics, app.logger.Named("transport"))
}

func setupArchive(ctx context.Context, app *App) (collector.BlobStore, error) {
	cfg := app.cfg.Archive
	switch cfg.Backend {
	case config.ArchiveGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		app.gcsArchive = store
		app.logger.Info("using GCS archive", zap.String("bucket", cfg.Bucket))
		return store, nil
	case config.ArchiveS3:
		store, err := s3storage.New(s3storage.Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
			Bucket:    cfg.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 archive init failed: %w", err)
		}
		app.readiness = append(app.readiness, store.Ping)
		app.logger.Info("using S3 archive", zap.String("endpoint", cfg.S3.Endpoint), zap.String("bucket", cfg.Bucket))
		return store, nil
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		app.logger.Info("using local archive", zap.String("path", cfg.LocalDir))
		return store, nil
	case config.ArchiveMemory:
		app.logger.Info("using in-memory archive")
		return memoryStorage.NewBlobStore(), nil
	default:
		app.logger.Info("payload archive disabled")
		return nil, nil
	}
}

func setupLedger(ctx context.Context, app *App) (collector.OutcomeStore, error) {
	if app.cfg.Database.Backend == config.LedgerMemory {
		app.logger.Info("using in-memory outcome ledger")
		return memoryStorage.NewOutcomeStore(), nil
	}
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("no DSN specified for database, outcome ledger disabled")
		return nil, nil
	}
	store, err := pgstore.NewOutcomeStore(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		Table:           app.cfg.Database.OutcomeTable,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("outcome ledger init failed: %w", err)
	}
	app.ledger = store
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("outcome ledger schema: %w", err)
	}
	app.readiness = append(app.readiness, store.Ping)
	app.logger.Info("outcome ledger initialized", zap.String("table", app.cfg.Database.OutcomeTable))
	return store, nil
}

func setupPublisher(ctx context.Context, app *App) (collector.Publisher, error) {
	if app.cfg.PubSub.Topic == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Open(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubsub = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.Topic),
	)
	return pub, nil
}

func setupStages(app *App, client *transport.Client) (worker.Stages, error) {
	stages := worker.Stages{
		Download: download.New(client, jsonfile.New(), download.Config{
			TempDir:   app.cfg.Download.TempDir,
			ChunkSize: app.cfg.Download.ChunkSize,
		}, app.logger.Named("download")),
		Forwarder: relay.New(client, app.metrics, app.logger.Named("relay")),
		Hasher:    sha256.New(),
	}
	if collector.Strategy(app.cfg.Collector.Strategy) != collector.StrategyInventory {
		return stages, nil
	}

	inv := app.cfg.Inventory
	graph, err := inventory.LoadGraph(inv.EntitiesFile, inv.AppName)
	if err != nil {
		return worker.Stages{}, fmt.Errorf("entity graph init failed: %w", err)
	}
	pages := paginate.New(client, inv.Host, app.logger.Named("paginate"))
	stages.Inventory = inventory.NewFetcher(pages, inv.BaseURL(), app.logger.Named("inventory"))
	stages.Graph = graph
	app.logger.Info("inventory strategy configured",
		zap.String("base_url", inv.BaseURL()),
		zap.Strings("entities", graph.Names()),
		zap.Bool("all_tenants", inv.AllTenants),
	)
	if inv.AllTenants {
		stages.Tenants = tenant.New(client, inv.TenantsURL, app.logger.Named("tenant"))
	}
	return stages, nil
}

func setupDispatcher(app *App, stages worker.Stages) *dispatcher.Dispatcher {
	workerCfg := worker.Config{
		Strategy:      collector.Strategy(app.cfg.Collector.Strategy),
		AllTenants:    app.cfg.Inventory.AllTenants,
		Destination:   app.cfg.Relay.Destination,
		JobTimeout:    app.cfg.JobTimeout(),
		ArchivePrefix: app.cfg.Archive.Prefix,
		Topic:         app.cfg.PubSub.Topic,
	}
	app.logger.Info("worker config",
		zap.String("strategy", string(workerCfg.Strategy)),
		zap.String("destination", workerCfg.Destination),
		zap.String("archive_prefix", workerCfg.ArchivePrefix),
		zap.String("topic", workerCfg.Topic),
		zap.Duration("job_timeout", workerCfg.JobTimeout),
	)

	workers := make([]dispatcher.Runner, 0, app.cfg.Jobs.Concurrency)
	for i := 0; i < app.cfg.Jobs.Concurrency; i++ {
		w := worker.New(
			app.queue,
			stages,
			workerCfg,
			app.metrics,
			app.logger.Named("worker").With(zap.Int("index", i)),
		)
		if app.executor == nil {
			app.executor = w
		}
		workers = append(workers, w)
	}
	return dispatcher.New(
		app.queue,
		workers,
		app.ids,
		app.clock,
		dispatcher.Config{AdmissionTimeout: app.cfg.AdmissionTimeout()},
		app.metrics,
		app.logger.Named("dispatcher"),
	)
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Execute runs one job synchronously, outside the queue, and returns its
// outcome. A missing job ID is assigned.
func (a *App) Execute(ctx context.Context, job collector.JobRequest) (collector.JobRequest, collector.Outcome, error) {
	if job.JobID == "" {
		id, err := a.ids.NewID()
		if err != nil {
			return job, collector.Outcome{}, fmt.Errorf("assign job id: %w", err)
		}
		job.JobID = id
	}
	job.Submitted = a.clock.Now()
	if timeout := a.cfg.JobTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return job, a.executor.Execute(ctx, job), nil
}

// Run starts the workers and HTTP server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatched:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers still running at shutdown deadline")
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsArchive != nil {
		if err := a.gcsArchive.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.ledger != nil {
		a.ledger.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
