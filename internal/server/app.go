// Package server wires the screenshot service together and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/screenshot-service/internal/adblock"
	"github.com/JakeFAU/screenshot-service/internal/api"
	"github.com/JakeFAU/screenshot-service/internal/browser"
	"github.com/JakeFAU/screenshot-service/internal/capture"
	"github.com/JakeFAU/screenshot-service/internal/clock/system"
	"github.com/JakeFAU/screenshot-service/internal/config"
	"github.com/JakeFAU/screenshot-service/internal/dispatcher"
	"github.com/JakeFAU/screenshot-service/internal/hash/sha256"
	"github.com/JakeFAU/screenshot-service/internal/id/uuid"
	"github.com/JakeFAU/screenshot-service/internal/logging"
	"github.com/JakeFAU/screenshot-service/internal/metrics"
	"github.com/JakeFAU/screenshot-service/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/screenshot-service/internal/publisher/pubsub"
	"github.com/JakeFAU/screenshot-service/internal/screenshot"
	gcsstorage "github.com/JakeFAU/screenshot-service/internal/storage/gcs"
	localstorage "github.com/JakeFAU/screenshot-service/internal/storage/local"
	memoryStorage "github.com/JakeFAU/screenshot-service/internal/storage/memory"
	pgstore "github.com/JakeFAU/screenshot-service/internal/storage/postgres"
	"github.com/JakeFAU/screenshot-service/internal/telemetry"
	"github.com/JakeFAU/screenshot-service/internal/worker"
)

const (
	shutdownTimeout = 30 * time.Second
	sampleInterval  = 5 * time.Second
)

// Option overrides a dependency Build would otherwise construct.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	launcher  screenshot.Launcher
	publisher screenshot.Publisher
	topic     string
}

// WithLogger replaces the configured zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLauncher replaces the chromedp launcher.
func WithLauncher(l screenshot.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// WithPublisher publishes capture events to p on topic instead of Pub/Sub.
func WithPublisher(p screenshot.Publisher, topic string) Option {
	return func(o *options) {
		o.publisher = p
		o.topic = topic
	}
}

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	pool      *browser.Pool
	records   screenshot.RecordStore
	limiter   *ratelimit.Memory

	tracer       *sdktrace.TracerProvider
	storage      *storage.Client
	pgStore      *pgstore.Store
	pubsub       *gcppublisher.Publisher
	redisClient  *redis.Client
	closeStarted bool
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Options{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
		})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies", zap.Int("server_port", cfg.Server.Port))

	if err := app.build(ctx, o); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = app.Close(closeCtx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, o options) error {
	cfg := a.cfg
	var err error

	a.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}

	clock := system.New()
	launcher := o.launcher
	if launcher == nil {
		launcher = browser.NewChromedp(browser.LauncherConfig{
			ExecPath:  cfg.Browser.ExecPath,
			Headless:  cfg.Browser.Headless,
			NoSandbox: cfg.Browser.NoSandbox,
		}, a.logger.Named("chrome"))
	}
	a.pool, err = browser.NewPool(launcher, clock, browser.Config{
		MaxSize:        cfg.Browser.PoolSize,
		IdleTimeout:    cfg.Browser.IdleTimeout,
		ReapInterval:   cfg.Browser.ReapInterval,
		AcquireTimeout: cfg.Browser.AcquireTimeout,
		LaunchTimeout:  cfg.Browser.LaunchTimeout,
	}, a.logger.Named("browser_pool"))
	if err != nil {
		return fmt.Errorf("browser pool init failed: %w", err)
	}

	blocklist := adblock.New(adblock.DefaultDomains, cfg.Capture.AdblockDomains)
	capturer, err := capture.New(a.pool, capture.Config{
		ScreenshotTimeout: cfg.Capture.ScreenshotTimeout,
		BlockPatterns:     blocklist.URLPatterns(),
	}, a.logger.Named("capture"))
	if err != nil {
		return fmt.Errorf("capturer init failed: %w", err)
	}
	a.logger.Debug("adblock list loaded", zap.Int("domains", blocklist.Len()))

	blobStore, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	if err := a.setupRecords(ctx); err != nil {
		return err
	}
	publisher, topic, err := a.setupPublisher(ctx, o)
	if err != nil {
		return err
	}

	w := worker.New(capturer, blobStore, a.records, publisher, sha256.New(), clock, worker.Config{
		OutputDir:  cfg.Capture.OutputDir,
		BlobPrefix: cfg.Storage.Prefix,
		Topic:      topic,
	}, a.logger.Named("worker"))

	monitor := metrics.NewMonitor(cfg.Metrics.HistorySize, cfg.Metrics.SlowThreshold, clock, a.logger.Named("performance"))
	fullPage := cfg.Capture.FullPage
	a.dispatch, err = dispatcher.New(w, uuid.New(), metrics.NewRecorder(monitor), clock, dispatcher.Config{
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		Limits:        cfg.Limits(),
		Defaults: dispatcher.Defaults{
			Resolution:        screenshot.Resolution(cfg.Capture.DefaultResolution),
			WaitUntil:         screenshot.WaitCondition(cfg.Capture.WaitUntil),
			NavigationTimeout: cfg.Capture.NavigationTimeout,
			FullPage:          &fullPage,
		},
	}, a.logger.Named("dispatcher"))
	if err != nil {
		return fmt.Errorf("dispatcher init failed: %w", err)
	}

	limiter, err := a.setupRateLimit(ctx)
	if err != nil {
		return err
	}

	a.apiServer = api.NewServer(api.Deps{
		Dispatcher: a.dispatch,
		Records:    a.records,
		Pool:       a.pool,
		Monitor:    monitor,
		Limiter:    limiter,
		Logger:     a.logger.Named("api"),
	}, *cfg)
	return nil
}

func (a *App) setupStorage(ctx context.Context) (screenshot.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:       a.cfg.Storage.Bucket,
			CacheControl: a.cfg.Storage.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case config.StorageLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.BaseDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	case config.StorageMemory:
		a.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	default:
		a.logger.Info("artifact mirroring disabled")
		return nil, nil
	}
}

func (a *App) setupRecords(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no DSN specified for database, keeping screenshot records in memory")
		a.records = memoryStorage.NewRecordStore()
		return nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		Table:           a.cfg.Database.Table,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("screenshot store init failed: %w", err)
	}
	a.pgStore = store
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("screenshot store schema failed: %w", err)
	}
	a.records = store
	a.logger.Info("screenshot store initialized", zap.String("table", a.cfg.Database.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context, o options) (screenshot.Publisher, string, error) {
	if o.publisher != nil {
		return o.publisher, o.topic, nil
	}
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, capture events are not published")
		return nil, "", nil
	}
	pub, err := gcppublisher.Dial(ctx, gcppublisher.Config{
		ProjectID: a.cfg.PubSub.ProjectID,
		Topic:     a.cfg.PubSub.TopicName,
	})
	if err != nil {
		return nil, "", fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, a.cfg.PubSub.TopicName, nil
}

func (a *App) setupRateLimit(ctx context.Context) (ratelimit.Limiter, error) {
	rl := a.cfg.RateLimit
	if !rl.Enabled {
		a.logger.Info("rate limiting disabled")
		return nil, nil
	}
	limitCfg := ratelimit.Config{Max: rl.Max, Window: rl.Window, IdleTTL: rl.IdleTTL}
	if rl.Backend == config.RateLimitRedis {
		client, err := ratelimit.NewRedisClient(ctx, rl.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis rate limiter init failed: %w", err)
		}
		a.redisClient = client
		a.logger.Info("using redis rate limiter", zap.Int("max", rl.Max), zap.Duration("window", rl.Window))
		return ratelimit.NewRedis(client, limitCfg), nil
	}
	a.limiter = ratelimit.NewMemory(limitCfg)
	a.logger.Info("using in-memory rate limiter", zap.Int("max", rl.Max), zap.Duration("window", rl.Window))
	return a.limiter, nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Capture runs one request through the dispatcher and waits for it.
func (a *App) Capture(ctx context.Context, req screenshot.Request) (screenshot.Record, error) {
	return a.dispatch.Capture(ctx, req, 0)
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.sampleGauges(gctx)
		return nil
	})
	if a.limiter != nil {
		a.limiter.StartJanitor(gctx, a.cfg.RateLimit.Window)
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		a.apiServer.BeginShutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	runErr := g.Wait()
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) sampleGauges(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		a.sample()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) sample() {
	ps := a.pool.Stats()
	metrics.ObservePool(ps.Total, ps.InUse, ps.Available)
	qs := a.dispatch.Stats()
	metrics.ObserveQueue(qs.Queued, qs.Processing)
}

// Close shuts down in dependency order: queued jobs are cancelled and running
// ones drained, then browsers are closed, then stores and clients.
func (a *App) Close(ctx context.Context) error {
	if a.closeStarted {
		return nil
	}
	a.closeStarted = true

	var errs []error
	if a.apiServer != nil {
		a.apiServer.BeginShutdown()
	}
	if a.dispatch != nil {
		cleared, err := a.dispatch.Shutdown(ctx)
		a.logger.Info("job queue drained", zap.Int("cancelled", cleared))
		if err != nil {
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		if err := a.pool.CloseAll(ctx); err != nil {
			a.logger.Warn("browser pool close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closeInfrastructure()
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure() {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
}
