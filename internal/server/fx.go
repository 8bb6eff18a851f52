// Package server provides the application wiring and lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/analytics"
	"github.com/JakeFAU/academy-insight-crawler/internal/api"
	"github.com/JakeFAU/academy-insight-crawler/internal/clock/system"
	"github.com/JakeFAU/academy-insight-crawler/internal/config"
	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/academy-insight-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/academy-insight-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/academy-insight-crawler/internal/hash/sha256"
	"github.com/JakeFAU/academy-insight-crawler/internal/id/uuid"
	"github.com/JakeFAU/academy-insight-crawler/internal/ingest"
	"github.com/JakeFAU/academy-insight-crawler/internal/orchestrator"
	"github.com/JakeFAU/academy-insight-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/academy-insight-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/academy-insight-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/academy-insight-crawler/internal/scheduler"
	gcsstorage "github.com/JakeFAU/academy-insight-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/academy-insight-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/academy-insight-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/academy-insight-crawler/internal/storage/postgres"
	"github.com/JakeFAU/academy-insight-crawler/internal/strategy"
	"github.com/JakeFAU/academy-insight-crawler/internal/telemetry"
	"github.com/JakeFAU/academy-insight-crawler/internal/tracker"
)

// Version is reported as the service version on traces.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     crawler.Store
	manager   *orchestrator.Manager
	scheduler *scheduler.Scheduler
	analytics *analytics.Client
	apiServer *api.Server

	renderer       *headlessfetcher.Renderer
	gcsBlobs       *gcsstorage.BlobStore
	pubsub         *gcppublisher.Publisher
	tracerShutdown func(context.Context) error
	metricShutdown func(context.Context) error
}

// Build creates the application's dependencies. A store connection failure
// is fatal.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("snapshots", cfg.Snapshots.Provider),
		zap.Bool("crawl_enabled", cfg.Crawl.Enabled),
	)

	tp, mp, err := telemetry.InitTelemetry(ctx, telemetry.Settings{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		ProjectID:   cfg.Telemetry.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	app.metricShutdown = mp.Shutdown

	if err := app.setupStore(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	blobs, err := app.setupSnapshots(ctx)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := app.setupCrawl(blobs, publisher); err != nil {
		app.Close(ctx)
		return nil, err
	}

	app.analytics = analytics.New(cfg.Analytics.BaseURL,
		analytics.WithTimeout(time.Duration(cfg.Analytics.TimeoutSeconds)*time.Second),
		analytics.WithCache(gocache.New(gocache.NoExpiration, 2*time.Minute)),
		analytics.WithLogger(logger),
	)
	app.apiServer = api.NewServer(api.Deps{
		Scheduler: app.scheduler,
		Records:   app.store,
		Analytics: app.analytics,
		Location:  cfg.Location(),
	}, logger.Named("api"))
	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.DB.Driver {
	case "memory":
		a.logger.Warn("using in-memory store, data is lost on exit")
		a.store = memorystorage.NewStore()
		return nil
	default:
		store, err := pgstore.New(ctx, pgstore.Config{DSN: a.cfg.DB.DSN, MaxConns: a.cfg.DB.MaxConns})
		if err != nil {
			return fmt.Errorf("store init failed: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return fmt.Errorf("store migrate failed: %w", err)
		}
		a.store = store
		a.logger.Info("postgres store initialized")
		return nil
	}
}

func (a *App) setupSnapshots(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Snapshots.Provider {
	case "gcs":
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Snapshots.GCSBucket, Prefix: "snapshots"})
		if err != nil {
			return nil, fmt.Errorf("gcs snapshot store init failed: %w", err)
		}
		a.gcsBlobs = blobs
		a.logger.Info("snapshots go to GCS", zap.String("bucket", a.cfg.Snapshots.GCSBucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Snapshots.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local snapshot store init failed: %w", err)
		}
		a.logger.Info("snapshots go to local disk", zap.String("path", a.cfg.Snapshots.BaseDir))
		return blobs, nil
	default:
		a.logger.Debug("page snapshots disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.Topic == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(0, a.logger), nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return pub, nil
}

func (a *App) setupCrawl(blobs crawler.BlobStore, publisher crawler.Publisher) error {
	cfg := a.cfg
	clock := system.NewIn(cfg.Location())
	hasher := sha256.New()
	ids := uuid.New()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:  cfg.HTTP.UserAgent,
		Timeout:    cfg.HTTPTimeout(),
		MaxRetries: cfg.HTTP.MaxRetries,
	}, a.logger)
	var renderer crawler.Fetcher
	if cfg.Headless.Enabled {
		r, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			Mobile:            true,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("headless renderer init failed: %w", err)
		}
		a.renderer = r
		renderer = r
		a.logger.Info("headless DOM fallback enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	naverLimiter := ratelimit.New(ratelimit.Config{Interval: cfg.Naver.RequestDelay})
	galleryLimiter := ratelimit.New(ratelimit.Config{Interval: cfg.Gallery.RequestDelay})
	snapshots := strategy.NewSnapshotter(blobs, hasher, clock, a.logger)

	strategies := strategy.Set{
		API: strategy.NewCafeAPI(strategy.CafeAPIConfig{
			Endpoint:     cfg.Naver.APIURL,
			ClientID:     cfg.Naver.ClientID,
			ClientSecret: cfg.Naver.ClientSecret,
		}, fetcher, naverLimiter, clock, a.logger),
		Web: strategy.NewCafeWeb(strategy.CafeWebConfig{
			SearchURL: cfg.Naver.SearchURL,
			MobileURL: cfg.Naver.MobileURL,
		}, fetcher, renderer, naverLimiter, clock, snapshots, a.logger),
		Gallery: strategy.NewGallery(strategy.GalleryConfig{
			BaseURL:  cfg.Gallery.BaseURL,
			MaxPages: cfg.Gallery.MaxPages,
		}, fetcher, galleryLimiter, clock, snapshots, a.logger),
	}
	detector := strategy.NewDetector(strategy.DetectorConfig{
		BaseURL: cfg.Gallery.BaseURL,
		AltIDs:  cfg.Gallery.AltIDs,
	}, fetcher, galleryLimiter, a.store, clock, a.logger)

	deps := orchestrator.Deps{
		Store:      a.store,
		Strategies: strategies,
		Detector:   detector,
		Writer:     ingest.NewWriter(a.store, ids, hasher, a.logger),
		Tracker:    tracker.New(a.store, ids, clock, a.logger),
		Publisher:  publisher,
		Clock:      clock,
	}
	if cfg.Crawl.SampleFallback {
		deps.Samples = strategy.NewSamples(clock, uint64(time.Now().UnixNano()))
	}
	a.manager = orchestrator.New(orchestrator.Config{
		MaxResults:     cfg.Crawl.MaxResults,
		Lookback:       cfg.Lookback(),
		Concurrency:    cfg.Crawl.Concurrency,
		SampleFallback: cfg.Crawl.SampleFallback,
		StaleJobAfter:  cfg.Crawl.StaleJobAfter,
	}, deps, a.logger)

	sched, err := scheduler.New(scheduler.Config{
		Enabled:  cfg.Crawl.Enabled,
		Schedule: cfg.Crawl.Schedule,
		Location: cfg.Location(),
	}, config.CronParser(), a.manager, clock, a.logger)
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}
	a.scheduler = sched
	return nil
}

// Manager exposes the orchestrator for one-shot commands.
func (a *App) Manager() *orchestrator.Manager {
	return a.manager
}

// Store exposes the durable store for one-shot commands.
func (a *App) Store() crawler.Store {
	return a.store
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Location returns the zone crawl windows are computed in.
func (a *App) Location() *time.Location {
	return a.cfg.Location()
}

// Handler exposes the API router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the scheduler and HTTP server and blocks until ctx is canceled
// or the process receives SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.scheduler.Start()
	if next := a.scheduler.Next(); !next.IsZero() {
		a.logger.Info("next scheduled sweep", zap.Time("at", next))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
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
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop timed out, in-flight jobs stay running", zap.Error(err))
	}
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every external resource. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	if a.gcsBlobs != nil {
		if err := a.gcsBlobs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
}

func (a *App) closeObservability(ctx context.Context) {
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
	_ = a.logger.Sync()
}
