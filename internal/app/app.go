// Package app builds the long-lived services of a scrape from configuration
// and tears them down afterwards.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/bigquery"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/api"
	"github.com/JakeFAU/dossier-crawler/internal/basedosdados"
	"github.com/JakeFAU/dossier-crawler/internal/clock"
	"github.com/JakeFAU/dossier-crawler/internal/config"
	"github.com/JakeFAU/dossier-crawler/internal/crawler"
	"github.com/JakeFAU/dossier-crawler/internal/database"
	"github.com/JakeFAU/dossier-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/dossier-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/dossier-crawler/internal/fetcher/fallback"
	"github.com/JakeFAU/dossier-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/dossier-crawler/internal/fetcher/retrying"
	"github.com/JakeFAU/dossier-crawler/internal/hash/sha256"
	"github.com/JakeFAU/dossier-crawler/internal/headless/detector"
	"github.com/JakeFAU/dossier-crawler/internal/id/uuid"
	"github.com/JakeFAU/dossier-crawler/internal/metrics"
	"github.com/JakeFAU/dossier-crawler/internal/pipeline"
	"github.com/JakeFAU/dossier-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/dossier-crawler/internal/progress"
	"github.com/JakeFAU/dossier-crawler/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/dossier-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/dossier-crawler/internal/storage"
	"github.com/JakeFAU/dossier-crawler/internal/storage/backend"
	"github.com/JakeFAU/dossier-crawler/internal/storage/memory"
	"github.com/JakeFAU/dossier-crawler/internal/store"
	"github.com/JakeFAU/dossier-crawler/internal/worker"
)

// Options carries the per-invocation inputs that are not configuration.
type Options struct {
	Destination string
	// Memory backs memory:// destinations; a fresh store is used when nil.
	Memory *memory.BlobStore
	// Registerer receives the progress gauges. Defaults to the global
	// Prometheus registerer.
	Registerer prometheus.Registerer
}

// App holds the services of one scrape.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string
	dest   storage.Location

	blobs        storage.BlobStore
	releaseBlobs func() error
	store        *store.Store
	mirror       *database.Mirror
	publisher    crawler.Publisher
	pubsub       *gcppublisher.Publisher
	bq           *bigquery.Client
	fetchers     []*retrying.Fetcher
	browser      *headless.Factory
	tracker      *progress.Tracker
	runner       *pipeline.Runner

	closeOnce sync.Once
}

// Build creates the application's dependencies. On error every service
// created so far is released.
func Build(ctx context.Context, cfg config.Config, opts Options, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	runID, err := uuid.NewGenerator().NewID()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	dest, err := storage.ParseLocation(opts.Destination)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	a := &App{
		cfg:    cfg,
		logger: logger.With(zap.String("run_id", runID)),
		runID:  runID,
		dest:   dest,
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.logger.Info("building application dependencies",
		zap.String("destination", dest.String()),
		zap.String("preset", cfg.Preset),
		zap.Int("workers", cfg.Scheduler.Workers),
	)
	if err := a.setupStorage(ctx, opts.Memory); err != nil {
		return nil, err
	}
	if err := a.setupDatabase(ctx); err != nil {
		return nil, err
	}
	if err := a.setupStore(); err != nil {
		return nil, err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return nil, err
	}
	fetcher, err := a.setupFetcher()
	if err != nil {
		return nil, err
	}
	extractor, err := extract.NewPortal(cfg.Source.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("extractor init failed: %w", err)
	}
	if err := a.setupProgress(opts.Registerer); err != nil {
		return nil, err
	}

	clk := clock.NewSystem()
	w := worker.New(fetcher, extractor, sha256.New(), clk, worker.Config{
		URLTemplate: cfg.Source.URLTemplate,
	}, a.logger)
	a.runner = pipeline.New(pipeline.Config{
		RunID:   runID,
		Workers: cfg.Scheduler.Workers,
		Topic:   cfg.PubSub.Topic,
	}, w.Process, a.store, a.tracker, a.publisher, clk, a.logger)
	if err := a.setupPreSource(ctx, clk); err != nil {
		return nil, err
	}
	return a, nil
}

// RunID identifies this scrape in logs, checkpoints and notifications.
func (a *App) RunID() string {
	return a.runID
}

// Store exposes the incremental store.
func (a *App) Store() *store.Store {
	return a.store
}

// Tracker exposes the progress tracker.
func (a *App) Tracker() *progress.Tracker {
	return a.tracker
}

// Run serves the status endpoints when configured and runs the pipeline.
func (a *App) Run(ctx context.Context, identifiers []string) (pipeline.Summary, error) {
	serverCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	if a.cfg.Server.Addr != "" {
		srv := api.NewServer(a.tracker, api.RunInfo{
			RunID:       a.runID,
			Destination: a.dest.String(),
			Identifiers: len(identifiers),
			Workers:     a.cfg.Scheduler.Workers,
			StartedAt:   clock.NewSystem().Now(),
		}, a.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(serverCtx, a.cfg.Server.Addr); err != nil {
				a.logger.Error("status server failed", zap.Error(err))
			}
		}()
	}

	summary, err := a.runner.Run(ctx, identifiers)
	stopServer()
	wg.Wait()
	return summary, err
}

// Close releases every service. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		for _, f := range a.fetchers {
			f.Close()
		}
		if a.browser != nil {
			a.browser.Close()
		}
		if a.pubsub != nil {
			if err := a.pubsub.Close(); err != nil {
				a.logger.Warn("pubsub close failed", zap.Error(err))
			}
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				a.logger.Warn("store close failed", zap.Error(err))
			}
		}
		if a.bq != nil {
			if err := a.bq.Close(); err != nil {
				a.logger.Warn("bigquery close failed", zap.Error(err))
			}
		}
		if a.mirror != nil {
			a.mirror.Close()
		}
		if a.releaseBlobs != nil {
			if err := a.releaseBlobs(); err != nil {
				a.logger.Warn("storage client close failed", zap.Error(err))
			}
		}
		if err := a.logger.Sync(); err != nil {
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
	})
}

func (a *App) setupStorage(ctx context.Context, mem *memory.BlobStore) error {
	blobs, release, err := backend.Open(ctx, a.dest, backend.Options{
		S3Region:   a.cfg.Storage.S3Region,
		S3Endpoint: a.cfg.Storage.S3Endpoint,
		Memory:     mem,
	})
	if err != nil {
		return fmt.Errorf("storage init failed: %w", err)
	}
	a.blobs, a.releaseBlobs = blobs, release
	a.logger.Info("storage backend ready", zap.String("scheme", string(a.dest.Scheme)))
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Debug("no database DSN configured, postgres mirror disabled")
		return nil
	}
	mirror, err := database.New(ctx, database.Config{
		DSN:   a.cfg.Database.DSN,
		Table: a.cfg.Database.Table,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("postgres mirror init failed: %w", err)
	}
	a.mirror = mirror
	a.logger.Info("postgres mirror initialized", zap.String("table", a.cfg.Database.Table))
	return nil
}

func (a *App) setupStore() error {
	policy, err := store.ParseMergePolicy(a.cfg.Store.MergePolicy)
	if err != nil {
		return err
	}
	var mirror store.Mirror
	if a.mirror != nil {
		mirror = a.mirror
	}
	a.store, err = store.New(store.Config{
		Destination:        a.dest,
		BatchSize:          a.cfg.Store.BatchSize,
		CheckpointInterval: a.cfg.Store.CheckpointInterval,
		MergePolicy:        policy,
		TempDir:            a.cfg.Store.TempDir,
		RunID:              a.runID,
	}, a.blobs, mirror, clock.NewSystem(), a.logger)
	if err != nil {
		return fmt.Errorf("store init failed: %w", err)
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.Topic == "" {
		a.logger.Debug("no Pub/Sub topic configured, run summary will not be published")
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsub, a.publisher = pub, pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return nil
}

// setupFetcher composes the fetch path: a retrying HTTP fetcher, a retrying
// headless fetcher, or HTTP with a headless fallback. All of them share one
// rate limiter.
func (a *App) setupPreSource(ctx context.Context, clk crawler.Clock) error {
	cfg := a.cfg.BaseDosDados
	if !cfg.Enabled {
		return nil
	}
	client, err := basedosdados.Dial(ctx, cfg.ProjectID)
	if err != nil {
		return err
	}
	a.bq = client
	src, err := basedosdados.New(basedosdados.Config{
		Table:     cfg.Table,
		IDColumn:  cfg.IDColumn,
		ChunkSize: cfg.ChunkSize,
	}, basedosdados.ClientQuerier{Client: client}, clk, a.logger)
	if err != nil {
		return fmt.Errorf("basedosdados init failed: %w", err)
	}
	a.runner.UsePreSource(src)
	a.logger.Info("base dos dados lookup enabled", zap.String("table", cfg.Table))
	return nil
}

func (a *App) setupFetcher() (crawler.Fetcher, error) {
	limiter := ratelimit.New(ratelimit.Config{Delay: a.cfg.HTTP.RateLimitDelay})
	retryCfg := retrying.Config{
		MaxRetries:     a.cfg.HTTP.MaxRetries,
		RequestTimeout: a.cfg.HTTP.RequestTimeout,
		BackoffBase:    a.cfg.HTTP.BackoffBase,
		BackoffMax:     a.cfg.HTTP.BackoffMax,
	}
	clk := clock.NewSystem()

	var proxies []string
	if a.cfg.HTTP.UseProxies {
		proxies = a.cfg.HTTP.ProxyList
	}
	httpFactory := collyfetcher.NewFactory(collyfetcher.Config{
		UserAgent:       a.cfg.HTTP.UserAgent,
		RotateUserAgent: a.cfg.HTTP.UserAgentRotation,
		RespectRobots:   a.cfg.HTTP.RespectRobots,
		Timeout:         a.cfg.HTTP.RequestTimeout,
		Proxies:         proxies,
		ProxyQuarantine: a.cfg.HTTP.ProxyQuarantine,
	}, a.logger)
	httpFetcher := retrying.New(retryCfg, httpFactory, limiter, clk, a.logger)
	a.fetchers = append(a.fetchers, httpFetcher)

	if !a.cfg.HeadlessActive() {
		a.logger.Info("using colly fetcher", zap.Int("proxies", len(proxies)))
		return httpFetcher, nil
	}

	browser, err := headless.NewFactory(headless.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.HTTP.UserAgent,
		NavigationTimeout: a.cfg.Headless.NavTimeout,
		QPS:               a.cfg.Headless.QPS,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	a.browser = browser
	headlessFetcher := retrying.New(retryCfg, browser, limiter, clk, a.logger)
	a.fetchers = append(a.fetchers, headlessFetcher)

	if a.cfg.Fetcher.Mode == config.FetcherHeadless {
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		return headlessFetcher, nil
	}
	a.logger.Info("using colly fetcher with headless fallback",
		zap.Int("proxies", len(proxies)),
		zap.Int("max_parallel", a.cfg.Headless.MaxParallel),
	)
	return fallback.New(httpFetcher, headlessFetcher, detector.New(a.cfg.Headless.PromoteBelow), a.logger), nil
}

func (a *App) setupProgress(reg prometheus.Registerer) error {
	a.tracker = progress.NewTracker(0, clock.NewSystem(), a.logger)
	logSink := sinks.NewLogSink(a.logger.Named("progress"), a.cfg.Progress.LogInterval)
	a.tracker.AddCallback("log", logSink.Callback())

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return fmt.Errorf("progress gauges init failed: %w", err)
		}
		a.logger.Debug("progress gauges already registered")
		return nil
	}
	a.tracker.AddCallback("prometheus", promSink.Callback())
	return nil
}
