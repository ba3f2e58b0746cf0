// Package app initializes and holds the long-lived services of a sync run,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-sync/internal/api"
	"github.com/JakeFAU/catalog-sync/internal/archive"
	"github.com/JakeFAU/catalog-sync/internal/archive/gcs"
	"github.com/JakeFAU/catalog-sync/internal/archive/local"
	"github.com/JakeFAU/catalog-sync/internal/catalog"
	"github.com/JakeFAU/catalog-sync/internal/clock/system"
	"github.com/JakeFAU/catalog-sync/internal/config"
	"github.com/JakeFAU/catalog-sync/internal/crawler"
	"github.com/JakeFAU/catalog-sync/internal/fetcher"
	collyfetcher "github.com/JakeFAU/catalog-sync/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-sync/internal/fetcher/headless"
	"github.com/JakeFAU/catalog-sync/internal/hash/sha256"
	"github.com/JakeFAU/catalog-sync/internal/id/uuid"
	"github.com/JakeFAU/catalog-sync/internal/llm"
	"github.com/JakeFAU/catalog-sync/internal/logging"
	"github.com/JakeFAU/catalog-sync/internal/media"
	"github.com/JakeFAU/catalog-sync/internal/media/freeimage"
	"github.com/JakeFAU/catalog-sync/internal/normalizer"
	"github.com/JakeFAU/catalog-sync/internal/parser"
	"github.com/JakeFAU/catalog-sync/internal/pipeline"
	"github.com/JakeFAU/catalog-sync/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-sync/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-sync/internal/retry"
	"github.com/JakeFAU/catalog-sync/internal/sheets"
	"github.com/JakeFAU/catalog-sync/internal/state/postgres"
	"github.com/JakeFAU/catalog-sync/internal/state/sqlite"
)

// App holds the shared services of one process. It is built once at
// startup and closed by the command that created it.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  catalog.Clock
	ids    catalog.IDGenerator

	store     catalog.Store
	sink      catalog.Sink
	uploader  *media.Uploader
	llm       *llm.Client
	fetcher   catalog.PageFetcher
	limiter   *ratelimit.Limiter
	archive   *archive.Archiver
	publisher catalog.Publisher
	server    *api.Server

	closers []func() error
}

// Options overrides collaborators, mostly for tests. Zero values are built
// from the configuration.
type Options struct {
	Store     catalog.Store
	Sink      catalog.Sink
	Fetcher   catalog.PageFetcher
	Publisher catalog.Publisher
	Clock     catalog.Clock
	IDs       catalog.IDGenerator
}

// New builds every service described by cfg. It fails fast when a
// required service cannot be initialized; optional ones degrade.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: opts.Clock, ids: opts.IDs}
	if a.clock == nil {
		a.clock = system.New()
	}
	if a.ids == nil {
		a.ids = uuid.New()
	}
	logger.Info("initializing services",
		zap.String("state_driver", cfg.State.Driver),
		zap.String("fetch_mode", cfg.Crawler.FetchMode),
		zap.String("archive_driver", cfg.Archive.Driver),
		zap.Bool("hosting_enabled", cfg.Hosting.Enabled()),
		zap.Bool("sheets_enabled", cfg.Sheets.Enabled()),
		zap.Bool("llm_enabled", cfg.LLM.Enabled()),
	)

	steps := []func(context.Context, Options) error{
		a.initStore,
		a.initSink,
		a.initUploader,
		a.initFetcher,
		a.initArchive,
		a.initPublisher,
	}
	for _, step := range steps {
		if err := step(ctx, opts); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.llm = llm.New(llm.Config{
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		Endpoint: cfg.LLM.Endpoint,
		Timeout:  cfg.LLM.Timeout(),
	}, nil, logging.Component(logger, "llm"))
	a.limiter = ratelimit.New(ratelimit.Config{Interval: cfg.Crawler.RequestDelay(), Burst: 1})
	if cfg.Server.Addr != "" {
		a.server = api.NewServer(logging.Component(logger, "api"), a.clock)
	}
	logger.Info("services initialized")
	return a, nil
}

func (a *App) initStore(ctx context.Context, opts Options) error {
	if opts.Store != nil {
		a.store = opts.Store
		return nil
	}
	var (
		store catalog.Store
		err   error
	)
	switch a.cfg.State.Driver {
	case "postgres":
		store, err = postgres.New(ctx, postgres.Config{DSN: a.cfg.State.DSN})
	default:
		store, err = sqlite.Open(ctx, a.cfg.State.Path)
	}
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

func (a *App) initSink(ctx context.Context, opts Options) error {
	if opts.Sink != nil {
		a.sink = opts.Sink
		return nil
	}
	a.sink = sheets.New(ctx, sheets.Config{
		SpreadsheetID:   a.cfg.Sheets.SpreadsheetID,
		Tab:             a.cfg.Sheets.Tab,
		CredentialsFile: a.cfg.Sheets.CredentialsFile,
		Timeout:         a.cfg.Sheets.Timeout(),
	}, logging.Component(a.logger, "sheets"))
	return nil
}

func (a *App) initUploader(_ context.Context, _ Options) error {
	hc := a.cfg.Hosting
	userAgent := ""
	if len(a.cfg.Crawler.UserAgents) > 0 {
		userAgent = a.cfg.Crawler.UserAgents[0]
	}
	hoster := freeimage.New(freeimage.Config{
		APIKey:         hc.APIKey,
		Endpoint:       hc.Endpoint,
		ConnectTimeout: hc.ConnectTimeout(),
		RequestTimeout: hc.RequestTimeout(),
		UserAgent:      userAgent,
	}, nil)
	downloader := media.NewHTTPDownloader(&http.Client{Timeout: hc.RequestTimeout()}, userAgent)
	uploader, err := media.NewUploader(media.Options{
		Enabled:    hc.Enabled(),
		Hoster:     hoster,
		Downloader: downloader,
		Images:     a.store,
		Hasher:     sha256.New(),
		Retry:      retry.NewPolicy(hc.MaxRetries, hc.BackoffBase(), hc.BackoffCap()),
		Logger:     logging.Component(a.logger, "media"),
	})
	if err != nil {
		return fmt.Errorf("init image uploader: %w", err)
	}
	a.uploader = uploader
	return nil
}

func (a *App) initFetcher(_ context.Context, opts Options) error {
	if opts.Fetcher != nil {
		a.fetcher = opts.Fetcher
		return nil
	}
	cc := a.cfg.Crawler
	logger := logging.Component(a.logger, "fetcher")

	static := func() (catalog.PageFetcher, error) {
		f, err := collyfetcher.New(collyfetcher.Config{
			UserAgents: cc.UserAgents,
			Timeout:    cc.NavigationTimeout(),
			Proxy:      cc.Proxy(),
		})
		if err != nil {
			return nil, fmt.Errorf("init static fetcher: %w", err)
		}
		return f, nil
	}
	browser := func() (catalog.PageFetcher, error) {
		f, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cc.MaxConcurrency,
			UserAgents:        cc.UserAgents,
			NavigationTimeout: cc.NavigationTimeout(),
			Headless:          cc.Headless || cc.FetchMode == config.FetchAuto,
			Proxy:             cc.Proxy(),
			Logger:            logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.closers = append(a.closers, func() error { f.Close(); return nil })
		return f, nil
	}

	var (
		base catalog.PageFetcher
		err  error
	)
	switch cc.FetchMode {
	case config.FetchStatic:
		base, err = static()
	case config.FetchAuto:
		var s, b catalog.PageFetcher
		if s, err = static(); err != nil {
			return err
		}
		if b, err = browser(); err != nil {
			return err
		}
		base, err = fetcher.NewPromoting(s, b, fetcher.NewHeuristic(0), logger)
	default:
		base, err = browser()
	}
	if err != nil {
		return err
	}
	a.fetcher = fetcher.NewRetrying(base, retry.NewPolicy(cc.MaxRetries, 0, 0), logger)
	return nil
}

func (a *App) initArchive(ctx context.Context, _ Options) error {
	ac := a.cfg.Archive
	var blobs catalog.BlobStore
	switch ac.Driver {
	case "local":
		store, err := local.New(local.Config{BaseDir: ac.BaseDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		blobs = store
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: ac.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		blobs = store
	default:
		return nil
	}
	a.archive = archive.New(blobs, ac.Prefix, logging.Component(a.logger, "archive"))
	return nil
}

func (a *App) initPublisher(ctx context.Context, opts Options) error {
	if opts.Publisher != nil {
		a.publisher = opts.Publisher
		return nil
	}
	if a.cfg.PubSub.Topic == "" {
		return nil
	}
	pub, err := pubsub.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic, logging.Component(a.logger, "pubsub"))
	if err != nil {
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.publisher = pub
	a.closers = append(a.closers, pub.Close)
	return nil
}

// Run performs one synchronization run. When server.addr is set the
// operator API is served for the duration of the run.
func (a *App) Run(ctx context.Context) (pipeline.Stats, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := a.logger.With(zap.String("run_id", runID))

	crawl, err := crawler.New(crawler.Config{
		SeedURL: a.cfg.Crawler.CategoryURL,
		Fetcher: a.fetcher,
		Pacer:   a.limiter,
		Logger:  logging.Component(logger, "crawler"),
	})
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("init crawler: %w", err)
	}
	orch, err := pipeline.NewOrchestrator(pipeline.OrchestratorOptions{
		State:     a.store,
		Images:    a.store,
		Resolver:  a.uploader,
		Sink:      a.sink,
		Publisher: a.publisher,
		Topic:     a.cfg.PubSub.Topic,
		Clock:     a.clock,
		RunID:     runID,
		Logger:    logging.Component(logger, "orchestrator"),
	})
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("init orchestrator: %w", err)
	}
	runner, err := pipeline.NewRunner(pipeline.RunnerOptions{
		Crawl:        crawl,
		Fetcher:      a.fetcher,
		Pacer:        a.limiter,
		Archive:      a.archive,
		Parser:       parser.New(logging.Component(logger, "parser")),
		Normalizer:   normalizer.New(a.llm, a.clock, logging.Component(logger, "normalizer")),
		Orchestrator: orch,
		RunID:        runID,
		Logger:       logging.Component(logger, "runner"),
	})
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("init runner: %w", err)
	}

	stopServer := a.startServer(ctx)
	defer stopServer()
	if a.server != nil {
		a.server.RunStarted(runID, orch.Stats)
		a.server.SetReady(true)
	}

	stats, runErr := runner.Run(ctx)
	if a.server != nil {
		a.server.RunFinished(stats, runErr)
	}
	return stats, runErr
}

func (a *App) startServer(ctx context.Context) func() {
	if a.server == nil {
		return func() {}
	}
	srvCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.server.ListenAndServe(srvCtx, a.cfg.Server.Addr); err != nil {
			a.logger.Error("api server failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

// Close releases every service in reverse order of construction.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	// Sync fails on stderr-backed loggers on some platforms.
	_ = a.logger.Sync()
}
