package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"riptide/internal/api"
	"riptide/internal/breaker"
	"riptide/internal/browser"
	"riptide/internal/cachefacade"
	"riptide/internal/cachekv"
	"riptide/internal/chunk"
	"riptide/internal/config"
	"riptide/internal/extractor"
	"riptide/internal/fetch"
	"riptide/internal/gate"
	"riptide/internal/health"
	"riptide/internal/pipeline"
	"riptide/internal/ratelimit"
	"riptide/internal/resource"
	"riptide/internal/session"
	"riptide/internal/spider"
)

// app bundles every long-lived component wiring builds, so commands that
// only need a slice of it (crawl vs serve vs health) can shut down the
// rest cleanly regardless of which command ran.
type app struct {
	cfg        *config.Config
	extractors *extractor.Pool
	browsers   *browser.Pool
	health     *health.Monitor
	sessions   *session.Store
	orch       *pipeline.Orchestrator
	spider     *spider.Driver
	cache      cachekv.Store
}

// browserAdapter satisfies pipeline.HeadlessFetcher without pipeline
// importing go-rod's transitive stack directly.
type browserAdapter struct {
	pool *browser.Pool
}

func (b browserAdapter) Fetch(ctx context.Context, url string) (pipeline.HeadlessResult, error) {
	result, err := b.pool.Fetch(ctx, url)
	if err != nil {
		return pipeline.HeadlessResult{}, err
	}
	return pipeline.HeadlessResult{HTML: result.HTML, FinalURL: result.FinalURL}, nil
}

func chunkerFor(strategy chunk.Strategy, cfg config.ChunkConfig) chunk.Chunker {
	switch strategy {
	case chunk.StrategyFixed:
		return chunk.FixedChunker{Size: cfg.FixedSizeChars}
	case chunk.StrategySentence:
		return chunk.SentenceChunker{MaxSentences: cfg.SentenceMaxPerChunk}
	case chunk.StrategyHTMLAware:
		return chunk.HTMLAwareChunker{PreserveBlocks: true, PreserveStructure: true, TargetChars: cfg.FixedSizeChars}
	case chunk.StrategyTopic:
		return chunk.TopicChunker{WindowSize: cfg.TopicWindowSize, SmoothingPasses: cfg.TopicSmoothingPasses}
	default:
		return chunk.SlidingChunker{WindowTokens: cfg.SlidingWindowTokens, OverlapTokens: cfg.SlidingOverlapTokens}
	}
}

func toBreakerConfig(c config.BreakerConfig) breaker.Config {
	return breaker.Config{
		FailureThreshold:     c.FailureThreshold,
		MinRequestThreshold:  c.MinRequestThreshold,
		FailureWindow:        time.Duration(c.FailureWindowSecs) * time.Second,
		RecoveryTimeout:      time.Duration(c.RecoveryTimeoutSecs) * time.Second,
		SuccessRateThreshold: c.SuccessRateThreshold,
		MaxRepairAttempts:    c.MaxRepairAttempts,
	}
}

// buildApp wires every collaborator named in SPEC_FULL.md from a loaded
// Config, in dependency order: stores first, then the pools and facades
// built on them, then the orchestrator that drives all of it.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := cachekv.Open(cfg.Cache.Backend, cfg.Cache.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	cache := cachefacade.New(store, cachefacade.Config{
		ContentTypeAllowlist: cfg.Cache.ContentTypeAllowlist,
		HostBlocklist:        cfg.Cache.HostBlocklist,
		AllowPrivateIPs:      cfg.Cache.AllowPrivateIPs,
		MaxURLLength:         cfg.Cache.MaxURLLength,
		MaxPayloadBytes:      cfg.Cache.MaxPayloadBytes,
		DefaultTTL:           cfg.CacheTTL(),
		KeyVersion:           cfg.Cache.KeyVersion,
	})

	classifier, err := gate.New()
	if err != nil {
		return nil, fmt.Errorf("build gate classifier: %w", err)
	}

	staticFetcher := fetch.New(fetch.Config{
		Timeout:      cfg.StaticFetchTimeout(),
		ByteLimit:    cfg.Pipeline.StaticFetchByteLimit,
		MaxRedirects: cfg.Pipeline.MaxRedirects,
	})

	extractorFactory, extractorTick, err := extractor.NewWasmtimeFactory(cfg.Extractor.WasmPath, cfg.Extractor.MemoryCapPages)
	if err != nil {
		return nil, fmt.Errorf("load extractor component at %s: %w", cfg.Extractor.WasmPath, err)
	}
	pool := extractor.New(extractor.Config{
		MaxPoolSize:            cfg.Extractor.MaxPoolSize,
		InitialPoolSize:        cfg.Extractor.InitialPoolSize,
		AcquireTimeout:         cfg.AcquireTimeout(),
		MemoryCapPages:         cfg.Extractor.MemoryCapPages,
		EpochDeadline:          time.Duration(cfg.Extractor.EpochDeadlineMs) * time.Millisecond,
		EpochTickInterval:      time.Duration(cfg.Extractor.EpochTickIntervalMs) * time.Millisecond,
		MaxUseCount:            cfg.Extractor.MaxUseCount,
		MaxAge:                 time.Duration(cfg.Extractor.MaxAgeSecs) * time.Second,
		MaxConsecutiveFailures: cfg.Extractor.MaxConsecutiveFailures,
		FallbackEnabled:        cfg.Extractor.FallbackEnabled,
		Breaker:                toBreakerConfig(cfg.Extractor.Breaker),
		ExtractorVersion:       cfg.Version,
	}, extractorFactory, extractorTick)
	if err := pool.Start(ctx); err != nil {
		return nil, fmt.Errorf("start extractor pool: %w", err)
	}

	browserPool := browser.New(browser.Config{
		Headless:              true,
		NavigationTimeout:     time.Duration(cfg.Browser.NavigationTimeoutMs) * time.Millisecond,
		HeadlessTimeout:       time.Duration(cfg.Browser.HeadlessTimeoutMs) * time.Millisecond,
		WaitCondition:         browser.WaitCondition(cfg.Browser.WaitCondition),
		WaitSelector:          cfg.Browser.WaitSelector,
		MaxConcurrentSessions: cfg.Browser.MaxConcurrentSessions,
		UserAgent:             cfg.Browser.UserAgent,
		AcceptLanguage:        cfg.Browser.AcceptLanguage,
	})
	if err := browserPool.Start(ctx); err != nil {
		return nil, fmt.Errorf("start browser pool: %w", err)
	}

	limiter := ratelimit.New(float64(cfg.RateLimit.TenantCapacity), cfg.RateLimit.TenantRefillPerSec)
	hostLimiter := ratelimit.New(float64(cfg.RateLimit.HostCapacity), cfg.RateLimit.HostRefillPerSec)
	browserSem := semaphore.NewWeighted(int64(cfg.Browser.MaxConcurrentSessions))
	extractorSem := semaphore.NewWeighted(int64(cfg.Extractor.MaxPoolSize))
	resources := resource.New(
		resource.Config{
			MemoryPressureThreshold: cfg.Resource.MemoryPressureThreshold,
			AcquisitionTimeout:      cfg.AcquisitionTimeout(),
		},
		limiter,
		func(kind resource.PoolKind) float64 {
			if kind == resource.PoolBrowser {
				return 0
			}
			return pool.Utilization()
		},
		func(acquireCtx context.Context, kind resource.PoolKind) (func(), error) {
			sem := extractorSem
			if kind == resource.PoolBrowser {
				sem = browserSem
			}
			if err := sem.Acquire(acquireCtx, 1); err != nil {
				return nil, err
			}
			return func() { sem.Release(1) }, nil
		},
	)

	orch := pipeline.New(pipeline.Config{
		PerHostConcurrency:   cfg.Pipeline.PerHostConcurrency,
		ExtractorVersion:     cfg.Version,
		DefaultTTL:           cfg.CacheTTL(),
		ChunkingEnabled:      cfg.FeatureEnabled("chunking"),
		DefaultChunkStrategy: chunk.StrategySliding,
		PreciseTokens:        cfg.Chunk.PreciseTokens,
		HostBreaker:          toBreakerConfig(cfg.Extractor.Breaker),
	}, pipeline.Deps{
		Cache:       cache,
		Gate:        classifier,
		Static:      staticFetcher,
		Browser:     browserAdapter{pool: browserPool},
		Extractor:   pool,
		Resources:   resources,
		Chunker:     chunkerFor(chunk.StrategySliding, cfg.Chunk),
		HostLimiter: hostLimiter,
	})

	monitor := health.New(health.Config{
		HistoryCap: 100,
	}, health.SamplerFunc(func() health.PoolSample {
		snap := pool.Snapshot()
		return health.PoolSample{
			TotalExtractions:      snap.TotalExtractions,
			SuccessfulExtractions: snap.SuccessfulExtractions,
			FailedExtractions:     snap.FailedExtractions,
			FallbackExtractions:   snap.FallbackExtractions,
			CircuitOpens:          snap.CircuitOpens,
			EpochTimeouts:         snap.EpochTimeouts,
			CurrentMemoryPages:    snap.CurrentMemoryPages,
			MemoryLimitPages:      int64(cfg.Extractor.MemoryCapPages),
			Utilization:           pool.Utilization(),
			AverageProcessingTime: snap.AverageProcessingTime,
		}
	}))

	sessions := session.New(store, cfg.SessionTTL())

	driver := spider.New(spider.Config{
		DefaultBudget: cfg.Spider.DefaultBudget,
		MaxDepth:      cfg.Spider.MaxDepth,
		Concurrency:   cfg.Pipeline.PerHostConcurrency,
	}, orch)

	return &app{
		cfg:        cfg,
		extractors: pool,
		browsers:   browserPool,
		health:     monitor,
		sessions:   sessions,
		orch:       orch,
		spider:     driver,
		cache:      store,
	}, nil
}

func (a *app) deps() api.Deps {
	return api.Deps{
		Pipeline: a.orch,
		Spider:   a.spider,
		Health:   a.health,
		Sessions: a.sessions,
	}
}

func (a *app) Close(ctx context.Context) {
	a.health.Stop()
	_ = a.extractors.Shutdown(ctx)
	_ = a.browsers.Shutdown(ctx)
	_ = a.cache.Close()
}
