// Package pipeline implements the per-URL fetch->gate->extract->post-process
// orchestrator described in spec.md §4.7: the component every other
// subsystem (Cache Facade, Gate, Extractor Pool, Chunker) is wired into.
// In-flight request coalescing (step 2, "at-most-one concurrent build") is
// built on golang.org/x/sync/singleflight, the same module already used
// for the extractor pool's semaphore admission.
package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"riptide/internal/breaker"
	"riptide/internal/cachefacade"
	"riptide/internal/chunk"
	"riptide/internal/conditional"
	"riptide/internal/confidence"
	"riptide/internal/document"
	"riptide/internal/extractor"
	"riptide/internal/fetch"
	"riptide/internal/gate"
	"riptide/internal/logging"
	"riptide/internal/ratelimit"
	"riptide/internal/resource"
	"riptide/internal/riperrors"
)

// Config parameterizes an Orchestrator, mirroring config.PipelineConfig.
type Config struct {
	PerHostConcurrency int
	ExtractorVersion   string
	DefaultTTL         time.Duration
	ChunkingEnabled    bool
	DefaultChunkStrategy chunk.Strategy
	PreciseTokens      bool
	HostBreaker        breaker.Config
}

// DefaultConfig matches spec.md §4.7/§4.14's stated defaults.
func DefaultConfig() Config {
	return Config{
		PerHostConcurrency:   4,
		ExtractorVersion:     "1.0.0",
		DefaultTTL:           24 * time.Hour,
		ChunkingEnabled:      false,
		DefaultChunkStrategy: chunk.StrategySliding,
		HostBreaker:          breaker.DefaultConfig(),
	}
}

// Deps collects every collaborator the orchestrator drives. All fields are
// required except Browser, Resources, Chunker, and HostLimiter, which are
// optional: a deployment may disable headless escalation, resource
// admission for headless fetches, post-extraction chunking, or per-host
// rate limiting outright.
type Deps struct {
	Cache       *cachefacade.Facade
	Gate        *gate.Classifier
	Static      *fetch.Fetcher
	Browser     HeadlessFetcher
	Extractor   *extractor.Pool
	Resources   *resource.Facade
	Chunker     chunk.Chunker
	HostLimiter *ratelimit.Limiter
}

// HeadlessFetcher is the narrow surface the orchestrator needs from a
// browser pool, letting tests substitute a fake without depending on
// *browser.Pool directly.
type HeadlessFetcher interface {
	Fetch(ctx context.Context, url string) (HeadlessResult, error)
}

// HeadlessResult mirrors browser.Result without importing internal/browser,
// avoiding a direct dependency from pipeline on go-rod's transitive stack.
type HeadlessResult struct {
	HTML     string
	FinalURL string
}

// Request is one URL's extraction request.
type Request struct {
	Tenant      string
	URL         string
	Mode        document.ExtractionMode
	Conditional conditional.Request
}

// Orchestrator runs the per-URL algorithm of spec.md §4.7 and the batch
// wrapper of §4.9/§8 (E1/E2).
type Orchestrator struct {
	cfg  Config
	deps Deps

	sf singleflight.Group

	hostMu   sync.Mutex
	hostSems map[string]chan struct{}
	hostBrk  map[string]*breaker.Breaker
}

// New constructs an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.PerHostConcurrency <= 0 {
		cfg.PerHostConcurrency = 4
	}
	if cfg.ExtractorVersion == "" {
		cfg.ExtractorVersion = "1.0.0"
	}
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		hostSems: make(map[string]chan struct{}),
		hostBrk:  make(map[string]*breaker.Breaker),
	}
}

func (o *Orchestrator) hostSemaphore(host string) chan struct{} {
	o.hostMu.Lock()
	defer o.hostMu.Unlock()
	sem, ok := o.hostSems[host]
	if !ok {
		sem = make(chan struct{}, o.cfg.PerHostConcurrency)
		o.hostSems[host] = sem
	}
	return sem
}

func (o *Orchestrator) hostBreaker(host string) *breaker.Breaker {
	o.hostMu.Lock()
	defer o.hostMu.Unlock()
	b, ok := o.hostBrk[host]
	if !ok {
		b = breaker.New(o.cfg.HostBreaker)
		o.hostBrk[host] = b
	}
	return b
}

// Process runs the full per-URL algorithm for one request (spec.md §4.7
// steps 1-8), coalescing concurrent requests that share a fingerprint.
func (o *Orchestrator) Process(ctx context.Context, req Request) (document.URLResult, error) {
	result, err, _ := o.sf.Do(fingerprintKey(req, o.cfg.ExtractorVersion), func() (interface{}, error) {
		return o.build(ctx, req)
	})
	if err != nil {
		return document.URLResult{URL: req.URL, Error: err.Error()}, err
	}
	return result.(document.URLResult), nil
}

func fingerprintKey(req Request, extractorVersion string) string {
	return string(document.ComputeFingerprint(req.URL, req.Mode, extractorVersion)) + "|" + req.Tenant
}

func (o *Orchestrator) build(ctx context.Context, req Request) (document.URLResult, error) {
	log := logging.Get(logging.CategoryPipeline)
	timer := logging.StartTimer(logging.CategoryPipeline, "build "+req.URL)
	defer timer.Stop()

	// Step 1/3: cache check (ValidateURL happens inside Check).
	checkResult, err := o.deps.Cache.Check(ctx, req.URL, o.cfg.ExtractorVersion, req.Mode, req.Tenant, req.Conditional)
	if err != nil {
		return document.URLResult{URL: req.URL, Error: err.Error()}, err
	}

	switch checkResult.Outcome {
	case cachefacade.OutcomeHit, cachefacade.OutcomeNotModified:
		var doc document.ExtractedDocument
		if unmarshalErr := json.Unmarshal(checkResult.Entry.Payload, &doc); unmarshalErr == nil {
			return document.URLResult{URL: req.URL, Document: &doc, CacheHit: true}, nil
		}
		log.Warn("url=%s cached payload unreadable, treating as miss", req.URL)
	}

	host := hostOf(checkResult.ValidatedURL)

	// Step 4: per-host token bucket, circuit breaker, and bounded
	// concurrency, then fetch. The token bucket rejects outright (429);
	// the semaphore below only ever makes a caller wait.
	if o.deps.HostLimiter != nil {
		if err := o.deps.HostLimiter.CheckQuota(host); err != nil {
			return document.URLResult{URL: req.URL, Error: err.Error()}, err
		}
		o.deps.HostLimiter.Consume(host, 1)
	}

	brk := o.hostBreaker(host)
	if err := brk.TryCall(); err != nil {
		return document.URLResult{URL: req.URL, Error: err.Error()}, err
	}

	sem := o.hostSemaphore(host)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return document.URLResult{URL: req.URL, Error: ctx.Err().Error()}, ctx.Err()
	}
	defer func() { <-sem }()

	html, finalURL, gateDecision, fetchErr := o.fetchAndClassify(ctx, req.Tenant, checkResult.ValidatedURL)
	if fetchErr != nil {
		brk.OnFailure()
		return document.URLResult{URL: req.URL, Error: fetchErr.Error()}, fetchErr
	}
	brk.OnSuccess()

	// Step 6: extract.
	extractRes, err := o.deps.Extractor.Extract(ctx, html, finalURL, req.Mode)
	if err != nil {
		return document.URLResult{URL: req.URL, Error: err.Error()}, err
	}
	doc := extractRes.Document
	doc.SourceURL = req.URL
	doc.FinalURL = finalURL

	// Step 7: optional post-processing.
	if o.cfg.ChunkingEnabled && o.deps.Chunker != nil {
		if _, chunkErr := chunk.ChunkWithSLA(o.deps.Chunker, doc.PlainText, chunk.WithPreciseTokens(o.cfg.PreciseTokens)); chunkErr != nil {
			log.Warn("url=%s chunking failed: %v", req.URL, chunkErr)
		}
	}

	doc.QualityScore = adjustedQuality(doc.QualityScore, extractRes.Fallback, gateDecision)

	// Step 8: store to cache.
	payload, marshalErr := json.Marshal(doc)
	if marshalErr == nil {
		if _, storeErr := o.deps.Cache.Store(ctx, checkResult.CacheKey, cachefacade.StoreInput{
			ContentType: "application/json",
			Payload:     payload,
		}, o.cfg.DefaultTTL); storeErr != nil {
			log.Warn("url=%s cache store failed: %v", req.URL, storeErr)
		}
	}

	return document.URLResult{URL: req.URL, Document: &doc, CacheHit: false}, nil
}

// fetchAndClassify implements spec.md §4.7 step 4-5: static fetch, gate
// classification, and headless escalation when warranted.
func (o *Orchestrator) fetchAndClassify(ctx context.Context, tenant, url string) (html, finalURL string, decision gate.Decision, err error) {
	staticResp, staticErr := o.deps.Static.Fetch(ctx, url)

	scriptCount := 0
	contentType := ""
	byteSize := int64(0)
	if staticErr == nil {
		contentType = staticResp.ContentType
		byteSize = int64(len(staticResp.Body))
		scriptCount = strings.Count(strings.ToLower(string(staticResp.Body)), "<script")
	}

	facts := gate.ResponseFacts{
		URL:         url,
		ContentType: contentType,
		ByteSize:    byteSize,
		ScriptCount: scriptCount,
		Scheme:      schemeOf(url),
	}
	decision, gateErr := o.deps.Gate.Classify(ctx, facts)
	if gateErr != nil {
		decision = gate.DecisionRaw
	}

	needsHeadless := decision == gate.DecisionHeadless || (staticErr != nil && riperrors.IsRetryable(riperrors.KindOf(staticErr)))
	if needsHeadless && o.deps.Browser != nil {
		headlessHTML, headlessURL, headlessErr := o.runHeadless(ctx, tenant, url)
		if headlessErr == nil {
			return headlessHTML, headlessURL, decision, nil
		}
		logging.Get(logging.CategoryPipeline).Warn("url=%s headless fetch failed, falling back to static: %v", url, headlessErr)
		if staticErr == nil {
			return string(staticResp.Body), staticResp.FinalURL, decision, nil
		}
		return "", "", decision, headlessErr
	}

	if staticErr != nil {
		return "", "", decision, staticErr
	}
	return string(staticResp.Body), staticResp.FinalURL, decision, nil
}

func (o *Orchestrator) runHeadless(ctx context.Context, tenant, url string) (string, string, error) {
	if o.deps.Resources == nil {
		res, err := o.deps.Browser.Fetch(ctx, url)
		if err != nil {
			return "", "", err
		}
		return res.HTML, res.FinalURL, nil
	}

	handle, err := o.deps.Resources.Acquire(ctx, tenant, resource.PoolBrowser)
	if err != nil {
		return "", "", err
	}
	defer handle.Release()

	res, err := o.deps.Browser.Fetch(ctx, url)
	if err != nil {
		return "", "", err
	}
	return res.HTML, res.FinalURL, nil
}

// adjustedQuality folds extractor confidence signals into the extracted
// document's quality score via a single-component aggregation, so the
// fallback and probes-first paths are consistently down-weighted.
func adjustedQuality(base float64, fallback bool, decision gate.Decision) float64 {
	score := confidence.Aggregate(confidence.WeightedAverage, []confidence.Component{
		{Name: "extraction", Value: base, Weight: 1.0},
	})
	if fallback {
		score = confidence.Penalize(score, 0.2)
	}
	if decision == gate.DecisionProbesFirst {
		score = confidence.Penalize(score, 0.05)
	}
	return score.Value
}

func hostOf(rawURL string) string {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return rawURL
	}
	rest := rawURL[idx+3:]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func schemeOf(rawURL string) string {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return ""
	}
	return rawURL[:idx]
}

// ProcessBatch runs Process concurrently over a deduplicated set of URLs
// (spec.md §4.7's tie-break: "Duplicate URLs in a batch are deduplicated by
// fingerprint before step 2"), fanning out with errgroup while preserving
// the caller's input order in the returned slice regardless of completion
// order (spec.md §5, "Ordering guarantees").
func (o *Orchestrator) ProcessBatch(ctx context.Context, tenant string, urls []string, mode document.ExtractionMode) ([]document.URLResult, document.BatchStatistics) {
	stats := document.BatchStatistics{TotalURLs: len(urls)}

	seen := make(map[document.Fingerprint]bool, len(urls))
	deduped := make([]string, 0, len(urls))
	for _, u := range urls {
		fp := document.ComputeFingerprint(u, mode, o.cfg.ExtractorVersion)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		deduped = append(deduped, u)
	}

	results := make([]document.URLResult, len(deduped))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range deduped {
		i, u := i, u
		g.Go(func() error {
			res, err := o.Process(gctx, Request{Tenant: tenant, URL: u, Mode: mode})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed++
			} else {
				stats.Succeeded++
			}
			if res.CacheHit {
				stats.CacheHits++
			} else {
				stats.CacheMisses++
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, stats
}
