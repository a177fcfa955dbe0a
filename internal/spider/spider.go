// Package spider implements the Spider Driver of spec.md §4.9: a thin
// crawl loop that delegates frontier management, scheduling, and
// deduplication to an externally supplied Frontier collaborator (interface
// only, per spec.md's "frontier internals out of scope") and invokes the
// Pipeline Orchestrator for every URL the frontier hands back, returning
// each resulting document to the frontier for link discovery and scoring.
// The worker-pool-over-errgroup shape is grounded on the teacher's
// internal/campaign/intelligence_gatherer.go, which bounds concurrent
// gathering with errgroup.WithContext rather than an unbounded fan-out.
package spider

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"riptide/internal/document"
	"riptide/internal/logging"
	"riptide/internal/pipeline"
)

// Strategy selects how the frontier orders pending URLs. The driver passes
// it through to Frontier.Seed; it has no effect on the driver's own loop.
type Strategy string

const (
	StrategyBreadthFirst Strategy = "breadth_first"
	StrategyDepthFirst   Strategy = "depth_first"
	StrategyBestFirst    Strategy = "best_first"
)

// StopReason explains why Crawl stopped handing URLs to the pipeline.
type StopReason string

const (
	StopBudgetExhausted  StopReason = "budget_exhausted"
	StopFrontierEmpty    StopReason = "frontier_empty"
	StopMaxDepthExceeded StopReason = "max_depth_exceeded"
	StopCancelled        StopReason = "cancelled"
)

// FrontierItem is one URL handed out by the frontier, carrying the depth
// and score the frontier assigned it.
type FrontierItem struct {
	URL   string
	Depth int
	Score float64
}

// Frontier is the external collaborator contracted by interface only
// (spec.md §4.9): it owns scheduling, deduplication, and link scoring. The
// driver never inspects its internals.
type Frontier interface {
	// Seed enqueues the crawl's starting URLs at depth 0, ordered per
	// strategy and scored against query when non-empty.
	Seed(ctx context.Context, urls []string, strategy Strategy, query string) error
	// Next pops the next URL to visit. ok is false once the frontier is
	// exhausted.
	Next(ctx context.Context) (item FrontierItem, ok bool, err error)
	// Record reports a visited URL's outcome back to the frontier, which
	// uses the extracted document's links (if any) for further discovery
	// and re-scoring. doc is nil when procErr is non-nil.
	Record(ctx context.Context, item FrontierItem, doc *document.ExtractedDocument, procErr error) error
	// Queued reports the current number of URLs still pending.
	Queued() int
}

// Config parameterizes a Driver, mirroring config.SpiderConfig.
type Config struct {
	DefaultBudget int
	MaxDepth      int
	Concurrency   int
}

// DefaultConfig mirrors config.SpiderConfig's defaults.
func DefaultConfig() Config {
	return Config{DefaultBudget: 100, MaxDepth: 5, Concurrency: 4}
}

// Result is Crawl's return value, matching spec.md §4.9's
// {pages, urls_visited, urls_queued, stop_reason}.
type Result struct {
	Pages       []document.URLResult
	URLsVisited int
	URLsQueued  int
	StopReason  StopReason
}

// Driver runs the crawl loop against an injected Frontier and Pipeline
// Orchestrator.
type Driver struct {
	cfg  Config
	pipe *pipeline.Orchestrator
}

// New constructs a Driver.
func New(cfg Config, pipe *pipeline.Orchestrator) *Driver {
	if cfg.DefaultBudget <= 0 {
		cfg.DefaultBudget = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Driver{cfg: cfg, pipe: pipe}
}

// Crawl runs spec.md §4.9's crawl(seed_urls, budget, strategy, query)
// operation: seeds the frontier, then pulls URLs from it with Config's
// bounded worker concurrency until the budget is spent, the frontier runs
// dry, or the context is cancelled.
func (d *Driver) Crawl(ctx context.Context, tenant string, seedURLs []string, budget int, strategy Strategy, query string, mode document.ExtractionMode, frontier Frontier) (Result, error) {
	if budget <= 0 {
		budget = d.cfg.DefaultBudget
	}
	log := logging.Get(logging.CategorySpider)

	if err := frontier.Seed(ctx, seedURLs, strategy, query); err != nil {
		return Result{}, err
	}

	var (
		visited int64
		mu      sync.Mutex
		pages   []document.URLResult
		stop    atomic.Value // StopReason
	)
	stop.Store(StopFrontierEmpty)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < d.cfg.Concurrency; w++ {
		g.Go(func() error {
			for {
				if int(atomic.LoadInt64(&visited)) >= budget {
					stop.Store(StopBudgetExhausted)
					return nil
				}
				if gctx.Err() != nil {
					stop.Store(StopCancelled)
					return nil
				}

				item, ok, err := frontier.Next(gctx)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				if d.cfg.MaxDepth > 0 && item.Depth > d.cfg.MaxDepth {
					stop.Store(StopMaxDepthExceeded)
					continue
				}

				atomic.AddInt64(&visited, 1)

				res, procErr := d.pipe.Process(gctx, pipeline.Request{
					Tenant: tenant,
					URL:    item.URL,
					Mode:   mode,
				})
				if procErr != nil {
					log.Warn("crawl url=%s failed: %v", item.URL, procErr)
				}

				if recordErr := frontier.Record(gctx, item, res.Document, procErr); recordErr != nil {
					log.Warn("frontier record failed for url=%s: %v", item.URL, recordErr)
				}

				mu.Lock()
				pages = append(pages, res)
				mu.Unlock()
			}
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{
		Pages:       pages,
		URLsVisited: int(atomic.LoadInt64(&visited)),
		URLsQueued:  frontier.Queued(),
		StopReason:  stop.Load().(StopReason),
	}, nil
}
