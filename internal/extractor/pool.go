package extractor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"riptide/internal/breaker"
	"riptide/internal/document"
	"riptide/internal/logging"
	"riptide/internal/riperrors"
)

// Config parameterizes one Pool, mirroring spec.md §4.4's named defaults
// (see config.ExtractorConfig, the YAML-facing equivalent).
type Config struct {
	MaxPoolSize            int
	InitialPoolSize        int
	AcquireTimeout         time.Duration
	MemoryCapPages         int
	EpochDeadline          time.Duration
	EpochTickInterval      time.Duration
	MaxUseCount            int
	MaxAge                 time.Duration
	MaxConsecutiveFailures int
	FallbackEnabled        bool
	Breaker                breaker.Config
	ExtractorVersion       string
}

// Metrics accumulates the pool-wide counters spec.md §4.4 requires the
// health monitor (§4.5) to read.
type Metrics struct {
	TotalExtractions      int64
	SuccessfulExtractions int64
	FailedExtractions     int64
	FallbackExtractions   int64
	CircuitOpens          int64
	EpochTimeouts         int64
	GrowFailures          int64
	totalProcessingNanos  int64
	CurrentMemoryPages    int64
	PeakMemoryPages       int64
}

// Snapshot is a point-in-time read of Metrics safe to hand to callers.
type Snapshot struct {
	Metrics
	AverageProcessingTime time.Duration
	SemaphoreWaiters      int64
}

// Result is what Extract returns: the document plus the strategy actually
// used and whether the native fallback produced it (spec.md §C.3).
type Result struct {
	Document       document.ExtractedDocument
	StrategyUsed   document.StrategyUsed
	Fallback       bool
	ProcessingTime time.Duration
}

// Pool owns up to Config.MaxPoolSize WASM component instances, admits
// extractions through a counting semaphore, and runs a private circuit
// breaker distinct from the generic one callers may hold for other
// collaborators (SPEC_FULL §D.1).
type Pool struct {
	cfg     Config
	factory ComponentFactory
	tick    func()

	sem *semaphore.Weighted

	mu   sync.Mutex
	idle []*PooledInstance

	breaker  *breaker.Breaker
	fallback *NativeFallback

	metrics Metrics
	waiters int64

	readyOnce sync.Once
	readyCh   chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
	started   bool
}

// New constructs a Pool. factory creates fresh Component instances (a
// wasmtime-backed factory in production, a fake in tests); tick advances
// the shared epoch clock by one tick — nil defaults to a no-op, which only
// a test fake component should rely on.
func New(cfg Config, factory ComponentFactory, tick func()) *Pool {
	if tick == nil {
		tick = func() {}
	}
	return &Pool{
		cfg:      cfg,
		factory:  factory,
		tick:     tick,
		sem:      semaphore.NewWeighted(int64(cfg.MaxPoolSize)),
		breaker:  breaker.New(cfg.Breaker),
		fallback: NewNativeFallback(),
		readyCh:  make(chan struct{}),
		stopCh:   make(chan struct{}),
	}
}

// NewWasmtimeFactory builds a ComponentFactory and epoch-tick function
// backed by a single compiled component at wasmPath, per spec.md §9
// (instantiation cost amortized by compiling once, instantiating per use).
func NewWasmtimeFactory(wasmPath string, memoryCapPages int) (ComponentFactory, func(), error) {
	rt, err := newWasmtimeRuntime(wasmPath)
	if err != nil {
		return nil, nil, err
	}
	factory := func() (Component, error) {
		return newWasmtimeComponent(rt, memoryCapPages)
	}
	return factory, rt.tick, nil
}

// Start begins the epoch-tick goroutine and warms InitialPoolSize
// instances. Per spec.md §9 / Open Question 4, the tick thread is started
// and confirmed running (via readyCh) before any instance is created, so
// Extract can never race a not-yet-ticking epoch clock.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.tickLoop()

	<-p.readyCh // block until the tick goroutine is running

	for i := 0; i < p.cfg.InitialPoolSize; i++ {
		inst, err := p.createInstance()
		if err != nil {
			logging.Get(logging.CategoryExtractor).Warn("warm-up instance %d failed: %v", i, err)
			continue
		}
		p.mu.Lock()
		p.idle = append(p.idle, inst)
		p.mu.Unlock()
	}
	logging.Get(logging.CategoryExtractor).Info("extractor pool started: warmed=%d max=%d", len(p.idle), p.cfg.MaxPoolSize)
	return nil
}

func (p *Pool) tickLoop() {
	defer p.wg.Done()
	interval := p.cfg.EpochTickInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.readyOnce.Do(func() { close(p.readyCh) })

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

// epochTicks converts the configured epoch deadline into a tick count
// relative to the tick interval, rounding up so a deadline is never
// shorter than configured.
func (p *Pool) epochTicks() uint64 {
	interval := p.cfg.EpochTickInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticks := int64(p.cfg.EpochDeadline / interval)
	if p.cfg.EpochDeadline%interval != 0 {
		ticks++
	}
	if ticks < 1 {
		ticks = 1
	}
	return uint64(ticks)
}

func (p *Pool) createInstance() (*PooledInstance, error) {
	c, err := p.factory()
	if err != nil {
		atomic.AddInt64(&p.metrics.GrowFailures, 1)
		return nil, fmt.Errorf("extractor: create component: %w", err)
	}
	return newPooledInstance(c), nil
}

// acquireInstance pops a healthy idle instance or creates one, never
// exceeding MaxPoolSize in flight (enforced by the semaphore the caller
// has already acquired a permit from).
func (p *Pool) acquireInstance() (*PooledInstance, error) {
	p.mu.Lock()
	for len(p.idle) > 0 {
		inst := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if inst.unhealthy(p.cfg) {
			p.mu.Unlock()
			_ = inst.Component.Close()
			p.mu.Lock()
			continue
		}
		p.mu.Unlock()
		return inst, nil
	}
	p.mu.Unlock()
	return p.createInstance()
}

func (p *Pool) release(inst *PooledInstance, healthy bool) {
	if !healthy || inst.unhealthy(p.cfg) {
		_ = inst.Component.Close()
		return
	}
	p.mu.Lock()
	p.idle = append(p.idle, inst)
	p.mu.Unlock()
}

// Extract runs the pool's extraction workflow, spec.md §4.4 steps 1-6.
func (p *Pool) Extract(ctx context.Context, html, url string, mode document.ExtractionMode) (Result, error) {
	log := logging.Get(logging.CategoryExtractor)
	start := time.Now()

	// Step 1: circuit breaker.
	if err := p.breaker.TryCall(); err != nil {
		atomic.AddInt64(&p.metrics.CircuitOpens, 1)
		if p.cfg.FallbackEnabled {
			return p.runFallback(html, url, mode, start)
		}
		return Result{}, err
	}

	// Step 2: bounded semaphore wait.
	atomic.AddInt64(&p.waiters, 1)
	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()
	err := p.sem.Acquire(acquireCtx, 1)
	atomic.AddInt64(&p.waiters, -1)
	if err != nil {
		return Result{}, riperrors.Wrap(riperrors.Timeout, "extractor.Extract", "acquire pool permit", err)
	}
	defer p.sem.Release(1)

	// Step 3: select or create an instance.
	inst, err := p.acquireInstance()
	if err != nil {
		p.breaker.OnFailure()
		if p.cfg.FallbackEnabled {
			return p.runFallback(html, url, mode, start)
		}
		return Result{}, riperrors.Wrap(riperrors.Extraction, "extractor.Extract", "acquire instance", err)
	}

	// Step 4: epoch deadline + invoke.
	inst.Component.SetEpochDeadline(p.epochTicks())
	atomic.AddInt64(&p.metrics.TotalExtractions, 1)
	doc, stats, extractErr := inst.Component.Extract(ctx, html, url, mode)

	if extractErr == nil {
		// Step 5: success path.
		inst.recordSuccess()
		p.release(inst, true)
		p.breaker.OnSuccess()
		atomic.AddInt64(&p.metrics.SuccessfulExtractions, 1)
		p.recordMemory(stats)
		elapsed := time.Since(start)
		atomic.AddInt64(&p.metrics.totalProcessingNanos, elapsed.Nanoseconds())
		log.Debug("url=%s instance=%s strategy=wasm elapsed=%v", url, inst.ID, elapsed)
		return Result{Document: doc, StrategyUsed: document.StrategyWasm, ProcessingTime: elapsed}, nil
	}

	// Step 6: failure path.
	inst.recordFailure()
	destroy := inst.unhealthy(p.cfg)
	p.release(inst, !destroy)
	p.breaker.OnFailure()
	atomic.AddInt64(&p.metrics.FailedExtractions, 1)

	var compErr *ComponentError
	if ce, ok := extractErr.(*ComponentError); ok {
		compErr = ce
		if ce.Kind == ErrResourceLimit {
			atomic.AddInt64(&p.metrics.EpochTimeouts, 1)
		}
	}
	log.Warn("url=%s instance=%s extraction failed: %v", url, inst.ID, extractErr)

	if p.cfg.FallbackEnabled {
		return p.runFallback(html, url, mode, start)
	}

	if compErr != nil && compErr.Kind == ErrResourceLimit {
		return Result{}, riperrors.Wrap(riperrors.Extraction, "extractor.Extract", "resource limit exceeded", extractErr)
	}
	return Result{}, riperrors.Wrap(riperrors.Extraction, "extractor.Extract", "component extraction failed", extractErr)
}

func (p *Pool) runFallback(html, url string, mode document.ExtractionMode, start time.Time) (Result, error) {
	doc, err := p.fallback.Extract(html, url, mode)
	elapsed := time.Since(start)
	if err != nil {
		return Result{}, riperrors.Wrap(riperrors.Extraction, "extractor.runFallback", "native fallback failed", err)
	}
	atomic.AddInt64(&p.metrics.FallbackExtractions, 1)
	atomic.AddInt64(&p.metrics.totalProcessingNanos, elapsed.Nanoseconds())
	return Result{Document: doc, StrategyUsed: document.StrategyTrekFallback, Fallback: true, ProcessingTime: elapsed}, nil
}

func (p *Pool) recordMemory(stats InstanceStats) {
	atomic.StoreInt64(&p.metrics.CurrentMemoryPages, int64(stats.MemoryPages))
	for {
		peak := atomic.LoadInt64(&p.metrics.PeakMemoryPages)
		if int64(stats.MemoryPages) <= peak {
			return
		}
		if atomic.CompareAndSwapInt64(&p.metrics.PeakMemoryPages, peak, int64(stats.MemoryPages)) {
			return
		}
	}
}

// Snapshot returns a point-in-time read of the pool's metrics.
func (p *Pool) Snapshot() Snapshot {
	m := Metrics{
		TotalExtractions:      atomic.LoadInt64(&p.metrics.TotalExtractions),
		SuccessfulExtractions: atomic.LoadInt64(&p.metrics.SuccessfulExtractions),
		FailedExtractions:     atomic.LoadInt64(&p.metrics.FailedExtractions),
		FallbackExtractions:   atomic.LoadInt64(&p.metrics.FallbackExtractions),
		CircuitOpens:          atomic.LoadInt64(&p.metrics.CircuitOpens),
		EpochTimeouts:         atomic.LoadInt64(&p.metrics.EpochTimeouts),
		GrowFailures:          atomic.LoadInt64(&p.metrics.GrowFailures),
		CurrentMemoryPages:    atomic.LoadInt64(&p.metrics.CurrentMemoryPages),
		PeakMemoryPages:       atomic.LoadInt64(&p.metrics.PeakMemoryPages),
	}
	var avg time.Duration
	if m.TotalExtractions > 0 {
		avg = time.Duration(atomic.LoadInt64(&p.metrics.totalProcessingNanos) / m.TotalExtractions)
	}
	return Snapshot{Metrics: m, AverageProcessingTime: avg, SemaphoreWaiters: atomic.LoadInt64(&p.waiters)}
}

// Utilization returns the fraction of MaxPoolSize currently checked out,
// consumed by the health monitor (§4.5) and the Resource Facade (§4.8).
func (p *Pool) Utilization() float64 {
	if p.cfg.MaxPoolSize == 0 {
		return 0
	}
	p.mu.Lock()
	idle := len(p.idle)
	p.mu.Unlock()
	inUse := p.cfg.MaxPoolSize - idle
	if inUse < 0 {
		inUse = 0
	}
	return float64(inUse) / float64(p.cfg.MaxPoolSize)
}

// BreakerStats exposes the pool's private circuit breaker state.
func (p *Pool) BreakerStats() breaker.Stats { return p.breaker.Stats() }

// Shutdown stops the epoch-tick goroutine and destroys idle instances,
// per spec.md §5's lifecycle: "in-flight permits drain under a grace
// period, instances are destroyed".
func (p *Pool) Shutdown(ctx context.Context) error {
	// Wait for in-flight extractions to hand back their permits, bounded by ctx.
	drainErr := p.sem.Acquire(ctx, int64(p.cfg.MaxPoolSize))

	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, inst := range p.idle {
		_ = inst.Component.Close()
	}
	p.idle = nil
	return drainErr
}
