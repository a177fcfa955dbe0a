package extractor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"riptide/internal/breaker"
	"riptide/internal/document"
)

// fakeComponent is a Component test double that never touches wasmtime,
// letting pool_test.go exercise admission, lifecycle retirement, and
// circuit-breaker/fallback behavior without wasmtime.
type fakeComponent struct {
	fail     bool
	trapped  bool
	memPages int
	closed   bool
}

func (f *fakeComponent) Extract(ctx context.Context, html, url string, mode document.ExtractionMode) (document.ExtractedDocument, InstanceStats, error) {
	if f.fail {
		return document.ExtractedDocument{}, InstanceStats{MemoryPages: f.memPages}, &ComponentError{Kind: ErrExtractorError, Msg: "synthetic failure"}
	}
	doc := document.NewExtractedDocument(url, "hello world", "hello world", document.StrategyWasm)
	return doc, InstanceStats{MemoryPages: f.memPages, ProcessingTime: time.Millisecond}, nil
}

func (f *fakeComponent) SetEpochDeadline(ticks uint64) {}
func (f *fakeComponent) MemoryPages() int              { return f.memPages }
func (f *fakeComponent) Healthy() bool                 { return !f.trapped }
func (f *fakeComponent) Close() error                  { f.closed = true; return nil }

func testPoolConfig() Config {
	return Config{
		MaxPoolSize:            2,
		InitialPoolSize:        1,
		AcquireTimeout:         100 * time.Millisecond,
		MemoryCapPages:         100,
		EpochDeadline:          time.Second,
		EpochTickInterval:      5 * time.Millisecond,
		MaxUseCount:            5,
		MaxAge:                 time.Hour,
		MaxConsecutiveFailures: 2,
		FallbackEnabled:        true,
		Breaker: breaker.Config{
			FailureThreshold:     3,
			MinRequestThreshold:  3,
			FailureWindow:        time.Minute,
			RecoveryTimeout:      20 * time.Millisecond,
			SuccessRateThreshold: 0.7,
			MaxRepairAttempts:    1,
			ProbeWindow:          5,
		},
	}
}

func newTestPool(t *testing.T, cfg Config, factory ComponentFactory) *Pool {
	t.Helper()
	p := New(cfg, factory, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		_ = p.Shutdown(context.Background())
	})
	return p
}

func TestExtractSucceedsAndReturnsInstanceToPool(t *testing.T) {
	factory := func() (Component, error) { return &fakeComponent{}, nil }
	p := newTestPool(t, testPoolConfig(), factory)

	res, err := p.Extract(context.Background(), "<html></html>", "https://example.com", document.Article())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.StrategyUsed != document.StrategyWasm {
		t.Fatalf("expected wasm strategy, got %s", res.StrategyUsed)
	}

	snap := p.Snapshot()
	if snap.SuccessfulExtractions != 1 {
		t.Fatalf("expected 1 successful extraction, got %d", snap.SuccessfulExtractions)
	}
}

func TestExtractFallsBackOnComponentFailure(t *testing.T) {
	factory := func() (Component, error) { return &fakeComponent{fail: true}, nil }
	p := newTestPool(t, testPoolConfig(), factory)

	res, err := p.Extract(context.Background(), "<html></html>", "https://example.com", document.Article())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !res.Fallback || res.StrategyUsed != document.StrategyTrekFallback {
		t.Fatalf("expected fallback result, got %+v", res)
	}

	snap := p.Snapshot()
	if snap.FallbackExtractions != 1 {
		t.Fatalf("expected 1 fallback extraction, got %d", snap.FallbackExtractions)
	}
	if snap.FailedExtractions != 1 {
		t.Fatalf("expected 1 failed extraction recorded before fallback, got %d", snap.FailedExtractions)
	}
}

func TestExtractFailsWithoutFallback(t *testing.T) {
	factory := func() (Component, error) { return &fakeComponent{fail: true}, nil }
	cfg := testPoolConfig()
	cfg.FallbackEnabled = false
	p := newTestPool(t, cfg, factory)

	if _, err := p.Extract(context.Background(), "<html></html>", "https://example.com", document.Article()); err == nil {
		t.Fatalf("expected error with fallback disabled")
	}
}

func TestUnhealthyInstanceIsRetiredNotReused(t *testing.T) {
	var created int64
	factory := func() (Component, error) {
		atomic.AddInt64(&created, 1)
		return &fakeComponent{fail: true}, nil
	}
	cfg := testPoolConfig()
	cfg.MaxConsecutiveFailures = 1
	cfg.FallbackEnabled = false
	cfg.Breaker.MinRequestThreshold = 1000 // keep breaker closed for this test
	p := newTestPool(t, cfg, factory)

	for i := 0; i < 2; i++ {
		_, _ = p.Extract(context.Background(), "<html></html>", "https://example.com", document.Article())
	}

	if atomic.LoadInt64(&created) < 2 {
		t.Fatalf("expected a retired instance to force a new one, created=%d", created)
	}
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	factory := func() (Component, error) { return &fakeComponent{fail: true}, nil }
	cfg := testPoolConfig()
	cfg.FallbackEnabled = false
	cfg.MaxConsecutiveFailures = 1000
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.MinRequestThreshold = 2
	p := newTestPool(t, cfg, factory)

	for i := 0; i < 2; i++ {
		_, _ = p.Extract(context.Background(), "<html></html>", "https://example.com", document.Article())
	}

	if p.BreakerStats().State != breaker.Open {
		t.Fatalf("expected breaker to be open after repeated failures, got %s", p.BreakerStats().State)
	}

	if _, err := p.Extract(context.Background(), "<html></html>", "https://example.com", document.Article()); err == nil {
		t.Fatalf("expected error while breaker is open and fallback disabled")
	}
	snap := p.Snapshot()
	if snap.CircuitOpens == 0 {
		t.Fatalf("expected CircuitOpens to be recorded")
	}
}

func TestAcquireTimesOutWhenPoolExhausted(t *testing.T) {
	block := make(chan struct{})
	factory := func() (Component, error) { return &fakeComponent{}, nil }
	cfg := testPoolConfig()
	cfg.MaxPoolSize = 1
	cfg.InitialPoolSize = 0
	cfg.AcquireTimeout = 20 * time.Millisecond
	p := newTestPool(t, cfg, factory)

	// Hold the single permit open in a goroutine so a concurrent Extract
	// call has no permit left to acquire and must time out.
	done := make(chan struct{})
	go func() {
		_ = p.sem.Acquire(context.Background(), 1)
		<-block
		p.sem.Release(1)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	_, err := p.Extract(context.Background(), "<html></html>", "https://example.com", document.Article())
	if err == nil {
		t.Fatalf("expected acquire timeout error")
	}

	close(block)
	<-done
}

func TestUtilizationReflectsIdleCount(t *testing.T) {
	factory := func() (Component, error) { return &fakeComponent{}, nil }
	cfg := testPoolConfig()
	cfg.InitialPoolSize = 2
	cfg.MaxPoolSize = 2
	p := newTestPool(t, cfg, factory)

	if u := p.Utilization(); u != 0 {
		t.Fatalf("expected 0 utilization with both instances idle, got %f", u)
	}
}
