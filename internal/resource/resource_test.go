package resource

import (
	"context"
	"testing"
	"time"

	"riptide/internal/ratelimit"
	"riptide/internal/riperrors"
)

func TestAcquireSucceedsUnderNominalConditions(t *testing.T) {
	released := false
	f := New(DefaultConfig(), ratelimit.New(5, 5),
		func(PoolKind) float64 { return 0.1 },
		func(ctx context.Context, kind PoolKind) (func(), error) {
			return func() { released = true }, nil
		})

	handle, err := f.Acquire(context.Background(), "tenant-a", PoolExtractor)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	handle.Release()
	if !released {
		t.Fatalf("expected release callback to run")
	}
}

func TestAcquireRefusesOnMemoryPressure(t *testing.T) {
	f := New(DefaultConfig(), ratelimit.New(5, 5),
		func(PoolKind) float64 { return 0.95 },
		func(ctx context.Context, kind PoolKind) (func(), error) { return func() {}, nil })

	_, err := f.Acquire(context.Background(), "tenant-a", PoolExtractor)
	if err == nil {
		t.Fatalf("expected memory pressure refusal")
	}
	if riperrors.KindOf(err) != riperrors.Dependency {
		t.Fatalf("expected Dependency kind, got %v", riperrors.KindOf(err))
	}
}

func TestAcquireRefusesWhenQuotaExhausted(t *testing.T) {
	f := New(DefaultConfig(), ratelimit.New(1, 0),
		func(PoolKind) float64 { return 0.1 },
		func(ctx context.Context, kind PoolKind) (func(), error) { return func() {}, nil })

	if _, err := f.Acquire(context.Background(), "tenant-a", PoolExtractor); err != nil {
		t.Fatalf("expected first acquisition to succeed: %v", err)
	}
	_, err := f.Acquire(context.Background(), "tenant-a", PoolExtractor)
	if err == nil {
		t.Fatalf("expected quota exhaustion on second acquisition")
	}
	if riperrors.KindOf(err) != riperrors.RateLimited {
		t.Fatalf("expected RateLimited kind, got %v", riperrors.KindOf(err))
	}
}

func TestAcquireTimesOutWhenPoolAcquisitionBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AcquisitionTimeout = 20 * time.Millisecond
	f := New(cfg, ratelimit.New(5, 5),
		func(PoolKind) float64 { return 0.1 },
		func(ctx context.Context, kind PoolKind) (func(), error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	_, err := f.Acquire(context.Background(), "tenant-a", PoolExtractor)
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
	if riperrors.KindOf(err) != riperrors.Timeout {
		t.Fatalf("expected Timeout kind, got %v", riperrors.KindOf(err))
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	calls := 0
	f := New(DefaultConfig(), ratelimit.New(5, 5),
		func(PoolKind) float64 { return 0.1 },
		func(ctx context.Context, kind PoolKind) (func(), error) {
			return func() { calls++ }, nil
		})

	handle, err := f.Acquire(context.Background(), "tenant-a", PoolBrowser)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	handle.Release()
	handle.Release()
	if calls != 1 {
		t.Fatalf("expected release callback to run exactly once, ran %d times", calls)
	}
}
