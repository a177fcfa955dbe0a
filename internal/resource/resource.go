// Package resource implements the Resource Facade, spec.md §4.8: the
// single admission point every pool acquisition passes through. It checks
// process-wide memory pressure, consumes the tenant's rate-limit quota,
// and acquires a scoped handle from the target pool within an acquisition
// timeout, releasing it automatically when the caller is done.
package resource

import (
	"context"
	"time"

	"riptide/internal/logging"
	"riptide/internal/ratelimit"
	"riptide/internal/riperrors"
)

// PoolKind names the collaborator pool an acquisition targets.
type PoolKind string

const (
	PoolExtractor PoolKind = "extractor"
	PoolBrowser   PoolKind = "browser"
)

// UtilizationSampler reports pool-inferred memory/slot utilization in
// [0,1] for a given pool, used for the memory-pressure admission check.
// cmd/riptide's wiring adapts *extractor.Pool's Utilization for
// PoolExtractor and reports 0 for PoolBrowser.
type UtilizationSampler func(kind PoolKind) float64

// Acquirer performs the actual pool acquisition once admission succeeds,
// returning a release function. cmd/riptide's wiring backs it with two
// semaphores of its own, sized from Extractor.MaxPoolSize and
// Browser.MaxConcurrentSessions.
type Acquirer func(ctx context.Context, kind PoolKind) (release func(), err error)

// Config parameterizes the facade.
type Config struct {
	MemoryPressureThreshold float64
	AcquisitionTimeout      time.Duration
}

// DefaultConfig mirrors config.ResourceConfig's defaults (spec.md §4.8:
// threshold 0.8, acquisition_timeout 30s).
func DefaultConfig() Config {
	return Config{MemoryPressureThreshold: 0.8, AcquisitionTimeout: 30 * time.Second}
}

// Handle is a scoped acquisition; Release must be called exactly once,
// and is safe to call multiple times (idempotent no-op after the first).
type Handle struct {
	release func()
	once    bool
}

// Release gives the acquired slot back. Safe to call more than once.
func (h *Handle) Release() {
	if h == nil || h.once {
		return
	}
	h.once = true
	if h.release != nil {
		h.release()
	}
}

// Facade is the Resource Facade: memory pressure -> rate limit -> pool
// acquisition, in that order, matching spec.md §4.8's lettered steps.
type Facade struct {
	cfg      Config
	limiter  *ratelimit.Limiter
	utilOf   UtilizationSampler
	acquire  Acquirer
}

// New constructs a Facade. limiter gates per-tenant request quota;
// utilOf samples a pool's current utilization; acquire performs the real
// pool checkout.
func New(cfg Config, limiter *ratelimit.Limiter, utilOf UtilizationSampler, acquire Acquirer) *Facade {
	if cfg.AcquisitionTimeout <= 0 {
		cfg.AcquisitionTimeout = 30 * time.Second
	}
	if cfg.MemoryPressureThreshold <= 0 {
		cfg.MemoryPressureThreshold = 0.8
	}
	return &Facade{cfg: cfg, limiter: limiter, utilOf: utilOf, acquire: acquire}
}

// Acquire runs the full admission sequence for one tenant's request
// against the named pool: memory pressure check, quota consumption, then
// a bounded pool acquisition. The returned Handle's Release gives the
// slot back; callers should `defer handle.Release()` immediately.
func (f *Facade) Acquire(ctx context.Context, tenant string, kind PoolKind) (*Handle, error) {
	log := logging.Get(logging.CategoryResource)

	if f.utilOf != nil {
		if util := f.utilOf(kind); util > f.cfg.MemoryPressureThreshold {
			log.Warn("admission refused: pool=%s utilization=%.2f threshold=%.2f", kind, util, f.cfg.MemoryPressureThreshold)
			return nil, riperrors.New(riperrors.Dependency, "resource.Acquire",
				"memory pressure: pool utilization above threshold")
		}
	}

	if f.limiter != nil {
		if err := f.limiter.CheckQuota(tenant); err != nil {
			return nil, err
		}
		f.limiter.Consume(tenant, 1)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, f.cfg.AcquisitionTimeout)
	defer cancel()

	release, err := f.acquire(acquireCtx, kind)
	if err != nil {
		if acquireCtx.Err() != nil {
			return nil, riperrors.Wrap(riperrors.Timeout, "resource.Acquire", "pool acquisition timed out", err)
		}
		return nil, riperrors.Wrap(riperrors.Dependency, "resource.Acquire", "pool acquisition failed", err)
	}

	return &Handle{release: release}, nil
}
