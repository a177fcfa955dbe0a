package extractor

import (
	"time"

	"github.com/google/uuid"
)

// PooledInstance is a handle to an instantiated WASM component plus the
// lifecycle bookkeeping spec.md §3 requires: unique id, creation instant,
// use count, consecutive-failure count, and peak/current memory pages.
type PooledInstance struct {
	ID                  string
	Component           Component
	CreatedAt           time.Time
	UseCount            int
	ConsecutiveFailures int
	PeakMemoryPages     int
}

func newPooledInstance(c Component) *PooledInstance {
	return &PooledInstance{
		ID:        uuid.NewString(),
		Component: c,
		CreatedAt: time.Now(),
	}
}

// unhealthy reports whether this instance must be destroyed rather than
// returned to the pool, per spec.md §3's "Pooled Extractor Instance"
// invariant: use > N, failures >= F, memory >= L, or age >= T.
func (p *PooledInstance) unhealthy(cfg Config) bool {
	if p.UseCount >= cfg.MaxUseCount {
		return true
	}
	if p.ConsecutiveFailures >= cfg.MaxConsecutiveFailures {
		return true
	}
	if p.PeakMemoryPages >= cfg.MemoryCapPages {
		return true
	}
	if cfg.MaxAge > 0 && time.Since(p.CreatedAt) >= cfg.MaxAge {
		return true
	}
	if !p.Component.Healthy() {
		return true
	}
	return false
}

func (p *PooledInstance) recordSuccess() {
	p.UseCount++
	p.ConsecutiveFailures = 0
	if mem := p.Component.MemoryPages(); mem > p.PeakMemoryPages {
		p.PeakMemoryPages = mem
	}
}

func (p *PooledInstance) recordFailure() {
	p.UseCount++
	p.ConsecutiveFailures++
}
