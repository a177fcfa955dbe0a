// Package breaker implements the generic circuit breaker state machine
// described in spec.md §4.4 (pool-internal) and §4.14 (generic, reusable).
// Per SPEC_FULL §D.1, both are instantiations of this single type; they
// never share state — each caller constructs and owns its own Breaker.
package breaker

import (
	"sync"
	"time"

	"riptide/internal/riperrors"
)

// State is the circuit breaker's tagged state, per spec.md §3.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config parameterizes one Breaker instance.
type Config struct {
	FailureThreshold     int           // failures within the window before tripping
	MinRequestThreshold  int           // minimum requests observed before tripping is considered
	FailureWindow        time.Duration // sliding window for counting failures
	RecoveryTimeout      time.Duration // Open -> HalfOpen after this elapses
	SuccessRateThreshold float64       // HalfOpen -> Closed when probe success rate reaches this
	MaxRepairAttempts    int           // failed HalfOpen rounds allowed before each further Open period lengthens (see maybeRecover)
	ProbeWindow          int           // number of probe outcomes considered in HalfOpen
}

// DefaultConfig mirrors spec.md §4.4's named defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:     5,
		MinRequestThreshold:  10,
		FailureWindow:        60 * time.Second,
		RecoveryTimeout:      30 * time.Second,
		SuccessRateThreshold: 0.7,
		MaxRepairAttempts:    1,
		ProbeWindow:          10,
	}
}

// Stats is a point-in-time snapshot of the breaker's counters.
type Stats struct {
	State          State
	FailureCount   int
	SuccessCount   int
	TotalRequests  int
	OpenedAt       time.Time
	RepairAttempts int
}

// Breaker is a single circuit breaker instance. It is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu             sync.Mutex
	state          State
	failureCount   int
	successCount   int
	totalRequests  int
	lastFailure    time.Time
	openedAt       time.Time
	repairAttempts int
	windowStart    time.Time

	probeOutcomes []bool // ring of HalfOpen probe results, oldest first
}

// New constructs a Breaker starting Closed.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:         cfg,
		state:       Closed,
		windowStart: time.Time{},
	}
}

// State returns the current state, applying any time-based transition
// (Open -> HalfOpen) that is due.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecover()
	return b.state
}

// maybeRecover moves Open -> HalfOpen once the recovery timeout has
// elapsed. Once repair attempts are exhausted the required cooldown grows
// with each exhausted round, so recovery still eventually resumes without
// an operator Reset, but only after a much longer wait. Caller must hold b.mu.
func (b *Breaker) maybeRecover() {
	if b.state != Open {
		return
	}
	cooldown := b.cfg.RecoveryTimeout
	if b.cfg.MaxRepairAttempts > 0 && b.repairAttempts >= b.cfg.MaxRepairAttempts {
		cooldown *= time.Duration(b.repairAttempts - b.cfg.MaxRepairAttempts + 2)
	}
	if time.Since(b.openedAt) >= cooldown {
		b.state = HalfOpen
		b.probeOutcomes = nil
	}
}

// TryCall reports whether a call may proceed. It returns a
// riperrors.CircuitBreakerOpen error when the breaker is Open. HalfOpen
// admits probe calls; once repair attempts are exhausted the Open period
// before the next HalfOpen lengthens instead (see maybeRecover).
func (b *Breaker) TryCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecover()

	switch b.state {
	case Open:
		retryAfter := int((b.cfg.RecoveryTimeout + time.Second - 1) / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		return riperrors.New(riperrors.CircuitBreakerOpen, "breaker.TryCall", "circuit open").
			WithRetryAfter(retryAfter)
	case HalfOpen:
		return nil
	default:
		return nil
	}
}

// OnSuccess reports a successful call outcome.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecover()

	b.rollWindow()
	b.totalRequests++
	b.successCount++

	switch b.state {
	case HalfOpen:
		b.recordProbe(true)
		if b.probeSuccessRate() >= b.cfg.SuccessRateThreshold && len(b.probeOutcomes) >= min(b.cfg.ProbeWindow, 1) {
			b.closeBreaker()
		}
	case Closed:
		// staying closed; failure count only resets on an explicit window roll
	}
}

// OnFailure reports a failed call outcome and evaluates whether the
// breaker should trip.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecover()

	b.rollWindow()
	b.totalRequests++
	b.failureCount++
	b.lastFailure = time.Now()

	switch b.state {
	case HalfOpen:
		b.recordProbe(false)
		b.repairAttempts++
		b.openBreaker()
	case Closed:
		if b.failureCount >= b.cfg.FailureThreshold && b.totalRequests >= b.cfg.MinRequestThreshold {
			b.openBreaker()
		}
	}
}

// rollWindow resets the failure/total counters once the failure window has
// elapsed since it started, so tripping is evaluated per-window rather than
// over the breaker's entire lifetime.
func (b *Breaker) rollWindow() {
	now := time.Now()
	if b.windowStart.IsZero() {
		b.windowStart = now
		return
	}
	if now.Sub(b.windowStart) >= b.cfg.FailureWindow {
		b.windowStart = now
		b.failureCount = 0
		b.successCount = 0
		b.totalRequests = 0
	}
}

func (b *Breaker) recordProbe(success bool) {
	b.probeOutcomes = append(b.probeOutcomes, success)
	if len(b.probeOutcomes) > b.cfg.ProbeWindow && b.cfg.ProbeWindow > 0 {
		b.probeOutcomes = b.probeOutcomes[len(b.probeOutcomes)-b.cfg.ProbeWindow:]
	}
}

func (b *Breaker) probeSuccessRate() float64 {
	if len(b.probeOutcomes) == 0 {
		return 0
	}
	successes := 0
	for _, ok := range b.probeOutcomes {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(b.probeOutcomes))
}

func (b *Breaker) openBreaker() {
	b.state = Open
	b.openedAt = time.Now()
}

func (b *Breaker) closeBreaker() {
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
	b.totalRequests = 0
	b.repairAttempts = 0
	b.probeOutcomes = nil
	b.windowStart = time.Time{}
}

// Reset forces the breaker back to Closed, clearing all counters. This is
// the operator-initiated recovery path named in spec.md §4.4 when repair
// attempts are exhausted.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeBreaker()
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecover()
	return Stats{
		State:          b.state,
		FailureCount:   b.failureCount,
		SuccessCount:   b.successCount,
		TotalRequests:  b.totalRequests,
		OpenedAt:       b.openedAt,
		RepairAttempts: b.repairAttempts,
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
