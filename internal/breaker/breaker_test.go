package breaker

import (
	"errors"
	"testing"
	"time"

	"riptide/internal/riperrors"
)

func testConfig() Config {
	return Config{
		FailureThreshold:     3,
		MinRequestThreshold:  3,
		FailureWindow:        time.Minute,
		RecoveryTimeout:      20 * time.Millisecond,
		SuccessRateThreshold: 0.7,
		MaxRepairAttempts:    1,
		ProbeWindow:          5,
	}
}

func TestStartsClosed(t *testing.T) {
	b := New(testConfig())
	if b.State() != Closed {
		t.Fatalf("expected initial state Closed, got %s", b.State())
	}
	if err := b.TryCall(); err != nil {
		t.Fatalf("expected TryCall to succeed when closed: %v", err)
	}
}

func TestTripsOpenAfterThreshold(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.OnFailure()
	}
	if b.State() != Open {
		t.Fatalf("expected Open after reaching failure threshold, got %s", b.State())
	}
	err := b.TryCall()
	if err == nil {
		t.Fatal("expected TryCall to refuse when Open")
	}
	if riperrors.KindOf(err) != riperrors.CircuitBreakerOpen {
		t.Fatalf("expected CircuitBreakerOpen kind, got %s", riperrors.KindOf(err))
	}
}

func TestDoesNotTripBelowMinRequestThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.MinRequestThreshold = 100
	b := New(cfg)
	for i := 0; i < 3; i++ {
		b.OnFailure()
	}
	if b.State() != Closed {
		t.Fatalf("expected breaker to stay Closed below min request threshold, got %s", b.State())
	}
}

func TestOpenTransitionsToHalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.OnFailure()
	}
	if b.State() != Open {
		t.Fatal("expected Open")
	}
	time.Sleep(30 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatalf("expected HalfOpen after recovery timeout, got %s", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.OnFailure()
	}
	time.Sleep(30 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatal("expected HalfOpen")
	}
	b.OnFailure()
	if b.State() != Open {
		t.Fatalf("expected Open after HalfOpen failure, got %s", b.State())
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.OnFailure()
	}
	time.Sleep(30 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatal("expected HalfOpen")
	}
	b.OnSuccess()
	if b.State() != Closed {
		t.Fatalf("expected Closed after a successful probe meeting the success-rate threshold, got %s", b.State())
	}
}

func TestResetForcesClosed(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.OnFailure()
	}
	if b.State() != Open {
		t.Fatal("expected Open")
	}
	b.Reset()
	if b.State() != Closed {
		t.Fatal("expected Closed after Reset")
	}
	stats := b.Stats()
	if stats.FailureCount != 0 || stats.TotalRequests != 0 {
		t.Fatalf("expected counters cleared after reset, got %+v", stats)
	}
}

func TestTwoInstancesDoNotShareState(t *testing.T) {
	poolBreaker := New(testConfig())
	genericBreaker := New(testConfig())

	for i := 0; i < 3; i++ {
		poolBreaker.OnFailure()
	}
	if poolBreaker.State() != Open {
		t.Fatal("expected pool breaker Open")
	}
	if genericBreaker.State() != Closed {
		t.Fatal("expected generic breaker to remain Closed, independent of the pool breaker")
	}
}

func TestErrorsIsCircuitBreakerOpen(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.OnFailure()
	}
	err := b.TryCall()
	var rerr *riperrors.Error
	if !errors.As(err, &rerr) {
		t.Fatal("expected a *riperrors.Error")
	}
	if rerr.RetryAfter <= 0 {
		t.Fatal("expected a positive retry-after hint")
	}
}
