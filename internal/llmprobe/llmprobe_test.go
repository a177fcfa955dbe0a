package llmprobe

import (
	"context"
	"testing"
	"time"

	"riptide/internal/breaker"
	"riptide/internal/riperrors"
)

// Generate's upstream genai call cannot be exercised without live
// credentials; these tests instead verify the breaker gating around it,
// which is the entire contract spec.md §1/§4.14 asks this package to own.

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Fatalf("expected an error when no API key is configured")
	}
	if riperrors.KindOf(err) != riperrors.Config {
		t.Fatalf("expected Config kind, got %v", riperrors.KindOf(err))
	}
}

func TestGenerateShortCircuitsWhenBreakerOpen(t *testing.T) {
	p := &Probe{
		model: "test-model",
		brk: breaker.New(breaker.Config{
			FailureThreshold:    1,
			MinRequestThreshold: 1,
			FailureWindow:       time.Minute,
			RecoveryTimeout:     time.Hour,
		}),
	}
	p.brk.OnFailure()

	if p.State() != breaker.Open {
		t.Fatalf("expected breaker to be open after a single failure under threshold 1, got %s", p.State())
	}

	_, err := p.Generate(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected an error when the breaker is open")
	}
	if riperrors.KindOf(err) != riperrors.CircuitBreakerOpen {
		t.Fatalf("expected CircuitBreakerOpen kind, got %v", riperrors.KindOf(err))
	}
}

func TestStatsReflectsBreakerActivity(t *testing.T) {
	p := &Probe{
		model: "test-model",
		brk: breaker.New(breaker.Config{
			FailureThreshold:    5,
			MinRequestThreshold: 5,
			FailureWindow:       time.Minute,
			RecoveryTimeout:     time.Second,
		}),
	}
	p.brk.OnFailure()
	stats := p.Stats()
	if stats.FailureCount != 1 {
		t.Fatalf("expected FailureCount=1, got %d", stats.FailureCount)
	}
}
