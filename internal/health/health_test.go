package health

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fixedSampler(s PoolSample) Sampler {
	return SamplerFunc(func() PoolSample { return s })
}

func testConfig() Config {
	return Config{Interval: 5 * time.Millisecond, SampleTimeout: 50 * time.Millisecond, HistoryCap: 5}
}

func TestClassifyHealthyWhenNominal(t *testing.T) {
	m := New(testConfig(), fixedSampler(PoolSample{
		TotalExtractions:      100,
		SuccessfulExtractions: 99,
		CurrentMemoryPages:    10,
		MemoryLimitPages:      100,
		Utilization:           0.2,
	}))
	report := m.classify(PoolSample{
		TotalExtractions:      100,
		SuccessfulExtractions: 99,
		CurrentMemoryPages:    10,
		MemoryLimitPages:      100,
		Utilization:           0.2,
	})
	if report.Status != Healthy {
		t.Fatalf("expected Healthy, got %s", report.Status)
	}
}

func TestClassifyCriticalOnLowSuccessRate(t *testing.T) {
	m := New(testConfig(), fixedSampler(PoolSample{}))
	report := m.classify(PoolSample{TotalExtractions: 100, SuccessfulExtractions: 40})
	if report.Status != Critical {
		t.Fatalf("expected Critical, got %s", report.Status)
	}
}

func TestClassifyUnhealthyOnHighMemory(t *testing.T) {
	m := New(testConfig(), fixedSampler(PoolSample{}))
	report := m.classify(PoolSample{
		TotalExtractions:      10,
		SuccessfulExtractions: 10,
		CurrentMemoryPages:    80,
		MemoryLimitPages:      100,
	})
	if report.MemoryTier != MemoryHigh {
		t.Fatalf("expected MemoryHigh tier, got %s", report.MemoryTier)
	}
	if report.Status != Unhealthy {
		t.Fatalf("expected Unhealthy, got %s", report.Status)
	}
}

func TestClassifyDegradedOnSlowAverage(t *testing.T) {
	m := New(testConfig(), fixedSampler(PoolSample{}))
	report := m.classify(PoolSample{
		TotalExtractions:      10,
		SuccessfulExtractions: 10,
		AverageProcessingTime: 6 * time.Second,
	})
	if report.Status != Degraded {
		t.Fatalf("expected Degraded, got %s", report.Status)
	}
}

func TestTrendUnknownWithFewerThanTwoSamples(t *testing.T) {
	m := New(testConfig(), fixedSampler(PoolSample{}))
	if trend := m.trendLocked(); trend != TrendUnknown {
		t.Fatalf("expected Unknown trend with no history, got %s", trend)
	}
}

func TestTrendDegradingWhenStatusWorsens(t *testing.T) {
	m := New(testConfig(), fixedSampler(PoolSample{}))
	m.history = []Report{{Status: Healthy}, {Status: Degraded}, {Status: Unhealthy}}
	if trend := m.trendLocked(); trend != TrendDegrading {
		t.Fatalf("expected Degrading trend, got %s", trend)
	}
}

func TestTrendImprovingWhenStatusRecovers(t *testing.T) {
	m := New(testConfig(), fixedSampler(PoolSample{}))
	m.history = []Report{{Status: Critical}, {Status: Unhealthy}, {Status: Healthy}}
	if trend := m.trendLocked(); trend != TrendImproving {
		t.Fatalf("expected Improving trend, got %s", trend)
	}
}

func TestHistoryIsBoundedAndAppendOnly(t *testing.T) {
	cfg := testConfig()
	cfg.HistoryCap = 3
	m := New(cfg, fixedSampler(PoolSample{TotalExtractions: 1, SuccessfulExtractions: 1}))

	for i := 0; i < 10; i++ {
		m.sampleOnce()
	}

	hist := m.History()
	if len(hist) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(hist))
	}
}

func TestMonitorStartStopSamplesOnInterval(t *testing.T) {
	m := New(testConfig(), fixedSampler(PoolSample{TotalExtractions: 1, SuccessfulExtractions: 1}))
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	time.Sleep(30 * time.Millisecond)
	cancel()
	m.Stop()

	if _, ok := m.Latest(); !ok {
		t.Fatalf("expected at least one sample to have been recorded")
	}
}

func TestSampleTimeoutFallsBackToZeroSample(t *testing.T) {
	cfg := testConfig()
	cfg.SampleTimeout = 5 * time.Millisecond
	slow := SamplerFunc(func() PoolSample {
		time.Sleep(50 * time.Millisecond)
		return PoolSample{TotalExtractions: 1, SuccessfulExtractions: 1}
	})
	m := New(cfg, slow)
	m.sampleOnce()

	report, ok := m.Latest()
	if !ok {
		t.Fatalf("expected a report to be recorded even on timeout")
	}
	if report.SuccessRate != 1.0 {
		t.Fatalf("expected default success rate of 1.0 for an empty sample, got %f", report.SuccessRate)
	}
}
