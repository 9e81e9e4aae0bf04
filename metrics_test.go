package storygate

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricSignInSuccess)

	if got := m.Value(MetricSignInSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricSignInSuccess)
	m.Inc(MetricSignInSuccess)
	m.Inc(MetricSignInSuccess)

	if got := m.Value(MetricSignInSuccess); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricChallengeSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricChallengeSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricDecisionLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricDecisionLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}

	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsObserveIgnoresNonHistogramIDs(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	m.Observe(MetricSignInSuccess, time.Millisecond)

	snap := m.Snapshot()
	if len(snap.Histograms[MetricSignInSuccess]) != 0 {
		t.Fatal("expected no histogram for counter IDs")
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Inc(MetricSignInSuccess)
	m.Inc(MetricSignInFailure)
	m.Inc(MetricSignInFailure)
	m.Observe(MetricDecisionLatency, 2*time.Millisecond)

	snap := m.Snapshot()

	if snap.Counters[MetricSignInSuccess] != 1 {
		t.Fatalf("expected MetricSignInSuccess=1 got %d", snap.Counters[MetricSignInSuccess])
	}
	if snap.Counters[MetricSignInFailure] != 2 {
		t.Fatalf("expected MetricSignInFailure=2 got %d", snap.Counters[MetricSignInFailure])
	}
	if len(snap.Histograms[MetricDecisionLatency]) != 8 {
		t.Fatalf("expected histogram length 8")
	}
	if snap.Histograms[MetricDecisionLatency][0] != 1 {
		t.Fatalf("expected first histogram bucket=1 got %d", snap.Histograms[MetricDecisionLatency][0])
	}
}

func TestMetricsSnapshotDisabledIsEmpty(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricSignInSuccess)

	snap := m.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("expected empty snapshot when disabled, got %+v", snap)
	}
}
