package storygate

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a specific counter or histogram in the in-process
// metrics system.
type MetricID uint16

const (
	// MetricSignInSuccess counts primary sign-ins admitted without a second factor.
	MetricSignInSuccess MetricID = iota
	// MetricSignInFailure counts rejected primary credentials.
	MetricSignInFailure
	// MetricSecurityCheckFailed counts sign-ins denied because the factor
	// registry could not be consulted.
	MetricSecurityCheckFailed
	// MetricChallengeIssued counts challenges created at sign-in time.
	MetricChallengeIssued
	// MetricChallengeSuccess counts challenges answered correctly.
	MetricChallengeSuccess
	// MetricChallengeFailure counts wrong-code submissions.
	MetricChallengeFailure
	// MetricChallengeExpired counts challenges that timed out before being answered.
	MetricChallengeExpired
	// MetricChallengeAbandoned counts explicit abandonments.
	MetricChallengeAbandoned
	// MetricChallengeReplay counts double-submissions racing a consumed challenge.
	MetricChallengeReplay
	// MetricAttemptsExceeded counts challenges consumed by the retry bound.
	MetricAttemptsExceeded
	// MetricEnrollStarted counts enrollment flows begun.
	MetricEnrollStarted
	// MetricEnrollConfirmed counts factors transitioned to verified.
	MetricEnrollConfirmed
	// MetricEnrollFailure counts failed enrollment attempts.
	MetricEnrollFailure
	// MetricFactorDisabled counts factor unenrollments.
	MetricFactorDisabled
	// MetricDecisionAdmit counts session-guard admissions.
	MetricDecisionAdmit
	// MetricDecisionChallenge counts session-guard redirects to the challenge step.
	MetricDecisionChallenge
	// MetricDecisionSignIn counts session-guard redirects to sign-in.
	MetricDecisionSignIn
	// MetricDecisionLatency is the session-guard latency histogram.
	MetricDecisionLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and an optional latency histogram for the
// decision path. All operations are no-ops when disabled.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a metrics instance configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc atomically increments a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records one decision-path latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricDecisionLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value reads a single counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot deep-copies the current counters and histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricDecisionLatency].buckets[i])
		}
		s.Histograms[MetricDecisionLatency] = buckets
	}

	return s
}

// Bucket upper bounds: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, +Inf.
func bucketIndex(d time.Duration) int {
	switch {
	case d <= 5*time.Millisecond:
		return 0
	case d <= 10*time.Millisecond:
		return 1
	case d <= 25*time.Millisecond:
		return 2
	case d <= 50*time.Millisecond:
		return 3
	case d <= 100*time.Millisecond:
		return 4
	case d <= 250*time.Millisecond:
		return 5
	case d <= 500*time.Millisecond:
		return 6
	default:
		return 7
	}
}
