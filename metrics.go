package authkit

import (
	"sync/atomic"
	"time"
)

// MetricID names one engine counter.
type MetricID uint16

const (
	// MetricRegisterSuccess counts created accounts.
	MetricRegisterSuccess MetricID = iota
	// MetricRegisterConflict counts registrations against taken emails.
	MetricRegisterConflict
	// MetricLoginSuccess counts completed password logins.
	MetricLoginSuccess
	// MetricLoginFailure counts rejected password logins.
	MetricLoginFailure
	// MetricChallengeIssued counts second-factor challenges created.
	MetricChallengeIssued
	// MetricChallengeSuccess counts redeemed second-factor challenges.
	MetricChallengeSuccess
	// MetricChallengeFailure counts failed second-factor attempts.
	MetricChallengeFailure
	// MetricRefreshSuccess counts successful token rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rejected refresh attempts.
	MetricRefreshFailure
	// MetricRefreshReuseDetected counts stale refresh tokens presented
	// after rotation. Each one destroys its session.
	MetricRefreshReuseDetected
	// MetricEmailVerifySuccess counts redeemed verification proofs.
	MetricEmailVerifySuccess
	// MetricEmailVerifyFailure counts rejected verification proofs.
	MetricEmailVerifyFailure
	// MetricResetRequested counts password reset emails dispatched.
	MetricResetRequested
	// MetricResetSuccess counts completed password resets.
	MetricResetSuccess
	// MetricResetFailure counts rejected reset proofs.
	MetricResetFailure
	// MetricPasswordChanged counts authenticated password changes.
	MetricPasswordChanged
	// MetricFederatedLogin counts logins through the federated bridge.
	MetricFederatedLogin
	// MetricFederatedLinkCreated counts new provider links.
	MetricFederatedLinkCreated
	// MetricSessionCreated counts refresh sessions established.
	MetricSessionCreated
	// MetricSessionInvalidated counts sessions destroyed by the engine.
	MetricSessionInvalidated
	// MetricValidateLatency is the access validation latency histogram.
	MetricValidateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type latencyHistogram struct {
	buckets [histBucketCount]uint64
}

// Metrics is a set of lock-free in-process counters. All methods are
// safe for concurrent use and are no-ops on a nil receiver.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histogram     latencyHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters, consumed by
// the exporters under metrics/export.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics builds a counter set according to cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records an access validation latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricValidateLatency {
		return
	}
	atomic.AddUint64(&m.histogram.buckets[latencyBucket(d)], 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and histogram bucket.
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
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.histogram.buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

func latencyBucket(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 1:
		return 0
	case ms <= 5:
		return 1
	case ms <= 10:
		return 2
	case ms <= 25:
		return 3
	case ms <= 50:
		return 4
	case ms <= 100:
		return 5
	case ms <= 250:
		return 6
	default:
		return 7
	}
}
