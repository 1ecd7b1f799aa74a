package authkit

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginFailure)

	if got := m.Value(MetricLoginSuccess); got != 2 {
		t.Fatalf("login success = %d, want 2", got)
	}
	if got := m.Value(MetricLoginFailure); got != 1 {
		t.Fatalf("login failure = %d, want 1", got)
	}

	snapshot := m.Snapshot()
	if snapshot.Counters[MetricLoginSuccess] != 2 {
		t.Fatalf("snapshot login success = %d, want 2", snapshot.Counters[MetricLoginSuccess])
	}
	if _, ok := snapshot.Counters[MetricRefreshSuccess]; !ok {
		t.Fatal("snapshot is missing untouched counters")
	}
}

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("disabled counter = %d, want 0", got)
	}
	if got := len(m.Snapshot().Counters); got != 0 {
		t.Fatalf("disabled snapshot has %d counters, want 0", got)
	}

	// A nil receiver is a no-op everywhere.
	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	nilMetrics.Observe(MetricValidateLatency, time.Millisecond)
	if nilMetrics.Enabled() {
		t.Fatal("nil metrics reports enabled")
	}
}

func TestMetricsLatencyHistogram(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	samples := []time.Duration{
		500 * time.Microsecond,
		3 * time.Millisecond,
		40 * time.Millisecond,
		2 * time.Second,
	}
	for _, d := range samples {
		m.Observe(MetricValidateLatency, d)
	}

	buckets := m.Snapshot().Histograms[MetricValidateLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("bucket count = %d, want %d", len(buckets), histBucketCount)
	}

	var total uint64
	for _, b := range buckets {
		total += b
	}
	if total != uint64(len(samples)) {
		t.Fatalf("recorded %d samples, want %d", total, len(samples))
	}
	if buckets[0] != 1 || buckets[histBucketCount-1] != 1 {
		t.Fatalf("edge buckets = %d and %d, want 1 and 1", buckets[0], buckets[histBucketCount-1])
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const (
		workers = 8
		perGoro = 1000
	)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoro; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricRefreshSuccess); got != workers*perGoro {
		t.Fatalf("counter = %d, want %d", got, workers*perGoro)
	}
}
