package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	m.Inc(MetricLoginSuccess)
	m.Add(MetricTokensSwept, 5)
	m.Observe(MetricRefreshLatency, time.Millisecond)

	if m.Enabled() {
		t.Fatal("disabled metrics report enabled")
	}
	if m.Value(MetricLoginSuccess) != 0 {
		t.Fatal("disabled metrics recorded a counter")
	}

	snap := m.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("disabled snapshot not empty: %+v", snap)
	}
}

func TestMetricsCountersAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricRefreshConflict)
	m.Add(MetricTokensSwept, 7)

	if got := m.Value(MetricLoginSuccess); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}

	snap := m.Snapshot()
	if snap.Counters[MetricLoginSuccess] != 2 {
		t.Fatalf("snapshot login_success: %d", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricRefreshConflict] != 1 {
		t.Fatalf("snapshot refresh_conflict: %d", snap.Counters[MetricRefreshConflict])
	}
	if snap.Counters[MetricTokensSwept] != 7 {
		t.Fatalf("snapshot tokens_swept: %d", snap.Counters[MetricTokensSwept])
	}

	// A snapshot is a copy, not a view.
	m.Inc(MetricLoginSuccess)
	if snap.Counters[MetricLoginSuccess] != 2 {
		t.Fatal("snapshot mutated after the fact")
	}
}

func TestMetricsOutOfRangeIDIsIgnored(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(metricIDCount)
	m.Inc(metricIDCount + 100)
	if m.Value(metricIDCount) != 0 {
		t.Fatal("out-of-range id recorded")
	}
}

func TestMetricsLatencyHistogram(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	if !m.LatencyEnabled() {
		t.Fatal("latency histogram should be enabled")
	}

	m.Observe(MetricRefreshLatency, 2*time.Millisecond)
	m.Observe(MetricRefreshLatency, 40*time.Millisecond)
	m.Observe(MetricRefreshLatency, time.Second)
	// Only the refresh path carries a histogram.
	m.Observe(MetricLoginSuccess, time.Millisecond)

	snap := m.Snapshot()
	buckets, ok := snap.Histograms[MetricRefreshLatency]
	if !ok {
		t.Fatal("missing refresh latency histogram")
	}
	if buckets[0] != 1 || buckets[3] != 1 || buckets[7] != 1 {
		t.Fatalf("unexpected bucket distribution: %v", buckets)
	}
	if _, ok := snap.Histograms[MetricLoginSuccess]; ok {
		t.Fatal("non-latency metric grew a histogram")
	}
}

func TestBucketIndex(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{5 * time.Millisecond, 0},
		{6 * time.Millisecond, 1},
		{10 * time.Millisecond, 1},
		{25 * time.Millisecond, 2},
		{50 * time.Millisecond, 3},
		{100 * time.Millisecond, 4},
		{250 * time.Millisecond, 5},
		{500 * time.Millisecond, 6},
		{501 * time.Millisecond, 7},
		{time.Minute, 7},
	}
	for _, tc := range cases {
		if got := bucketIndex(tc.d); got != tc.want {
			t.Fatalf("bucketIndex(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}

func TestServiceMetricsCounting(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Metrics.Enabled = true
	})
	ctx := context.Background()

	pair, _, err := env.svc.Login(ctx, "ada@example.com", "open sesame")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if _, _, err := env.svc.Login(ctx, "ada@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.svc.RefreshTokens(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("RefreshTokens error: %v", err)
	}
	if _, err := env.svc.RefreshTokens(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected reuse rejected, got %v", err)
	}

	snap := env.svc.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("login_success: %d", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricLoginFailure] != 1 {
		t.Fatalf("login_failure: %d", snap.Counters[MetricLoginFailure])
	}
	if snap.Counters[MetricRefreshSuccess] != 1 {
		t.Fatalf("refresh_success: %d", snap.Counters[MetricRefreshSuccess])
	}
	if snap.Counters[MetricRefreshFailure] != 1 {
		t.Fatalf("refresh_failure: %d", snap.Counters[MetricRefreshFailure])
	}
}
