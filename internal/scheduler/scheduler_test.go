package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/insightzen/internal/clock"
	"github.com/smallbiznis/insightzen/internal/config"
	dialerdomain "github.com/smallbiznis/insightzen/internal/dialer/domain"
	obsmetrics "github.com/smallbiznis/insightzen/internal/observability/metrics"
	"github.com/smallbiznis/insightzen/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type expireCall struct {
	now   time.Time
	limit int
}

// fakeDialer only implements ExpireStale; the embedded interface panics on
// anything else.
type fakeDialer struct {
	dialerdomain.Service

	mu      sync.Mutex
	batches []int
	err     error
	calls   []expireCall
}

func (f *fakeDialer) ExpireStale(_ context.Context, now time.Time, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, expireCall{now: now, limit: limit})
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	return n, nil
}

func newTestScheduler(t *testing.T, dialer dialerdomain.Service, leader *ratelimit.LeaderLock, cfg Config) (*Scheduler, *clock.FakeClock, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "insightzen",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	s, err := New(Params{
		Log:    zaptest.NewLogger(t),
		Dialer: dialer,
		Leader: leader,
		GenID:  node,
		Clock:  fake,
		Config: cfg,
	})
	require.NoError(t, err)
	return s, fake, registry
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestProvideConfigAppliesDefaults(t *testing.T) {
	cfg := ProvideConfig(config.Config{Scheduler: config.SchedulerConfig{Interval: 0, BatchSize: 25}})
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.JobTimeout)
	assert.Equal(t, 45*time.Second, cfg.LeaderTTL)
}

func TestExpireAssignmentsLoopsUntilShortBatch(t *testing.T) {
	dialer := &fakeDialer{batches: []int{10, 10, 3}}
	s, fake, registry := newTestScheduler(t, dialer, nil, Config{BatchSize: 10})

	require.NoError(t, s.RunOnce(context.Background()))

	require.Len(t, dialer.calls, 3)
	for _, call := range dialer.calls {
		assert.Equal(t, 10, call.limit)
		assert.True(t, call.now.Equal(fake.Now()))
	}
	labels := map[string]string{
		"service":  "insightzen",
		"env":      "test",
		"job":      JobExpireAssignments,
		"resource": obsmetrics.LockResourceStaleAssignments,
	}
	assert.Equal(t, float64(23), getCounterValue(t, registry, "insightzen_scheduler_batch_processed_total", labels))
}

func TestExpireAssignmentsUsesAdvancedClock(t *testing.T) {
	dialer := &fakeDialer{}
	s, fake, _ := newTestScheduler(t, dialer, nil, Config{BatchSize: 5})

	require.NoError(t, s.RunOnce(context.Background()))
	fake.Advance(6 * time.Minute)
	require.NoError(t, s.RunOnce(context.Background()))

	require.Len(t, dialer.calls, 2)
	assert.Equal(t, 6*time.Minute, dialer.calls[1].now.Sub(dialer.calls[0].now))
}

func TestExpireAssignmentsDefersWhenNotLeader(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	other := ratelimit.NewLeaderLock(client)
	release, ok, err := other.Acquire(context.Background(), JobExpireAssignments, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	dialer := &fakeDialer{batches: []int{1}}
	s, _, registry := newTestScheduler(t, dialer, ratelimit.NewLeaderLock(client), Config{BatchSize: 10})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Empty(t, dialer.calls)
	labels := map[string]string{
		"service": "insightzen",
		"env":     "test",
		"job":     JobExpireAssignments,
		"reason":  obsmetrics.SchedulerBatchDeferredReasonNotLeader,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "insightzen_scheduler_batch_deferred_total", labels))

	release(context.Background())
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Len(t, dialer.calls, 1)
}

func TestExpireAssignmentsReturnsError(t *testing.T) {
	boom := errors.New("boom")
	dialer := &fakeDialer{err: boom}
	s, _, registry := newTestScheduler(t, dialer, nil, Config{BatchSize: 10})

	err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), JobExpireAssignments)

	labels := map[string]string{
		"service": "insightzen",
		"env":     "test",
		"job":     JobExpireAssignments,
		"reason":  obsmetrics.SchedulerJobReasonUnknown,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "insightzen_scheduler_job_errors_total", labels))
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	s, _, registry := newTestScheduler(t, &fakeDialer{}, nil, Config{})

	err := s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "insightzen",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "insightzen_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "insightzen",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "insightzen_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	dialer := &fakeDialer{}
	s, _, _ := newTestScheduler(t, dialer, nil, Config{RunInterval: 10 * time.Millisecond, BatchSize: 5})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunForever(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		dialer.mu.Lock()
		defer dialer.mu.Unlock()
		return len(dialer.calls) >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunForever did not stop")
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
