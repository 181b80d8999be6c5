package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ReservationOutcomeReserved    = "reserved"
	ReservationOutcomeExhausted   = "exhausted"
	ReservationOutcomeNoScheme    = "scheme_not_found"
	ReservationOutcomeForbidden   = "forbidden"
	ReservationOutcomeRateLimited = "rate_limited"
	ReservationOutcomeError       = "error"
)

const (
	CandidateSkipCapacity = "capacity"
	CandidateSkipNoSample = "no_sample"
	CandidateSkipLockWait = "lock_timeout"
	CandidateSkipConflict = "sample_conflict"
)

// DialerMetrics tracks reservation engine behavior.
type DialerMetrics struct {
	reservations    *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	candidateSkips  *prometheus.CounterVec
	candidatesTried prometheus.Histogram
	samplePick      prometheus.Histogram
	dbLockWait      *prometheus.HistogramVec
	expired         prometheus.Counter
}

var (
	dialerMetricsOnce sync.Once
	dialerMetrics     *DialerMetrics
)

// Dialer returns the singleton dialer metrics registry.
func Dialer() *DialerMetrics {
	return DialerWithConfig(Config{})
}

func DialerWithConfig(cfg Config) *DialerMetrics {
	dialerMetricsOnce.Do(func() {
		dialerMetrics = newDialerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return dialerMetrics
}

// ResetDialerMetricsForTest resets the dialer metrics singleton for tests.
func ResetDialerMetricsForTest() {
	dialerMetricsOnce = sync.Once{}
	dialerMetrics = nil
}

// NewDialerMetricsForTest builds an unshared registry-backed instance.
func NewDialerMetricsForTest(registerer prometheus.Registerer) *DialerMetrics {
	return newDialerMetrics(registerer, Config{ServiceName: "insightzen", Environment: "test"})
}

func newDialerMetrics(registerer prometheus.Registerer, cfg Config) *DialerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	m := &DialerMetrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "insightzen_dialer_reserve_total",
			Help:        "reserve_next calls by outcome.",
			ConstLabels: labels,
		}, []string{"policy", "outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "insightzen_dialer_resolve_total",
			Help:        "Assignments moved to a terminal status.",
			ConstLabels: labels,
		}, []string{"status"}),
		candidateSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "insightzen_dialer_candidate_skips_total",
			Help:        "Candidate cells skipped during reservation.",
			ConstLabels: labels,
		}, []string{"reason"}),
		candidatesTried: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "insightzen_dialer_candidates_tried",
			Help:        "Candidate cells locked per reserve_next call.",
			Buckets:     []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
			ConstLabels: labels,
		}),
		samplePick: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "insightzen_dialer_sample_pick_seconds",
			Help:        "Latency of the skip-locked sample query.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			ConstLabels: labels,
		}),
		dbLockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "insightzen_db_lock_wait_seconds",
			Help:        "Time spent acquiring SELECT FOR UPDATE row locks.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: labels,
		}, []string{"resource"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "insightzen_dialer_expired_total",
			Help:        "Reservations flipped to EXPIRED by the reconciler.",
			ConstLabels: labels,
		}),
	}

	registerer.MustRegister(
		m.reservations,
		m.resolutions,
		m.candidateSkips,
		m.candidatesTried,
		m.samplePick,
		m.dbLockWait,
		m.expired,
	)
	return m
}

func (m *DialerMetrics) IncReservation(policy, outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(policy, outcome).Inc()
}

func (m *DialerMetrics) IncResolution(status string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(status).Inc()
}

func (m *DialerMetrics) IncCandidateSkip(reason string) {
	if m == nil {
		return
	}
	m.candidateSkips.WithLabelValues(reason).Inc()
}

func (m *DialerMetrics) ObserveCandidatesTried(n int) {
	if m == nil {
		return
	}
	m.candidatesTried.Observe(float64(n))
}

func (m *DialerMetrics) ObserveSamplePick(d time.Duration) {
	if m == nil {
		return
	}
	m.samplePick.Observe(d.Seconds())
}

// ObserveDBLockWait records lock wait time for SELECT FOR UPDATE work.
func (m *DialerMetrics) ObserveDBLockWait(resource string, d time.Duration) {
	if m == nil {
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(d.Seconds())
}

func (m *DialerMetrics) AddExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}
