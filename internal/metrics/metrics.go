package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all Prometheus metrics for the agent.
//
// All helper methods are safe on a nil *Metrics so components can run
// without instrumentation in tests.
type Metrics struct {
	Registry *prometheus.Registry

	// Payment-gated fetch
	FetchesTotal  *prometheus.CounterVec // labels: result=free|paid|error
	PaymentsTotal *prometheus.CounterVec // labels: result=settled|pay_failed|verify_failed
	SettledAtoms  prometheus.Counter

	// Delegate round trips
	DelegateLatency *prometheus.HistogramVec // labels: delegate, op

	// Decisions
	OutcomesTotal *prometheus.CounterVec // labels: decision, reason
	EvaluateDur   prometheus.Histogram

	// Cycles
	CyclesTotal    prometheus.Counter
	CycleDur       prometheus.Histogram
	LastCycleEpoch prometheus.Gauge

	// Sinks
	SinkErrors *prometheus.CounterVec // labels: sink

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	RedisBufferDropped       prometheus.Counter
}

// NewMetrics creates a fresh registry and registers all metrics on it.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sip_fetches_total",
			Help: "Payment-gated fetches by result",
		}, []string{"result"}),
		PaymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sip_payments_total",
			Help: "Payment attempts by result",
		}, []string{"result"}),
		SettledAtoms: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sip_settled_atoms_total",
			Help: "Verified payment amount in settlement-token atoms",
		}),

		DelegateLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sip_delegate_request_duration_seconds",
			Help:    "Delegate HTTP round-trip latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"delegate", "op"}),

		OutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sip_outcomes_total",
			Help: "Per-asset outcomes by decision and reason",
		}, []string{"decision", "reason"}),
		EvaluateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sip_evaluate_duration_seconds",
			Help:    "Indicator and trigger evaluation latency per asset",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),

		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sip_cycles_total",
			Help: "Completed orchestration cycles",
		}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sip_cycle_duration_seconds",
			Help:    "Wall time of one orchestration cycle",
			Buckets: prometheus.DefBuckets,
		}),
		LastCycleEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sip_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle finished",
		}),

		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sip_sink_errors_total",
			Help: "Outcome sink failures",
		}, []string{"sink"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sip_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sip_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sip_redis_buffered_writes_total",
			Help: "Cycles buffered locally during Redis circuit breaker open state",
		}),
		RedisBufferDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sip_redis_buffer_dropped_total",
			Help: "Buffered cycles dropped because the buffer was full",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FetchesTotal,
		m.PaymentsTotal,
		m.SettledAtoms,
		m.DelegateLatency,
		m.OutcomesTotal,
		m.EvaluateDur,
		m.CyclesTotal,
		m.CycleDur,
		m.LastCycleEpoch,
		m.SinkErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.RedisBufferDropped,
	)

	return m
}

func (m *Metrics) Fetch(result string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Payment(result string) {
	if m == nil {
		return
	}
	m.PaymentsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Settled(atoms int64) {
	if m == nil {
		return
	}
	m.SettledAtoms.Add(float64(atoms))
}

func (m *Metrics) ObserveDelegate(delegate, op string, d time.Duration) {
	if m == nil {
		return
	}
	m.DelegateLatency.WithLabelValues(delegate, op).Observe(d.Seconds())
}

func (m *Metrics) Outcome(decision, reason string) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(decision, reason).Inc()
}

func (m *Metrics) ObserveEvaluate(d time.Duration) {
	if m == nil {
		return
	}
	m.EvaluateDur.Observe(d.Seconds())
}

// CycleDone records a finished cycle.
func (m *Metrics) CycleDone(started, finished time.Time) {
	if m == nil {
		return
	}
	m.CyclesTotal.Inc()
	m.CycleDur.Observe(finished.Sub(started).Seconds())
	m.LastCycleEpoch.Set(float64(finished.Unix()))
}

func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}

// BreakerState publishes the circuit breaker state gauge.
func (m *Metrics) BreakerState(state int) {
	if m == nil {
		return
	}
	m.RedisCircuitBreakerState.Set(float64(state))
}

func (m *Metrics) BreakerTrip() {
	if m == nil {
		return
	}
	m.RedisCircuitBreakerTrips.Inc()
}

func (m *Metrics) Buffered() {
	if m == nil {
		return
	}
	m.RedisBufferedWrites.Inc()
}

func (m *Metrics) BufferDropped() {
	if m == nil {
		return
	}
	m.RedisBufferDropped.Inc()
}

// Push sends the registry to a Prometheus Pushgateway under the given job.
// One-shot runs use it in place of being scraped.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(m.Registry).PushContext(ctx)
}
