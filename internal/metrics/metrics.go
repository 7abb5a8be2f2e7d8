package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics exposes counters and histograms for the queue engine.
// A nil *QueueMetrics records nothing.
type QueueMetrics struct {
	transitionsTotal   *prometheus.CounterVec
	transitionFailures *prometheus.CounterVec
	checkInsTotal      *prometheus.CounterVec
	assignmentsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	sweptTotal         *prometheus.CounterVec
	httpLatency        *prometheus.HistogramVec
}

func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	m := &QueueMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klinik",
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Committed appointment status transitions",
		}, []string{"from", "to"}),
		transitionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klinik",
			Subsystem: "appointments",
			Name:      "transition_failures_total",
			Help:      "Rejected or rolled back transitions by reason",
		}, []string{"to", "reason"}),
		checkInsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klinik",
			Subsystem: "queue",
			Name:      "check_ins_total",
			Help:      "Queue entries created",
		}, []string{"clinic"}),
		assignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klinik",
			Subsystem: "queue",
			Name:      "assignments_total",
			Help:      "Assignment policy outcomes",
		}, []string{"clinic", "action", "outcome"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klinik",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Patient notifications by template, channel and outcome",
		}, []string{"template", "channel", "outcome"}),
		sweptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klinik",
			Subsystem: "sweeper",
			Name:      "appointments_total",
			Help:      "Appointments reclassified by the sweeper",
		}, []string{"kind"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "klinik",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.transitionsTotal,
		m.transitionFailures,
		m.checkInsTotal,
		m.assignmentsTotal,
		m.notificationsTotal,
		m.sweptTotal,
		m.httpLatency,
	)
	return m
}

func (m *QueueMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *QueueMetrics) ObserveTransitionFailure(to, reason string) {
	if m == nil {
		return
	}
	m.transitionFailures.WithLabelValues(to, reason).Inc()
}

func (m *QueueMetrics) ObserveCheckIn(clinic string) {
	if m == nil {
		return
	}
	m.checkInsTotal.WithLabelValues(clinic).Inc()
}

func (m *QueueMetrics) ObserveAssignment(clinic, action, outcome string) {
	if m == nil {
		return
	}
	m.assignmentsTotal.WithLabelValues(clinic, action, outcome).Inc()
}

func (m *QueueMetrics) ObserveNotification(template, channel string, delivered bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if delivered {
		outcome = "delivered"
	}
	m.notificationsTotal.WithLabelValues(template, channel, outcome).Inc()
}

func (m *QueueMetrics) ObserveSwept(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptTotal.WithLabelValues(kind).Add(float64(n))
}

func (m *QueueMetrics) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}
