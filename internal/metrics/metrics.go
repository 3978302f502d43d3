package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	deliveries       *prometheus.CounterVec
	unknownIDs       prometheus.Counter
	providerLatency  prometheus.Histogram
	persistenceFails prometheus.Counter
	recoveryRuns     *prometheus.CounterVec
	triggerDropped   prometheus.Counter
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flight_sms",
			Name:      "deliveries_total",
			Help:      "Deliveries moved to a terminal status, by status and entry point.",
		}, []string{"status", "source"}),
		unknownIDs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flight_sms",
			Name:      "unknown_message_ids_total",
			Help:      "Accepted sends whose response carried no message id.",
		}),
		providerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flight_sms",
			Name:      "provider_request_seconds",
			Help:      "Latency of provider send calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		persistenceFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flight_sms",
			Name:      "persistence_failures_total",
			Help:      "Terminal status writes that failed.",
		}),
		recoveryRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flight_sms",
			Name:      "recovery_runs_total",
			Help:      "Batch recovery invocations by result.",
		}, []string{"result"}),
		triggerDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flight_sms",
			Name:      "trigger_dropped_total",
			Help:      "Created deliveries not queued because the trigger queue was full.",
		}),
	}

	reg.MustRegister(
		m.deliveries,
		m.unknownIDs,
		m.providerLatency,
		m.persistenceFails,
		m.recoveryRuns,
		m.triggerDropped,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Delivery(status, source string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(status, source).Inc()
}

func (m *Metrics) UnknownMessageID() {
	if m == nil {
		return
	}
	m.unknownIDs.Inc()
}

func (m *Metrics) ProviderCall(d time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.Observe(d.Seconds())
}

func (m *Metrics) PersistenceFailure() {
	if m == nil {
		return
	}
	m.persistenceFails.Inc()
}

func (m *Metrics) RecoveryRun(result string) {
	if m == nil {
		return
	}
	m.recoveryRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) TriggerDropped() {
	if m == nil {
		return
	}
	m.triggerDropped.Inc()
}
