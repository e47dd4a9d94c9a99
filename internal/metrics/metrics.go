// Package metrics is the metrics collaborator: Prometheus collectors
// for connection volume, message throughput, broadcast latency and
// breaker health.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	activeConnections prometheus.Gauge
	activeRooms       prometheus.Gauge
	messagesIn        *prometheus.CounterVec
	messagesOut       *prometheus.CounterVec
	droppedMessages   prometheus.Counter
	rateLimited       prometheus.Counter
	broadcastDuration prometheus.Histogram
	thresholdBreaches *prometheus.CounterVec

	reg prometheus.Registerer
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "collab_active_connections",
			Help: "Number of live collaboration connections.",
		}),
		activeRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "collab_active_rooms",
			Help: "Number of rooms with at least one member.",
		}),
		messagesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_messages_in_total",
			Help: "Client-originated messages by type.",
		}, []string{"type"}),
		messagesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_messages_out_total",
			Help: "Server-originated messages by type.",
		}, []string{"type"}),
		droppedMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "collab_messages_dropped_total",
			Help: "Outbound messages dropped due to a full send buffer.",
		}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "collab_messages_rate_limited_total",
			Help: "Inbound messages rejected by the per-connection rate limit.",
		}),
		broadcastDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "collab_broadcast_duration_seconds",
			Help:    "Time to fan one relay out to a room.",
			Buckets: prometheus.DefBuckets,
		}),
		thresholdBreaches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_threshold_breaches_total",
			Help: "Performance threshold breaches by category.",
		}, []string{"category"}),
	}
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.activeRooms.Set(float64(n))
}

func (m *Metrics) MessageIn(msgType string) {
	if m == nil {
		return
	}
	m.messagesIn.WithLabelValues(msgType).Inc()
}

func (m *Metrics) MessageOut(msgType string) {
	if m == nil {
		return
	}
	m.messagesOut.WithLabelValues(msgType).Inc()
}

func (m *Metrics) MessageDropped() {
	if m == nil {
		return
	}
	m.droppedMessages.Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) ObserveBroadcast(d time.Duration) {
	if m == nil {
		return
	}
	m.broadcastDuration.Observe(d.Seconds())
}

// ObserveBreach satisfies the performance observer's recorder hook.
func (m *Metrics) ObserveBreach(category string) {
	if m == nil {
		return
	}
	m.thresholdBreaches.WithLabelValues(category).Inc()
}

// WatchBreaker exports one dependency's breaker state as a gauge
// (0=closed, 1=open, 2=half_open) sampled at scrape time.
func (m *Metrics) WatchBreaker(dependency string, state func() float64) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "collab_breaker_state",
		Help:        "Circuit breaker state (0=closed, 1=open, 2=half_open).",
		ConstLabels: prometheus.Labels{"dependency": dependency},
	}, state))
}
