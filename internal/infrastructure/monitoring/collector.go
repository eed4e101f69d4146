package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes the relay's Prometheus metrics.
type Collector struct {
	connectionsActive prometheus.Gauge
	usersOnline       prometheus.Gauge

	presenceEvents *prometheus.CounterVec
	forwardedTotal *prometheus.CounterVec
	unreachable    *prometheus.CounterVec
	callAttempts   *prometheus.CounterVec

	callRingDuration prometheus.Histogram
}

// NewCollector registers metrics on the default Prometheus registry.
func NewCollector() *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer)
}

// NewCollectorWith registers metrics on reg; tests pass a fresh registry.
func NewCollectorWith(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parley_connections_active",
			Help: "Number of live websocket connections",
		}),

		usersOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parley_users_online",
			Help: "Number of user identities with at least one live connection",
		}),

		presenceEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_presence_events_total",
			Help: "Presence transitions broadcast to peers",
		}, []string{"transition"}),

		forwardedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_signals_forwarded_total",
			Help: "Signaling events forwarded through the relay",
		}, []string{"event"}),

		unreachable: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_delivery_unreachable_total",
			Help: "Deliveries that found no live connection for the target",
		}, []string{"event"}),

		callAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_call_attempts_total",
			Help: "Call attempts by outcome (incoming, offline, accepted, rejected, ended)",
		}, []string{"outcome"}),

		callRingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_call_ring_duration_seconds",
			Help:    "Time between call:initiate and the callee's decision",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
	}
}

func (c *Collector) ConnectionOpened() { c.connectionsActive.Inc() }
func (c *Collector) ConnectionClosed() { c.connectionsActive.Dec() }

func (c *Collector) UserOnline() {
	c.usersOnline.Inc()
	c.presenceEvents.WithLabelValues("online").Inc()
}

func (c *Collector) UserOffline() {
	c.usersOnline.Dec()
	c.presenceEvents.WithLabelValues("offline").Inc()
}

func (c *Collector) RecordForwarded(event string) {
	c.forwardedTotal.WithLabelValues(event).Inc()
}

func (c *Collector) RecordUnreachable(event string) {
	c.unreachable.WithLabelValues(event).Inc()
}

func (c *Collector) RecordCallOutcome(outcome string) {
	c.callAttempts.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordRingDuration(d time.Duration) {
	c.callRingDuration.Observe(d.Seconds())
}
