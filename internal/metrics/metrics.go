// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector groups the relay's instruments. A nil *Collector is valid and
// records nothing, so components can take one optionally.
type Collector struct {
	connections prometheus.Gauge
	handshakes  *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	flushed     prometheus.Counter
	frames      *prometheus.CounterVec
}

// New registers the relay instruments on reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "active_sessions",
			Help:      "Authenticated connections currently registered.",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "handshakes_total",
			Help:      "Connection handshakes by result.",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "route_outcomes_total",
			Help:      "Routing attempts by outcome.",
		}, []string{"outcome"}),
		flushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "pending_flushed_total",
			Help:      "Queued messages pushed to a receiver on connect.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "inbound_frames_total",
			Help:      "Inbound frames by action.",
		}, []string{"action"}),
	}
	reg.MustRegister(c.connections, c.handshakes, c.outcomes, c.flushed, c.frames)
	return c
}

// SessionOpened increments the active session gauge.
func (c *Collector) SessionOpened() {
	if c != nil {
		c.connections.Inc()
	}
}

// SessionClosed decrements the active session gauge.
func (c *Collector) SessionClosed() {
	if c != nil {
		c.connections.Dec()
	}
}

// Handshake counts one handshake result (ok, no_token, invalid_token).
func (c *Collector) Handshake(result string) {
	if c != nil {
		c.handshakes.WithLabelValues(result).Inc()
	}
}

// Outcome counts one routing outcome.
func (c *Collector) Outcome(kind string) {
	if c != nil {
		c.outcomes.WithLabelValues(kind).Inc()
	}
}

// Flushed counts messages pushed from the pending store.
func (c *Collector) Flushed(n int) {
	if c != nil && n > 0 {
		c.flushed.Add(float64(n))
	}
}

// Frame counts one inbound frame.
func (c *Collector) Frame(action string) {
	if c != nil {
		c.frames.WithLabelValues(action).Inc()
	}
}
