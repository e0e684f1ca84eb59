package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gwsession"

// Dispatch outcomes.
const (
	OutcomeHandled   = "handled"
	OutcomeUnhandled = "unhandled"
	OutcomeFault     = "fault"
)

// Collector holds the session's Prometheus collectors.
type Collector struct {
	state            prometheus.Gauge
	connects         *prometheus.CounterVec
	messagesReceived prometheus.Counter
	dispatched       *prometheus.CounterVec
	sends            prometheus.Counter
	pending          prometheus.Gauge
	handlerSeconds   prometheus.Histogram
}

// New creates a collector and registers it with reg.
// When reg is nil, prometheus.DefaultRegisterer is used.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current connection state (0=disconnected, 1=connecting, 2=connected, 3=closing).",
		}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Connection attempts by result.",
		}, []string{"result"}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages decoded by the read loop.",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatched_total",
			Help:      "Dispatched messages by outcome.",
		}, []string{"outcome"}),
		sends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Outbound frames written to the gateway.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Requests awaiting a terminal event.",
		}),
		handlerSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_seconds",
			Help:      "Handler execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}

	reg.MustRegister(
		c.state,
		c.connects,
		c.messagesReceived,
		c.dispatched,
		c.sends,
		c.pending,
		c.handlerSeconds,
	)
	return c
}

// SetState records the numeric connection state.
func (c *Collector) SetState(v int) {
	if c == nil {
		return
	}
	c.state.Set(float64(v))
}

// ConnectAttempt counts a connect attempt with result "ok" or "failed".
func (c *Collector) ConnectAttempt(ok bool) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.connects.WithLabelValues(result).Inc()
}

// MessageReceived counts one decoded inbound message.
func (c *Collector) MessageReceived() {
	if c == nil {
		return
	}
	c.messagesReceived.Inc()
}

// Dispatched counts a dispatch with the given outcome.
func (c *Collector) Dispatched(outcome string) {
	if c == nil {
		return
	}
	c.dispatched.WithLabelValues(outcome).Inc()
}

// ObserveHandler records handler execution time.
func (c *Collector) ObserveHandler(d time.Duration) {
	if c == nil {
		return
	}
	c.handlerSeconds.Observe(d.Seconds())
}

// Sent counts one outbound frame.
func (c *Collector) Sent() {
	if c == nil {
		return
	}
	c.sends.Inc()
}

// SetPending records the pending request count.
func (c *Collector) SetPending(n int) {
	if c == nil {
		return
	}
	c.pending.Set(float64(n))
}
