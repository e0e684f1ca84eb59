package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ConnectAttempt(true)
	c.ConnectAttempt(false)
	c.ConnectAttempt(false)
	c.MessageReceived()
	c.Dispatched(OutcomeHandled)
	c.Dispatched(OutcomeHandled)
	c.Dispatched(OutcomeFault)
	c.Sent()
	c.SetPending(4)
	c.SetState(2)
	c.ObserveHandler(time.Millisecond)

	if got := testutil.ToFloat64(c.connects.WithLabelValues("failed")); got != 2 {
		t.Errorf("connects{failed} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.dispatched.WithLabelValues(OutcomeHandled)); got != 2 {
		t.Errorf("dispatched{handled} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.messagesReceived); got != 1 {
		t.Errorf("messages_received = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.sends); got != 1 {
		t.Errorf("sends = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.pending); got != 4 {
		t.Errorf("pending = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.state); got != 2 {
		t.Errorf("state = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(c.handlerSeconds); got != 1 {
		t.Errorf("handler_seconds series = %d, want 1", got)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.SetState(1)
	c.ConnectAttempt(true)
	c.MessageReceived()
	c.Dispatched(OutcomeUnhandled)
	c.ObserveHandler(time.Second)
	c.Sent()
	c.SetPending(1)
}
