package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed()
	c.Handshake("ok")
	c.Handshake("no_token")
	c.Outcome("queued")
	c.Outcome("queued")
	c.Flushed(3)
	c.Flushed(0)
	c.Frame("send_message")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.handshakes.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.outcomes.WithLabelValues("queued")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.flushed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.frames.WithLabelValues("send_message")))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SessionOpened()
		c.SessionClosed()
		c.Handshake("ok")
		c.Outcome("delivered")
		c.Flushed(1)
		c.Frame("x")
	})
}
