package integration

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorelay/internal/pending"
	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/server"
	"github.com/Tyrowin/gorelay/test/testhelpers"
)

// backlogSize is large enough that the flush cannot fit in the send buffer
// plus the loopback socket buffers.
const (
	backlogSize = 400
	backlogBody = 64 << 10
)

// fillBacklog queues backlogSize large messages from A to userID.
func fillBacklog(t *testing.T, r *testhelpers.Relay, userID string) {
	t.Helper()
	pad := strings.Repeat("x", backlogBody)
	for i := 0; i < backlogSize; i++ {
		require.NoError(t, r.Store.Enqueue(context.Background(), pending.Message{
			SenderID:   "A",
			ReceiverID: userID,
			Payload:    protocol.MessageData{Type: "text", Message: fmt.Sprintf("%04d|%s", i, pad)},
		}))
	}
}

// expectRequeuedSuffix drains userID's queue and checks it holds an
// unbroken tail of the backlog followed by last.
func expectRequeuedSuffix(t *testing.T, r *testhelpers.Relay, userID, last string) {
	t.Helper()
	left, err := r.Store.Drain(context.Background(), userID)
	require.NoError(t, err)
	require.Greater(t, len(left), 1, "nothing was re-queued")
	require.Less(t, len(left), backlogSize+1, "flush never started")

	assert.Equal(t, last, left[len(left)-1].Payload.Message)
	first := backlogSize - (len(left) - 1)
	for i, m := range left[:len(left)-1] {
		idx, err := strconv.Atoi(strings.SplitN(m.Payload.Message, "|", 2)[0])
		require.NoError(t, err)
		assert.Equal(t, first+i, idx)
	}
}

// expectDetached waits until handshakes clients have been accepted and
// only A is still connected.
func expectDetached(t *testing.T, r *testhelpers.Relay, handshakes float64) {
	t.Helper()
	require.Eventually(t, func() bool {
		families, err := r.Metrics.Gather()
		if err != nil {
			return false
		}
		for _, mf := range families {
			if mf.GetName() != "relay_handshakes_total" {
				continue
			}
			for _, m := range mf.GetMetric() {
				if m.GetLabel()[0].GetValue() == "ok" && m.GetCounter().GetValue() == handshakes {
					return r.Gateway.Stats() == server.Stats{Online: 1, Connections: 1}
				}
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

// TestStalledReaderIsDisconnected verifies a client that never reads its
// backlog is detached once the flush times out, and that routing to it
// keeps answering.
func TestStalledReaderIsDisconnected(t *testing.T) {
	r := testhelpers.StartRelay(t, func(cfg *server.Config) {
		cfg.SendBufferSize = 4
		cfg.Pending.FlushTimeout = 300 * time.Millisecond
	})
	a := r.ConnectAs(t, "A")
	fillBacklog(t, r, "B")

	b, _, err := r.Dial(r.Token(t, "B", "", ""), r.Origin)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	expectDetached(t, r, 2)

	testhelpers.SendText(t, a, "B", "after")
	assert.Equal(t, "queued", testhelpers.ReadFrame(t, a)["status"])
	expectRequeuedSuffix(t, r, "B", "after")
}

// TestDisconnectDuringFlush verifies a client that drops mid-flush is
// detached with the rest of its backlog re-queued.
func TestDisconnectDuringFlush(t *testing.T) {
	r := testhelpers.StartRelay(t, func(cfg *server.Config) {
		cfg.SendBufferSize = 4
	})
	a := r.ConnectAs(t, "A")
	fillBacklog(t, r, "B")

	b, _, err := r.Dial(r.Token(t, "B", "", ""), r.Origin)
	require.NoError(t, err)
	assert.Equal(t, true, testhelpers.ReadFrame(t, b)["success"])
	for i := 0; i < 3; i++ {
		assert.Equal(t, "new_message", testhelpers.ReadFrame(t, b)["action"])
	}
	require.NoError(t, b.Close())

	// Well inside the default flush timeout, so the write failure ends it.
	expectDetached(t, r, 2)

	testhelpers.SendText(t, a, "B", "after")
	assert.Equal(t, "queued", testhelpers.ReadFrame(t, a)["status"])
	expectRequeuedSuffix(t, r, "B", "after")
}
