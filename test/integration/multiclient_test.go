package integration

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorelay/internal/server"
	"github.com/Tyrowin/gorelay/test/testhelpers"
)

// TestLiveDelivery verifies A→B while both are online: B gets the message,
// A gets a delivered ack.
func TestLiveDelivery(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	a := r.ConnectAs(t, "A")
	b := r.ConnectAs(t, "B")

	testhelpers.SendText(t, a, "B", "hello")

	ack := testhelpers.ReadFrame(t, a)
	assert.Equal(t, map[string]any{"success": true, "message": "Message sent", "status": "delivered"}, ack)

	msg := testhelpers.ReadFrame(t, b)
	assert.Equal(t, "new_message", msg["action"])
	assert.Equal(t, "A", msg["sender"])
	assert.Equal(t, "text", msg["type"])
	assert.Equal(t, "hello", msg["message"])
	assert.NotEmpty(t, msg["messageTime"])
}

// TestOfflineDelivery covers the store-and-forward path: A writes to B
// before B connects, and B receives it right after the welcome.
func TestOfflineDelivery(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	a := r.ConnectAs(t, "A")

	for i := 1; i <= 3; i++ {
		testhelpers.SendText(t, a, "B", fmt.Sprintf("m%d", i))
		ack := testhelpers.ReadFrame(t, a)
		assert.Equal(t, "queued", ack["status"])
		assert.Equal(t, true, ack["success"])
	}
	assert.Equal(t, 3, r.Store.Total())

	b := r.ConnectAs(t, "B")
	for i := 1; i <= 3; i++ {
		msg := testhelpers.ReadFrame(t, b)
		assert.Equal(t, "new_message", msg["action"])
		assert.Equal(t, "A", msg["sender"])
		assert.Equal(t, fmt.Sprintf("m%d", i), msg["message"])
	}
	assert.Zero(t, r.Store.Total())

	// Live traffic follows the backlog.
	testhelpers.SendText(t, a, "B", "live")
	assert.Equal(t, "delivered", testhelpers.ReadFrame(t, a)["status"])
	assert.Equal(t, "live", testhelpers.ReadFrame(t, b)["message"])
}

// TestQueueCapacity verifies a full pending queue fails the send instead of
// evicting older messages.
func TestQueueCapacity(t *testing.T) {
	r := testhelpers.StartRelay(t, func(cfg *server.Config) {
		cfg.Pending.MaxPerReceiver = 2
	})
	a := r.ConnectAs(t, "A")

	want := []map[string]any{
		{"success": true, "message": "Message queued", "status": "queued"},
		{"success": true, "message": "Message queued", "status": "queued"},
		{"success": false, "message": "Failed to queue message", "status": "failed"},
	}
	for i, ack := range want {
		testhelpers.SendText(t, a, "B", fmt.Sprint(i))
		assert.Equal(t, ack, testhelpers.ReadFrame(t, a), "message %d", i)
	}

	b := r.ConnectAs(t, "B")
	assert.Equal(t, "0", testhelpers.ReadFrame(t, b)["message"])
	assert.Equal(t, "1", testhelpers.ReadFrame(t, b)["message"])
	expectSilence(t, b)
}

// TestDisconnectThenQueue verifies that once a receiver leaves, new messages
// are queued for its next connection.
func TestDisconnectThenQueue(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	a := r.ConnectAs(t, "A")
	b := r.ConnectAs(t, "B")

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return r.Gateway.Stats().Online == 1 }, 2*time.Second, 10*time.Millisecond)

	testhelpers.SendText(t, a, "B", "while away")
	assert.Equal(t, "queued", testhelpers.ReadFrame(t, a)["status"])

	b2 := r.ConnectAs(t, "B")
	assert.Equal(t, "while away", testhelpers.ReadFrame(t, b2)["message"])
}

// TestConcurrentSendersPreserveOrder verifies each sender's messages reach
// the receiver in the order they were sent.
func TestConcurrentSendersPreserveOrder(t *testing.T) {
	const perSender = 20
	r := testhelpers.StartRelay(t, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: perSender, RefillInterval: time.Second}
	})
	recv := r.ConnectAs(t, "R")
	senders := []string{"S1", "S2", "S3"}

	var wg sync.WaitGroup
	for _, id := range senders {
		conn := r.ConnectAs(t, id)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if err := conn.WriteJSON(map[string]any{
					"action":     "send_message",
					"receiverId": "R",
					"data":       map[string]string{"type": "text", "message": fmt.Sprintf("%s-%d", id, i)},
				}); err != nil {
					t.Errorf("%s write: %v", id, err)
					return
				}
			}
		}(id)
	}
	wg.Wait()

	next := map[string]int{}
	for n := 0; n < perSender*len(senders); n++ {
		msg := testhelpers.ReadFrame(t, recv)
		sender := msg["sender"].(string)
		assert.Equal(t, fmt.Sprintf("%s-%d", sender, next[sender]), msg["message"])
		next[sender]++
	}
	for _, id := range senders {
		assert.Equal(t, perSender, next[id])
	}
}

// TestMultipleSessionsSameUser verifies a user may hold two connections;
// live messages go to the oldest one.
func TestMultipleSessionsSameUser(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	a := r.ConnectAs(t, "A")
	first := r.ConnectAs(t, "B")
	second := r.ConnectAs(t, "B")

	assert.Equal(t, server.Stats{Online: 2, Connections: 3}, r.Gateway.Stats())

	testhelpers.SendText(t, a, "B", "to the first")
	assert.Equal(t, "delivered", testhelpers.ReadFrame(t, a)["status"])
	assert.Equal(t, "to the first", testhelpers.ReadFrame(t, first)["message"])
	expectSilence(t, second)
}

// expectSilence fails the test if conn receives a frame within 200ms.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, raw, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %q", raw)
	if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		t.Fatalf("connection failed instead of staying quiet: %v", err)
	}
}
