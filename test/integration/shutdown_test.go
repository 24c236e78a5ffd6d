package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorelay/test/testhelpers"
)

// TestGracefulShutdown verifies Shutdown closes every client, empties the
// registry and returns before its timeout.
func TestGracefulShutdown(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)

	clients := make([]*websocket.Conn, 0, 5)
	for _, id := range []string{"A", "B", "C", "D", "D"} {
		clients = append(clients, r.ConnectAs(t, id))
	}
	require.Equal(t, 5, r.Gateway.Stats().Connections)

	start := time.Now()
	require.NoError(t, r.Gateway.Shutdown(5*time.Second))
	assert.Less(t, time.Since(start), 5*time.Second)

	for _, conn := range clients {
		testhelpers.ExpectClosed(t, conn)
	}
	assert.Zero(t, r.Gateway.Stats().Connections)
}

// TestShutdownRejectsNewConnections verifies that after Shutdown a new
// client is closed without being registered.
func TestShutdownRejectsNewConnections(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	require.NoError(t, r.Gateway.Shutdown(time.Second))

	conn, _, err := r.Dial(r.Token(t, "A", "", ""), r.Origin)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	frame := testhelpers.ReadFrame(t, conn)
	assert.Equal(t, false, frame["success"])
	testhelpers.ExpectClosed(t, conn)
	assert.Zero(t, r.Gateway.Stats().Connections)
}

// TestShutdownIdle verifies Shutdown with no clients returns immediately
// and is safe to repeat.
func TestShutdownIdle(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	require.NoError(t, r.Gateway.Shutdown(time.Second))
	require.NoError(t, r.Gateway.Shutdown(time.Second))

	resp := testhelpers.MakeRequest(t, http.MethodGet, r.Server.URL+"/")
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
