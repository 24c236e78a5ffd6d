package integration

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorelay/internal/server"
	"github.com/Tyrowin/gorelay/test/testhelpers"
)

// TestOriginValidation verifies the upgrade is refused for origins outside
// the allow-list, before any token is looked at.
func TestOriginValidation(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	token := r.Token(t, "A", "", "")

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{name: "allowed", origin: r.Origin, ok: true},
		{name: "upper case", origin: strings.ToUpper(r.Origin), ok: true},
		{name: "foreign", origin: "http://evil.example", ok: false},
		{name: "missing", origin: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := r.Dial(token, tt.origin)
			if tt.ok {
				require.NoError(t, err)
				_ = conn.Close()
				return
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
	assert.Eventually(t, func() bool { return r.Gateway.Stats().Connections == 0 }, time.Second, 10*time.Millisecond)
}

// TestWildcardOrigin verifies "*" admits any well-formed origin.
func TestWildcardOrigin(t *testing.T) {
	r := testhelpers.StartRelay(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"*"}
	})
	conn, _, err := r.Dial(r.Token(t, "A", "", ""), "https://anywhere.example")
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	assert.Equal(t, true, testhelpers.ReadFrame(t, conn)["success"])
}

// TestOversizedFrameClosesConnection verifies frames above MaxMessageSize
// end the session.
func TestOversizedFrameClosesConnection(t *testing.T) {
	r := testhelpers.StartRelay(t, func(cfg *server.Config) {
		cfg.MaxMessageSize = 256
	})
	conn := r.ConnectAs(t, "A")

	big := `{"action":"send_message","receiverId":"B","data":{"type":"text","message":"` + strings.Repeat("x", 512) + `"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))

	testhelpers.ExpectClosed(t, conn)
	assert.Eventually(t, func() bool { return r.Gateway.Stats().Connections == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, r.Store.Total())
}

// TestRateLimiting verifies frames beyond the burst are answered with an
// error and the connection survives.
func TestRateLimiting(t *testing.T) {
	r := testhelpers.StartRelay(t, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})
	conn := r.ConnectAs(t, "A")

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteJSON(map[string]string{"action": "get_online_users"}))
	}
	assert.Equal(t, "online_users", testhelpers.ReadFrame(t, conn)["action"])
	assert.Equal(t, "online_users", testhelpers.ReadFrame(t, conn)["action"])
	assert.Equal(t, map[string]any{"success": false, "message": "Rate limit exceeded"}, testhelpers.ReadFrame(t, conn))
	assert.Equal(t, 1, r.Gateway.Stats().Connections)
}

// TestWebSocketEndpointMethods verifies non-GET requests never reach the
// upgrader.
func TestWebSocketEndpointMethods(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			resp := testhelpers.MakeRequest(t, method, r.Server.URL+"/ws")
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		})
	}
}

// TestTokenNotEchoed verifies the online list never exposes tokens.
func TestTokenNotEchoed(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	token := r.Token(t, "A", "a@example.com", "Alice")
	conn, _, err := r.Dial(token, r.Origin)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	testhelpers.ReadFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "get_online_users"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.NotContains(t, string(raw), token)
	assert.Contains(t, string(raw), "a@example.com")
}
