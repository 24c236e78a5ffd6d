// Package testhelpers provides common utilities for exercising a running relay
// in tests: an in-process server, token minting and frame helpers.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorelay/internal/auth"
	"github.com/Tyrowin/gorelay/internal/metrics"
	"github.com/Tyrowin/gorelay/internal/pending"
	"github.com/Tyrowin/gorelay/internal/registry"
	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/Tyrowin/gorelay/internal/server"
)

// TestSecret signs every token minted by Relay.Token.
const TestSecret = "integration-secret"

// Relay is an in-process relay behind an httptest server.
type Relay struct {
	Server  *httptest.Server
	Gateway *server.Gateway
	Store   *pending.MemoryStore
	Metrics *prometheus.Registry
	Origin  string // allowed Origin header value
	WSURL   string
}

// StartRelay starts a relay whose own address is an allowed origin. customize
// may adjust the config before the gateway is built.
func StartRelay(t *testing.T, customize func(cfg *server.Config)) *Relay {
	t.Helper()

	ts := httptest.NewUnstartedServer(nil)
	origin := "http://" + ts.Listener.Addr().String()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{origin}
	cfg.Auth.Secret = TestSecret
	if customize != nil {
		customize(cfg)
	}

	verifier, err := auth.NewJWTVerifier(auth.Options{Secret: []byte(cfg.Auth.Secret), Alg: cfg.Auth.Alg})
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	collector := metrics.New(promReg)
	store := pending.NewMemoryStore(pending.Options{MaxPerReceiver: cfg.Pending.MaxPerReceiver, TTL: cfg.Pending.TTL}, nil)
	router := relay.New(registry.New(), store, collector, nil)
	gw := server.NewGateway(*cfg, router, verifier, collector, nil)

	ts.Config.Handler = server.SetupRoutes(gw, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	ts.Start()

	r := &Relay{
		Server:  ts,
		Gateway: gw,
		Store:   store,
		Metrics: promReg,
		Origin:  origin,
		WSURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
	t.Cleanup(func() {
		_ = gw.Shutdown(2 * time.Second)
		ts.Close()
	})
	return r
}

// Token mints a valid token for userID.
func (r *Relay) Token(t *testing.T, userID, email, name string) string {
	t.Helper()
	token, _, err := auth.Issue(
		auth.DefaultOptions([]byte(TestSecret)),
		auth.Identity{UserID: userID, Email: email, Name: name},
	)
	require.NoError(t, err)
	return token
}

// Dial opens a WebSocket with the given raw token and Origin header. An
// empty token omits the query parameter.
func (r *Relay) Dial(token, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	url := r.WSURL
	if token != "" {
		url += "?token=" + token
	}
	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// ConnectAs opens an authenticated connection for userID and consumes the
// welcome frame.
func (r *Relay) ConnectAs(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := r.Dial(r.Token(t, userID, userID+"@example.com", "User "+userID), r.Origin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	welcome := ReadFrame(t, conn)
	require.Equal(t, true, welcome["success"], "welcome frame: %v", welcome)
	require.Equal(t, "Connected and authenticated", welcome["message"])
	require.Equal(t, userID, welcome["userId"])
	return conn
}

// SendText sends a send_message frame.
func SendText(t *testing.T, conn *websocket.Conn, receiverID, body string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":     "send_message",
		"receiverId": receiverID,
		"data": map[string]string{
			"type":        "text",
			"message":     body,
			"currentDate": time.Now().UTC().Format(time.RFC3339),
		},
	}))
}

// ReadFrame reads one JSON frame, failing the test after 2s.
func ReadFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(raw, &frame), "frame %q", raw)
	return frame
}

// ExpectClosed reads until the connection reports an error and fails the
// test if a data frame arrives first or nothing happens within 2s.
func ExpectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.Error(t, err, "expected close, got frame %q", raw)
	require.False(t, isTimeout(err), "connection still open: %v", err)
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	te, ok := err.(timeout)
	return ok && te.Timeout()
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}
