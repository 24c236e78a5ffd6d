package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/gorelay/internal/auth"
	"github.com/Tyrowin/gorelay/internal/metrics"
	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/registry"
	"github.com/Tyrowin/gorelay/internal/relay"
)

// ErrShutdownTimeout is returned by Shutdown when client goroutines are
// still running after the timeout.
var ErrShutdownTimeout = errors.New("gateway shutdown timed out")

// Gateway accepts WebSocket connections, authenticates them and drives each
// client through its lifecycle. Routing is delegated to the Router.
type Gateway struct {
	cfg      Config
	router   *relay.Router
	verifier auth.Verifier
	metrics  *metrics.Collector
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[*Client]struct{}
	stopping bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGateway returns a gateway using cfg (sanitized here). m and log may be nil.
func NewGateway(cfg Config, router *relay.Router, verifier auth.Verifier, m *metrics.Collector, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.Sanitize()
	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		cfg:      cfg,
		router:   router,
		verifier: verifier,
		metrics:  m,
		log:      log.Named("gateway"),
		clients:  make(map[*Client]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	origins := newOriginPolicy(cfg.AllowedOrigins, g.log)
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}
	return g
}

// Config returns the sanitized configuration in use.
func (g *Gateway) Config() Config { return g.cfg }

// Stats reports distinct online users and open sessions.
func (g *Gateway) Stats() Stats {
	reg := g.router.Registry()
	return Stats{Online: reg.Users(), Connections: reg.Len()}
}

func (g *Gateway) onlineUsers() []protocol.Presence {
	list := g.router.Registry().ListOnline()
	out := make([]protocol.Presence, 0, len(list))
	for _, p := range list {
		out = append(out, protocol.Presence{UserID: p.UserID, Email: p.Email, Name: p.DisplayName})
	}
	return out
}

func (g *Gateway) track(c *Client) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopping {
		return false
	}
	g.clients[c] = struct{}{}
	return true
}

func (g *Gateway) untrack(c *Client) {
	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()
}

// ServeWS upgrades the request, authenticates the token query parameter and,
// on success, starts the client's pumps.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	c := newClient(g, conn, uuid.NewString(), r.RemoteAddr)
	if !g.track(c) {
		c.reject(websocket.CloseGoingAway, "server shutting down")
		return
	}
	c.state.advance(StateAuthenticating)

	ident, err := g.authenticate(r.URL.Query().Get("token"))
	if err != nil {
		msg := protocol.MsgInvalidToken
		result := "invalid_token"
		if errors.Is(err, auth.ErrNoToken) {
			msg = protocol.MsgNoToken
			result = "no_token"
		}
		g.metrics.Handshake(result)
		c.log.Info("handshake rejected", zap.String("result", result), zap.Error(err))
		c.reject(websocket.ClosePolicyViolation, msg)
		return
	}
	g.metrics.Handshake("ok")

	c.activate(ident)
}

// authenticate runs the verifier under the auth timeout. A verifier that
// panics or overruns the timeout yields ErrInvalidToken.
func (g *Gateway) authenticate(token string) (auth.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return auth.Identity{}, auth.ErrNoToken
	}

	ctx, cancel := context.WithTimeout(g.ctx, g.cfg.Auth.Timeout)
	defer cancel()

	type result struct {
		ident auth.Identity
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				g.log.Error("token verifier panicked", zap.Any("panic", p))
				done <- result{err: errors.Wrap(auth.ErrInvalidToken, fmt.Sprintf("verifier panic: %v", p))}
			}
		}()
		ident, err := g.verifier.Verify(ctx, token)
		done <- result{ident: ident, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, auth.ErrNoToken) || errors.Is(res.err, auth.ErrInvalidToken) {
				return auth.Identity{}, res.err
			}
			return auth.Identity{}, errors.Wrap(auth.ErrInvalidToken, res.err.Error())
		}
		if res.ident.UserID == "" {
			return auth.Identity{}, errors.Wrap(auth.ErrInvalidToken, "token carries no user id")
		}
		return res.ident, nil
	case <-ctx.Done():
		return auth.Identity{}, errors.Wrap(auth.ErrInvalidToken, ctx.Err().Error())
	}
}

// reject answers a failed handshake with a failure frame and a close frame.
// No pump is running yet, so writing to conn directly is safe.
func (c *Client) reject(code int, msg string) {
	c.state.advance(StateClosed)
	deadline := time.Now().Add(writeWait)
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, protocol.EncodeFailure(msg)); err != nil {
		c.log.Debug("write handshake failure", zap.Error(err))
	}
	if err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, msg), deadline); err != nil &&
		!isExpectedCloseError(err) {
		c.log.Debug("write close frame", zap.Error(err))
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("close rejected connection", zap.Error(err))
	}
	c.gateway.untrack(c)
}

// activate attaches the session to the router and starts the pumps. The
// router pushes the welcome right after registering the session, so the
// client sees it before any backlog or live message.
func (c *Client) activate(ident auth.Identity) {
	g := c.gateway
	c.log = c.log.With(zap.String("user_id", ident.UserID))

	// Add must not race with the Wait in Shutdown.
	g.mu.Lock()
	if g.stopping {
		g.mu.Unlock()
		c.reject(websocket.CloseGoingAway, "server shutting down")
		return
	}
	g.wg.Add(2)
	g.mu.Unlock()

	c.session = &registry.Session{
		UserID:       ident.UserID,
		ConnectionID: c.id,
		Email:        ident.Email,
		DisplayName:  ident.Name,
		ConnectedAt:  time.Now(),
		Conn:         c,
	}
	c.state.advance(StateActive)

	// The writer runs first so the flush can wait on a full buffer.
	go func() {
		defer g.wg.Done()
		c.writePump()
	}()

	ctx, cancel := context.WithTimeout(g.ctx, g.cfg.Pending.FlushTimeout)
	flushed, err := g.router.Attach(ctx, c.session, protocol.EncodeWelcome(ident.UserID))
	cancel()
	if err != nil || c.State() == StateClosed {
		// The unsent backlog is back in the store; live messages must not
		// overtake it, so this session ends here.
		c.log.Warn("pending flush incomplete, closing client", zap.Int("flushed", flushed), zap.Error(err))
		c.close()
		g.router.Detach(c.id)
		g.wg.Done()
		return
	}
	c.log.Info("client connected", zap.Int("flushed", flushed))

	go func() {
		defer g.wg.Done()
		c.readPump(g.ctx)
	}()
}

// Shutdown stops accepting connections, closes every tracked client and
// waits for their pumps to exit or for timeout to pass.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	g.log.Info("initiating gateway shutdown")

	g.mu.Lock()
	g.stopping = true
	clients := make([]*Client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	g.cancel()

	deadline := time.Now().Add(writeWait)
	for _, c := range clients {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("close client connection", zap.Error(err))
		}
	}
	g.log.Info("closed client connections", zap.Int("count", len(clients)))

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.log.Info("gateway shutdown completed")
		return nil
	case <-time.After(timeout):
		g.log.Warn("gateway shutdown timeout reached, some goroutines may still be running")
		return ErrShutdownTimeout
	}
}
