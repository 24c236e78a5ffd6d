package server

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/registry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var (
	errClientClosed = errors.New("client closed")
	errSendBuffer   = errors.New("send buffer full")
)

// Client is one WebSocket connection. Its write side implements
// registry.Transport; the write pump is the only goroutine that writes
// data frames to conn.
type Client struct {
	id      string
	conn    *websocket.Conn
	gateway *Gateway
	addr    string
	log     *zap.Logger
	limiter *rate.Limiter
	state   atomicState

	mu     sync.RWMutex // guards send and closed
	send   chan []byte
	closed bool
	quit   chan struct{} // closed first on close, unblocks SendWait

	session   *registry.Session
	closeOnce sync.Once
}

func newClient(g *Gateway, conn *websocket.Conn, id, addr string) *Client {
	if conn != nil {
		conn.SetReadLimit(g.cfg.MaxMessageSize)
	}
	return &Client{
		id:      id,
		conn:    conn,
		gateway: g,
		addr:    addr,
		log:     g.log.With(zap.String("conn_id", id), zap.String("remote_addr", addr)),
		limiter: newRateLimiter(g.cfg.RateLimit.Burst, g.cfg.RateLimit.RefillInterval),
		send:    make(chan []byte, g.cfg.SendBufferSize),
		quit:    make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// State returns the current lifecycle phase.
func (c *Client) State() State { return c.state.load() }

// Send queues frame for the write pump without blocking. It fails once the
// client is closed or when its buffer is full.
func (c *Client) Send(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errSendBuffer
	}
}

// SendWait is Send that waits for buffer space until ctx is done or the
// client closes.
func (c *Client) SendWait(ctx context.Context, frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.quit:
		return errClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Writable reports whether Send can still succeed.
func (c *Client) Writable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// close moves the client to Closed. The session leaves the registry before
// the send channel is closed, so a registered session is always writable.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.state.advance(StateClosed)
		if c.session != nil {
			c.gateway.router.Detach(c.id)
		}
		close(c.quit)

		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()

		c.gateway.untrack(c)
		c.log.Debug("client closed")
	})
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("set initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("set read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs the read failure at a level matching its cause.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("frame exceeded maximum size", zap.Int64("limit", c.gateway.cfg.MaxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("connection closed", zap.Error(err))
	default:
		c.log.Warn("websocket read error", zap.Error(err))
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.close()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("close connection in read pump", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.dispatch(ctx, raw)
	}
}

// dispatch handles one inbound frame. Every outcome is answered on the
// connection; none of them closes it.
func (c *Client) dispatch(ctx context.Context, raw []byte) {
	if !c.limiter.Allow() {
		c.log.Debug("rate limit exceeded; discarding frame")
		c.gateway.metrics.Frame("rate_limited")
		c.reply(protocol.EncodeFailure(protocol.MsgRateLimited))
		return
	}

	action, err := protocol.Parse(raw)
	if err != nil {
		c.log.Debug("invalid frame", zap.Error(err))
		c.gateway.metrics.Frame("malformed")
		c.reply(protocol.EncodeFailure(protocol.MsgInvalidFormat))
		return
	}

	switch a := action.(type) {
	case protocol.GetOnlineUsers:
		c.gateway.metrics.Frame(protocol.ActionGetOnlineUsers)
		c.reply(protocol.EncodeOnlineUsers(c.gateway.onlineUsers()))

	case protocol.SendMessage:
		c.gateway.metrics.Frame(protocol.ActionSendMessage)
		out := c.gateway.router.Route(ctx, c.id, a)
		c.log.Debug("routed message",
			zap.String("receiver_id", a.ReceiverID),
			zap.Stringer("outcome", out.Kind))
		c.reply(out.Ack())

	default:
		c.gateway.metrics.Frame("unknown")
		c.log.Debug("unknown action", zap.String("action", protocol.Name(action)))
		c.reply(protocol.EncodeFailure(protocol.MsgUnknownAction))
	}
}

func (c *Client) reply(frame []byte) {
	if err := c.Send(frame); err != nil {
		c.log.Warn("reply dropped", zap.Error(err))
	}
}

// writePump drains send onto conn. When it stops, the client is closed so
// that a flush waiting on buffer space gives up.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("close connection in write pump", zap.Error(err))
	}
}

// handleMessage writes one outgoing frame and returns false if the
// connection should be closed.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("set write deadline", zap.Error(err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("write frame", zap.Error(err))
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("write close message", zap.Error(err))
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("set write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("write ping", zap.Error(err))
		}
		return false
	}
	return true
}
