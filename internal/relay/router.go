// Package relay routes direct messages between sessions: it pushes to a
// connected receiver or parks the message in the pending store, and flushes
// parked messages when the receiver connects.
package relay

import (
	"context"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/Tyrowin/gorelay/internal/metrics"
	"github.com/Tyrowin/gorelay/internal/pending"
	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/registry"
)

const lockStripes = 64

// Router owns the registry and pending store on behalf of the gateway.
//
// Attach and Route lock the receiver's stripe, so a user's greeting and
// backlog are fully pushed before any live message for that user is.
type Router struct {
	reg     *registry.Registry
	store   pending.Store
	metrics *metrics.Collector
	log     *zap.Logger
	stripes [lockStripes]sync.Mutex
}

// New returns a router over reg and store. m may be nil.
func New(reg *registry.Registry, store pending.Store, m *metrics.Collector, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		reg:     reg,
		store:   store,
		metrics: m,
		log:     log.Named("router"),
	}
}

// Registry returns the session registry.
func (r *Router) Registry() *registry.Registry { return r.reg }

func (r *Router) lockUser(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &r.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// waitSender is implemented by transports that can block until their
// buffer has room. Attach prefers it so a long backlog is not cut short by
// a full buffer.
type waitSender interface {
	SendWait(ctx context.Context, frame []byte) error
}

func push(ctx context.Context, t registry.Transport, frame []byte) error {
	if w, ok := t.(waitSender); ok {
		return w.SendWait(ctx, frame)
	}
	return t.Send(frame)
}

// Attach registers s, pushes hello (when non-nil), then drains the user's
// pending messages and pushes them to s in enqueue order. Messages that
// could not be pushed are put back in the store. It returns how many
// pending messages were pushed.
func (r *Router) Attach(ctx context.Context, s *registry.Session, hello []byte) (int, error) {
	unlock := r.lockUser(s.UserID)
	defer unlock()

	r.reg.Add(s)
	r.metrics.SessionOpened()

	if hello != nil {
		if err := push(ctx, s.Conn, hello); err != nil {
			return 0, err
		}
	}

	backlog, err := r.store.Drain(ctx, s.UserID)
	if err != nil {
		r.log.Error("drain pending messages", zap.String("user_id", s.UserID), zap.Error(err))
		return 0, err
	}

	for i, m := range backlog {
		if err := push(ctx, s.Conn, protocol.EncodeNewMessage(m.SenderID, m.Payload)); err != nil {
			r.log.Warn("flush interrupted, re-queueing remainder",
				zap.String("user_id", s.UserID),
				zap.String("conn_id", s.ConnectionID),
				zap.Int("pushed", i),
				zap.Int("remaining", len(backlog)-i),
				zap.Error(err))
			r.requeue(context.WithoutCancel(ctx), backlog[i:])
			r.metrics.Flushed(i)
			return i, err
		}
	}
	r.metrics.Flushed(len(backlog))
	if len(backlog) > 0 {
		r.log.Info("flushed pending messages",
			zap.String("user_id", s.UserID),
			zap.String("conn_id", s.ConnectionID),
			zap.Int("count", len(backlog)))
	}
	return len(backlog), nil
}

func (r *Router) requeue(ctx context.Context, msgs []pending.Message) {
	for _, m := range msgs {
		if err := r.store.Enqueue(ctx, m); err != nil {
			r.log.Error("re-queue pending message",
				zap.String("receiver_id", m.ReceiverID),
				zap.String("sender_id", m.SenderID),
				zap.Error(err))
		}
	}
}

// Detach removes the session bound to connectionID. It is safe to call
// more than once.
func (r *Router) Detach(connectionID string) bool {
	if !r.reg.Remove(connectionID) {
		return false
	}
	r.metrics.SessionClosed()
	return true
}

// Route delivers msg from the session on senderConnID to its receiver, or
// queues it when the receiver has no session.
func (r *Router) Route(ctx context.Context, senderConnID string, msg protocol.SendMessage) Outcome {
	out := r.route(ctx, senderConnID, msg)
	r.metrics.Outcome(out.Kind.String())
	return out
}

func (r *Router) route(ctx context.Context, senderConnID string, msg protocol.SendMessage) Outcome {
	if msg.ReceiverID == "" || msg.Data == nil {
		return rejected(protocol.MsgMissingFields)
	}

	sender, ok := r.reg.Get(senderConnID)
	if !ok {
		return rejected(protocol.MsgSenderNotFound)
	}

	unlock := r.lockUser(msg.ReceiverID)
	defer unlock()

	receiver, ok := r.reg.FindByUser(msg.ReceiverID)
	if ok {
		if !receiver.Conn.Writable() {
			return failed(protocol.MsgSendFailed)
		}
		if err := receiver.Conn.Send(protocol.EncodeNewMessage(sender.UserID, *msg.Data)); err != nil {
			r.log.Warn("push to receiver failed",
				zap.String("receiver_id", msg.ReceiverID),
				zap.String("conn_id", receiver.ConnectionID),
				zap.Error(err))
			return failed(protocol.MsgSendFailed)
		}
		return delivered()
	}

	err := r.store.Enqueue(ctx, pending.Message{
		SenderID:   sender.UserID,
		ReceiverID: msg.ReceiverID,
		Payload:    *msg.Data,
	})
	if err != nil {
		r.log.Warn("queue for offline receiver failed",
			zap.String("receiver_id", msg.ReceiverID),
			zap.String("sender_id", sender.UserID),
			zap.Error(err))
		return failed(protocol.MsgQueueFailed)
	}
	return queued()
}
