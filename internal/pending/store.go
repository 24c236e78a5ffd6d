// Package pending holds direct messages addressed to users who are not
// connected, until their next session drains them.
package pending

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// ErrQueueFull is returned by Enqueue when the receiver already holds
// MaxPerReceiver messages.
var ErrQueueFull = errors.New("pending queue is full")

// Message is one undelivered direct message.
type Message struct {
	SenderID   string               `json:"senderId"`
	ReceiverID string               `json:"receiverId"`
	Payload    protocol.MessageData `json:"payload"`
	EnqueuedAt time.Time            `json:"enqueuedAt"`
}

// Store is the pending delivery store. Drain removes and returns every
// message for a user as one atomic step, so a message is handed out at most
// once.
type Store interface {
	Enqueue(ctx context.Context, msg Message) error
	Drain(ctx context.Context, userID string) ([]Message, error)
	Size(ctx context.Context, userID string) (int, error)
}

// Options bounds a store. The zero value keeps every message until it is
// drained.
type Options struct {
	MaxPerReceiver int              // <=0 means unbounded
	TTL            time.Duration    // <=0 means messages never expire
	Clock          func() time.Time // nil => time.Now
}

func (o *Options) norm() {
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.MaxPerReceiver < 0 {
		o.MaxPerReceiver = 0
	}
	if o.TTL < 0 {
		o.TTL = 0
	}
}

func (o *Options) expired(m Message, now time.Time) bool {
	return o.TTL > 0 && !m.EnqueuedAt.IsZero() && now.Sub(m.EnqueuedAt) > o.TTL
}
