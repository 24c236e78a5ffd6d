package relay

import "github.com/Tyrowin/gorelay/internal/protocol"

// Kind classifies a routing attempt.
type Kind int

const (
	Delivered Kind = iota
	Queued
	Failed
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case Queued:
		return "queued"
	case Failed:
		return "failed"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the result of one Route call. Reason is the human readable
// text echoed to the sender.
type Outcome struct {
	Kind   Kind
	Reason string
}

// OK reports whether the message was accepted (delivered or queued).
func (o Outcome) OK() bool { return o.Kind == Delivered || o.Kind == Queued }

// Ack renders the acknowledgement frame sent back to the sender.
func (o Outcome) Ack() []byte {
	return protocol.EncodeAck(o.OK(), o.Reason, o.Kind.String())
}

func delivered() Outcome { return Outcome{Kind: Delivered, Reason: protocol.MsgMessageSent} }
func queued() Outcome    { return Outcome{Kind: Queued, Reason: protocol.MsgMessageQueued} }

func failed(reason string) Outcome   { return Outcome{Kind: Failed, Reason: reason} }
func rejected(reason string) Outcome { return Outcome{Kind: Rejected, Reason: reason} }
