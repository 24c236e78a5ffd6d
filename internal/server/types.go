package server

import (
	"strings"
	"sync/atomic"
)

// State is the lifecycle phase of a client connection.
type State int32

// Client states. Transitions only move forward.
const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type atomicState struct{ v atomic.Int32 }

func (a *atomicState) load() State { return State(a.v.Load()) }

// advance moves to next unless the current state is already at or past it.
func (a *atomicState) advance(next State) bool {
	for {
		cur := a.v.Load()
		if State(cur) >= next {
			return false
		}
		if a.v.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

// Stats is the body served on /stats.
type Stats struct {
	Online      int `json:"online"`
	Connections int `json:"connections"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
