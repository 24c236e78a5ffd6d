// Package auth verifies the bearer tokens clients present when they open a
// relay connection. Tokens are issued by the external login service; the
// relay only checks them.
package auth

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrNoToken is returned when the connection request carries no token.
	ErrNoToken = errors.New("no token provided")
	// ErrInvalidToken covers bad signatures, expired tokens and tokens
	// without a subject.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Identity is the set of claims bound to a session at handshake time.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Verifier validates an opaque bearer token.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// VerifierFunc adapts a plain function to the Verifier interface.
type VerifierFunc func(ctx context.Context, token string) (Identity, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}
