//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=mocks/mock_transport.go -package=mocks

package channel

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnauthorized is returned by a Dialer when the server rejects the credential.
var ErrUnauthorized = errors.New("credential rejected")

// ErrSessionAuth matches every *SessionAuthError.
var ErrSessionAuth = errors.New("session authentication failed")

// SessionAuthError is returned by Connect when the identity could not be
// turned into a credential or the credential was refused.
type SessionAuthError struct {
	UserID string
	Err    error
}

func (e *SessionAuthError) Error() string {
	return fmt.Sprintf("%s for %q: %v", ErrSessionAuth, e.UserID, e.Err)
}

func (e *SessionAuthError) Unwrap() []error {
	return []error{ErrSessionAuth, e.Err}
}

// Conn is one established realtime connection carrying whole frames.
type Conn interface {
	// Read blocks until a frame arrives or ctx is done.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a Conn presenting credential to the server.
type Dialer interface {
	Dial(ctx context.Context, credential string) (Conn, error)
}
