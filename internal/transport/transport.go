// Package transport defines the queue contract conversation sync depends on.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/capitalize-ai/queuechat/internal/model"
)

// ErrTransport is matched by every *Error.
var ErrTransport = errors.New("transport failure")

// ErrNoMessageID means the queue accepted a send without assigning an id.
var ErrNoMessageID = errors.New("queue returned no message id")

// Error wraps a failed queue operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes both the cause and ErrTransport to errors.Is.
func (e *Error) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// Wrap returns err as a transport *Error for op, or nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// Transport is a shared at-least-once queue. Deliveries carry no ordering
// guarantee across calls and may repeat.
type Transport interface {
	// Receive long-polls for at most maxMessages deliveries, returning within wait.
	Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]model.Delivery, error)

	// Send publishes one envelope and returns the transport-assigned id.
	Send(ctx context.Context, envelope string) (string, error)
}

// Opener constructs a transport bound to one resolved identity.
type Opener interface {
	Open(ctx context.Context, identity string) (Transport, error)
}

// Closer is implemented by transports holding per-view resources.
type Closer interface {
	Close(ctx context.Context) error
}
