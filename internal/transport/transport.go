// Package transport carries protocol.Envelope messages between a
// SessionClient and its server over a single logical connection. It owns
// framing and delivery only — reconnection policy and operation
// bookkeeping live in pkg/session and pkg/otclient.
package transport

import (
	"context"

	"github.com/shiv248/mdsession/internal/protocol"
)

// Handler receives one decoded inbound envelope. It runs on the
// transport's read-pump goroutine, so it must not block for long; slow
// work should be handed off.
type Handler func(protocol.Envelope)

// Transport is the narrow interface pkg/session depends on, so tests can
// substitute an in-memory fake instead of a real socket.
type Transport interface {
	// Connect dials the server and starts the read pump. It blocks until
	// the initial handshake completes or ctx is done.
	Connect(ctx context.Context) error

	// Emit sends one event with the given payload, marshaled to JSON.
	Emit(event string, payload any) error

	// On registers a handler for an inbound event name. Only one handler
	// per event is kept; registering again replaces it. Must be called
	// before Connect to avoid missing early messages.
	On(event string, h Handler)

	// Closed returns a channel that's closed when the connection drops,
	// carrying the error that caused it (nil on a clean Close).
	Closed() <-chan error

	// Close closes the underlying connection.
	Close() error
}
