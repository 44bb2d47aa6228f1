package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/shiv248/mdsession/internal/protocol"
	"github.com/shiv248/mdsession/pkg/logger"
)

// WriteTimeout bounds a single outbound frame; ReadIdleTimeout bounds how
// long the read pump waits for the next frame before treating the
// connection as dead.
const (
	WriteTimeout    = 10 * time.Second
	ReadIdleTimeout = 60 * time.Second
)

// WebSocketTransport is the production Transport, framing every message
// as a protocol.Envelope over a single nhooyr.io/websocket connection.
type WebSocketTransport struct {
	url string

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]Handler

	closed   chan error
	closeOne sync.Once
}

// NewWebSocketTransport returns a transport that will dial url on Connect.
func NewWebSocketTransport(url string) *WebSocketTransport {
	return &WebSocketTransport{
		url:      url,
		handlers: make(map[string]Handler),
		closed:   make(chan error, 1),
	}
}

func (t *WebSocketTransport) On(event string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[event] = h
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", t.url, err)
	}
	conn.SetReadLimit(32 << 20)

	t.mu.Lock()
	t.conn = conn
	t.closed = make(chan error, 1)
	t.closeOne = sync.Once{}
	t.mu.Unlock()

	go t.readPump()
	return nil
}

func (t *WebSocketTransport) readPump() {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		readCtx, cancel := context.WithTimeout(context.Background(), ReadIdleTimeout)
		var env protocol.Envelope
		err := wsjson.Read(readCtx, conn, &env)
		cancel()
		if err != nil {
			t.fail(err)
			return
		}

		t.mu.Lock()
		h, ok := t.handlers[env.Event]
		t.mu.Unlock()
		if !ok {
			logger.Debug("transport: no handler registered for event %q", env.Event)
			continue
		}
		h(env)
	}
}

func (t *WebSocketTransport) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal %s payload: %w", event, err)
	}
	env := protocol.Envelope{Event: event, Data: data}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: emit %s: not connected", event)
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, env); err != nil {
		t.fail(err)
		return fmt.Errorf("transport: emit %s: %w", event, err)
	}
	return nil
}

func (t *WebSocketTransport) Closed() <-chan error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *WebSocketTransport) fail(err error) {
	t.mu.Lock()
	closed, once := t.closed, &t.closeOne
	t.mu.Unlock()
	once.Do(func() {
		closed <- err
		close(closed)
	})
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	closed, once := t.closed, &t.closeOne
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	once.Do(func() {
		close(closed)
	})
	return conn.Close(websocket.StatusNormalClosure, "closing")
}
