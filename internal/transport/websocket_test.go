package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/shiv248/mdsession/internal/protocol"
)

// echoServer accepts one connection, echoes every envelope it receives
// back with event "echo", and stops on read error.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		for {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			var env protocol.Envelope
			err := wsjson.Read(ctx, conn, &env)
			cancel()
			if err != nil {
				return
			}
			env.Event = "echo"
			if err := wsjson.Write(context.Background(), conn, env); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketTransport_EmitAndReceive(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	tr := NewWebSocketTransport(url)

	received := make(chan protocol.Envelope, 1)
	tr.On("echo", func(env protocol.Envelope) {
		received <- env
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	if err := tr.Emit("ping", map[string]int{"n": 1}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case env := <-received:
		var payload map[string]int
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if payload["n"] != 1 {
			t.Fatalf("expected n=1, got %+v", payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestWebSocketTransport_CloseSignalsClosed(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	tr := NewWebSocketTransport(url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-tr.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("Closed channel never closed")
	}
}
