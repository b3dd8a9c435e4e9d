package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHubAddRemoveConn(t *testing.T) {
	h := NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	c := &Conn{ID: "viewer-1", SessionID: "sess-1", Send: make(chan []byte, 8), CreatedAt: time.Now()}
	h.register <- c
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, h.ViewerCount("sess-1"))

	h.unregister <- c
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, h.ViewerCount("sess-1"))
}

func TestBroadcastSkipsFullBuffer(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	c := &Conn{ID: "viewer-1", SessionID: "sess-1", Send: make(chan []byte), CreatedAt: time.Now()} // unbuffered
	h.register <- c
	time.Sleep(10 * time.Millisecond)

	// No reader draining c.Send, so this must not block.
	done := make(chan struct{})
	go func() {
		h.Broadcast("sess-1", "message", map[string]any{"text": "hi"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full viewer buffer")
	}
}

func TestBroadcastReachesMultipleViewersOfSameSession(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	c1 := &Conn{ID: "v1", SessionID: "sess-1", Send: make(chan []byte, 4), CreatedAt: time.Now()}
	c2 := &Conn{ID: "v2", SessionID: "sess-1", Send: make(chan []byte, 4), CreatedAt: time.Now()}
	h.register <- c1
	h.register <- c2
	time.Sleep(10 * time.Millisecond)

	h.Broadcast("sess-1", "message", "payload")

	select {
	case <-c1.Send:
	case <-time.After(time.Second):
		t.Fatal("viewer 1 did not receive broadcast")
	}
	select {
	case <-c2.Send:
	case <-time.After(time.Second):
		t.Fatal("viewer 2 did not receive broadcast")
	}
}

func TestHandleCommandWithoutHandlerReturnsError(t *testing.T) {
	h := NewHub()
	c := &Conn{ID: "v1", SessionID: "sess-1", Send: make(chan []byte, 4), CreatedAt: time.Now()}

	h.handleCommand(c, &Frame{Type: "command", SessionID: "sess-1", Method: "send_message"}, nil)

	select {
	case data := <-c.Send:
		assert.Contains(t, string(data), "\"type\":\"error\"")
	default:
		t.Fatal("expected an error ack frame")
	}
}

func TestHandleCommandInvokesRegisteredHandler(t *testing.T) {
	h := NewHub()
	var gotMethod string
	h.SetCommandHandler(func(ctx context.Context, sessionID, method string, payload json.RawMessage) (any, error) {
		gotMethod = method
		return map[string]any{"ok": true}, nil
	})

	c := &Conn{ID: "v1", SessionID: "sess-1", Send: make(chan []byte, 4), CreatedAt: time.Now()}
	h.handleCommand(c, &Frame{Type: "command", SessionID: "sess-1", Method: "cast_vote"}, nil)

	assert.Equal(t, "cast_vote", gotMethod)
	select {
	case data := <-c.Send:
		assert.Contains(t, string(data), "\"type\":\"ack\"")
	default:
		t.Fatal("expected an ack frame")
	}
}
