package httpapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
	"github.com/halcyon-labs/mcpbridge/internal/transport"
)

// StreamHTTPInbound is a transport.Transport backing one frontend connected
// over the inbound streamable HTTP transport. Each POST body is delivered on
// Inbound(); the session's eventual Send for that request's id is routed
// back to the goroutine blocked on that specific POST, so the HTTP handler
// can write it as the response body before returning.
//
// In stateful mode one StreamHTTPInbound is kept alive across many POSTs,
// keyed by the Mcp-Session-Id the first POST's response carries
// (streamhttp_handler.go owns that registry). In stateless mode a fresh one backs every POST and is
// discarded afterward: no session state survives between calls.
type StreamHTTPInbound struct {
	inbound chan *jsonrpc.Message

	mu sync.Mutex
	pending map[string]chan *jsonrpc.Message
	closed bool
}

func NewStreamHTTPInbound() *StreamHTTPInbound {
	return &StreamHTTPInbound{
		inbound: make(chan *jsonrpc.Message, 8),
		pending: make(map[string]chan *jsonrpc.Message),
	}
}

func (t *StreamHTTPInbound) Inbound() <-chan *jsonrpc.Message { return t.inbound }

// Send routes msg to the goroutine awaiting the response for its id.
func (t *StreamHTTPInbound) Send(ctx context.Context, msg *jsonrpc.Message) error {
	if msg.ID == nil {
		// Server-to-client notifications have no synchronous POST
		// waiting for them in the streamable-HTTP model; they are
		// dropped here the same way a disconnected SSE frontend would
		// miss them.
		return nil
	}

	key := msg.ID.String()

	t.mu.Lock()
	waiter, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending POST awaiting response id %s", key)
	}

	select {
	case waiter <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver hands one decoded POST body to the session dispatch loop and, if
// it is a request, returns a channel that receives its eventual response.
func (t *StreamHTTPInbound) Deliver(msg *jsonrpc.Message) <-chan *jsonrpc.Message {
	var waiter chan *jsonrpc.Message

	if msg.IsRequest() {
		waiter = make(chan *jsonrpc.Message, 1)

		t.mu.Lock()
		t.pending[msg.ID.String()] = waiter
		t.mu.Unlock()
	}

	t.inbound <- msg

	return waiter
}

func (t *StreamHTTPInbound) Err() error { return nil }

func (t *StreamHTTPInbound) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		t.closed = true
		close(t.inbound)
	}

	return nil
}

var _ transport.Transport = (*StreamHTTPInbound)(nil)
