package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
	"github.com/halcyon-labs/mcpbridge/internal/transport"
)

// InboundSSE is a transport.Transport backing one frontend connected over
// the inbound SSE surface: the GET stream this struct writes frames to,
// and the /messages/ POST handler that demultiplexes by session_id feeds
// Deliver.
type InboundSSE struct {
	sessionID string

	flusher http.Flusher
	writer http.ResponseWriter

	writeMu sync.Mutex
	inbound chan *jsonrpc.Message

	closeOnce sync.Once
	closed chan struct{}
}

// NewInboundSSE writes the SSE preamble and the initial "endpoint" event
// naming messagesPath, then returns the transport. The caller must keep the
// HTTP handler goroutine alive (e.g. by selecting on the attached session's
// Done()) since the
// ResponseWriter cannot be used after the handler returns.
func NewInboundSSE(w http.ResponseWriter, messagesPath string) (*InboundSSE, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	t := &InboundSSE{
		sessionID: uuid.NewString(),
		flusher: flusher,
		writer: w,
		inbound: make(chan *jsonrpc.Message, 16),
		closed: make(chan struct{}),
	}

	fmt.Fprintf(w, "event: endpoint\ndata: %s?session_id=%s\n\n", messagesPath, t.sessionID)
	flusher.Flush()

	return t, nil
}

func (t *InboundSSE) SessionID() string { return t.sessionID }

func (t *InboundSSE) Inbound() <-chan *jsonrpc.Message { return t.inbound }

// Send writes msg as an SSE "message" event to the long-lived GET stream.
func (t *InboundSSE) Send(ctx context.Context, msg *jsonrpc.Message) error {
	select {
	case <-t.closed:
		return transport.ErrClosed
	default:
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode sse message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := fmt.Fprintf(t.writer, "event: message\ndata: %s\n\n", raw); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}

	t.flusher.Flush()

	return nil
}

// Deliver hands a POSTed /messages/ body to the transport's inbound side.
func (t *InboundSSE) Deliver(msg *jsonrpc.Message) {
	select {
	case t.inbound <- msg:
	case <-t.closed:
	}
}

func (t *InboundSSE) Err() error { return nil }

func (t *InboundSSE) Close() error {
	t.closeOnce.Do(func() {
			close(t.closed)
			close(t.inbound)
	})

	return nil
}
