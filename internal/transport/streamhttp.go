package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
	"github.com/halcyon-labs/mcpbridge/pkg/logging"
)

// SessionIDHeader is the header the bridge reads/writes for the streamable
// HTTP transport's stateful session id. The header name varies across MCP
// SDK versions; the bridge standardizes on this one name both outbound and
// inbound.
const SessionIDHeader = "Mcp-Session-Id"

// OutboundStreamHTTPConfig configures a remote streamable-HTTP MCP server
//.
type OutboundStreamHTTPConfig struct {
	URL string
	Headers map[string]string
	Stateless bool
}

// OutboundStreamHTTP issues one POST per request/notification to a single
// URL and decodes the response body as a single JSON-RPC message. A
// text/event-stream response body is not parsed as SSE events; it fails to
// decode as JSON-RPC and is dropped. In stateful mode it threads the
// server-issued Mcp-Session-Id on every subsequent call.
type OutboundStreamHTTP struct {
	logger *zap.Logger
	cfg OutboundStreamHTTPConfig
	client *http.Client

	inbound chan *jsonrpc.Message

	mu sync.Mutex
	sessionID string
	closed bool
	err error
}

func NewOutboundStreamHTTP(logger *zap.Logger, server string, cfg OutboundStreamHTTPConfig) *OutboundStreamHTTP {
	return &OutboundStreamHTTP{
		logger: logger.With(zap.String(logging.FieldServer, server), zap.String(logging.FieldTransport, string(KindOutboundStreamHTTP))),
		cfg: cfg,
		client: &http.Client{},
		inbound: make(chan *jsonrpc.Message, 16),
	}
}

func (t *OutboundStreamHTTP) Inbound() <-chan *jsonrpc.Message { return t.inbound }

// ClearSession drops any cached session id, forcing the next Send to start a
// fresh stateful session. Used by the resilience retry path after a
// SessionTerminated error.
func (t *OutboundStreamHTTP) ClearSession() {
	t.mu.Lock()
	t.sessionID = ""
	t.mu.Unlock()
}

func (t *OutboundStreamHTTP) Send(ctx context.Context, msg *jsonrpc.Message) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}

	sessionID := t.sessionID
	stateless := t.cfg.Stateless
	t.mu.Unlock()

	body, err := encodeCompact(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build post request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	applyHeaders(req, t.cfg.Headers)

	if !stateless && sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message to %s: %w", t.cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return &SessionTerminatedError{URL: t.cfg.URL, Status: resp.StatusCode}
	}

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{URL: t.cfg.URL, Status: resp.StatusCode, Body: string(raw)}
	}

	if !stateless {
		if got := resp.Header.Get(SessionIDHeader); got != "" {
			t.mu.Lock()
			t.sessionID = got
			t.mu.Unlock()
		}
	}

	if resp.StatusCode == http.StatusAccepted || resp.ContentLength == 0 {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body from %s: %w", t.cfg.URL, err)
	}

	if len(raw) == 0 {
		return nil
	}

	parsed, err := jsonrpc.Parse(raw)
	if err != nil {
		t.logger.Warn("dropping malformed streamable-http response", zap.Error(err))
		return nil
	}

	select {
	case t.inbound <- parsed:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (t *OutboundStreamHTTP) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

func (t *OutboundStreamHTTP) Close() error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.inbound)
	}
	t.mu.Unlock()

	return nil
}

// SessionTerminatedError signals that the upstream streamable-HTTP server
// ended the session.
type SessionTerminatedError struct {
	URL string
	Status int
}

func (e *SessionTerminatedError) Error() string {
	return fmt.Sprintf("session terminated by %s (status %d)", e.URL, e.Status)
}
