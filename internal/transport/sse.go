package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
	"github.com/halcyon-labs/mcpbridge/pkg/logging"
)

// OutboundSSEConfig configures a remote SSE-transport MCP server.
type OutboundSSEConfig struct {
	URL string
	Headers map[string]string
}

// sseEvent is one parsed "event: name\ndata: ...\n\n" block.
type sseEvent struct {
	name string
	data string
}

// OutboundSSE opens a long-lived GET event stream to a remote MCP server and
// POSTs outbound frames to the endpoint URL the server names in its initial
// "endpoint" event. Grounded on the request/response correlation idiom of
// direct.StdioClient, adapted to an HTTP+SSE transport.
type OutboundSSE struct {
	logger *zap.Logger
	cfg OutboundSSEConfig
	client *http.Client

	inbound chan *jsonrpc.Message

	endpointReady chan struct{}
	endpointOnce sync.Once
	endpointURL *url.URL

	closeOnce sync.Once
	closed chan struct{}
	cancel context.CancelFunc

	mu sync.Mutex
	err error
}

// DialOutboundSSE opens the GET stream and blocks until the "endpoint" event
// arrives or ctx is done.
func DialOutboundSSE(ctx context.Context, logger *zap.Logger, server string, cfg OutboundSSEConfig) (*OutboundSSE, error) {
	streamCtx, cancel := context.WithCancel(context.Background())

	t := &OutboundSSE{
		logger: logger.With(zap.String(logging.FieldServer, server), zap.String(logging.FieldTransport, string(KindOutboundSSE))),
		cfg: cfg,
		client: &http.Client{},
		inbound: make(chan *jsonrpc.Message, 16),
		endpointReady: make(chan struct{}),
		closed: make(chan struct{}),
		cancel: cancel,
	}

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build sse request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	applyHeaders(req, cfg.Headers)

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open sse stream to %s: %w", cfg.URL, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		cancel()

		return nil, fmt.Errorf("sse stream to %s: status %d: %s", cfg.URL, resp.StatusCode, string(body))
	}

	go t.readLoop(resp.Body)

	select {
	case <-t.endpointReady:
	case <-t.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		t.Close()
		return nil, ctx.Err()
	}

	return t, nil
}

func (t *OutboundSSE) Inbound() <-chan *jsonrpc.Message { return t.inbound }

func (t *OutboundSSE) EndpointURL() *url.URL { return t.endpointURL }

func (t *OutboundSSE) Send(ctx context.Context, msg *jsonrpc.Message) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	body, err := encodeCompact(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpointURL.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build post request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	applyHeaders(req, t.cfg.Headers)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message to %s: %w", t.endpointURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{URL: t.endpointURL.String(), Status: resp.StatusCode, Body: string(body)}
	}

	return nil
}

func (t *OutboundSSE) readLoop(body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	var (
		eventName string
		dataLines []string
	)

	flush := func() {
		if eventName == "" && len(dataLines) == 0 {
			return
		}

		t.handleEvent(sseEvent{name: eventName, data: strings.Join(dataLines, "\n")})
		eventName = ""
		dataLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	flush()

	if err := scanner.Err(); err != nil {
		t.setErr(fmt.Errorf("read sse stream: %w", err))
	} else {
		t.setErr(io.EOF)
	}

	close(t.inbound)
}

func (t *OutboundSSE) handleEvent(ev sseEvent) {
	switch ev.name {
	case "endpoint":
		t.endpointOnce.Do(func() {
				ref, err := url.Parse(strings.TrimSpace(ev.data))
				if err != nil {
					t.logger.Warn("malformed endpoint event", zap.Error(err))
					return
				}

				base, err := url.Parse(t.cfg.URL)
				if err == nil {
					ref = base.ResolveReference(ref)
				}

				t.endpointURL = ref
				close(t.endpointReady)
		})
	case "message", "":
		msg, err := jsonrpc.Parse([]byte(ev.data))
		if err != nil {
			t.logger.Warn("dropping malformed sse message event", zap.Error(err))
			return
		}

		select {
		case t.inbound <- msg:
		case <-t.closed:
		}
	default:
		t.logger.Debug("ignoring unknown sse event", zap.String("event", ev.name))
	}
}

func (t *OutboundSSE) setErr(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
}

func (t *OutboundSSE) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

func (t *OutboundSSE) Close() error {
	t.closeOnce.Do(func() {
			close(t.closed)
			t.cancel()
	})

	return nil
}

// HTTPStatusError carries the upstream URL and HTTP status of a failed
// outbound call, as requires synthetic transport errors to.
type HTTPStatusError struct {
	URL string
	Status int
	Body string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.Status)
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// bearerHeaderFromEnv returns the Authorization header value derived from
// API_ACCESS_TOKEN, if set
func bearerHeaderFromEnv(token string) (string, string, bool) {
	if token == "" {
		return "", "", false
	}

	return "Authorization", "Bearer " + token, true
}

// ApplyBearerToken sets headers["Authorization"] from token (normally
// API_ACCESS_TOKEN) unless the caller already supplied an explicit
// Authorization header. A nil headers map is allocated on demand.
func ApplyBearerToken(headers map[string]string, token string) map[string]string {
	key, value, ok := bearerHeaderFromEnv(token)
	if !ok {
		return headers
	}

	if _, exists := headers["Authorization"]; exists {
		return headers
	}

	if headers == nil {
		headers = map[string]string{}
	}

	headers[key] = value

	return headers
}
