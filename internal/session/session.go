// Package session implements the ClientSession, a stateful
// JSON-RPC peer sitting atop a transport.Transport that drives the MCP
// initialize handshake, correlates outstanding requests to their responses,
// and dispatches inbound requests/notifications to registered handlers.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
	"github.com/halcyon-labs/mcpbridge/internal/mcptypes"
	"github.com/halcyon-labs/mcpbridge/internal/transport"
	mcperrors "github.com/halcyon-labs/mcpbridge/pkg/errors"
	"github.com/halcyon-labs/mcpbridge/pkg/logging"
)

// DefaultRequestTimeout is the per-request budget absent a more
// specific descriptor override.
const DefaultRequestTimeout = 60 * time.Second

// DefaultHandshakeTimeout bounds the initialize round-trip.
const DefaultHandshakeTimeout = 30 * time.Second

// RequestHandler answers requests the remote peer initiates against us. The
// proxy engine registers one on every frontend session to serve frontend
// calls. Backend sessions register none, so a backend-initiated request is
// answered with MethodNotFound and is not forwarded to any frontend.
// Returning a non-nil *mcperrors.Error sends that error back to the peer as
// the response.
type RequestHandler interface {
	HandleRequest(ctx context.Context, id jsonrpc.ID, method string, params json.RawMessage) (result interface{}, err *mcperrors.Error)
}

// NotificationHandler answers fire-and-forget notifications from the peer.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, method string, params json.RawMessage)
}

// RequestHandlerFunc adapts a function to a RequestHandler.
type RequestHandlerFunc func(ctx context.Context, id jsonrpc.ID, method string, params json.RawMessage) (interface{}, *mcperrors.Error)

func (f RequestHandlerFunc) HandleRequest(ctx context.Context, id jsonrpc.ID, method string, params json.RawMessage) (interface{}, *mcperrors.Error) {
	return f(ctx, id, method, params)
}

// NotificationHandlerFunc adapts a function to a NotificationHandler.
type NotificationHandlerFunc func(ctx context.Context, method string, params json.RawMessage)

func (f NotificationHandlerFunc) HandleNotification(ctx context.Context, method string, params json.RawMessage) {
	f(ctx, method, params)
}

type waiter struct {
	resultCh chan json.RawMessage
	errCh chan *jsonrpc.Error
}

// Session is one MCP peer: initialize handshake state, the outstanding
// request table, and the dispatch loop reading transport.Inbound(). The
// cyclic reference between session and proxy engine is resolved by
// setting handlers after construction; Session never calls back into
// whoever owns it beyond these two interfaces.
type Session struct {
	logger *zap.Logger
	name string
	transport transport.Transport

	nextID int64

	mu sync.Mutex
	waiters map[string]*waiter
	initialized bool
	closed bool
	closeErr error

	clientInfo mcptypes.Implementation
	serverInfo mcptypes.Implementation
	capabilities mcptypes.Capabilities

	reqHandler RequestHandler
	notifyHandler NotificationHandler

	retryPolicy transport.RetryPolicy

	done chan struct{}
}

// New wraps t in a Session identified by name (a backend server name or a
// frontend connection id) for logging.
func New(logger *zap.Logger, name string, t transport.Transport) *Session {
	s := &Session{
		logger: logger.With(zap.String(logging.FieldSessionID, name)),
		name: name,
		transport: t,
		waiters: make(map[string]*waiter),
		retryPolicy: transport.DefaultRetryPolicy(),
		done: make(chan struct{}),
	}

	go s.dispatchLoop()

	return s
}

// SetRetryPolicy overrides the single-retry resilience policy applied to
// every Request call. Called by internal/backend after connecting, from the
// server descriptor's retryRemote/remoteRetries fields.
func (s *Session) SetRetryPolicy(p transport.RetryPolicy) {
	s.mu.Lock()
	s.retryPolicy = p
	s.mu.Unlock()
}

// SetHandlers registers the handlers for peer-initiated requests and
// notifications. Messages the peer sends before it is called find no handler
// registered. The proxy engine's Attach calls it immediately after New;
// internal/backend calls it once the handshake and capability priming are done.
func (s *Session) SetHandlers(req RequestHandler, notify NotificationHandler) {
	s.mu.Lock()
	s.reqHandler = req
	s.notifyHandler = notify
	s.mu.Unlock()
}

// Name returns the identifier this session was constructed with.
func (s *Session) Name() string { return s.name }

// Initialize drives the handshake: send initialize, await the result, send
// notifications/initialized.
func (s *Session) Initialize(ctx context.Context, clientInfo mcptypes.Implementation, caps mcptypes.Capabilities) (*mcptypes.InitializeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultHandshakeTimeout)
	defer cancel()

	params := mcptypes.InitializeParams{
		ProtocolVersion: mcptypes.ProtocolVersion,
		Capabilities: caps,
		ClientInfo: clientInfo,
	}

	raw, err := s.Request(ctx, mcptypes.MethodInitialize, params, DefaultHandshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("initialize handshake: %w", err)
	}

	var result mcptypes.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode initialize result: %w", err)
	}

	if err := s.Notify(ctx, mcptypes.NotificationInitialized, nil); err != nil {
		return nil, fmt.Errorf("send initialized notification: %w", err)
	}

	s.mu.Lock()
	s.initialized = true
	s.clientInfo = clientInfo
	s.serverInfo = result.ServerInfo
	s.capabilities = result.Capabilities
	s.mu.Unlock()

	return &result, nil
}

// Reinitialize re-runs the handshake after a retryable transport failure
// (transport.RetryPolicy.Run), satisfying transport.Reinitializer. Any
// cached transport session id (OutboundStreamHTTP) is dropped first so the
// reissued initialize starts a fresh session rather than reusing the one the
// remote just terminated.
func (s *Session) Reinitialize(ctx context.Context) error {
	if clearer, ok := s.transport.(transport.SessionClearer); ok {
		clearer.ClearSession()
	}

	s.mu.Lock()
	clientInfo := s.clientInfo
	s.mu.Unlock()

	_, err := s.Initialize(ctx, clientInfo, mcptypes.Capabilities{})

	return err
}

// ServerInfo returns the server identity recorded during Initialize.
func (s *Session) ServerInfo() mcptypes.Implementation {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.serverInfo
}

// Capabilities returns the capabilities negotiated during Initialize.
func (s *Session) Capabilities() mcptypes.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.capabilities
}

// Request allocates the next id, registers a waiter, writes the request, and
// waits for the matching response, timeout, or session close. On a
// retryable transport failure (connection reset, HTTP 404, or
// SessionTerminated) it clears the cached session, re-runs initialize, and
// reissues the request once, per the configured RetryPolicy.
func (s *Session) Request(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	s.mu.Lock()
	policy := s.retryPolicy
	s.mu.Unlock()

	var result json.RawMessage

	err := policy.Run(ctx, s, func(opCtx context.Context) error {
		res, opErr := s.requestOnce(opCtx, method, params, timeout)
		if opErr != nil {
			return opErr
		}

		result = res

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// requestOnce is the single-attempt request round-trip that Request wraps
// in a RetryPolicy.
func (s *Session) requestOnce(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	id := jsonrpc.NewIDFromInt(atomic.AddInt64(&s.nextID, 1))
	idStr := id.String()

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	w := &waiter{resultCh: make(chan json.RawMessage, 1), errCh: make(chan *jsonrpc.Error, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, mcperrors.BackendUnavailable(s.name, s.closeErr)
	}
	s.waiters[idStr] = w
	s.mu.Unlock()

	msg := &jsonrpc.Message{JSONRPC: jsonrpc.Version, Method: req.Method, Params: req.Params, ID: &id}

	if err := s.transport.Send(ctx, msg); err != nil {
		s.dropWaiter(idStr)
		return nil, fmt.Errorf("send request %s: %w", method, err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case result := <-w.resultCh:
		return result, nil
	case rpcErr := <-w.errCh:
		return nil, rpcErr
	case <-timeoutCtx.Done():
		s.dropWaiter(idStr)

		// A caller-driven cancel (the frontend's notifications/cancelled)
		// is forwarded to this backend; a deadline timeout
		// is not (the remote may still answer and will be ignored).
		if errors.Is(ctx.Err(), context.Canceled) {
			_ = s.Notify(context.Background(), mcptypes.NotificationCancelled, mcptypes.CancelledParams{RequestID: idStr, Reason: "cancelled"})
			return nil, mcperrors.New(mcperrors.KindInternal, "request cancelled").WithData("cancelled", true)
		}

		return nil, mcperrors.Timeout(s.name)
	case <-s.done:
		return nil, mcperrors.BackendUnavailable(s.name, s.closeErr)
	}
}

// Cancel sends notifications/cancelled for id and drops its local waiter,
// discarding any late response.
func (s *Session) Cancel(ctx context.Context, id jsonrpc.ID, reason string) error {
	s.dropWaiter(id.String())

	return s.Notify(ctx, mcptypes.NotificationCancelled, mcptypes.CancelledParams{RequestID: id.String(), Reason: reason})
}

// Notify sends a fire-and-forget notification.
func (s *Session) Notify(ctx context.Context, method string, params interface{}) error {
	notif, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}

	msg := &jsonrpc.Message{JSONRPC: jsonrpc.Version, Method: notif.Method, Params: notif.Params}

	return s.transport.Send(ctx, msg)
}

// Respond replies to a peer-initiated request with a successful result.
func (s *Session) Respond(ctx context.Context, id jsonrpc.ID, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal response result: %w", err)
	}

	return s.transport.Send(ctx, &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: &id, Result: raw})
}

// RespondError replies to a peer-initiated request with an error.
func (s *Session) RespondError(ctx context.Context, id jsonrpc.ID, code int, message string, data interface{}) error {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}

	msg := &jsonrpc.Message{
		JSONRPC: jsonrpc.Version,
		ID: &id,
		Error: &jsonrpc.Error{Code: code, Message: message, Data: raw},
	}

	return s.transport.Send(ctx, msg)
}

func (s *Session) dropWaiter(idStr string) {
	s.mu.Lock()
	delete(s.waiters, idStr)
	s.mu.Unlock()
}

// dispatchLoop serializes inbound handling: responses resolve waiters,
// requests/notifications are handed to the registered handlers, one at a
// time, so inbound dispatch is serialized per session.
func (s *Session) dispatchLoop() {
	for msg := range s.transport.Inbound() {
		s.dispatch(msg)
	}

	s.Close(s.transport.Err())
}

func (s *Session) dispatch(msg *jsonrpc.Message) {
	ctx := context.Background()

	switch {
	case msg.IsResponse():
		s.resolveResponse(msg)
	case msg.IsNotification():
		s.mu.Lock()
		handler := s.notifyHandler
		s.mu.Unlock()

		if handler != nil {
			handler.HandleNotification(ctx, msg.Method, msg.Params)
		}
	case msg.IsRequest():
		// Requests run in their own goroutine so a slow backend call
		// never blocks this session's dispatch loop from delivering a
		// notifications/cancelled for an earlier request.
		go s.handleInboundRequest(ctx, msg)
	default:
		s.logger.Warn("dropping malformed jsonrpc message")
	}
}

func (s *Session) resolveResponse(msg *jsonrpc.Message) {
	idStr := msg.ID.String()

	s.mu.Lock()
	w, ok := s.waiters[idStr]
	if ok {
		delete(s.waiters, idStr)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Warn("dropping response for unknown request id", zap.String(logging.FieldRequestID, idStr))
		return
	}

	if msg.Error != nil {
		w.errCh <- msg.Error
		return
	}

	w.resultCh <- msg.Result
}

func (s *Session) handleInboundRequest(ctx context.Context, msg *jsonrpc.Message) {
	s.mu.Lock()
	handler := s.reqHandler
	s.mu.Unlock()

	if handler == nil {
		_ = s.RespondError(ctx, *msg.ID, mcperrors.CodeMethodNotFound, "no handler registered", nil)
		return
	}

	result, rpcErr := handler.HandleRequest(ctx, *msg.ID, msg.Method, msg.Params)
	if rpcErr != nil {
		_ = s.RespondError(ctx, *msg.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}

	_ = s.Respond(ctx, *msg.ID, result)
}

// Close marks the session closed and drains every outstanding waiter with a
// synthetic BackendUnavailable error, so no waiter is ever leaked past
// session close. Idempotent.
func (s *Session) Close(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.closed = true
	s.closeErr = cause
	waiters := s.waiters
	s.waiters = make(map[string]*waiter)
	s.mu.Unlock()

	synthetic := mcperrors.BackendUnavailable(s.name, cause)
	rpcErr := &jsonrpc.Error{Code: synthetic.Code, Message: synthetic.Message}

	for _, w := range waiters {
		w.errCh <- rpcErr
	}

	close(s.done)
	_ = s.transport.Close()
}

// Closed reports whether the session has closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// Done returns a channel closed when the session closes, for callers that
// select on it alongside their own context.
func (s *Session) Done() <-chan struct{} { return s.done }
