package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
	"github.com/halcyon-labs/mcpbridge/internal/mcptypes"
	sessionpkg "github.com/halcyon-labs/mcpbridge/internal/session"
	"github.com/halcyon-labs/mcpbridge/internal/transport"
	mcperrors "github.com/halcyon-labs/mcpbridge/pkg/errors"
	"github.com/halcyon-labs/mcpbridge/pkg/logging"
	"github.com/halcyon-labs/mcpbridge/pkg/metrics"
	"github.com/halcyon-labs/mcpbridge/pkg/tracing"
)

// Engine forwards a frontend session's traffic to a Router, intercepting
// initialize and maintaining a per-request cancellation table keyed by the
// frontend's own request id, so a notifications/cancelled naming F.id
// cancels exactly the backend call it spawned (the backend id itself stays
// internal to session.Session; the engine only needs to reach the right
// in-flight call).
type Engine struct {
	logger *zap.Logger
	metrics *metrics.Registry
	tracer *tracing.Provider
	router Router

	onAttach func(sess *sessionpkg.Session) func()
}

func New(logger *zap.Logger, reg *metrics.Registry, router Router, onAttach func(sess *sessionpkg.Session) func()) *Engine {
	return &Engine{logger: logger, metrics: reg, router: router, onAttach: onAttach}
}

// WithTracer attaches a tracing.Provider so every forwarded request is
// wrapped in a span. Returns e for chaining at construction.
func (e *Engine) WithTracer(tracer *tracing.Provider) *Engine {
	e.tracer = tracer
	return e
}

// frontendState tracks in-flight-request cancel funcs for one attached
// frontend session, keyed by the frontend's request id, plus whether this
// frontend has already completed the initialize handshake.
type frontendState struct {
	name string
	mu sync.Mutex
	cancels map[string]context.CancelFunc
	initialized bool
}

// Attach wraps t in a frontend session, registers the engine as its request
// and notification handler, and returns the session for the HTTP surface to
// hold onto (e.g. to close it when the connection drops).
func (e *Engine) Attach(name string, t transport.Transport) *sessionpkg.Session {
	sess := sessionpkg.New(e.logger.With(zap.String(logging.FieldConnectionID, name)), name, t)

	state := &frontendState{name: name, cancels: make(map[string]context.CancelFunc)}

	sess.SetHandlers(
		sessionpkg.RequestHandlerFunc(func(ctx context.Context, id jsonrpc.ID, method string, params json.RawMessage) (interface{}, *mcperrors.Error) {
				return e.handleRequest(ctx, id, state, method, params)
		}),
		sessionpkg.NotificationHandlerFunc(func(ctx context.Context, method string, params json.RawMessage) {
				e.handleNotification(state, method, params)
		}),
	)

	var detach func()
	if e.onAttach != nil {
		detach = e.onAttach(sess)
	}

	if detach != nil {
		go func() {
			<-sess.Done()
			detach()
		}()
	}

	return sess
}

func (e *Engine) handleRequest(ctx context.Context, id jsonrpc.ID, state *frontendState, method string, params json.RawMessage) (interface{}, *mcperrors.Error) {
	if method == mcptypes.MethodInitialize {
		return e.handleInitialize(state, params)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	key := idKey(id)

	state.mu.Lock()
	state.cancels[key] = cancel
	state.mu.Unlock()

	defer func() {
		state.mu.Lock()
		delete(state.cancels, key)
		state.mu.Unlock()

		cancel()
	}()

	if e.tracer != nil {
		var span trace.Span
		reqCtx, span = e.tracer.StartRequestSpan(reqCtx, state.name, method, key)
		defer span.End()
	}

	result, rpcErr := e.router.HandleRequest(reqCtx, id, method, params)
	if rpcErr != nil {
		e.metrics.IncError(errServerLabel(rpcErr, state.name), string(rpcErr.Kind))
	}

	return result, rpcErr
}

// errServerLabel picks the backend name a synthetic error already carries in
// its data payload, falling back to the frontend connection name so the
// errors_total metric never goes unlabeled.
func errServerLabel(rpcErr *mcperrors.Error, fallback string) string {
	if server, ok := rpcErr.Data["server"].(string); ok && server != "" {
		return server
	}

	return fallback
}

// handleInitialize answers the frontend's handshake once per session; a
// second initialize on an already-initialized frontend is rejected with
// Invalid Request rather than silently re-answered.
func (e *Engine) handleInitialize(state *frontendState, params json.RawMessage) (interface{}, *mcperrors.Error) {
	state.mu.Lock()
	alreadyInitialized := state.initialized
	state.initialized = true
	state.mu.Unlock()

	if alreadyInitialized {
		return nil, &mcperrors.Error{
			Kind: mcperrors.KindProtocol,
			Code: mcperrors.CodeInvalidRequest,
			Message: "session already initialized",
		}
	}

	var req mcptypes.InitializeParams
	_ = json.Unmarshal(params, &req)

	result := mcptypes.InitializeResult{
		ProtocolVersion: mcptypes.ProtocolVersion,
		Capabilities: e.router.Capabilities(),
		ServerInfo: mcptypes.Implementation{Name: logging.ServiceName, Version: "1.0"},
	}

	return result, nil
}

// handleNotification cancels the in-flight request named by
// notifications/cancelled's requestId, dropping the waiter and discarding
// any late backend response for it.
func (e *Engine) handleNotification(state *frontendState, method string, params json.RawMessage) {
	if method != mcptypes.NotificationCancelled {
		return
	}

	var cancelled mcptypes.CancelledParams
	if err := json.Unmarshal(params, &cancelled); err != nil {
		return
	}

	key := idKey(cancelled.RequestID)
	if key == "" {
		return
	}

	state.mu.Lock()
	cancel, found := state.cancels[key]
	state.mu.Unlock()

	if found {
		cancel()
	}
}

// idKey normalizes a JSON-RPC request id to the same string form
// jsonrpc.ID.String() produces, whether it arrived as a jsonrpc.ID (frontend
// requests, typed) or as the bare any a notifications/cancelled's requestId
// decodes to (a string id stays a string; a numeric id decodes as float64
// and must be reformatted without a trailing ".0" to match the cancel
// table's key).
func idKey(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case jsonrpc.ID:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
