package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/backend"
	"github.com/halcyon-labs/mcpbridge/internal/config"
	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
	"github.com/halcyon-labs/mcpbridge/internal/mcptypes"
	"github.com/halcyon-labs/mcpbridge/internal/session"
	"github.com/halcyon-labs/mcpbridge/internal/transport"
	mcperrors "github.com/halcyon-labs/mcpbridge/pkg/errors"
	"github.com/halcyon-labs/mcpbridge/pkg/metrics"
)

// Bridge owns a pool of ManagedBackends and the capability Union over them.
// It implements session.RequestHandler so a frontend session can hand it
// inbound requests directly; Attach registers a frontend for list-changed
// fan-out.
type Bridge struct {
	logger *zap.Logger
	metrics *metrics.Registry
	desc config.BridgeDescriptor
	union *Union

	backends map[string]*backend.ManagedBackend
	order []string

	mu sync.RWMutex
	frontends map[*session.Session]struct{}

	statusObservers []backend.StatusChangedFunc
}

// AddStatusObserver registers an additional callback invoked on every
// backend status transition, alongside the bridge's own union rebuild (used
// by the HTTP surface to feed /status/stream).
func (br *Bridge) AddStatusObserver(fn backend.StatusChangedFunc) {
	br.mu.Lock()
	br.statusObservers = append(br.statusObservers, fn)
	br.mu.Unlock()
}

func New(logger *zap.Logger, reg *metrics.Registry, desc config.BridgeDescriptor) *Bridge {
	return &Bridge{
		logger: logger,
		metrics: reg,
		desc: desc,
		union: NewUnion(desc),
		backends: map[string]*backend.ManagedBackend{},
		frontends: map[*session.Session]struct{}{},
	}
}

// AddBackend constructs and starts a ManagedBackend for desc, wiring its
// list-changed and status-changed callbacks back into the bridge.
func (br *Bridge) AddBackend(ctx context.Context, logger *zap.Logger, reg *metrics.Registry, desc config.ServerDescriptor) {
	mb := backend.New(logger, reg, desc, br.desc.Failover, br.onListChanged, br.onStatusChanged)

	br.mu.Lock()
	br.backends[desc.Name] = mb
	br.order = append(br.order, desc.Name)
	br.mu.Unlock()

	mb.Start(ctx)
}

// Backends returns a snapshot of every managed backend, in config order.
func (br *Bridge) Backends() []backend.Snapshot {
	br.mu.RLock()
	defer br.mu.RUnlock()

	snaps := make([]backend.Snapshot, 0, len(br.order))
	for _, name := range br.order {
		snaps = append(snaps, br.backends[name].Snapshot())
	}

	return snaps
}

func (br *Bridge) onStatusChanged(snap backend.Snapshot) {
	br.union.Rebuild(br.Backends())

	br.mu.RLock()
	observers := br.statusObservers
	br.mu.RUnlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func (br *Bridge) onListChanged(server, method string) {
	br.union.Rebuild(br.Backends())
	br.fanOutListChanged(method)
}

// Attach registers a frontend session for list-changed fan-out and returns
// an unregister function.
func (br *Bridge) Attach(sess *session.Session) func() {
	br.mu.Lock()
	br.frontends[sess] = struct{}{}
	br.mu.Unlock()

	return func() {
		br.mu.Lock()
		delete(br.frontends, sess)
		br.mu.Unlock()
	}
}

// fanOutListChanged re-emits the notification matching the capability kind
// that actually changed (tools/resources/prompts), falling back to the
// tools variant for an unrecognized method rather than silently dropping it.
func (br *Bridge) fanOutListChanged(method string) {
	switch method {
	case mcptypes.NotificationResourcesListChanged, mcptypes.NotificationPromptsListChanged:
	default:
		method = mcptypes.NotificationToolsListChanged
	}

	br.mu.RLock()
	defer br.mu.RUnlock()

	for sess := range br.frontends {
		_ = sess.Notify(context.Background(), method, nil)
	}
}

// HandleRequest implements session.RequestHandler: it is the frontend's
// sole entry point into the bridge. initialize is
// handled upstream by the proxy/session layer that constructs a synthetic
// InitializeResult; by the time a request reaches here it is always a
// post-handshake MCP method.
func (br *Bridge) HandleRequest(ctx context.Context, id jsonrpc.ID, method string, params json.RawMessage) (interface{}, *mcperrors.Error) {
	switch method {
	case mcptypes.MethodToolsList:
		return mcptypes.ListToolsResult{Tools: br.union.Snapshot().Tools}, nil
	case mcptypes.MethodResourcesList:
		return mcptypes.ListResourcesResult{Resources: br.union.Snapshot().Resources}, nil
	case mcptypes.MethodResourceTemplatesList:
		return mcptypes.ListResourceTemplatesResult{ResourceTemplates: br.union.Snapshot().Templates}, nil
	case mcptypes.MethodPromptsList:
		return mcptypes.ListPromptsResult{Prompts: br.union.Snapshot().Prompts}, nil
	case mcptypes.MethodToolsCall:
		return br.routeToolCall(ctx, params)
	case mcptypes.MethodResourcesRead:
		return br.routeResource(ctx, method, params, "uri")
	case mcptypes.MethodResourcesSubscribe, mcptypes.MethodResourcesUnsubscribe:
		return br.routeResource(ctx, method, params, "uri")
	case mcptypes.MethodPromptsGet:
		return br.routePrompt(ctx, params)
	case mcptypes.MethodCompletionComplete:
		return br.routeByPriority(ctx, method, params)
	case mcptypes.MethodLoggingSetLevel:
		return br.broadcast(ctx, method, params)
	case mcptypes.MethodPing:
		return struct{}{}, nil
	default:
		return nil, mcperrors.New(mcperrors.KindMethodNotFound, fmt.Sprintf("unroutable method %q", method))
	}
}

func (br *Bridge) routeToolCall(ctx context.Context, params json.RawMessage) (interface{}, *mcperrors.Error) {
	var p mcptypes.CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, mcperrors.New(mcperrors.KindInvalidParams, "invalid tools/call params")
	}

	server, original, ok := br.union.Snapshot().ResolveTool(p.Name)
	if !ok {
		return nil, mcperrors.New(mcperrors.KindMethodNotFound, fmt.Sprintf("no backend owns tool %q", p.Name))
	}

	mb, found := br.backendByName(server)
	if !found {
		return nil, mcperrors.BackendUnavailable(server, nil)
	}

	sess := mb.Session()
	if sess == nil {
		return nil, mcperrors.BackendUnavailable(server, nil)
	}

	raw, err := sess.Request(ctx, mcptypes.MethodToolsCall, mcptypes.CallToolParams{Name: original, Arguments: p.Arguments}, 0)
	if err != nil {
		return nil, asRPCError(err, server)
	}

	var result mcptypes.CallToolResult
	if jsonErr := json.Unmarshal(raw, &result); jsonErr != nil {
		return nil, mcperrors.New(mcperrors.KindInternal, "decode backend tool result")
	}

	return result, nil
}

func (br *Bridge) routeResource(ctx context.Context, method string, params json.RawMessage, uriField string) (interface{}, *mcperrors.Error) {
	var envelope map[string]interface{}
	if err := json.Unmarshal(params, &envelope); err != nil {
		return nil, mcperrors.New(mcperrors.KindInvalidParams, "invalid resource params")
	}

	uri, _ := envelope[uriField].(string)

	server, original, ok := br.union.Snapshot().ResolveResource(uri)
	if !ok {
		return br.routeByPriority(ctx, method, params)
	}

	mb, found := br.backendByName(server)
	if !found {
		return nil, mcperrors.BackendUnavailable(server, nil)
	}

	sess := mb.Session()
	if sess == nil {
		return nil, mcperrors.BackendUnavailable(server, nil)
	}

	envelope[uriField] = original

	raw, err := sess.Request(ctx, method, envelope, 0)
	if err != nil {
		return nil, asRPCError(err, server)
	}

	var result interface{}
	_ = json.Unmarshal(raw, &result)

	return result, nil
}

func (br *Bridge) routePrompt(ctx context.Context, params json.RawMessage) (interface{}, *mcperrors.Error) {
	var p mcptypes.GetPromptParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, mcperrors.New(mcperrors.KindInvalidParams, "invalid prompts/get params")
	}

	server, original, ok := br.union.Snapshot().ResolvePrompt(p.Name)
	if !ok {
		return nil, mcperrors.New(mcperrors.KindMethodNotFound, fmt.Sprintf("no backend owns prompt %q", p.Name))
	}

	mb, found := br.backendByName(server)
	if !found {
		return nil, mcperrors.BackendUnavailable(server, nil)
	}

	sess := mb.Session()
	if sess == nil {
		return nil, mcperrors.BackendUnavailable(server, nil)
	}

	raw, err := sess.Request(ctx, mcptypes.MethodPromptsGet, mcptypes.GetPromptParams{Name: original, Arguments: p.Arguments}, 0)
	if err != nil {
		return nil, asRPCError(err, server)
	}

	var result interface{}
	_ = json.Unmarshal(raw, &result)

	return result, nil
}

// routeByPriority implements the fallback for completion/complete
// and unresolvable resource URIs: try each connected backend in priority
// order, returning the first success.
func (br *Bridge) routeByPriority(ctx context.Context, method string, params json.RawMessage) (interface{}, *mcperrors.Error) {
	snaps := br.Backends()

	sort.SliceStable(snaps, func(i, j int) bool {
		if snaps[i].Descriptor.Priority != snaps[j].Descriptor.Priority {
			return snaps[i].Descriptor.Priority < snaps[j].Descriptor.Priority
		}

		return snaps[i].Name < snaps[j].Name
	})

	if preferred := br.union.PreferredServers(method, snaps); len(preferred) > 0 {
		snaps = reorderByNames(snaps, preferred)
	}

	var lastErr *mcperrors.Error

	for _, snap := range snaps {
		if snap.Status != backend.StatusConnected {
			continue
		}

		mb, ok := br.backendByName(snap.Name)
		if !ok {
			continue
		}

		sess := mb.Session()
		if sess == nil {
			continue
		}

		raw, err := sess.Request(ctx, method, params, 0)
		if err != nil {
			lastErr = asRPCError(err, snap.Name)
			continue
		}

		var result interface{}
		_ = json.Unmarshal(raw, &result)

		return result, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}

	return nil, mcperrors.New(mcperrors.KindMethodNotFound, fmt.Sprintf("no connected backend for %q", method))
}

func reorderByNames(snaps []backend.Snapshot, preferredOrder []string) []backend.Snapshot {
	rank := make(map[string]int, len(preferredOrder))
	for i, name := range preferredOrder {
		rank[name] = i
	}

	out := make([]backend.Snapshot, len(snaps))
	copy(out, snaps)

	preferred := make([]backend.Snapshot, 0, len(out))
	rest := make([]backend.Snapshot, 0, len(out))

	for _, s := range out {
		if _, ok := rank[s.Name]; ok {
			preferred = append(preferred, s)
		} else {
			rest = append(rest, s)
		}
	}

	return append(preferred, rest...)
}

// broadcast sends method/params to every connected backend, used for
// logging/setLevel.
func (br *Bridge) broadcast(ctx context.Context, method string, params json.RawMessage) (interface{}, *mcperrors.Error) {
	for _, snap := range br.Backends() {
		if snap.Status != backend.StatusConnected {
			continue
		}

		mb, ok := br.backendByName(snap.Name)
		if !ok {
			continue
		}

		sess := mb.Session()
		if sess == nil {
			continue
		}

		var payload interface{}
		_ = json.Unmarshal(params, &payload)

		if _, err := sess.Request(ctx, method, payload, 0); err != nil {
			br.logger.Warn("broadcast failed for backend", zap.String("server", snap.Name), zap.Error(err))
		}
	}

	return struct{}{}, nil
}

// Backend returns the named managed backend, for the HTTP surface's direct-
// access endpoints.
func (br *Bridge) Backend(name string) (*backend.ManagedBackend, bool) {
	return br.backendByName(name)
}

func (br *Bridge) backendByName(name string) (*backend.ManagedBackend, bool) {
	br.mu.RLock()
	defer br.mu.RUnlock()

	mb, ok := br.backends[name]

	return mb, ok
}

// Capabilities reports which capability kinds are present across connected
// backends, for synthesizing the aggregator's InitializeResult. Tools,
// resources and prompts are reported when the union holds at least one entry
// of that kind; logging is always reported, whatever the backends advertise.
func (br *Bridge) Capabilities() mcptypes.Capabilities {
	snap := br.union.Snapshot()

	caps := mcptypes.Capabilities{}
	if len(snap.Tools) > 0 {
		caps.Tools = &mcptypes.ToolsCapability{ListChanged: true}
	}

	if len(snap.Resources) > 0 {
		caps.Resources = &mcptypes.ResourcesCapability{ListChanged: true}
	}

	if len(snap.Prompts) > 0 {
		caps.Prompts = &mcptypes.PromptsCapability{ListChanged: true}
	}

	caps.Logging = map[string]any{}

	return caps
}

// Shutdown stops every managed backend.
func (br *Bridge) Shutdown() {
	br.mu.RLock()
	defer br.mu.RUnlock()

	for _, mb := range br.backends {
		mb.Stop()
	}
}

// asRPCError converts a session.Request error into the frontend-facing
// synthetic error. A 404/SessionTerminated transport failure (surfaced even
// after RetryPolicy exhausts its single retry) is routed through
// TransportFailure so the upstream URL and status reach the frontend;
// anything else falls back to the generic BackendUnavailable shape.
func asRPCError(err error, server string) *mcperrors.Error {
	var statusErr *transport.HTTPStatusError
	if errors.As(err, &statusErr) {
		return mcperrors.TransportFailure(server, statusErr.URL, statusErr.Status, err)
	}

	var sessionErr *transport.SessionTerminatedError
	if errors.As(err, &sessionErr) {
		return mcperrors.TransportFailure(server, sessionErr.URL, sessionErr.Status, err)
	}

	if e, ok := mcperrors.Of(err); ok {
		return e
	}

	return mcperrors.BackendUnavailable(server, err)
}
