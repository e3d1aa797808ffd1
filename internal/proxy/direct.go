// Package proxy implements the proxy session engine: it attaches a frontend
// ClientSession to a Router (either a single backend, DirectRouter in
// client-side proxy mode, or the aggregating bridge, bridge.Bridge in
// server-side bridge mode) and forwards requests, intercepting initialize
// to advertise a synthetic capability set.
package proxy

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/halcyon-labs/mcpbridge/internal/backend"
	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
	"github.com/halcyon-labs/mcpbridge/internal/mcptypes"
	"github.com/halcyon-labs/mcpbridge/internal/transport"
	mcperrors "github.com/halcyon-labs/mcpbridge/pkg/errors"
)

// Router is what the Engine forwards frontend requests to: HandleRequest
// routes one request, Capabilities reports what to advertise in the
// synthetic InitializeResult.
type Router interface {
	HandleRequest(ctx context.Context, id jsonrpc.ID, method string, params json.RawMessage) (interface{}, *mcperrors.Error)
	Capabilities() mcptypes.Capabilities
}

// DirectRouter forwards every method verbatim to a single ManagedBackend, no
// namespacing, no aggregation: a direct proxy engine pointing
// at a single backend".
type DirectRouter struct {
	mb *backend.ManagedBackend
}

func NewDirectRouter(mb *backend.ManagedBackend) *DirectRouter {
	return &DirectRouter{mb: mb}
}

func (d *DirectRouter) HandleRequest(ctx context.Context, id jsonrpc.ID, method string, params json.RawMessage) (interface{}, *mcperrors.Error) {
	if method == mcptypes.MethodPing {
		return struct{}{}, nil
	}

	sess := d.mb.Session()
	if sess == nil {
		snap := d.mb.Snapshot()
		var cause error
		if snap.LastError != "" {
			cause = errString(snap.LastError)
		}

		return nil, mcperrors.BackendUnavailable(snap.Name, cause)
	}

	var payload interface{}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &payload)
	}

	raw, err := sess.Request(ctx, method, payload, 0)
	if err != nil {
		return nil, asDirectRPCError(err, d.mb.Snapshot().Name)
	}

	var result interface{}
	_ = json.Unmarshal(raw, &result)

	return result, nil
}

func (d *DirectRouter) Capabilities() mcptypes.Capabilities {
	sess := d.mb.Session()
	if sess == nil {
		return mcptypes.Capabilities{}
	}

	return sess.Capabilities()
}

type errString string

func (e errString) Error() string { return string(e) }

// asDirectRPCError converts a session.Request error into the frontend-facing
// synthetic error, same as bridge.asRPCError: a 404/SessionTerminated
// transport failure (surfaced even after RetryPolicy exhausts its single
// retry) is routed through TransportFailure so the upstream URL and status
// reach the frontend.
func asDirectRPCError(err error, server string) *mcperrors.Error {
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
