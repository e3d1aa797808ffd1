// Package errors provides the MCP-scoped error taxonomy used across the
// transport, session, backend, proxy, and bridge layers: standard JSON-RPC
// codes, the reserved MCP server-defined band, and named synthetic kinds for
// failures the proxy cannot relay faithfully (timeout, backend unavailable,
// session terminated, transport reset, invalid config).
package errors

import (
	"errors"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams = -32602
	CodeInternalError = -32603
)

// MCP server-defined band, reserved -32000..-32099. The proxy uses -32000 for
// every synthetic error it must substitute.
const CodeServerError = -32000

// Kind names the taxonomy categories from Kind is not itself a wire
// value; it selects defaults (HTTP status, recoverability) and is carried in
// logs and in Error.Kind for programmatic matching.
type Kind string

const (
	KindParse Kind = "parse"
	KindProtocol Kind = "protocol"
	KindMethodNotFound Kind = "method_not_found"
	KindInvalidParams Kind = "invalid_params"
	KindTimeout Kind = "timeout"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindSessionTerminated Kind = "session_terminated"
	KindTransportReset Kind = "transport_reset"
	KindConfigInvalid Kind = "config_invalid"
	KindInternal Kind = "internal"
)

// Error is a JSON-RPC error augmented with a Kind for retry/propagation
// decisions. Code/Message/Data is exactly what requires a
// Response-Err to carry on the wire.
type Error struct {
	Kind Kind
	Code int
	Message string
	Data map[string]interface{}
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}

	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// WithData attaches (and merges into) the error's data payload, returning e
// for chaining.
func (e *Error) WithData(key string, value interface{}) *Error {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}

	e.Data[key] = value

	return e
}

// New builds a Kind-tagged error with the JSON-RPC code conventionally
// associated with that kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: codeForKind(kind), Message: message}
}

// Wrap builds a Kind-tagged error that preserves the original error for
// errors.Is/errors.As and logging.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Code: codeForKind(kind), Message: message, cause: cause}
}

func codeForKind(kind Kind) int {
	switch kind {
	case KindParse:
		return CodeParseError
	case KindProtocol:
		return CodeInvalidRequest
	case KindMethodNotFound:
		return CodeMethodNotFound
	case KindInvalidParams:
		return CodeInvalidParams
	case KindTimeout, KindBackendUnavailable, KindSessionTerminated, KindTransportReset:
		return CodeServerError
	case KindInternal, KindConfigInvalid:
		return CodeInternalError
	default:
		return CodeInternalError
	}
}

// IsRetryable reports whether err carries a transient kind (session
// terminated or transport reset). internal/transport.RetryPolicy does not
// consult it; it classifies errors with transport.IsRetryable.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Kind {
	case KindSessionTerminated, KindTransportReset:
		return true
	default:
		return false
	}
}

// Of extracts the *Error from err, if any.
func Of(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)

	return e, ok
}

// BackendUnavailable builds the synthetic error requires when a
// backend session is closed or FAILED and no faithful response exists.
func BackendUnavailable(server string, cause error) *Error {
	e := Wrap(KindBackendUnavailable, cause, "backend unavailable").
	WithData("server", server).
	WithData("unavailable", true)
	if cause != nil {
		e.WithData("lastError", cause.Error())
	}

	return e
}

// Timeout builds the synthetic timeout error
func Timeout(server string) *Error {
	return New(KindTimeout, "request timed out").
	WithData("server", server).
	WithData("timeout", true)
}

// TransportFailure builds the synthetic error for a transport-level failure
// that carries the upstream URL and HTTP status, for the frontend-facing
// -32000 { unavailable:true, server, upstream_status, url } shape.
func TransportFailure(server, url string, status int, cause error) *Error {
	e := Wrap(KindTransportReset, cause, "transport error").
	WithData("server", server).
	WithData("url", url).
	WithData("unavailable", true)
	if status != 0 {
		e.WithData("upstream_status", status)
	}

	return e
}
