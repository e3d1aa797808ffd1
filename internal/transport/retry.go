package transport

import (
	"context"
	"errors"
	"syscall"
	"time"
)

// RetryPolicy implements the single-retry resilience contract:
// on connection reset, HTTP 404, or SessionTerminated, clear any cached
// session, re-run initialize, and reissue the failed request once. Grounded
// on direct.RetryableError/CircuitBreaker's classification,
// trimmed to a single-retry budget (no open circuit state, since the
// managed-backend supervisor already owns longer-term failure tracking).
type RetryPolicy struct {
	// MaxRetries is remoteRetries from the CLI flag: 0 disables the policy, 1
	// allows a single retry after a reinitialize. Values above 1 behave like 1.
	MaxRetries int
	Backoff time.Duration
}

// DefaultRetryPolicy matches --retry-remote unset: no retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 0, Backoff: 500 * time.Millisecond}
}

// IsRetryable reports whether err is one of the conditions that justify a
// retry: connection reset, HTTP 404, or SessionTerminated.
func IsRetryable(err error) bool {
	var sessionErr *SessionTerminatedError
	if errors.As(err, &sessionErr) {
		return true
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == 404
	}

	return errors.Is(err, ErrClosed) || errors.Is(err, syscall.ECONNRESET)
}

// Reinitializer re-establishes a session after a retryable failure: it
// clears cached transport state (e.g. a streamable-HTTP session id) and
// re-runs the MCP initialize handshake. Implemented by internal/session.
type Reinitializer interface {
	Reinitialize(ctx context.Context) error
}

// SessionClearer is implemented by transports that cache a server-issued
// session id, letting a Reinitializer drop it before re-running initialize.
// OutboundStreamHTTP is the only transport that needs this today.
type SessionClearer interface {
	ClearSession()
}

// Run executes op, and if it fails with a retryable error and the policy
// allows at least one retry, calls reinit then retries op exactly once.
func (p RetryPolicy) Run(ctx context.Context, reinit Reinitializer, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil || p.MaxRetries < 1 || !IsRetryable(err) {
		return err
	}

	select {
	case <-time.After(p.Backoff):
	case <-ctx.Done():
		return ctx.Err()
	}

	if reinitErr := reinit.Reinitialize(ctx); reinitErr != nil {
		return err
	}

	return op(ctx)
}
