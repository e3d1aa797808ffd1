// Package backend implements the managed-backend supervisor:
// one state machine per configured MCP server bringing it to CONNECTED,
// tracking liveness, retrying with backoff, and caching its capabilities.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/config"
	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
	"github.com/halcyon-labs/mcpbridge/internal/mcptypes"
	"github.com/halcyon-labs/mcpbridge/internal/session"
	"github.com/halcyon-labs/mcpbridge/internal/transport"
	mcperrors "github.com/halcyon-labs/mcpbridge/pkg/errors"
	"github.com/halcyon-labs/mcpbridge/pkg/logging"
	"github.com/halcyon-labs/mcpbridge/pkg/metrics"
)

// Status is the ManagedBackend state machine
type Status string

const (
	StatusDisabled Status = "disabled"
	StatusConnecting Status = "connecting"
	StatusConnected Status = "connected"
	StatusFailed Status = "failed"
	StatusDisconnected Status = "disconnected"
)

// CapabilityCache holds the last-primed tools/resources/prompts lists for a
// backend, read by the aggregator under ManagedBackend's single-writer/
// many-reader discipline.
type CapabilityCache struct {
	Tools []mcptypes.Tool
	Resources []mcptypes.Resource
	ResourceTemplates []mcptypes.ResourceTemplate
	Prompts []mcptypes.Prompt
}

// ListChangedFunc is invoked whenever a backend's capability cache is
// invalidated by a notifications/*/list_changed event, letting the
// aggregating bridge re-union and re-emit list-changed notifications to
// attached frontends. method is the triggering notification
// (notifications/tools/list_changed, notifications/resources/list_changed,
// or notifications/prompts/list_changed) so the bridge can fan out the
// matching one rather than always assuming tools.
type ListChangedFunc func(server, method string)

// StatusChangedFunc is invoked on every state transition, feeding the
// /status/stream websocket and the /status snapshot endpoint.
type StatusChangedFunc func(snapshot Snapshot)

// Snapshot is the read-only view of a ManagedBackend exposed to /status and
// to the bridge's routing decisions.
type Snapshot struct {
	Name string
	Status Status
	LastSeen time.Time
	FailureCount int
	LastError string
	Capabilities CapabilityCache
	Descriptor config.ServerDescriptor
}

// ManagedBackend owns one backend's lifecycle: spawn/connect, health check,
// retry with backoff, capability cache. Grounded on direct.StdioClient's
// ConnectionState machine and health-check loop, generalized to stdio/SSE/
// streamable-HTTP transports.
type ManagedBackend struct {
	logger *zap.Logger
	metrics *metrics.Registry
	desc config.ServerDescriptor
	failover config.FailoverConfig

	onListChanged ListChangedFunc
	onStatusChanged StatusChangedFunc

	mu sync.RWMutex
	status Status
	session *session.Session
	caps CapabilityCache
	lastSeen time.Time
	failureCount int
	lastErr error

	cancel context.CancelFunc
	wg sync.WaitGroup
}

// New constructs a ManagedBackend in DISABLED or CONNECTING state depending
// on desc.Enabled; the caller must call Start to begin the connect loop.
func New(logger *zap.Logger, reg *metrics.Registry, desc config.ServerDescriptor, failover config.FailoverConfig, onListChanged ListChangedFunc, onStatusChanged StatusChangedFunc) *ManagedBackend {
	status := StatusDisabled
	if desc.Enabled {
		status = StatusConnecting
	}

	return &ManagedBackend{
		logger: logger.With(zap.String(logging.FieldServer, desc.Name)),
		metrics: reg,
		desc: desc,
		failover: failover,
		onListChanged: onListChanged,
		onStatusChanged: onStatusChanged,
		status: status,
	}
}

// Start begins the connect/retry/health-check loops. It returns immediately;
// connection happens in the background.
func (b *ManagedBackend) Start(ctx context.Context) {
	if !b.desc.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.connectLoop(ctx)
	}()
}

// Snapshot returns a consistent read of the backend's current state.
func (b *ManagedBackend) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var lastErr string
	if b.lastErr != nil {
		lastErr = b.lastErr.Error()
	}

	return Snapshot{
		Name: b.desc.Name,
		Status: b.status,
		LastSeen: b.lastSeen,
		FailureCount: b.failureCount,
		LastError: lastErr,
		Capabilities: b.caps,
		Descriptor: b.desc,
	}
}

// Session returns the live session if the backend is CONNECTED, else nil.
func (b *ManagedBackend) Session() *session.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.status != StatusConnected {
		return nil
	}

	return b.session
}

func (b *ManagedBackend) setStatus(status Status) {
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()

	b.metrics.SetBackendStatus(b.desc.Name, string(status))

	if b.onStatusChanged != nil {
		b.onStatusChanged(b.Snapshot())
	}
}

// connectLoop implements the state diagram: CONNECTING attempts
// up to retryAttempts with exponential backoff; on exhaustion it enters
// FAILED and schedules a recovery attempt after recoveryInterval.
func (b *ManagedBackend) connectLoop(ctx context.Context) {
	for {
		b.setStatus(StatusConnecting)

		sess, err := b.attemptConnect(ctx)
		if err == nil {
			b.onConnected(sess)

			b.runUntilFailure(ctx, sess)

			select {
			case <-ctx.Done():
				return
			default:
			}

			continue
		}

		b.mu.Lock()
		b.lastErr = err
		b.mu.Unlock()

		b.setStatus(StatusFailed)
		b.metrics.IncBackendFailures(b.desc.Name)

		interval := b.failover.RecoveryInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}
	}
}

// attemptConnect retries the transport+handshake up to retryAttempts times
// with backoff retryDelay * 2^attempt (capped at 30s)
func (b *ManagedBackend) attemptConnect(ctx context.Context) (*session.Session, error) {
	attempts := b.desc.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		sess, err := b.connectOnce(ctx)
		if err == nil {
			return sess, nil
		}

		lastErr = err
		b.mu.Lock()
		b.failureCount++
		b.mu.Unlock()

		delay := backoffDelay(b.desc.RetryDelay, attempt)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("backend %s: %d connect attempts failed: %w", b.desc.Name, attempts, lastErr)
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if cap := 30 * time.Second; delay > cap {
		delay = cap
	}

	return delay
}

func (b *ManagedBackend) connectOnce(ctx context.Context) (*session.Session, error) {
	t, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}

	sess := session.New(b.logger, b.desc.Name, t)

	if b.desc.RetryRemote {
		retries := b.desc.RemoteRetries
		if retries <= 0 {
			retries = 1
		}

		sess.SetRetryPolicy(transport.RetryPolicy{MaxRetries: retries, Backoff: 500 * time.Millisecond})
	}

	timeout := b.desc.Timeout
	if timeout <= 0 {
		timeout = session.DefaultHandshakeTimeout
	}

	handshakeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err = sess.Initialize(handshakeCtx, mcptypes.Implementation{Name: logging.ServiceName, Version: "1.0"}, mcptypes.Capabilities{})
	if err != nil {
		sess.Close(err)
		return nil, fmt.Errorf("handshake with %s: %w", b.desc.Name, err)
	}

	return sess, nil
}

func (b *ManagedBackend) dial(ctx context.Context) (transport.Transport, error) {
	switch b.desc.TransportType {
	case config.TransportStdio, "":
		return transport.StartChildStdio(ctx, b.logger, b.desc.Name, transport.StdioSpawnConfig{
				Command: b.desc.Command,
				Args: b.desc.Args,
				Env: b.desc.Env,
				PassEnvironment: b.desc.PassEnvironment,
		})
	case config.TransportSSE:
		return transport.DialOutboundSSE(ctx, b.logger, b.desc.Name, transport.OutboundSSEConfig{
				URL: b.desc.URL,
				Headers: b.desc.Headers,
		})
	case config.TransportHTTP:
		return transport.NewOutboundStreamHTTP(b.logger, b.desc.Name, transport.OutboundStreamHTTPConfig{
				URL: b.desc.URL,
				Headers: b.desc.Headers,
				Stateless: b.desc.Stateless,
		}), nil
	default:
		return nil, fmt.Errorf("backend %s: unknown transport type %q", b.desc.Name, b.desc.TransportType)
	}
}

func (b *ManagedBackend) onConnected(sess *session.Session) {
	b.mu.Lock()
	b.session = sess
	b.failureCount = 0
	b.lastSeen = time.Now()
	b.mu.Unlock()

	b.setStatus(StatusConnected)
	b.metrics.SetBackendStatus(b.desc.Name, string(StatusConnected))

	b.primeCapabilities(context.Background(), sess)

	sess.SetHandlers(nil, session.NotificationHandlerFunc(func(ctx context.Context, method string, params json.RawMessage) {
				b.handleBackendNotification(method)
	}))
}

// primeCapabilities issues tools/list, resources/list, resources/templates/
// list, prompts/list; a -32601 response is accepted as "backend lacks that
// capability".
func (b *ManagedBackend) primeCapabilities(ctx context.Context, sess *session.Session) {
	var cache CapabilityCache

	if raw, err := sess.Request(ctx, mcptypes.MethodToolsList, nil, session.DefaultRequestTimeout); err == nil {
		var res mcptypes.ListToolsResult
		if jsonErr := json.Unmarshal(raw, &res); jsonErr == nil {
			cache.Tools = res.Tools
		}
	} else if !isMethodNotFound(err) {
		b.logger.Warn("priming tools/list failed", zap.Error(err))
	}

	if raw, err := sess.Request(ctx, mcptypes.MethodResourcesList, nil, session.DefaultRequestTimeout); err == nil {
		var res mcptypes.ListResourcesResult
		if jsonErr := json.Unmarshal(raw, &res); jsonErr == nil {
			cache.Resources = res.Resources
		}
	} else if !isMethodNotFound(err) {
		b.logger.Warn("priming resources/list failed", zap.Error(err))
	}

	if raw, err := sess.Request(ctx, mcptypes.MethodResourceTemplatesList, nil, session.DefaultRequestTimeout); err == nil {
		var res mcptypes.ListResourceTemplatesResult
		if jsonErr := json.Unmarshal(raw, &res); jsonErr == nil {
			cache.ResourceTemplates = res.ResourceTemplates
		}
	} else if !isMethodNotFound(err) {
		b.logger.Warn("priming resources/templates/list failed", zap.Error(err))
	}

	if raw, err := sess.Request(ctx, mcptypes.MethodPromptsList, nil, session.DefaultRequestTimeout); err == nil {
		var res mcptypes.ListPromptsResult
		if jsonErr := json.Unmarshal(raw, &res); jsonErr == nil {
			cache.Prompts = res.Prompts
		}
	} else if !isMethodNotFound(err) {
		b.logger.Warn("priming prompts/list failed", zap.Error(err))
	}

	b.mu.Lock()
	b.caps = cache
	b.mu.Unlock()
}

func isMethodNotFound(err error) bool {
	if rpcErr, ok := err.(*jsonrpc.Error); ok {
		return rpcErr.Code == mcperrors.CodeMethodNotFound
	}

	if me, ok := mcperrors.Of(err); ok {
		return me.Code == mcperrors.CodeMethodNotFound
	}

	return false
}

func (b *ManagedBackend) handleBackendNotification(method string) {
	switch method {
	case mcptypes.NotificationToolsListChanged,
		mcptypes.NotificationResourcesListChanged,
		mcptypes.NotificationPromptsListChanged:
		if b.onListChanged != nil {
			b.onListChanged(b.desc.Name, method)
		}
	}
}

// runUntilFailure runs the health-check loop (if enabled) until the session
// closes, then returns so connectLoop can retry.
func (b *ManagedBackend) runUntilFailure(ctx context.Context, sess *session.Session) {
	if !b.desc.HealthCheck.Enabled {
		<-sess.Done()
		return
	}

	interval := b.desc.HealthCheck.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.Done():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.runHealthCheck(ctx, sess)
		}
	}
}

func (b *ManagedBackend) runHealthCheck(ctx context.Context, sess *session.Session) {
	timeout := b.desc.HealthCheck.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	method := mcptypes.MethodPing
	if b.Snapshot().Capabilities.Tools == nil {
		method = mcptypes.MethodToolsList
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := sess.Request(hctx, method, nil, timeout)

	b.mu.Lock()
	if err != nil {
		b.failureCount++
		b.lastErr = err
	} else {
		b.failureCount = 0
		b.lastSeen = time.Now()
	}
	failures := b.failureCount
	maxFailures := b.failover.MaxFailures
	b.mu.Unlock()

	if err != nil && maxFailures > 0 && failures >= maxFailures {
		sess.Close(fmt.Errorf("health check failed %d times: %w", failures, err))
	}
}

// Stop cancels the supervisor's background loops and closes its session,
// "graceful shutdown".
func (b *ManagedBackend) Stop() {
	if b.cancel != nil {
		b.cancel()
	}

	b.mu.RLock()
	sess := b.session
	b.mu.RUnlock()

	if sess != nil {
		sess.Close(nil)
	}

	b.wg.Wait()
	b.setStatus(StatusDisconnected)
}
