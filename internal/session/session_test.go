package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
	"github.com/halcyon-labs/mcpbridge/internal/mcptypes"
	"github.com/halcyon-labs/mcpbridge/internal/transport"
	mcperrors "github.com/halcyon-labs/mcpbridge/pkg/errors"
)

// fakeTransport is an in-memory transport.Transport double: Send records
// every outbound message and an injected responder can push one back onto
// the inbound channel, letting tests drive Session's request/response
// correlation without a real process or socket.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []*jsonrpc.Message
	inbound chan *jsonrpc.Message
	err     error
	closed  bool
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan *jsonrpc.Message, 16)}
}

func (f *fakeTransport) Inbound() <-chan *jsonrpc.Message { return f.inbound }

// failNextSendWith makes the next Send call return err instead of
// recording the message, simulating a single transport-level failure.
func (f *fakeTransport) failNextSendWith(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) Send(ctx context.Context, msg *jsonrpc.Message) error {
	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.sendErr = nil
		f.mu.Unlock()

		return err
	}

	f.sent = append(f.sent, msg)
	f.mu.Unlock()

	return nil
}

func (f *fakeTransport) sentAt(i int) *jsonrpc.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	if i >= len(f.sent) {
		return nil
	}

	return f.sent[i]
}

func (f *fakeTransport) sentAtEventually(t *testing.T, i int) *jsonrpc.Message {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msg := f.sentAt(i); msg != nil {
			return msg
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatal("timed out waiting for a Send call")

	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		f.closed = true
		close(f.inbound)
	}

	return nil
}

func (f *fakeTransport) Err() error { return f.err }

func (f *fakeTransport) lastSent() *jsonrpc.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.sent) == 0 {
		return nil
	}

	return f.sent[len(f.sent)-1]
}

func TestSession_Initialize_SendsHandshakeAndNotifiesInitialized(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	sess := New(zap.NewNop(), "backend-a", ft)
	defer sess.Close(nil)

	go func() {
		req := ft.lastSentEventually(t)
		result := mcptypes.InitializeResult{
			ProtocolVersion: mcptypes.ProtocolVersion,
			ServerInfo:      mcptypes.Implementation{Name: "backend-a", Version: "1.0"},
		}
		raw, _ := json.Marshal(result)
		ft.inbound <- &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: req.ID, Result: raw}
	}()

	result, err := sess.Initialize(context.Background(), mcptypes.Implementation{Name: "mcpbridge"}, mcptypes.Capabilities{})
	require.NoError(t, err)
	assert.Equal(t, "backend-a", result.ServerInfo.Name)

	initializedNotif := ft.lastSent()
	assert.Equal(t, mcptypes.NotificationInitialized, initializedNotif.Method)
}

// lastSentEventually polls for the first Send call, used to retrieve the
// initialize request's generated ID before replying to it.
func (f *fakeTransport) lastSentEventually(t *testing.T) *jsonrpc.Message {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msg := f.lastSent(); msg != nil {
			return msg
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatal("timed out waiting for a Send call")

	return nil
}

func TestSession_Request_ResolvesOnMatchingResponse(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	sess := New(zap.NewNop(), "backend-a", ft)
	defer sess.Close(nil)

	go func() {
		req := ft.lastSentEventually(t)
		ft.inbound <- &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: req.ID, Result: []byte(`{"tools":[]}`)}
	}()

	raw, err := sess.Request(context.Background(), mcptypes.MethodToolsList, nil, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":[]}`, string(raw))
}

func TestSession_Request_TimesOutWithoutResponse(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	sess := New(zap.NewNop(), "backend-a", ft)
	defer sess.Close(nil)

	_, err := sess.Request(context.Background(), mcptypes.MethodPing, nil, 20*time.Millisecond)
	require.Error(t, err)

	rpcErr, ok := mcperrors.Of(err)
	require.True(t, ok)
	assert.Equal(t, mcperrors.KindTimeout, rpcErr.Kind)
}

func TestSession_Request_AfterCloseReturnsBackendUnavailable(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	sess := New(zap.NewNop(), "backend-a", ft)
	sess.Close(nil)

	_, err := sess.Request(context.Background(), mcptypes.MethodPing, nil, time.Second)
	require.Error(t, err)

	rpcErr, ok := mcperrors.Of(err)
	require.True(t, ok)
	assert.Equal(t, mcperrors.KindBackendUnavailable, rpcErr.Kind)
}

func TestSession_Request_RetriesOnceAfterRetryableTransportFailure(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	ft.failNextSendWith(transport.ErrClosed)

	sess := New(zap.NewNop(), "backend-a", ft)
	defer sess.Close(nil)
	sess.SetRetryPolicy(transport.RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond})

	go func() {
		initReq := ft.sentAtEventually(t, 0)
		result := mcptypes.InitializeResult{
			ProtocolVersion: mcptypes.ProtocolVersion,
			ServerInfo:      mcptypes.Implementation{Name: "backend-a", Version: "1.0"},
		}
		raw, _ := json.Marshal(result)
		ft.inbound <- &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: initReq.ID, Result: raw}

		// sentAt(1) is the fire-and-forget notifications/initialized; the
		// reissued request is the one after it.
		retryReq := ft.sentAtEventually(t, 2)
		ft.inbound <- &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: retryReq.ID, Result: []byte(`{"tools":[]}`)}
	}()

	raw, err := sess.Request(context.Background(), mcptypes.MethodToolsList, nil, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":[]}`, string(raw))
}

func TestSession_Close_DrainsOutstandingWaiters(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	sess := New(zap.NewNop(), "backend-a", ft)

	errCh := make(chan error, 1)

	go func() {
		_, err := sess.Request(context.Background(), mcptypes.MethodToolsList, nil, 5*time.Second)
		errCh <- err
	}()

	ft.lastSentEventually(t)
	sess.Close(nil)

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock the outstanding Request")
	}
}

func TestSession_HandleInboundRequest_DispatchesToRegisteredHandler(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	sess := New(zap.NewNop(), "frontend-1", ft)
	defer sess.Close(nil)

	handled := make(chan string, 1)
	sess.SetHandlers(RequestHandlerFunc(func(ctx context.Context, id jsonrpc.ID, method string, params json.RawMessage) (interface{}, *mcperrors.Error) {
		handled <- method
		return struct{}{}, nil
	}), nil)

	id := jsonrpc.NewIDFromInt(99)
	ft.inbound <- &jsonrpc.Message{JSONRPC: jsonrpc.Version, Method: mcptypes.MethodPing, ID: &id}

	select {
	case method := <-handled:
		assert.Equal(t, mcptypes.MethodPing, method)
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestSession_HandleInboundRequest_NoHandlerRespondsMethodNotFound(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	sess := New(zap.NewNop(), "frontend-1", ft)
	defer sess.Close(nil)

	id := jsonrpc.NewIDFromInt(1)
	ft.inbound <- &jsonrpc.Message{JSONRPC: jsonrpc.Version, Method: mcptypes.MethodPing, ID: &id}

	resp := ft.lastSentEventually(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcperrors.CodeMethodNotFound, resp.Error.Code)
}
