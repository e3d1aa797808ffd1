package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/config"
	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
	"github.com/halcyon-labs/mcpbridge/internal/mcptypes"
	"github.com/halcyon-labs/mcpbridge/internal/session"
	"github.com/halcyon-labs/mcpbridge/internal/transport"
)

// fakeFrontendTransport is a minimal transport.Transport double that records
// every outbound message, letting a test assert on which notification a
// frontend session actually received.
type fakeFrontendTransport struct {
	mu      sync.Mutex
	sent    []*jsonrpc.Message
	inbound chan *jsonrpc.Message
}

func newFakeFrontendTransport() *fakeFrontendTransport {
	return &fakeFrontendTransport{inbound: make(chan *jsonrpc.Message, 16)}
}

func (f *fakeFrontendTransport) Inbound() <-chan *jsonrpc.Message { return f.inbound }

func (f *fakeFrontendTransport) Send(ctx context.Context, msg *jsonrpc.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()

	return nil
}

func (f *fakeFrontendTransport) Close() error { return nil }

func (f *fakeFrontendTransport) Err() error { return nil }

func (f *fakeFrontendTransport) lastMethod(t *testing.T) string {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		n := len(f.sent)
		f.mu.Unlock()

		if n > 0 {
			f.mu.Lock()
			method := f.sent[n-1].Method
			f.mu.Unlock()

			return method
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatal("timed out waiting for a notification to be sent")

	return ""
}

func TestBridge_OnListChanged_FansOutMatchingNotification(t *testing.T) {
	t.Parallel()

	br := New(zap.NewNop(), nil, config.DefaultBridge())

	ft := newFakeFrontendTransport()
	sess := session.New(zap.NewNop(), "frontend-1", ft)
	defer sess.Close(nil)

	detach := br.Attach(sess)
	defer detach()

	br.onListChanged("weather", mcptypes.NotificationResourcesListChanged)
	assert.Equal(t, mcptypes.NotificationResourcesListChanged, ft.lastMethod(t))
}

func TestBridge_OnListChanged_UnrecognizedMethodFallsBackToTools(t *testing.T) {
	t.Parallel()

	br := New(zap.NewNop(), nil, config.DefaultBridge())

	ft := newFakeFrontendTransport()
	sess := session.New(zap.NewNop(), "frontend-1", ft)
	defer sess.Close(nil)

	detach := br.Attach(sess)
	defer detach()

	br.onListChanged("weather", "")
	assert.Equal(t, mcptypes.NotificationToolsListChanged, ft.lastMethod(t))
}

func TestAsRPCError_HTTPStatusErrorBecomesTransportFailure(t *testing.T) {
	t.Parallel()

	err := &transport.HTTPStatusError{URL: "https://example.test/mcp", Status: 404, Body: "not found"}

	rpcErr := asRPCError(err, "weather")
	require.NotNil(t, rpcErr)
	assert.Equal(t, "https://example.test/mcp", rpcErr.Data["url"])
	assert.Equal(t, 404, rpcErr.Data["upstream_status"])
	assert.Equal(t, true, rpcErr.Data["unavailable"])
}
