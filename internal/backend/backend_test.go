package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/config"
	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
	mcperrors "github.com/halcyon-labs/mcpbridge/pkg/errors"
	"github.com/halcyon-labs/mcpbridge/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestRegistry() *metrics.Registry {
	return metrics.New(prometheus.NewRegistry())
}

func TestNew_DisabledDescriptorStartsDisabled(t *testing.T) {
	t.Parallel()

	desc := config.ServerDescriptor{Name: "weather", Enabled: false}
	mb := New(zap.NewNop(), newTestRegistry(), desc, config.FailoverConfig{}, nil, nil)

	assert.Equal(t, StatusDisabled, mb.Snapshot().Status)
}

func TestNew_EnabledDescriptorStartsConnecting(t *testing.T) {
	t.Parallel()

	desc := config.ServerDescriptor{Name: "weather", Enabled: true}
	mb := New(zap.NewNop(), newTestRegistry(), desc, config.FailoverConfig{}, nil, nil)

	assert.Equal(t, StatusConnecting, mb.Snapshot().Status)
}

func TestStart_DisabledBackendNeverConnects(t *testing.T) {
	t.Parallel()

	desc := config.ServerDescriptor{Name: "weather", Enabled: false}
	mb := New(zap.NewNop(), newTestRegistry(), desc, config.FailoverConfig{}, nil, nil)

	mb.Start(t.Context())
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, StatusDisabled, mb.Snapshot().Status)
	assert.Nil(t, mb.Session())
}

func TestSession_NilWhenNotConnected(t *testing.T) {
	t.Parallel()

	desc := config.ServerDescriptor{Name: "weather", Enabled: true}
	mb := New(zap.NewNop(), newTestRegistry(), desc, config.FailoverConfig{}, nil, nil)

	assert.Nil(t, mb.Session(), "a backend that has not connected yet must report no session")
}

func TestBackoffDelay_GrowsExponentiallyAndCaps(t *testing.T) {
	t.Parallel()

	base := time.Second

	assert.Equal(t, time.Second, backoffDelay(base, 0))
	assert.Equal(t, 2*time.Second, backoffDelay(base, 1))
	assert.Equal(t, 4*time.Second, backoffDelay(base, 2))
	assert.Equal(t, 30*time.Second, backoffDelay(base, 10), "delay must cap at 30s")
}

func TestBackoffDelay_DefaultsBaseWhenZero(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Second, backoffDelay(0, 0))
}

func TestIsMethodNotFound(t *testing.T) {
	t.Parallel()

	assert.True(t, isMethodNotFound(&jsonrpc.Error{Code: mcperrors.CodeMethodNotFound, Message: "nope"}))
	assert.True(t, isMethodNotFound(mcperrors.New(mcperrors.KindMethodNotFound, "nope")))
	assert.False(t, isMethodNotFound(mcperrors.New(mcperrors.KindTimeout, "slow")))
}

func TestStop_IdempotentOnNeverStartedBackend(t *testing.T) {
	t.Parallel()

	desc := config.ServerDescriptor{Name: "weather", Enabled: false}
	mb := New(zap.NewNop(), newTestRegistry(), desc, config.FailoverConfig{}, nil, nil)

	assert.NotPanics(t, func() {
		mb.Stop()
		mb.Stop()
	})
	assert.Equal(t, StatusDisconnected, mb.Snapshot().Status)
}
