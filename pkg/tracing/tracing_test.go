package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledReturnsNoopProvider(t *testing.T) {
	t.Parallel()

	provider, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.True(t, provider.noop)
}

func TestNew_StdoutExporterBuildsRealProvider(t *testing.T) {
	t.Parallel()

	provider, err := New(context.Background(), Config{Enabled: true, Exporter: "stdout"})
	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.False(t, provider.noop)
	assert.NotNil(t, provider.tp)

	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestStartRequestSpan_ReturnsActiveSpan(t *testing.T) {
	t.Parallel()

	provider, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := provider.StartRequestSpan(context.Background(), "weather", "tools/call", "sess-1")
	defer span.End()

	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
}

func TestShutdown_NoopProviderReturnsNil(t *testing.T) {
	t.Parallel()

	provider, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	assert.NoError(t, provider.Shutdown(context.Background()))
}
