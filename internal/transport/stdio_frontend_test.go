package transport

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
)

func TestStdioFrontend_ReadsLineDelimitedMessages(t *testing.T) {
	t.Parallel()

	in := bytes.NewBufferString("{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"tools/list\"}\n")
	out := &bytes.Buffer{}

	f := NewStdioFrontend(zap.NewNop(), in, out)
	defer f.Close()

	select {
	case msg := <-f.Inbound():
		require.NotNil(t, msg)
		assert.Equal(t, "tools/list", msg.Method)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
}

func TestStdioFrontend_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	in := bytes.NewBufferString("not json at all\n{\"jsonrpc\":\"2.0\",\"id\":2,\"method\":\"ping\"}\n")
	out := &bytes.Buffer{}

	f := NewStdioFrontend(zap.NewNop(), in, out)
	defer f.Close()

	select {
	case msg := <-f.Inbound():
		require.NotNil(t, msg)
		assert.Equal(t, "ping", msg.Method)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
}

func TestStdioFrontend_SendWritesNewlineDelimitedJSON(t *testing.T) {
	t.Parallel()

	in := &bytes.Buffer{}
	out := &bytes.Buffer{}

	f := NewStdioFrontend(zap.NewNop(), in, out)
	defer f.Close()

	id := jsonrpc.NewIDFromInt(1)
	msg := &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: &id, Result: []byte(`{"ok":true}`)}

	err := f.Send(context.Background(), msg)
	require.NoError(t, err)

	assert.True(t, bytes.HasSuffix(out.Bytes(), []byte("\n")))
	assert.Contains(t, out.String(), `"ok":true`)
}

func TestStdioFrontend_SetsEOFAfterInputCloses(t *testing.T) {
	t.Parallel()

	in := bytes.NewBufferString("")
	out := &bytes.Buffer{}

	f := NewStdioFrontend(zap.NewNop(), in, out)
	defer f.Close()

	select {
	case _, ok := <-f.Inbound():
		assert.False(t, ok, "inbound channel should close once stdin is exhausted")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	assert.ErrorIs(t, f.Err(), io.EOF)
}
