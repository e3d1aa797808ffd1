package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_MarshalUnmarshal(t *testing.T) {
	t.Parallel()

	t.Run("int id", func(t *testing.T) {
		t.Parallel()

		id := NewIDFromInt(42)
		raw, err := json.Marshal(id)
		require.NoError(t, err)
		assert.Equal(t, "42", string(raw))

		var decoded ID
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, "42", decoded.String())
	})

	t.Run("string id", func(t *testing.T) {
		t.Parallel()

		id := NewIDFromString("req-1")
		raw, err := json.Marshal(id)
		require.NoError(t, err)
		assert.Equal(t, `"req-1"`, string(raw))

		var decoded ID
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, "req-1", decoded.String())
	})

	t.Run("zero id marshals to null", func(t *testing.T) {
		t.Parallel()

		var id ID
		assert.True(t, id.IsZero())

		raw, err := json.Marshal(id)
		require.NoError(t, err)
		assert.Equal(t, "null", string(raw))
	})
}

func TestMessage_Classification(t *testing.T) {
	t.Parallel()

	id := NewIDFromInt(1)

	request := &Message{JSONRPC: Version, Method: "tools/list", ID: &id}
	assert.True(t, request.IsRequest())
	assert.False(t, request.IsNotification())
	assert.False(t, request.IsResponse())

	notification := &Message{JSONRPC: Version, Method: "notifications/initialized"}
	assert.True(t, notification.IsNotification())
	assert.False(t, notification.IsRequest())

	response := &Message{JSONRPC: Version, ID: &id, Result: json.RawMessage(`{}`)}
	assert.True(t, response.IsResponse())
	assert.False(t, response.IsRequest())
}

func TestNewRequest_MarshalsParams(t *testing.T) {
	t.Parallel()

	req, err := NewRequest(NewIDFromInt(7), "tools/call", map[string]string{"name": "echo"})
	require.NoError(t, err)

	assert.Equal(t, Version, req.JSONRPC)
	assert.Equal(t, "tools/call", req.Method)
	assert.JSONEq(t, `{"name":"echo"}`, string(req.Params))
}

func TestNewRequest_NilParams(t *testing.T) {
	t.Parallel()

	req, err := NewRequest(NewIDFromInt(1), "ping", nil)
	require.NoError(t, err)
	assert.Nil(t, req.Params)
}

func TestNewErrorResponse(t *testing.T) {
	t.Parallel()

	resp := NewErrorResponse(NewIDFromInt(3), CodeMethodNotFound, "no such method", map[string]string{"method": "foo"})

	assert.True(t, resp.IsError())
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
	assert.JSONEq(t, `{"method":"foo"}`, string(resp.Error.Data))
}

func TestParse_RejectsWrongVersion(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"jsonrpc":"1.0","method":"ping"}`))
	assert.Error(t, err)
}

func TestParse_RejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestParse_AcceptsValidRequest(t *testing.T) {
	t.Parallel()

	msg, err := Parse([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)
	assert.True(t, msg.IsRequest())
	assert.Equal(t, "tools/list", msg.Method)
}

func TestParse_RejectsBothResultAndError(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":-32000,"message":"boom"}}`))
	assert.Error(t, err)
}
