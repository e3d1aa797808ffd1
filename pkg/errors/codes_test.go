package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AssignsCodeForKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind Kind
		want int
	}{
		{"parse", KindParse, CodeParseError},
		{"protocol", KindProtocol, CodeInvalidRequest},
		{"method not found", KindMethodNotFound, CodeMethodNotFound},
		{"invalid params", KindInvalidParams, CodeInvalidParams},
		{"timeout", KindTimeout, CodeServerError},
		{"backend unavailable", KindBackendUnavailable, CodeServerError},
		{"session terminated", KindSessionTerminated, CodeServerError},
		{"transport reset", KindTransportReset, CodeServerError},
		{"internal", KindInternal, CodeInternalError},
		{"config invalid", KindConfigInvalid, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := New(tt.kind, "boom")
			assert.Equal(t, tt.want, err.Code)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, "boom", err.Error())
		})
	}
}

func TestWrap_PreservesCauseForUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := Wrap(KindTransportReset, cause, "transport error")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWithData_MergesKeys(t *testing.T) {
	t.Parallel()

	err := New(KindInternal, "oops").WithData("a", 1).WithData("b", "two")

	assert.Equal(t, 1, err.Data["a"])
	assert.Equal(t, "two", err.Data["b"])
}

func TestOf_ExtractsTypedError(t *testing.T) {
	t.Parallel()

	original := New(KindTimeout, "timed out")
	wrapped := errors.New("wrapping: " + original.Error())

	_, ok := Of(wrapped)
	assert.False(t, ok, "a plain error should not unwrap to *Error")

	extracted, ok := Of(original)
	require.True(t, ok)
	assert.Same(t, original, extracted)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRetryable(New(KindSessionTerminated, "gone")))
	assert.True(t, IsRetryable(New(KindTransportReset, "reset")))
	assert.False(t, IsRetryable(New(KindTimeout, "slow")))
	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestBackendUnavailable(t *testing.T) {
	t.Parallel()

	cause := errors.New("session closed")
	err := BackendUnavailable("weather", cause)

	assert.Equal(t, KindBackendUnavailable, err.Kind)
	assert.Equal(t, "weather", err.Data["server"])
	assert.Equal(t, true, err.Data["unavailable"])
	assert.Equal(t, "session closed", err.Data["lastError"])
}

func TestBackendUnavailable_NilCause(t *testing.T) {
	t.Parallel()

	err := BackendUnavailable("weather", nil)

	assert.Equal(t, "weather", err.Data["server"])
	_, hasLastError := err.Data["lastError"]
	assert.False(t, hasLastError)
}

func TestTransportFailure_OmitsZeroStatus(t *testing.T) {
	t.Parallel()

	err := TransportFailure("weather", "http://localhost:9000", 0, errors.New("dial tcp: refused"))

	assert.Equal(t, "weather", err.Data["server"])
	assert.Equal(t, "http://localhost:9000", err.Data["url"])
	_, hasStatus := err.Data["upstream_status"]
	assert.False(t, hasStatus)
}

func TestTransportFailure_IncludesStatus(t *testing.T) {
	t.Parallel()

	err := TransportFailure("weather", "http://localhost:9000", 502, errors.New("bad gateway"))

	assert.Equal(t, 502, err.Data["upstream_status"])
}
