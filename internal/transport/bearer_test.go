package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyBearerToken(t *testing.T) {
	t.Run("no token leaves headers untouched", func(t *testing.T) {
		got := ApplyBearerToken(map[string]string{"X-Foo": "bar"}, "")
		assert.Equal(t, map[string]string{"X-Foo": "bar"}, got)
	})

	t.Run("adds Authorization when absent", func(t *testing.T) {
		got := ApplyBearerToken(nil, "tok-123")
		assert.Equal(t, "Bearer tok-123", got["Authorization"])
	})

	t.Run("does not override an explicit Authorization header", func(t *testing.T) {
		got := ApplyBearerToken(map[string]string{"Authorization": "Basic abc"}, "tok-123")
		assert.Equal(t, "Basic abc", got["Authorization"])
	})

	t.Run("allocates a map when headers is nil and a token is set", func(t *testing.T) {
		got := ApplyBearerToken(nil, "tok-123")
		assert.NotNil(t, got)
	})
}
