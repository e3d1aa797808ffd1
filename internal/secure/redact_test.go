package secure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSensitiveKey(t *testing.T) {
	t.Parallel()

	sensitive := []string{"Authorization", "X-Api-Key", "apikey", "Secret-Token", "Cookie", "password"}
	for _, key := range sensitive {
		assert.True(t, IsSensitiveKey(key), "%q should be treated as sensitive", key)
	}

	benign := []string{"Content-Type", "User-Agent", "X-Request-Id", "Accept"}
	for _, key := range benign {
		assert.False(t, IsSensitiveKey(key), "%q should not be treated as sensitive", key)
	}
}

func TestRedactHeaders(t *testing.T) {
	t.Parallel()

	in := map[string]string{
		"Authorization": "Bearer secret-token",
		"Content-Type":  "application/json",
	}

	out := RedactHeaders(in)

	assert.Equal(t, "[redacted]", out["Authorization"])
	assert.Equal(t, "application/json", out["Content-Type"])
	assert.Equal(t, "Bearer secret-token", in["Authorization"], "RedactHeaders must not mutate the input map")
}

func TestRedactHeaders_NilInput(t *testing.T) {
	t.Parallel()

	assert.Nil(t, RedactHeaders(nil))
}

func TestRedactEnv_BehavesLikeRedactHeaders(t *testing.T) {
	t.Parallel()

	out := RedactEnv(map[string]string{"API_KEY": "abc123", "REGION": "us-east-1"})

	assert.Equal(t, "[redacted]", out["API_KEY"])
	assert.Equal(t, "us-east-1", out["REGION"])
}
