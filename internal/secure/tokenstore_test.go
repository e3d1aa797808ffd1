package secure

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *TokenCache {
	t.Helper()

	return &TokenCache{
		filePath: filepath.Join(t.TempDir(), "tokens.enc"),
		password: derivedKey("mcpbridge-test"),
	}
}

func TestTokenCache_StoreAndRetrieve(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t)

	require.NoError(t, cache.Store("weather", "sk-abc123"))

	token, err := cache.Retrieve("weather")
	require.NoError(t, err)
	assert.Equal(t, "sk-abc123", token)
}

func TestTokenCache_RetrieveMissingKey(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t)

	_, err := cache.Retrieve("nonexistent")
	assert.Error(t, err)
}

func TestTokenCache_Delete(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t)

	require.NoError(t, cache.Store("weather", "sk-abc123"))
	require.NoError(t, cache.Delete("weather"))

	_, err := cache.Retrieve("weather")
	assert.Error(t, err)
}

func TestTokenCache_PersistsAcrossInstances(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens.enc")
	password := derivedKey("mcpbridge-test")

	first := &TokenCache{filePath: path, password: password}
	require.NoError(t, first.Store("weather", "sk-abc123"))

	second := &TokenCache{filePath: path, password: password}
	token, err := second.Retrieve("weather")
	require.NoError(t, err)
	assert.Equal(t, "sk-abc123", token)
}

func TestTokenCache_StoredValueNeverAppearsInPlaintextOnDisk(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t)
	require.NoError(t, cache.Store("weather", "sk-super-secret"))

	raw, err := os.ReadFile(cache.filePath)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-super-secret")
}
