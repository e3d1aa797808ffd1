package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

func TestLoadNamedServerConfig_ParsesEntries(t *testing.T) {
	path := writeTempFile(t, `{
		"mcpServers": {
			"weather": {"command": "weather-server", "args": ["--port", "9000"]},
			"disabled-one": {"command": "noop", "enabled": false},
			"missing-command": {}
		}
	}`)

	servers, skipped, err := LoadNamedServerConfig(path)
	require.NoError(t, err)

	require.Len(t, servers, 1)
	assert.Equal(t, "weather", servers[0].Name)
	assert.Equal(t, "weather-server", servers[0].Command)
	assert.Equal(t, []string{"--port", "9000"}, servers[0].Args)
	assert.True(t, servers[0].Enabled)

	assert.Len(t, skipped, 2)
}

func TestLoadNamedServerConfig_MissingFile(t *testing.T) {
	_, _, err := LoadNamedServerConfig("/nonexistent/path.json")
	assert.Error(t, err)
}

func TestLoadNamedServerConfig_MalformedDocument(t *testing.T) {
	path := writeTempFile(t, `{not valid json`)

	_, _, err := LoadNamedServerConfig(path)
	assert.Error(t, err)
}

func TestLoadBridgeConfig_MergesDefaultsOverDescriptor(t *testing.T) {
	path := writeTempFile(t, `{
		"mcpServers": {
			"weather": {"command": "weather-server", "priority": 10}
		},
		"bridge": {
			"conflictResolution": "priority",
			"defaultNamespace": true
		}
	}`)

	set, err := LoadBridgeConfig(path)
	require.NoError(t, err)

	require.Len(t, set.Servers, 1)
	assert.Equal(t, "weather-server", set.Servers[0].Command)
	assert.Equal(t, 10, set.Servers[0].Priority)
	assert.Equal(t, TransportStdio, set.Servers[0].TransportType, "unset transport type falls back to the stdio default")

	assert.Equal(t, ConflictPriority, set.Bridge.ConflictResolution)
	assert.True(t, set.Bridge.DefaultNamespace)
}

func TestLoadBridgeConfig_NoBridgeSectionUsesDefaults(t *testing.T) {
	path := writeTempFile(t, `{"mcpServers": {"weather": {"command": "weather-server"}}}`)

	set, err := LoadBridgeConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ConflictNamespace, set.Bridge.ConflictResolution)
	assert.True(t, set.Bridge.Failover.Enabled)
}

func TestDefaultServer(t *testing.T) {
	desc := DefaultServer("weather")

	assert.Equal(t, "weather", desc.Name)
	assert.True(t, desc.Enabled)
	assert.Equal(t, TransportStdio, desc.TransportType)
	assert.True(t, desc.HealthCheck.Enabled)
}

func TestDefaultBridge(t *testing.T) {
	desc := DefaultBridge()

	assert.Equal(t, ConflictNamespace, desc.ConflictResolution)
	assert.True(t, desc.Failover.Enabled)
	assert.Equal(t, 3, desc.Failover.MaxFailures)
}
