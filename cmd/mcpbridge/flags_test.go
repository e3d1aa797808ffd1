package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKVList(t *testing.T) {
	t.Run("empty input returns nil", func(t *testing.T) {
		out, err := parseKVList(nil)
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("parses multiple pairs", func(t *testing.T) {
		out, err := parseKVList([]string{"API_KEY=abc123", "REGION=us-east-1"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"API_KEY": "abc123", "REGION": "us-east-1"}, out)
	})

	t.Run("value may contain an equals sign", func(t *testing.T) {
		out, err := parseKVList([]string{"QUERY=a=b=c"})
		require.NoError(t, err)
		assert.Equal(t, "a=b=c", out["QUERY"])
	})

	t.Run("rejects missing separator", func(t *testing.T) {
		_, err := parseKVList([]string{"NOEQUALS"})
		assert.Error(t, err)
	})

	t.Run("rejects empty key", func(t *testing.T) {
		_, err := parseKVList([]string{"=value"})
		assert.Error(t, err)
	})
}

func TestParseNamedServer(t *testing.T) {
	t.Run("parses name and command with args", func(t *testing.T) {
		name, command, args, err := parseNamedServer("weather:weather-server --port 9000")
		require.NoError(t, err)
		assert.Equal(t, "weather", name)
		assert.Equal(t, "weather-server", command)
		assert.Equal(t, []string{"--port", "9000"}, args)
	})

	t.Run("parses command with no args", func(t *testing.T) {
		name, command, args, err := parseNamedServer("weather:weather-server")
		require.NoError(t, err)
		assert.Equal(t, "weather", name)
		assert.Equal(t, "weather-server", command)
		assert.Empty(t, args)
	})

	t.Run("rejects missing separator", func(t *testing.T) {
		_, _, _, err := parseNamedServer("weather-server")
		assert.Error(t, err)
	})

	t.Run("rejects empty name", func(t *testing.T) {
		_, _, _, err := parseNamedServer(":weather-server")
		assert.Error(t, err)
	})

	t.Run("rejects empty command", func(t *testing.T) {
		_, _, _, err := parseNamedServer("weather:   ")
		assert.Error(t, err)
	})
}
