package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// envPattern matches ${NAME} and ${NAME:default}, mirroring
// original_source/src/mcp_foxxy_bridge/config_loader.py's expand_env_vars.
// NAME follows shell identifier rules; default may be empty or contain any
// character except the closing brace.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// ExpandEnvString replaces every ${NAME} / ${NAME:default} occurrence in s
// with the environment variable's value, or the default (or empty string)
// when unset. It is idempotent on strings with no ${...} and never injects
// a ${...} sequence that was not already present.
func ExpandEnvString(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
			sub := envPattern.FindStringSubmatch(match)
			name, def := sub[1], sub[2]

			if v, ok := os.LookupEnv(name); ok {
				return v
			}

			return def
	})
}

// expandEnvAny recurses through a decoded JSON/YAML tree (map, slice,
// string, or scalar), expanding every string value. Non-string scalars are
// returned unchanged.
func expandEnvAny(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return ExpandEnvString(t)
	case map[string]interface{}:
		for k, val := range t {
			t[k] = expandEnvAny(val)
		}

		return t
	case []interface{}:
		for i, val := range t {
			t[i] = expandEnvAny(val)
		}

		return t
	default:
		return v
	}
}

// ExpandEnvJSON decodes raw as generic JSON, expands every string value
// found anywhere in the tree, and re-encodes it. Used on named-server and
// bridge config files before they are unmarshaled into typed structs, so
// expansion applies uniformly regardless of where in the schema a
// ${VAR}-bearing string appears.
func ExpandEnvJSON(raw []byte) ([]byte, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decode json for env expansion: %w", err)
	}

	expanded := expandEnvAny(generic)

	out, err := json.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("re-encode expanded json: %w", err)
	}

	return out, nil
}
