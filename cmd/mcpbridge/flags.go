package main

import (
	"errors"
	"fmt"
	"strings"
)

// parseKVList parses repeatable "KEY=VALUE" flag occurrences into a map.
// describes --env/--headers as two-token flags (KEY VALUE); pflag
// gives each occurrence of a repeatable flag exactly one value, so this CLI
// takes the single-token "KEY=VALUE" form instead (documented adaptation,
// see DESIGN.md).
func parseKVList(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	out := make(map[string]string, len(pairs))

	for _, raw := range pairs {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", raw)
		}

		out[key] = value
	}

	return out, nil
}

// parseNamedServer parses one --named-server occurrence. describes
// it as the two-token "<name> '<cmd args>'"; this CLI joins them into a
// single "name:command args..." token per flag occurrence for the same
// pflag-repeatable-flag reason as parseKVList.
func parseNamedServer(raw string) (name, command string, args []string, err error) {
	name, rest, ok := strings.Cut(raw, ":")
	if !ok || name == "" || strings.TrimSpace(rest) == "" {
		return "", "", nil, errors.New(`expected "name:command [args...]"`)
	}

	fields := strings.Fields(rest)

	return name, fields[0], fields[1:], nil
}
