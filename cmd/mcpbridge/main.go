// Command mcpbridge is the CLI entry point: it either runs a
// single remote MCP server over local stdio (client mode), or aggregates a
// pool of backends behind an HTTP surface (bridge mode).
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mcpbridge: %v\n", err)

		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}

		os.Exit(2)
	}
}
