package transport

import (
	"encoding/json"
	"time"

	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
)

// shutdownGrace bounds how long Close waits for a child process to exit
// after stdin is closed before it is killed outright.
const shutdownGrace = 5 * time.Second

func waitTimer() <-chan time.Time {
	return time.After(shutdownGrace)
}

func encodeCompact(msg *jsonrpc.Message) ([]byte, error) {
	return json.Marshal(msg)
}
