package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
	"github.com/halcyon-labs/mcpbridge/internal/mcptypes"
	"github.com/halcyon-labs/mcpbridge/internal/proxy"
	"github.com/halcyon-labs/mcpbridge/internal/transport"
)

// streamSession pairs one long-lived StreamHTTPInbound (stateful mode) with
// the frontend session attached to it.
type streamSession struct {
	transport *StreamHTTPInbound
}

// streamRegistry tracks stateful streamable-HTTP sessions by the
// Mcp-Session-Id the server minted on their initialize call.
type streamRegistry struct {
	mu sync.Mutex
	byID map[string]*streamSession
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{byID: make(map[string]*streamSession)}
}

// streamHTTPHandler serves the inbound streamable HTTP transport on
// a single POST endpoint. In stateless mode every POST gets its own
// ephemeral frontend session; in stateful mode the first POST (expected to
// be initialize) mints an Mcp-Session-Id that subsequent POSTs must echo.
func streamHTTPHandler(logger *zap.Logger, engine *proxy.Engine, registry *streamRegistry, stateless bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg jsonrpc.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "invalid json-rpc message: "+err.Error(), http.StatusBadRequest)
			return
		}

		if stateless {
			serveStatelessStreamHTTP(w, r, engine, &msg)
			return
		}

		serveStatefulStreamHTTP(w, r, engine, registry, &msg)
	}
}

func serveStatelessStreamHTTP(w http.ResponseWriter, r *http.Request, engine *proxy.Engine, msg *jsonrpc.Message) {
	t := NewStreamHTTPInbound()
	sess := engine.Attach(uuid.NewString(), t)
	defer sess.Close(nil)

	writeStreamRoundTrip(w, r, t, msg)
}

func serveStatefulStreamHTTP(w http.ResponseWriter, r *http.Request, engine *proxy.Engine, registry *streamRegistry, msg *jsonrpc.Message) {
	sessionID := r.Header.Get(transport.SessionIDHeader)

	registry.mu.Lock()
	entry, ok := registry.byID[sessionID]
	registry.mu.Unlock()

	if !ok {
		if sessionID != "" && msg.Method != mcptypes.MethodInitialize {
			http.Error(w, "unknown Mcp-Session-Id", http.StatusNotFound)
			return
		}

		sessionID = uuid.NewString()
		t := NewStreamHTTPInbound()
		engine.Attach(sessionID, t)
		entry = &streamSession{transport: t}

		registry.mu.Lock()
		registry.byID[sessionID] = entry
		registry.mu.Unlock()

		w.Header().Set(transport.SessionIDHeader, sessionID)
	} else {
		w.Header().Set(transport.SessionIDHeader, sessionID)
	}

	writeStreamRoundTrip(w, r, entry.transport, msg)
}

// writeStreamRoundTrip delivers msg and, if it carries a response, writes
// it as the HTTP body; notifications get a bare 202.
func writeStreamRoundTrip(w http.ResponseWriter, r *http.Request, t *StreamHTTPInbound, msg *jsonrpc.Message) {
	waiter := t.Deliver(msg)
	if waiter == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	select {
	case resp := <-waiter:
		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, "encode response: "+err.Error(), http.StatusInternalServerError)
		}
	case <-r.Context().Done():
	}
}
