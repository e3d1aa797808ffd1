package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
	"github.com/halcyon-labs/mcpbridge/internal/proxy"
)

// sseRegistry tracks live InboundSSE transports by session id, so the
// paired /messages/ POST handler can demultiplex onto the right one.
type sseRegistry struct {
	mu sync.RWMutex
	byID map[string]*InboundSSE
}

func newSSERegistry() *sseRegistry {
	return &sseRegistry{byID: make(map[string]*InboundSSE)}
}

func (r *sseRegistry) add(t *InboundSSE) {
	r.mu.Lock()
	r.byID[t.SessionID()] = t
	r.mu.Unlock()
}

func (r *sseRegistry) remove(t *InboundSSE) {
	r.mu.Lock()
	delete(r.byID, t.SessionID())
	r.mu.Unlock()
}

func (r *sseRegistry) get(id string) (*InboundSSE, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[id]

	return t, ok
}

// sseGetHandler serves the long-lived GET stream half of the inbound
// SSE transport, attaching a frontend session to engine for its lifetime.
func sseGetHandler(logger *zap.Logger, engine *proxy.Engine, registry *sseRegistry, messagesPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := NewInboundSSE(w, messagesPath)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		registry.add(t)
		defer registry.remove(t)
		defer t.Close()

		sess := engine.Attach(t.SessionID(), t)

		select {
		case <-r.Context().Done():
		case <-sess.Done():
		}
	}
}

// sseMessagesHandler serves the POST /messages/?session_id=... half: decode
// one JSON-RPC message and deliver it to the matching InboundSSE's inbound
// channel.
func sseMessagesHandler(logger *zap.Logger, registry *sseRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			http.Error(w, "missing session_id", http.StatusBadRequest)
			return
		}

		t, ok := registry.get(sessionID)
		if !ok {
			http.Error(w, "unknown session_id", http.StatusNotFound)
			return
		}

		var msg jsonrpc.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "invalid json-rpc message: "+err.Error(), http.StatusBadRequest)
			return
		}

		t.Deliver(&msg)
		w.WriteHeader(http.StatusAccepted)
	}
}
