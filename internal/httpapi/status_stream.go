package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/backend"
)

// statusStreamUpgrader is shared across all /status/stream connections; it
// accepts every origin, and the AllowOrigin setting used by the CORS
// middleware is not consulted here.
var statusStreamUpgrader = websocket.Upgrader{
	ReadBufferSize: 1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusStreamHub fans out backend status changes to every connected
// /status/stream websocket client (a supplement to the
// polling-only /status endpoint).
type StatusStreamHub struct {
	logger *zap.Logger

	mu sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func NewStatusStreamHub(logger *zap.Logger) *StatusStreamHub {
	return &StatusStreamHub{logger: logger, clients: make(map[*websocket.Conn]chan []byte)}
}

// Broadcast is registered as a backend.StatusChangedFunc; it encodes the
// snapshot once and pushes it to every connected client's send queue.
func (h *StatusStreamHub) Broadcast(snap backend.Snapshot) {
	payload, err := json.Marshal(buildInstanceStatus(snap))
	if err != nil {
		return
	}

	event := struct {
		Server string `json:"server"`
		Status json.RawMessage `json:"status"`
	}{Server: snap.Name, Status: payload}

	raw, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.clients {
		select {
		case ch <- raw:
		default:
			// Slow client; drop the update rather than block the
			// broadcaster for everyone else.
		}
	}
}

// Handler upgrades the connection and streams status events until the
// client disconnects.
func (h *StatusStreamHub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := statusStreamUpgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("status stream upgrade failed", zap.Error(err))
			return
		}

		send := make(chan []byte, 16)

		h.mu.Lock()
		h.clients[conn] = send
		h.mu.Unlock()

		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			_ = conn.Close()
		}()

		go h.discardInbound(conn)

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case msg, ok := <-send:
				if !ok {
					return
				}

				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}

// discardInbound drains client frames so the read side never blocks the
// connection open; this endpoint is server-to-client only.
func (h *StatusStreamHub) discardInbound(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
