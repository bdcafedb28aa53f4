// ABOUTME: Websocket transport for the realtime hub
// ABOUTME: Upgrades HTTP connections and pumps inbound frames into the hub

package hub

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

const maxFrameSize = 64 * 1024

// wsConn adapts a gorilla websocket connection to the hub's Conn.
// Gorilla allows only one concurrent writer, so writes serialize here.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

// Handler serves websocket upgrade requests and runs the read loop for
// each connection.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates the websocket handler. allowedOrigins of nil or
// containing "*" accepts any origin.
func NewHandler(h *Hub, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return &Handler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
		logger: logger.With("component", "ws"),
	}
}

// ServeHTTP upgrades the request and blocks in the read loop until the
// client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	clientID := h.hub.Register(&wsConn{conn: conn})
	defer h.hub.Unregister(clientID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read error", "client_id", clientID, "error", err)
			}
			return
		}
		// Malformed frames are reported to the sender inside HandleFrame;
		// the connection itself stays up.
		_ = h.hub.HandleFrame(clientID, raw)
	}
}
