// ABOUTME: In-memory realtime hub for cross-client conversation awareness
// ABOUTME: Fans out persisted messages and typing activity to connected clients

package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nightjarhq/nightjar/internal/store"
)

// ErrMalformedFrame is returned when an inbound frame cannot be parsed or
// carries a type the hub does not accept from clients.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame types on the wire.
const (
	FrameConnection = "connection" // server to client, sent once on register
	FrameTyping     = "typing"     // client to server, rebroadcast to peers
	FrameMessage    = "message"    // server to client, a persisted message
	FrameError      = "error"      // server to client, protocol error report
)

// Frame is the single envelope for all hub traffic, tagged by Type.
type Frame struct {
	Type           string          `json:"type"`
	ClientID       string          `json:"client_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Conn is the transport the hub writes frames to. The websocket layer
// satisfies it in production; tests use in-memory fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// client is one connected peer and its current conversation association.
type client struct {
	id             string
	conn           Conn
	userID         string
	conversationID string
}

// Hub tracks connected clients and fans frames out to them. Safe for
// concurrent use. Sends to dead connections are silently dropped; the
// read loop owns disconnect detection.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *slog.Logger
}

// New creates a hub. Pass nil logger for default.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger.With("component", "hub"),
	}
}

// Register adds a connection, assigns it a client ID, and sends the
// connection frame carrying that ID. The client is not associated with
// any conversation until its first typing frame.
func (h *Hub) Register(conn Conn) string {
	c := &client{id: uuid.New().String(), conn: conn}

	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("client connected", "client_id", c.id, "total", total)

	h.send(c, &Frame{Type: FrameConnection, ClientID: c.id})
	return c.id
}

// Unregister removes a client and closes its connection. Unknown IDs are
// a no-op, so the read loop and the server can both call it safely.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if ok {
		delete(h.clients, clientID)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.conn.Close()
	h.logger.Debug("client disconnected", "client_id", clientID, "total", total)
}

// HandleFrame processes one inbound frame from a client. Typing frames
// update the sender's conversation association and are rebroadcast to the
// conversation's other clients. Anything else earns the sender an error
// frame and ErrMalformedFrame.
func (h *Hub) HandleFrame(clientID string, raw []byte) error {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return errors.New("unknown client")
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.send(c, &Frame{Type: FrameError, Error: "invalid frame"})
		return ErrMalformedFrame
	}
	if frame.Type != FrameTyping {
		h.send(c, &Frame{Type: FrameError, Error: "unsupported frame type: " + frame.Type})
		return ErrMalformedFrame
	}
	// An empty conversation key would match every unassociated client,
	// so an incomplete typing frame never reaches broadcast.
	if frame.ConversationID == "" {
		h.send(c, &Frame{Type: FrameError, Error: "typing frame missing conversation_id"})
		return ErrMalformedFrame
	}
	if frame.UserID == "" {
		h.send(c, &Frame{Type: FrameError, Error: "typing frame missing user_id"})
		return ErrMalformedFrame
	}

	h.mu.Lock()
	c.userID = frame.UserID
	c.conversationID = frame.ConversationID
	h.mu.Unlock()

	// The payload is opaque to the hub; watchers get it verbatim.
	out := &Frame{
		Type:           FrameTyping,
		ClientID:       clientID,
		UserID:         frame.UserID,
		ConversationID: frame.ConversationID,
		Data:           frame.Data,
	}
	h.broadcast(frame.ConversationID, out, clientID)
	return nil
}

// MessagePersisted fans a persisted message out to every client watching
// its conversation, the author's own connection included, so all open
// views converge on the stored log.
func (h *Hub) MessagePersisted(conversationID string, msg *store.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode message frame", "error", err)
		return
	}
	h.broadcast(conversationID, &Frame{
		Type:           FrameMessage,
		ConversationID: conversationID,
		Data:           data,
	}, "")
}

// broadcast sends a frame to every client associated with conversationID,
// skipping excludeID when non-empty.
func (h *Hub) broadcast(conversationID string, frame *Frame, excludeID string) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.conversationID != conversationID {
			continue
		}
		if excludeID != "" && c.id == excludeID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.send(c, frame)
	}
}

// send writes one frame. Write failures mean the connection is going or
// gone; the read loop will notice and unregister, so just log it.
func (h *Hub) send(c *client, frame *Frame) {
	if err := c.conn.WriteJSON(frame); err != nil {
		h.logger.Debug("dropped frame for dead connection",
			"client_id", c.id,
			"frame_type", frame.Type)
	}
}
