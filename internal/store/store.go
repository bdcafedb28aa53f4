// ABOUTME: Store interface and data types for nightjar persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist, or when it
// exists but belongs to a different owner. Owner mismatches deliberately look
// identical to missing rows so existence never leaks across users.
var ErrNotFound = errors.New("not found")

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultTitle is the placeholder title a conversation carries until its
// first exchange produces a generated one.
const DefaultTitle = "New Conversation"

// Conversation is a titled, owned sequence of messages.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"` // default model for this conversation; empty means "use routing default"
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single entry in a conversation's log. Messages are append-only
// and immutable once written.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	Model          string    `json:"model,omitempty"`       // set only on assistant messages
	TokenCount     *int      `json:"token_count,omitempty"` // provider-reported token count, when available
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationUpdate carries the mutable conversation fields. Nil fields are
// left unchanged.
type ConversationUpdate struct {
	Title *string
	Model *string
}

// Store defines the interface for conversation and message persistence.
// All reads and writes that take a userID are scoped to that owner; a
// mismatch returns ErrNotFound.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id, userID string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, id, userID string, upd ConversationUpdate) (*Conversation, error)
	TouchConversation(ctx context.Context, id, userID string) error
	DeleteConversation(ctx context.Context, id, userID string) error

	// Messages (append-only, ordered oldest first)
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// Close releases any resources held by the store
	Close() error
}
