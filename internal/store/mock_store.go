// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	messages      map[string][]*Message    // keyed by conversation ID, insertion order
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
	}
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Make a copy to avoid external modification
	c := *conv
	m.conversations[c.ID] = &c
	return nil
}

// GetConversation retrieves a conversation by ID and owner.
func (m *MockStore) GetConversation(ctx context.Context, id, userID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}

	result := *c
	return &result, nil
}

// ListConversations returns the user's conversations, most recently updated first.
func (m *MockStore) ListConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var convs []*Conversation
	for _, c := range m.conversations {
		if c.UserID != userID {
			continue
		}
		result := *c
		convs = append(convs, &result)
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	if len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// UpdateConversation applies non-nil fields and bumps updated_at.
func (m *MockStore) UpdateConversation(ctx context.Context, id, userID string, upd ConversationUpdate) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}

	if upd.Title != nil {
		c.Title = *upd.Title
	}
	if upd.Model != nil {
		c.Model = *upd.Model
	}
	c.UpdatedAt = time.Now().UTC()

	result := *c
	return &result, nil
}

// TouchConversation bumps updated_at.
func (m *MockStore) TouchConversation(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}

	c.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteConversation removes a conversation and its messages.
func (m *MockStore) DeleteConversation(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}

	delete(m.conversations, id)
	delete(m.messages, id)
	return nil
}

// AppendMessage stores a message, preserving insertion order.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return ErrNotFound
	}

	saved := *msg
	if saved.TokenCount != nil {
		n := *msg.TokenCount
		saved.TokenCount = &n
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &saved)
	return nil
}

// ListMessages returns a conversation's messages, oldest first.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.messages[conversationID]
	msgs := make([]*Message, 0, len(stored))
	for _, s := range stored {
		result := *s
		msgs = append(msgs, &result)
	}
	return msgs, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
