// ABOUTME: Service is the central layer for message delivery and persistence
// ABOUTME: User messages are recorded first, then completed - history is the source of truth

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nightjarhq/nightjar/internal/llm"
	"github.com/nightjarhq/nightjar/internal/routing"
	"github.com/nightjarhq/nightjar/internal/store"
)

// ErrEmptyContent is returned when a submitted message is empty or
// whitespace-only. Nothing is persisted in that case.
var ErrEmptyContent = errors.New("message content is empty")

// CompletionGateway defines what the service needs from the provider layer
type CompletionGateway interface {
	Complete(ctx context.Context, systemPrompt string, history []llm.Message, userContent, model string) (*llm.Completion, error)
	SummarizeTitle(ctx context.Context, userContent, assistantContent string) string
}

// Notifier receives persisted messages for realtime fan-out. Delivery is
// fire-and-forget; the pipeline never blocks on or fails from notification.
type Notifier interface {
	MessagePersisted(conversationID string, message *store.Message)
}

// Service coordinates the message pipeline: validate, persist the user
// message, route, complete, persist the assistant message, title.
type Service struct {
	store   store.Store
	gateway CompletionGateway
	routes  *routing.Table
	logger  *slog.Logger

	notifier Notifier

	// per-conversation locks so concurrent submissions to the same
	// conversation serialize and each completion sees the prior exchange
	mu    sync.Mutex
	locks map[string]*convLock
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a chat service. Pass nil logger for default.
func New(st store.Store, gateway CompletionGateway, routes *routing.Table, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		gateway: gateway,
		routes:  routes,
		logger:  logger.With("component", "chat"),
		locks:   make(map[string]*convLock),
	}
}

// SetNotifier wires the realtime layer in. Optional; without it persisted
// messages are simply not broadcast.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Exchange is the result of a successful message submission.
type Exchange struct {
	UserMessage      *store.Message `json:"user_message"`
	AssistantMessage *store.Message `json:"assistant_message"`
}

// Submit runs one message through the pipeline on behalf of userID.
// The user message is persisted before the provider is called, so a
// generation failure still leaves the user's words in the log.
func (s *Service) Submit(ctx context.Context, userID, conversationID, content string) (*Exchange, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	conv, err := s.store.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	unlock := s.lockConversation(conversationID)
	defer unlock()

	userMsg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           store.RoleUser,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	// Snapshot the log once; the window and the first-exchange check both
	// read from it so they agree on what the conversation looked like.
	log, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	firstExchange := len(log) == 1

	decision := s.routes.Route(content)
	model := decision.Model
	if !decision.Matched && conv.Model != "" {
		model = conv.Model
	}

	history := historyWindow(log)

	s.logger.Info("requesting completion",
		"conversation_id", conversationID,
		"model", model,
		"matched_prefix", decision.Matched,
		"history_len", len(history))

	completion, err := s.gateway.Complete(ctx, decision.SystemPrompt, history, decision.Cleaned, model)
	if err != nil {
		s.logger.Error("completion failed",
			"conversation_id", conversationID,
			"model", model,
			"error", err)
		return nil, fmt.Errorf("completing message: %w", err)
	}

	assistantMsg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		Content:        completion.Content,
		Model:          model,
		TokenCount:     completion.TokenCount,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("persisting assistant message: %w", err)
	}

	if err := s.store.TouchConversation(ctx, conversationID, userID); err != nil {
		s.logger.Warn("failed to bump conversation activity",
			"conversation_id", conversationID,
			"error", err)
	}

	// Watchers hear about the exchange only once it completed; a failed
	// generation stays in the stored log without a realtime frame.
	s.notify(conversationID, userMsg)
	s.notify(conversationID, assistantMsg)

	if firstExchange {
		s.generateTitle(ctx, conv, userID, decision.Cleaned, completion.Content)
	}

	return &Exchange{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// historyWindow returns the prior messages to send to the provider: the
// log minus its last entry (the just-persisted user message, which travels
// separately), clamped by the gateway to its window.
func historyWindow(log []*store.Message) []llm.Message {
	prior := log[:len(log)-1]
	history := make([]llm.Message, 0, len(prior))
	for _, m := range prior {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}
	return history
}

// generateTitle replaces the placeholder title after the first exchange.
// Best-effort: failures are logged and the placeholder stays.
func (s *Service) generateTitle(ctx context.Context, conv *store.Conversation, userID, userContent, assistantContent string) {
	if conv.Title != store.DefaultTitle {
		return
	}

	title := s.gateway.SummarizeTitle(ctx, userContent, assistantContent)
	if title == store.DefaultTitle {
		return
	}

	_, err := s.store.UpdateConversation(ctx, conv.ID, userID, store.ConversationUpdate{Title: &title})
	if err != nil {
		s.logger.Warn("failed to save generated title",
			"conversation_id", conv.ID,
			"error", err)
		return
	}
	s.logger.Info("conversation titled",
		"conversation_id", conv.ID,
		"title", title)
}

func (s *Service) notify(conversationID string, msg *store.Message) {
	if s.notifier != nil {
		s.notifier.MessagePersisted(conversationID, msg)
	}
}

// lockConversation acquires the per-conversation lock, creating it on
// first use and reaping it when the last holder releases.
func (s *Service) lockConversation(id string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &convLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}
