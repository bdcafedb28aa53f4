// ABOUTME: HTTP handlers for conversations, messages, and routing rules
// ABOUTME: Thin layer: decode, call the domain layer, map errors, encode

package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nightjarhq/nightjar/internal/auth"
	"github.com/nightjarhq/nightjar/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListRoutes exposes the routing table so clients can offer prefix
// completion and show which model a message will hit.
func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"default_model": s.routes.DefaultModel(),
		"rules":         s.routes.Rules(),
	})
}

type createConversationRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = store.DefaultTitle
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:        uuid.New().String(),
		UserID:    auth.UserIDFromContext(r.Context()),
		Title:     title,
		Model:     req.Model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateConversation(r.Context(), conv); err != nil {
		respondDomainError(w, err)
		return
	}

	s.logger.Info("conversation created", "conversation_id", conv.ID)
	respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}

	convs, err := s.store.ListConversations(r.Context(), auth.UserIDFromContext(r.Context()), limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// conversationDetail is a conversation plus its full ordered message log.
type conversationDetail struct {
	*store.Conversation
	Messages []*store.Message `json:"messages"`
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := s.store.GetConversation(r.Context(), id, auth.UserIDFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	msgs, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conversationDetail{Conversation: conv, Messages: msgs})
}

type updateConversationRequest struct {
	Title *string `json:"title"`
	Model *string `json:"model"`
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	var req updateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == nil && req.Model == nil {
		respondError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		respondError(w, http.StatusBadRequest, "title cannot be empty")
		return
	}

	conv, err := s.store.UpdateConversation(r.Context(),
		chi.URLParam(r, "id"),
		auth.UserIDFromContext(r.Context()),
		store.ConversationUpdate{Title: req.Title, Model: req.Model})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteConversation(r.Context(), id, auth.UserIDFromContext(r.Context())); err != nil {
		respondDomainError(w, err)
		return
	}
	s.logger.Info("conversation deleted", "conversation_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := auth.UserIDFromContext(r.Context())

	// ownership gate: messages are only visible through an owned conversation
	if _, err := s.store.GetConversation(r.Context(), id, userID); err != nil {
		respondDomainError(w, err)
		return
	}

	msgs, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type submitMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req submitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	exchange, err := s.chat.Submit(r.Context(),
		auth.UserIDFromContext(r.Context()),
		chi.URLParam(r, "id"),
		req.Content)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, exchange)
}
