// ABOUTME: HTTP server assembly: router, middleware stack, and route table
// ABOUTME: All API surface area is declared here in one place

package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nightjarhq/nightjar/internal/auth"
	"github.com/nightjarhq/nightjar/internal/chat"
	"github.com/nightjarhq/nightjar/internal/routing"
	"github.com/nightjarhq/nightjar/internal/store"
)

// Config holds what the server needs beyond its collaborators.
type Config struct {
	AllowedOrigins []string
}

// Server owns the HTTP API. Its collaborators are injected so tests can
// assemble it with in-memory fakes.
type Server struct {
	store    store.Store
	chat     *chat.Service
	routes   *routing.Table
	verifier auth.TokenVerifier
	ws       http.Handler
	logger   *slog.Logger
	config   Config
}

// New creates a server. ws may be nil when the realtime layer is disabled.
func New(st store.Store, chatSvc *chat.Service, routes *routing.Table, verifier auth.TokenVerifier, ws http.Handler, config Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    st,
		chat:     chatSvc,
		routes:   routes,
		verifier: verifier,
		ws:       ws,
		logger:   logger.With("component", "server"),
		config:   config,
	}
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.verifier))

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/routes", s.handleListRoutes)

			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", s.handleCreateConversation)
				r.Get("/", s.handleListConversations)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetConversation)
					r.Patch("/", s.handleUpdateConversation)
					r.Delete("/", s.handleDeleteConversation)
					r.Get("/messages", s.handleListMessages)
					r.Post("/messages", s.handleSubmitMessage)
				})
			})
		})

		if s.ws != nil {
			r.Get("/ws", s.ws.ServeHTTP)
		}
	})

	return r
}
