// Package server provides the tenant-facing HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gns-pkulkarni/chatbot-saas/internal/chat"
	"github.com/gns-pkulkarni/chatbot-saas/internal/config"
	"github.com/gns-pkulkarni/chatbot-saas/internal/ingest"
	"github.com/gns-pkulkarni/chatbot-saas/internal/search"
)

// TenantHeader carries the tenant identity set by the upstream auth gateway.
const TenantHeader = "X-Tenant-ID"

// Server is the HTTP server for the chatbot API.
type Server struct {
	sources *ingest.Service
	chat    *chat.Service
	engine  *search.Engine
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	sources *ingest.Service,
	chatService *chat.Service,
	engine *search.Engine,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		sources: sources,
		chat:    chatService,
		engine:  engine,
		config:  cfg,
		logger:  logger,
	}
}

// Routes returns the router with every endpoint mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireTenant)

		r.Post("/api/v1/sources", s.handleCreateSource)
		r.Get("/api/v1/sources", s.handleListSources)
		r.Get("/api/v1/sources/{id}", s.handleGetSource)
		r.Post("/api/v1/sources/{id}/reingest", s.handleReingestSource)
		r.Delete("/api/v1/sources/{id}", s.handleDeleteSource)

		r.Get("/api/v1/search", s.handleSearch)
		r.Post("/api/v1/chat", s.handleChat)
		r.Get("/api/v1/chat/history", s.handleChatHistory)
		r.Get("/api/v1/status", s.handleStatus)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type tenantKey struct{}

func (s *Server) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get(TenantHeader)
		if tenant == "" {
			s.respondError(w, http.StatusUnauthorized, "missing "+TenantHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey{}, tenant)))
	})
}

func tenantFrom(r *http.Request) string {
	t, _ := r.Context().Value(tenantKey{}).(string)
	return t
}
