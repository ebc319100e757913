// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API of the localcursor gateway.
//
// Endpoints:
//   - GET  /health       - Health check
//   - GET  /settings     - Current settings document
//   - POST /settings     - Partial settings update
//   - GET  /models       - Models served by a backend
//   - POST /chat_stream  - Streaming chat over SSE
//   - POST /chat_once    - Single blocking chat completion
//   - GET  /history      - Recent conversations
//   - GET  /fs/list      - List a workspace directory
//   - GET  /fs/read      - Read a workspace file
//   - POST /fs/write     - Write a workspace file
//   - POST /fs/new       - Create a file or directory
//   - POST /fs/rename    - Move a file or directory
//   - POST /fs/delete    - Delete a path
//   - POST /fs/search    - Search filenames and content
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/Iceessence/localcursor/internal/backend"
	"github.com/Iceessence/localcursor/internal/config"
	"github.com/Iceessence/localcursor/internal/gateway"
	"github.com/Iceessence/localcursor/internal/history"
	"github.com/Iceessence/localcursor/internal/settings"
	"github.com/Iceessence/localcursor/internal/workspace"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize caps request bodies to prevent abuse (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageCount is the maximum number of messages in a chat request.
	MaxMessageCount = 100

	// Version is the server version.
	Version = "0.1.0"
)

// validRoles is the set of acceptable chat message roles.
var validRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
}

// validateMessages enforces the role whitelist and a non-empty conversation.
func validateMessages(messages []backend.Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("request must contain at least one message")
	}
	if len(messages) > MaxMessageCount {
		return fmt.Errorf("too many messages: maximum is %d", MaxMessageCount)
	}
	for i, msg := range messages {
		if !validRoles[msg.Role] {
			return fmt.Errorf("invalid role %q at message %d: must be one of user, assistant, system", msg.Role, i)
		}
	}
	return nil
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP API server for the localcursor gateway.
type Server struct {
	cfg    *config.Config
	router *http.ServeMux
	server *http.Server

	gateway   *gateway.Gateway
	settings  *settings.Store
	history   *history.Log
	workspace *workspace.Store
}

// NewServer wires the gateway, stores, and routes into a Server.
func NewServer(cfg *config.Config, gw *gateway.Gateway, st *settings.Store, hist *history.Log, ws *workspace.Store) *Server {
	s := &Server{
		cfg:       cfg,
		router:    http.NewServeMux(),
		gateway:   gw,
		settings:  st,
		history:   hist,
		workspace: ws,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)

	s.router.HandleFunc("GET /settings", s.handleGetSettings)
	s.router.HandleFunc("POST /settings", s.handleUpdateSettings)

	s.router.HandleFunc("GET /models", s.handleModels)
	s.router.HandleFunc("POST /chat_stream", s.handleChatStream)
	s.router.HandleFunc("POST /chat_once", s.handleChatOnce)
	s.router.HandleFunc("GET /history", s.handleHistory)

	s.setupFSRoutes()
}

// Handler returns the server's routing handler, without middleware. Used by
// tests to exercise routes directly.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Backend   string `json:"backend"`
	Workspace string `json:"workspace"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	doc := s.settings.Get()

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   Version,
		Backend:   doc.Backend,
		Workspace: s.workspace.Root(),
	})
}

// ============================================================================
// SETTINGS HANDLERS
// ============================================================================

// handleGetSettings handles GET /settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.settings.Get())
}

// handleUpdateSettings handles POST /settings. The body is a partial
// document; only the fields present are changed.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var patch settings.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		log.Printf("SETTINGS_BAD_REQUEST | error=%v", err)
		s.writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}

	doc, err := s.settings.Update(patch)
	if err != nil {
		if settings.IsValidationError(err) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("SETTINGS_UPDATE_FAILED | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	s.writeJSON(w, http.StatusOK, doc)
}

// ============================================================================
// MODELS HANDLER
// ============================================================================

// handleModels handles GET /models. The backend and base_url query
// parameters override the settings document for this call only.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	backendName := r.URL.Query().Get("backend")
	baseURL := r.URL.Query().Get("base_url")

	list := s.gateway.Models(r.Context(), backendName, baseURL)
	s.writeJSON(w, http.StatusOK, list)
}

// ============================================================================
// CHAT HANDLERS
// ============================================================================

// decodeChatRequest parses and validates the body of a chat endpoint.
func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (gateway.ChatRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req gateway.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return req, false
		}
		log.Printf("CHAT_BAD_REQUEST | error=%v", err)
		s.writeError(w, http.StatusBadRequest, "invalid request format")
		return req, false
	}

	if err := validateMessages(req.Messages); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}

	return req, true
}

// handleChatStream handles POST /chat_stream. The response is an SSE stream
// of normalized gateway events, one per data frame.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	events, err := s.gateway.Stream(r.Context(), req)
	if err != nil {
		// Resolution failures are client errors, reported before any
		// event is written.
		switch {
		case errors.Is(err, gateway.ErrModelRequired), errors.Is(err, gateway.ErrUnknownBackend):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("CHAT_STREAM_START_FAILED | error=%v", err)
			s.writeError(w, http.StatusInternalServerError, "failed to start stream")
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

// handleChatOnce handles POST /chat_once.
func (s *Server) handleChatOnce(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	result, err := s.gateway.ChatOnce(r.Context(), req)
	if err != nil {
		s.writeChatError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// writeChatError maps gateway and upstream failures onto HTTP statuses.
func (s *Server) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrModelRequired), errors.Is(err, gateway.ErrUnknownBackend):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case backend.IsUpstreamError(err):
		log.Printf("CHAT_UPSTREAM_ERROR | error=%v", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.Printf("CHAT_ERROR | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "request processing failed")
	}
}

// ============================================================================
// HISTORY HANDLER
// ============================================================================

// HistoryResponse represents the recent-conversations response.
type HistoryResponse struct {
	Sessions []history.Entry `json:"sessions"`
}

// handleHistory handles GET /history. The limit query parameter caps the
// number of entries; 0 or absent returns all, most recent first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(limit)
	if err != nil {
		log.Printf("HISTORY_READ_FAILED | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	s.writeJSON(w, http.StatusOK, HistoryResponse{Sessions: entries})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		CORSMiddleware(s.corsConfig()),
		LoggingMiddleware(log.Default()),
	}
	if s.cfg.Server.RateLimitPerMin > 0 {
		middlewares = append(middlewares, RateLimitMiddleware(NewRateLimiter(s.cfg.Server.RateLimitPerMin)))
	}

	addr := s.cfg.ListenAddr()
	s.server = &http.Server{
		Addr:    addr,
		Handler: Chain(middlewares...)(s.router),
		// No WriteTimeout: chat streams stay open for the length of a
		// generation.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("SERVER_START | addr=%s version=%s workspace=%s", addr, Version, s.workspace.Root())
	return s.server.ListenAndServe()
}

func (s *Server) corsConfig() *CORSConfig {
	cc := DefaultCORSConfig()
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		cc.AllowedOrigins = s.cfg.Server.AllowedOrigins
	}
	return cc
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}
