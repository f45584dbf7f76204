package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/omnibridge/omnibridge/pkg/bus"
	"github.com/omnibridge/omnibridge/pkg/config"
	"github.com/omnibridge/omnibridge/pkg/logger"
	"github.com/omnibridge/omnibridge/pkg/mcp"
	"github.com/omnibridge/omnibridge/pkg/router"
)

// ActionForwarder is the slice of the remote action client the /api/mcp
// pass-through needs.
type ActionForwarder interface {
	Connected() bool
	Request(ctx context.Context, req mcp.Request) (mcp.Response, error)
}

// Server is the stateless HTTP surface around the bridge: health,
// platform status, message injection, the remote-action pass-through, the
// dashboard SPA and its websocket event feed.
type Server struct {
	cfg    *config.Config
	router *router.Router
	client ActionForwarder
	hub    *Hub

	// teamsWebhook is mounted when the Teams channel is enabled; the Bot
	// Framework authenticates its own requests so the route skips bearer
	// auth.
	teamsWebhook http.HandlerFunc

	httpServer *http.Server
	startTime  time.Time
}

func NewServer(cfg *config.Config, rt *router.Router, client ActionForwarder, events *bus.EventStream) *Server {
	return &Server{
		cfg:    cfg,
		router: rt,
		client: client,
		hub:    NewHub(events),
	}
}

// SetTeamsWebhook mounts the Teams messaging endpoint. Call before Start.
func (s *Server) SetTeamsWebhook(h http.HandlerFunc) {
	s.teamsWebhook = h
}

// Handler builds the full route tree. Split from Start so tests can drive
// it through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	}))
	r.Use(s.logRequests)

	// Unauthenticated surface.
	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleIndex)
	if s.teamsWebhook != nil {
		r.Post("/api/teams/messages", s.teamsWebhook)
	}
	r.Get("/ws", s.handleWS)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/api/platforms", s.handlePlatforms)
		r.Post("/api/message", s.handleMessage)
		r.Post("/api/mcp", s.handleMCP)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		if strings.HasPrefix(req.URL.Path, "/api/") {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		s.serveFrontend(w, req)
	})

	return r
}

// Start runs the hub and the HTTP server. Non-blocking; failures after
// the listener is up are logged, not returned.
func (s *Server) Start(ctx context.Context) error {
	s.startTime = time.Now()
	go s.hub.Run(ctx)

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	go func() {
		logger.InfoCF("api", "API server started", map[string]interface{}{
			"address": addr,
		})
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "API server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

func (s *Server) Stop() {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
		logger.InfoC("api", "API server stopped")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "OmniBridge API",
		"version":     "1.0.0",
		"description": "AI-powered integration for WhatsApp, Telegram, Slack, and Microsoft Teams",
		"endpoints": map[string]string{
			"health":    "GET /health",
			"mcp":       "POST /api/mcp",
			"message":   "POST /api/message",
			"platforms": "GET /api/platforms",
		},
	})
}

func (s *Server) handlePlatforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"whatsapp": map[string]bool{"enabled": s.cfg.WhatsApp.Enabled},
		"telegram": map[string]bool{"enabled": s.cfg.Telegram.Enabled},
		"slack":    map[string]bool{"enabled": s.cfg.Slack.Enabled},
		"teams":    map[string]bool{"enabled": s.cfg.Teams.Enabled},
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Platform string `json:"platform"`
		ChatID   string `json:"chatId"`
		Text     string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if body.Platform == "" || body.ChatID == "" || body.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "platform, chatId and text are required"})
		return
	}

	platform := bus.Platform(body.Platform)
	if !platform.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown platform %q", body.Platform)})
		return
	}

	if err := s.router.InjectMessage(platform, body.ChatID, body.Text); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accepted": true,
		"platform": body.Platform,
		"chatId":   body.ChatID,
	})
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Method  string                 `json:"method"`
		Params  map[string]interface{} `json:"params"`
		Context map[string]string      `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if body.Method == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "method is required"})
		return
	}
	if s.client == nil || !s.client.Connected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "MCP client not configured"})
		return
	}

	resp, err := s.client.Request(r.Context(), mcp.Request{
		Method:  body.Method,
		Params:  body.Params,
		Context: body.Context,
	})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.API.AuthEnabled {
		if !tokenMatches(r.URL.Query().Get("token"), s.cfg.API.SecretKey) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
	}
	s.hub.handleWebSocket(w, r)
}

func (s *Server) serveFrontend(w http.ResponseWriter, r *http.Request) {
	sub, err := fs.Sub(frontendFS, "frontend")
	if err != nil {
		http.Error(w, "frontend unavailable", http.StatusInternalServerError)
		return
	}
	if r.URL.Path != "/" {
		if _, err := fs.Stat(sub, strings.TrimPrefix(r.URL.Path, "/")); err != nil {
			// SPA fallback: unknown paths get index.html.
			r.URL.Path = "/"
		}
	}
	http.FileServer(http.FS(sub)).ServeHTTP(w, r)
}

// requireAuth enforces the bearer secret on the /api surface when auth is
// enabled.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.API.AuthEnabled {
			if !tokenMatches(extractToken(r), s.cfg.API.SecretKey) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// tokenMatches compares a presented token against the secret in constant
// time, so the bearer check leaks nothing about how much of it matched.
func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.DebugCF("api", "Request handled", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
