// Package api serves the agent over HTTP: a native conversation
// endpoint, an Ollama-compatible facade for Home Assistant's Ollama
// integration, and diagnostics, health, and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ianisms/ha.ollama.conv.tools/internal/agent"
	"github.com/ianisms/ha.ollama.conv.tools/internal/buildinfo"
	"github.com/ianisms/ha.ollama.conv.tools/internal/connwatch"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Conversation is the agent surface the API needs. *agent.Agent
// satisfies it.
type Conversation interface {
	Respond(ctx context.Context, conversationID, text string) agent.Result
	Diagnostics(ctx context.Context) agent.Diagnostics
	Model() string
}

// ServiceStatus reports watched dependencies. *connwatch.Manager
// satisfies it.
type ServiceStatus interface {
	Status() map[string]connwatch.ServiceStatus
}

// Middleware wraps a handler; metrics.Metrics.Track is one.
type Middleware func(http.Handler) http.Handler

// Config holds the server's collaborators. Only Agent is required.
type Config struct {
	Address  string
	Port     int
	Agent    Conversation
	Services ServiceStatus
	Auth     *Authenticator
	Metrics  http.Handler
	MCP      http.Handler
	Track    Middleware
	Logger   *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}
}

// Handler returns the full routing tree with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Native endpoints, behind auth when configured.
	mux.Handle("POST /v1/conversation", s.protect(http.HandlerFunc(s.handleConversation)))
	mux.Handle("GET /v1/diagnostics", s.protect(http.HandlerFunc(s.handleDiagnostics)))
	if s.cfg.MCP != nil {
		mux.Handle("/mcp", s.protect(s.cfg.MCP))
	}

	// Home Assistant's Ollama integration cannot send bearer tokens.
	s.registerOllamaRoutes(mux)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.cfg.Metrics != nil {
		mux.Handle("GET /metrics", s.cfg.Metrics)
	}
	mux.HandleFunc("HEAD /{$}", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /{$}", s.handleRoot)

	var h http.Handler = mux
	if s.cfg.Track != nil {
		h = s.cfg.Track(h)
	}
	return s.withLogging(h)
}

// Start begins serving HTTP requests. It blocks until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // turns can run long
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Port, "auth", s.cfg.Auth != nil)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) protect(h http.Handler) http.Handler {
	if s.cfg.Auth == nil {
		return h
	}
	return s.cfg.Auth.Middleware(h)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		level := slog.LevelDebug
		if r.URL.Path != "/health" && r.URL.Path != "/metrics" {
			level = slog.LevelInfo
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}

// statusWriter records the response status for logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func errorJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "tooledca",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string                             `json:"status"`
	Uptime   string                             `json:"uptime"`
	Services map[string]connwatch.ServiceStatus `json:"services,omitempty"`
}

// handleHealth reports 503 when any watched service is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Uptime: buildinfo.Uptime().String()}
	code := http.StatusOK
	if s.cfg.Services != nil {
		resp.Services = s.cfg.Services.Status()
		for _, st := range resp.Services {
			if !st.Ready {
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
	}
	writeJSON(w, code, resp, s.logger)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Agent.Diagnostics(r.Context()), s.logger)
}

// ConversationRequest is the body of POST /v1/conversation.
type ConversationRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ConversationResponse is the answer to a conversation turn. Speech is
// what a voice pipeline should say; Text is the model's raw answer.
type ConversationResponse struct {
	ConversationID string   `json:"conversation_id"`
	Model          string   `json:"model"`
	Speech         string   `json:"speech"`
	Text           string   `json:"text,omitempty"`
	Tools          []string `json:"tools,omitempty"`
	Failed         bool     `json:"failed"`
	DurationMS     int64    `json:"duration_ms"`
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	if err := decodeBody(w, r, &req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		errorJSON(w, http.StatusBadRequest, "text is required")
		return
	}

	res := s.cfg.Agent.Respond(r.Context(), req.ConversationID, req.Text)
	resp := ConversationResponse{
		ConversationID: res.ConversationID,
		Model:          res.Model,
		Speech:         res.Speech,
		Failed:         res.Failed,
		DurationMS:     res.Duration.Milliseconds(),
	}
	if !res.Failed {
		resp.Text = res.Text
	}
	for _, t := range res.Tools {
		resp.Tools = append(resp.Tools, t.Name)
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}
