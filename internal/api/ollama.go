package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"

	"github.com/ianisms/ha.ollama.conv.tools/internal/agent"
	"github.com/ianisms/ha.ollama.conv.tools/internal/buildinfo"
)

const (
	// FacadeModel is the model name the facade advertises.
	FacadeModel = "tooledca:latest"

	// ConversationHeader lets facade clients pin a conversation.
	ConversationHeader = "X-Conversation-Id"

	// facadeConversation is used when a client sends no header. Home
	// Assistant replays its own transcript on every call, so one shared
	// conversation is enough.
	facadeConversation = "ollama"

	// facadeVersion is the Ollama API version the facade claims.
	facadeVersion = "0.12.6"
)

func (s *Server) registerOllamaRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", s.handleOllamaChat)
	mux.HandleFunc("POST /api/generate", s.handleOllamaGenerate)
	mux.HandleFunc("GET /api/tags", s.handleOllamaTags)
	mux.HandleFunc("GET /api/version", s.handleOllamaVersion)
}

func facadeConversationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(ConversationHeader)); id != "" {
		return id
	}
	return facadeConversation
}

// lastUserMessage returns the newest user message. Home Assistant sends
// its own system prompt and tool list; both are ignored because the
// agent brings its own.
func lastUserMessage(msgs []ollama.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" && strings.TrimSpace(msgs[i].Content) != "" {
			return msgs[i].Content, true
		}
	}
	return "", false
}

// streaming reports the effective stream flag; Ollama defaults to true.
func streaming(flag *bool) bool {
	return flag == nil || *flag
}

func (s *Server) handleOllamaChat(w http.ResponseWriter, r *http.Request) {
	var req ollama.ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text, ok := lastUserMessage(req.Messages)
	if !ok {
		errorJSON(w, http.StatusBadRequest, "no user message")
		return
	}
	if len(req.Tools) > 0 {
		s.logger.Debug("ignoring client tools", "count", len(req.Tools))
	}

	s.logger.Info("ollama chat request received",
		"remote_addr", r.RemoteAddr,
		"user_agent", r.Header.Get("User-Agent"),
		"model", req.Model,
		"messages", len(req.Messages),
		"stream", streaming(req.Stream),
	)

	res := s.cfg.Agent.Respond(r.Context(), facadeConversationID(r), text)
	msg := ollama.Message{Role: "assistant", Content: res.Speech}
	done := ollama.ChatResponse{
		Model:      FacadeModel,
		CreatedAt:  time.Now().UTC(),
		Done:       true,
		DoneReason: doneReason(res),
		Metrics:    ollama.Metrics{TotalDuration: res.Duration},
	}

	if !streaming(req.Stream) {
		done.Message = msg
		writeJSON(w, http.StatusOK, done, s.logger)
		return
	}

	// The answer is complete before the first byte goes out, so a
	// stream is one content chunk followed by the done marker.
	done.Message = ollama.Message{Role: "assistant"}
	s.writeNDJSON(w,
		ollama.ChatResponse{Model: FacadeModel, CreatedAt: time.Now().UTC(), Message: msg},
		done,
	)
}

func (s *Server) handleOllamaGenerate(w http.ResponseWriter, r *http.Request) {
	var req ollama.GenerateRequest
	if err := decodeBody(w, r, &req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		// Ollama treats an empty prompt as a model load request.
		writeJSON(w, http.StatusOK, ollama.GenerateResponse{
			Model:      FacadeModel,
			CreatedAt:  time.Now().UTC(),
			Done:       true,
			DoneReason: "load",
		}, s.logger)
		return
	}

	res := s.cfg.Agent.Respond(r.Context(), facadeConversationID(r), req.Prompt)
	done := ollama.GenerateResponse{
		Model:      FacadeModel,
		CreatedAt:  time.Now().UTC(),
		Done:       true,
		DoneReason: doneReason(res),
		Metrics:    ollama.Metrics{TotalDuration: res.Duration},
	}

	if !streaming(req.Stream) {
		done.Response = res.Speech
		writeJSON(w, http.StatusOK, done, s.logger)
		return
	}
	s.writeNDJSON(w,
		ollama.GenerateResponse{Model: FacadeModel, CreatedAt: time.Now().UTC(), Response: res.Speech},
		done,
	)
}

func doneReason(res agent.Result) string {
	if res.Failed {
		return "error"
	}
	return "stop"
}

func (s *Server) writeNDJSON(w http.ResponseWriter, chunks ...any) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for _, c := range chunks {
		if err := enc.Encode(c); err != nil {
			s.logger.Debug("failed to write stream chunk", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleOllamaTags advertises the agent as a single model.
func (s *Server) handleOllamaTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ollama.ListResponse{
		Models: []ollama.ListModelResponse{{
			Name:       FacadeModel,
			Model:      FacadeModel,
			ModifiedAt: buildinfo.StartTime(),
			Digest:     "tooledca-" + buildinfo.Version,
			Details: ollama.ModelDetails{
				Format:        "tooledca",
				Family:        s.cfg.Agent.Model(),
				Families:      []string{s.cfg.Agent.Model()},
				ParameterSize: "agent",
			},
		}},
	}, s.logger)
}

func (s *Server) handleOllamaVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": facadeVersion}, s.logger)
}
