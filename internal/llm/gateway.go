// Package llm is the gateway to the Ollama model server. It probes
// availability, lists installed models, and issues single-shot,
// non-streaming generation requests.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/ianisms/ha.ollama.conv.tools/internal/config"
	"github.com/ianisms/ha.ollama.conv.tools/internal/httpkit"
)

// Defaults used when the corresponding Config field is zero.
const (
	DefaultBaseURL            = "http://localhost:11434"
	DefaultModel              = "llama2"
	DefaultRequestTimeout     = 30 * time.Second
	DefaultHealthCheckTimeout = 10 * time.Second
)

// Config configures a Gateway.
type Config struct {
	BaseURL            string
	Model              string
	RequestTimeout     time.Duration
	HealthCheckTimeout time.Duration
}

// Gateway talks to one Ollama server. It is safe for concurrent use.
type Gateway struct {
	baseURL        string
	model          string
	requestTimeout time.Duration
	healthTimeout  time.Duration
	httpClient     *http.Client
	logger         *slog.Logger

	available atomic.Bool

	mu      sync.RWMutex
	version string
}

// NewGateway creates a gateway. The HTTP client carries no overall
// timeout; each call bounds itself through its context instead.
func NewGateway(cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	return &Gateway{
		baseURL:        cfg.BaseURL,
		model:          cfg.Model,
		requestTimeout: cfg.RequestTimeout,
		healthTimeout:  cfg.HealthCheckTimeout,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// Available reports whether the last probe or request succeeded.
func (g *Gateway) Available() bool { return g.available.Load() }

// Model returns the default model.
func (g *Gateway) Model() string { return g.model }

// Endpoint returns the server base URL.
func (g *Gateway) Endpoint() string { return g.baseURL }

// Version returns the server version from the last successful probe.
func (g *Gateway) Version() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// HostPort splits the endpoint into host and port, filling in the
// scheme's default port when none is given.
func (g *Gateway) HostPort() (string, int) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return g.baseURL, 0
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		host = u.Host
		portStr = "80"
		if u.Scheme == "https" {
			portStr = "443"
		}
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// TestConnection probes GET /api/version. It marks the gateway
// available on success and unavailable on any failure.
func (g *Gateway) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.healthTimeout)
	defer cancel()

	resp, err := g.do(ctx, http.MethodGet, "/api/version", nil)
	if err != nil {
		g.available.Store(false)
		return &ConnectionError{Op: "version", Err: err}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		g.available.Store(false)
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return &ConnectionError{Op: "version", Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}

	var v struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err == nil {
		g.mu.Lock()
		g.version = v.Version
		g.mu.Unlock()
	}

	if !g.available.Swap(true) {
		g.logger.Info("ollama available", "endpoint", g.baseURL, "version", v.Version)
	}
	return nil
}

// Ping adapts TestConnection to connwatch.ProbeFunc.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.TestConnection(ctx)
}

// ListModels returns the names of the models installed on the server.
func (g *Gateway) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.requestTimeout)
	defer cancel()

	resp, err := g.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		g.available.Store(false)
		return nil, &ConnectionError{Op: "tags", Err: err}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, &ConnectionError{Op: "tags", Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &ProtocolError{Op: "tags", Err: fmt.Errorf("decode response: %w", err)}
	}
	modelsField, ok := raw["models"]
	if !ok {
		return nil, &ProtocolError{Op: "tags", Err: errors.New(`response has no "models" field`)}
	}

	var list api.ListResponse
	if err := json.Unmarshal(modelsField, &list.Models); err != nil {
		return nil, &ProtocolError{Op: "tags", Err: fmt.Errorf("decode models: %w", err)}
	}

	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		names = append(names, name)
	}
	return names, nil
}

// Generate sends one non-streaming generation request and returns the
// response text. An empty model uses the gateway default. An empty
// response is a valid result, not an error.
func (g *Gateway) Generate(ctx context.Context, prompt, system, model string) (string, error) {
	if !g.available.Load() {
		if err := g.TestConnection(ctx); err != nil {
			return "", err
		}
	}
	if model == "" {
		model = g.model
	}

	ctx, cancel := context.WithTimeout(ctx, g.requestTimeout)
	defer cancel()

	stream := false
	body, err := json.Marshal(api.GenerateRequest{
		Model:  model,
		Prompt: prompt,
		System: system,
		Stream: &stream,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	g.logger.Log(ctx, config.LevelTrace, "generate request",
		"model", model,
		"prompt", prompt,
		"system", system,
	)

	start := time.Now()
	resp, err := g.do(ctx, http.MethodPost, "/api/generate", body)
	if err != nil {
		g.available.Store(false)
		return "", &ConnectionError{Op: "generate", Err: err}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return "", &ProtocolError{
			Op:         "generate",
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, 2048),
		}
	}

	var out api.GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &ProtocolError{Op: "generate", Err: fmt.Errorf("decode response: %w", err)}
	}

	g.logger.Debug("generate complete",
		"model", model,
		"duration", time.Since(start),
		"response_len", len(out.Response),
		"eval_count", out.EvalCount,
	)
	g.logger.Log(ctx, config.LevelTrace, "generate response", "model", model, "response", out.Response)
	return out.Response, nil
}

func (g *Gateway) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(body))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, g.baseURL+path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return g.httpClient.Do(req)
}
