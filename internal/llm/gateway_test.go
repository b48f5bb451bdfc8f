package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ollama/ollama/api"
)

// fakeOllama serves the three endpoints the gateway uses.
type fakeOllama struct {
	versionStatus  int
	tagsBody       string
	generateStatus int
	generateBody   string

	versionCalls atomic.Int32
	lastRequest  api.GenerateRequest
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, r *http.Request) {
		f.versionCalls.Add(1)
		if f.versionStatus != 0 && f.versionStatus != http.StatusOK {
			w.WriteHeader(f.versionStatus)
			return
		}
		w.Write([]byte(`{"version":"0.12.6"}`))
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(f.tagsBody))
	})
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&f.lastRequest); err != nil {
			t.Errorf("decode generate request: %v", err)
		}
		if f.generateStatus != 0 {
			w.WriteHeader(f.generateStatus)
		}
		w.Write([]byte(f.generateBody))
	})
	return mux
}

func newTestGateway(t *testing.T, f *fakeOllama) (*Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewGateway(Config{BaseURL: srv.URL, Model: "llama3.2"}, nil), srv
}

func TestGateway_TestConnection(t *testing.T) {
	f := &fakeOllama{}
	g, _ := newTestGateway(t, f)

	if g.Available() {
		t.Fatal("gateway should start unavailable")
	}
	if err := g.TestConnection(t.Context()); err != nil {
		t.Fatalf("TestConnection() error = %v", err)
	}
	if !g.Available() || g.Version() != "0.12.6" {
		t.Errorf("Available = %v, Version = %q", g.Available(), g.Version())
	}

	f.versionStatus = http.StatusServiceUnavailable
	err := g.TestConnection(t.Context())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want ConnectionError", err)
	}
	if g.Available() {
		t.Error("failed probe should clear availability")
	}
}

func TestGateway_TestConnectionUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g := NewGateway(Config{BaseURL: url, HealthCheckTimeout: time.Second}, nil)
	var connErr *ConnectionError
	if err := g.TestConnection(t.Context()); !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want ConnectionError", err)
	}
}

func TestGateway_ListModels(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		want      []string
		wantProto bool
	}{
		{"models", `{"models":[{"name":"llama3.2:latest","model":"llama3.2:latest"},{"name":"mistral:7b"}]}`, []string{"llama3.2:latest", "mistral:7b"}, false},
		{"empty list", `{"models":[]}`, []string{}, false},
		{"missing field", `{"items":[]}`, nil, true},
		{"not an object", `["llama3.2"]`, nil, true},
		{"wrong field shape", `{"models":"llama3.2"}`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGateway(t, &fakeOllama{tagsBody: tt.body})
			got, err := g.ListModels(t.Context())
			if tt.wantProto {
				var protoErr *ProtocolError
				if !errors.As(err, &protoErr) {
					t.Fatalf("err = %v, want ProtocolError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ListModels() error = %v", err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ListModels() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGateway_Generate(t *testing.T) {
	f := &fakeOllama{generateBody: `{"model":"llama3.2","response":"It is sunny.","done":true}`}
	g, _ := newTestGateway(t, f)

	got, err := g.Generate(t.Context(), "weather?", "be brief", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "It is sunny." {
		t.Errorf("Generate() = %q", got)
	}
	if f.versionCalls.Load() != 1 {
		t.Errorf("version probes = %d, want 1 (lazy probe)", f.versionCalls.Load())
	}

	req := f.lastRequest
	if req.Model != "llama3.2" || req.Prompt != "weather?" || req.System != "be brief" {
		t.Errorf("request = %+v", req)
	}
	if req.Stream == nil || *req.Stream {
		t.Error("request should set stream to false")
	}

	if _, err := g.Generate(t.Context(), "again", "", "mistral"); err != nil {
		t.Fatal(err)
	}
	if f.versionCalls.Load() != 1 {
		t.Error("available gateway should not re-probe")
	}
	if f.lastRequest.Model != "mistral" {
		t.Errorf("model override = %q, want mistral", f.lastRequest.Model)
	}
}

func TestGateway_GenerateEmptyResponse(t *testing.T) {
	g, _ := newTestGateway(t, &fakeOllama{generateBody: `{"done":true}`})
	got, err := g.Generate(t.Context(), "x", "", "")
	if err != nil || got != "" {
		t.Errorf("Generate() = %q, %v; want empty, nil", got, err)
	}
}

func TestGateway_GenerateErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		g, _ := newTestGateway(t, &fakeOllama{
			generateStatus: http.StatusInternalServerError,
			generateBody:   `{"error":"model crashed"}`,
		})
		_, err := g.Generate(t.Context(), "x", "", "")
		var protoErr *ProtocolError
		if !errors.As(err, &protoErr) {
			t.Fatalf("err = %v, want ProtocolError", err)
		}
		if protoErr.StatusCode != 500 || !strings.Contains(protoErr.Body, "model crashed") {
			t.Errorf("ProtocolError = %+v", protoErr)
		}
	})

	t.Run("undecodable body", func(t *testing.T) {
		g, _ := newTestGateway(t, &fakeOllama{generateBody: `<html>`})
		_, err := g.Generate(t.Context(), "x", "", "")
		var protoErr *ProtocolError
		if !errors.As(err, &protoErr) {
			t.Fatalf("err = %v, want ProtocolError", err)
		}
	})

	t.Run("probe fails", func(t *testing.T) {
		g, _ := newTestGateway(t, &fakeOllama{versionStatus: http.StatusBadGateway})
		_, err := g.Generate(t.Context(), "x", "", "")
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("err = %v, want ConnectionError", err)
		}
	})

	t.Run("server goes away", func(t *testing.T) {
		g, srv := newTestGateway(t, &fakeOllama{generateBody: `{"response":"ok"}`})
		if err := g.TestConnection(t.Context()); err != nil {
			t.Fatal(err)
		}
		srv.Close()
		_, err := g.Generate(t.Context(), "x", "", "")
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("err = %v, want ConnectionError", err)
		}
		if g.Available() {
			t.Error("transport failure should clear availability")
		}
	})

	t.Run("deadline", func(t *testing.T) {
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/version" {
				w.Write([]byte(`{"version":"x"}`))
				return
			}
			<-r.Context().Done()
		}))
		defer slow.Close()

		g := NewGateway(Config{BaseURL: slow.URL, RequestTimeout: 50 * time.Millisecond}, nil)
		_, err := g.Generate(context.Background(), "x", "", "")
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
	})
}

func TestGateway_HostPort(t *testing.T) {
	tests := []struct {
		url  string
		host string
		port int
	}{
		{"http://ollama.local:11434", "ollama.local", 11434},
		{"https://llm.example.com", "llm.example.com", 443},
		{"http://10.0.0.5", "10.0.0.5", 80},
	}
	for _, tt := range tests {
		host, port := NewGateway(Config{BaseURL: tt.url}, nil).HostPort()
		if host != tt.host || port != tt.port {
			t.Errorf("HostPort(%s) = %s, %d; want %s, %d", tt.url, host, port, tt.host, tt.port)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ConnectionError{Op: "version", Err: errors.New("refused")}, "ollama version: cannot connect: refused"},
		{&ProtocolError{Op: "generate", StatusCode: 500, Body: "boom"}, "ollama generate: status 500: boom"},
		{&ProtocolError{Op: "generate", StatusCode: 404}, "ollama generate: status 404"},
		{&ProtocolError{Op: "tags", Err: errors.New("bad")}, "ollama tags: bad"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
