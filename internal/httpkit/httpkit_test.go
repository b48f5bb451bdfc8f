package httpkit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/ianisms/ha.ollama.conv.tools/internal/buildinfo"
)

func TestNewClient_Timeouts(t *testing.T) {
	tests := []struct {
		name string
		opts []ClientOption
		want time.Duration
	}{
		{"default", nil, 30 * time.Second},
		{"custom", []ClientOption{WithTimeout(5 * time.Second)}, 5 * time.Second},
		{"disabled", []ClientOption{WithTimeout(0)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewClient(tt.opts...).Timeout; got != tt.want {
				t.Errorf("Timeout = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		opts   []ClientOption
		header string
		want   string
	}{
		{"default", nil, "", buildinfo.UserAgent()},
		{"override", []ClientOption{WithUserAgent("TestBot/1.0")}, "", "TestBot/1.0"},
		{"request header kept", nil, "Custom/2.0", "Custom/2.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			if tt.header != "" {
				req.Header.Set("User-Agent", tt.header)
			}
			resp, err := NewClient(tt.opts...).Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if string(body) != tt.want {
				t.Errorf("User-Agent = %q, want %q", body, tt.want)
			}
		})
	}
}

func TestReadErrorBody(t *testing.T) {
	body := io.NopCloser(strings.NewReader("model 'nope' not found, try pulling it first"))
	if got := ReadErrorBody(body, 11); got != "model 'nope" {
		t.Errorf("ReadErrorBody() = %q, want %q", got, "model 'nope")
	}
	if got := ReadErrorBody(nil, 10); got != "" {
		t.Errorf("ReadErrorBody(nil) = %q, want empty", got)
	}
}

// flakyRoundTripper fails with a dial error a fixed number of times.
type flakyRoundTripper struct {
	failures int
	calls    int
	err      error
}

func (f *flakyRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}, nil
}

func dialErr(errno syscall.Errno) error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: &net.OpError{Op: "connect", Err: errno}}
}

func newRetry(base http.RoundTripper, count int, delay time.Duration) *retryTransport {
	return &retryTransport{base: base, count: count, delay: delay, logger: slog.Default()}
}

func TestRetryTransport(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		count     int
		wantCalls int
		wantErr   bool
	}{
		{"success first try", 0, nil, 2, 1, false},
		{"recovers after refused", 1, dialErr(syscall.ECONNREFUSED), 2, 2, false},
		{"exhausts retries", 10, dialErr(syscall.EHOSTUNREACH), 2, 3, true},
		{"non-dial error not retried", 10, errors.New("tls: bad certificate"), 2, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &flakyRoundTripper{failures: tt.failures, err: tt.err}
			req, _ := http.NewRequest(http.MethodGet, "http://ollama.local/api/version", nil)

			_, err := newRetry(ft, tt.count, time.Millisecond).RoundTrip(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if ft.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", ft.calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryTransport_RespectsContext(t *testing.T) {
	ft := &flakyRoundTripper{failures: 10, err: dialErr(syscall.ENETUNREACH)}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://ollama.local/", nil)
	_, err := newRetry(ft, 5, 5*time.Second).RoundTrip(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestRetryTransport_BodyWithoutGetBody(t *testing.T) {
	ft := &flakyRoundTripper{failures: 10, err: dialErr(syscall.ECONNREFUSED)}
	req, _ := http.NewRequest(http.MethodPost, "http://ollama.local/api/generate", io.NopCloser(strings.NewReader("{}")))
	req.GetBody = nil

	if _, err := newRetry(ft, 3, time.Millisecond).RoundTrip(req); err == nil {
		t.Fatal("expected error")
	}
	if ft.calls != 1 {
		t.Errorf("calls = %d, want 1 (body cannot be rewound)", ft.calls)
	}
}

func TestIsDialError(t *testing.T) {
	if !IsDialError(dialErr(syscall.ECONNREFUSED)) {
		t.Error("ECONNREFUSED should be a dial error")
	}
	if IsDialError(dialErr(syscall.ECONNRESET)) {
		t.Error("ECONNRESET should not be a dial error")
	}
	if IsDialError(nil) {
		t.Error("nil should not be a dial error")
	}
}
