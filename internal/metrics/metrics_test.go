package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ianisms/ha.ollama.conv.tools/internal/agent"
)

type fakeHistory struct{ size, convs int }

func (f fakeHistory) Size() int          { return f.size }
func (f fakeHistory) Conversations() int { return f.convs }

func TestObserveTurn(t *testing.T) {
	m := New(fakeHistory{size: 12, convs: 3})

	m.ObserveTurn(t.Context(), agent.TurnStats{
		Model:    "llama3.2",
		Duration: 2 * time.Second,
		Success:  true,
		Tools: []agent.ToolOutcome{
			{Name: "get_weather", Found: true, Success: true, Duration: 50 * time.Millisecond},
			{Name: "get_weather", Found: true, Success: false},
			{Name: "nope", Found: false},
		},
	})
	m.ObserveTurn(t.Context(), agent.TurnStats{Model: "llama3.2", Success: false})

	tests := []struct {
		got  float64
		want float64
		name string
	}{
		{testutil.ToFloat64(m.turns.WithLabelValues("llama3.2", "ok")), 1, "turns ok"},
		{testutil.ToFloat64(m.turns.WithLabelValues("llama3.2", "error")), 1, "turns error"},
		{testutil.ToFloat64(m.toolCalls.WithLabelValues("get_weather", "ok")), 1, "weather ok"},
		{testutil.ToFloat64(m.toolCalls.WithLabelValues("get_weather", "error")), 1, "weather error"},
		{testutil.ToFloat64(m.toolCalls.WithLabelValues("nope", "not_found")), 1, "not found"},
		{testutil.ToFloat64(m.history), 12, "history items"},
		{testutil.ToFloat64(m.conversation), 3, "conversations"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if n := testutil.CollectAndCount(m.toolDuration); n != 1 {
		t.Errorf("tool duration series = %d, want 1 (not-found calls are not timed)", n)
	}
}

func TestHandlerAndTrack(t *testing.T) {
	m := New(nil)

	var during float64
	h := m.Track(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = testutil.ToFloat64(m.inFlight)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	if during != 1 || testutil.ToFloat64(m.inFlight) != 0 {
		t.Errorf("in flight during = %v, after = %v", during, testutil.ToFloat64(m.inFlight))
	}

	m.ObserveTurn(t.Context(), agent.TurnStats{Model: "mistral", Success: true})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`tooledca_turns_total{model="mistral",outcome="ok"} 1`,
		"tooledca_history_items 0",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
