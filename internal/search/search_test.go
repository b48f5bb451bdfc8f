package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type mockProvider struct {
	name    string
	results []Result
	err     error
	calls   int
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(_ context.Context, _ string, _ Options) ([]Result, error) {
	m.calls++
	return m.results, m.err
}

func TestManager_Search(t *testing.T) {
	hit := []Result{{Title: "Hit"}}
	boom := errors.New("boom")

	tests := []struct {
		name      string
		primary   *mockProvider
		fallback  *mockProvider
		wantTitle string
		wantErr   bool
		wantCalls int // fallback calls
	}{
		{
			name:      "primary answers",
			primary:   &mockProvider{name: "p", results: hit},
			fallback:  &mockProvider{name: "f", results: []Result{{Title: "Other"}}},
			wantTitle: "Hit",
		},
		{
			name:      "primary fails",
			primary:   &mockProvider{name: "p", err: boom},
			fallback:  &mockProvider{name: "f", results: hit},
			wantTitle: "Hit",
			wantCalls: 1,
		},
		{
			name:      "primary finds nothing",
			primary:   &mockProvider{name: "p"},
			fallback:  &mockProvider{name: "f", results: hit},
			wantTitle: "Hit",
			wantCalls: 1,
		},
		{
			name:      "nothing anywhere",
			primary:   &mockProvider{name: "p"},
			fallback:  &mockProvider{name: "f", err: boom},
			wantCalls: 1,
		},
		{
			name:      "all fail",
			primary:   &mockProvider{name: "p", err: boom},
			fallback:  &mockProvider{name: "f", err: boom},
			wantErr:   true,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Register the fallback first; the primary still goes first.
			mgr := NewManager("p", nil)
			mgr.Register(tt.fallback)
			mgr.Register(tt.primary)

			results, err := mgr.Search(t.Context(), "q", Options{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Search() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, boom) {
				t.Errorf("error %v does not wrap the provider error", err)
			}
			var title string
			if len(results) > 0 {
				title = results[0].Title
			}
			if title != tt.wantTitle {
				t.Errorf("first title = %q, want %q", title, tt.wantTitle)
			}
			if tt.primary.calls != 1 || tt.fallback.calls != tt.wantCalls {
				t.Errorf("calls primary=%d fallback=%d, want 1 and %d", tt.primary.calls, tt.fallback.calls, tt.wantCalls)
			}
		})
	}
}

func TestManager_Providers(t *testing.T) {
	mgr := NewManager("searxng", nil)
	if _, err := mgr.Search(t.Context(), "q", Options{}); err == nil {
		t.Error("Search with no providers should fail")
	}

	mgr.Register(&mockProvider{name: "duckduckgo"})
	mgr.Register(&mockProvider{name: "searxng"})
	mgr.Register(&mockProvider{name: "duckduckgo", results: []Result{{Title: "replaced"}}})

	if got := strings.Join(mgr.Providers(), ","); got != "searxng,duckduckgo" {
		t.Errorf("Providers() = %q, want searxng,duckduckgo", got)
	}
	results, err := mgr.Search(t.Context(), "q", Options{})
	if err != nil || len(results) != 1 || results[0].Title != "replaced" {
		t.Errorf("Search() = %+v, %v", results, err)
	}
}

func TestFormatResults(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		want    string
	}{
		{"empty", nil, "No results found."},
		{
			"full and partial",
			[]Result{
				{Title: "First", URL: "https://a.com", Snippet: "Snippet A"},
				{Title: "Answer", Snippet: "42"},
			},
			"1. First\n   https://a.com\n   Snippet A\n\n2. Answer\n   42",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatResults(tt.results); got != tt.want {
				t.Errorf("FormatResults() = %q, want %q", got, tt.want)
			}
		})
	}
}

const ddgBody = `{
  "Heading": "Golang",
  "AbstractText": "Go is a programming language.",
  "AbstractURL": "https://en.wikipedia.org/wiki/Go_(programming_language)",
  "Answer": "",
  "RelatedTopics": [
    {"Text": "Gopher - The Go mascot.", "FirstURL": "https://duckduckgo.com/Gopher"},
    {"Name": "See also", "Topics": [
      {"Text": "Rob Pike - Co-designer of Go.", "FirstURL": "https://duckduckgo.com/Rob_Pike"},
      {"Text": "", "FirstURL": "https://duckduckgo.com/empty"}
    ]},
    {"Text": "Plan 9", "FirstURL": "https://duckduckgo.com/Plan_9"}
  ]
}`

func TestDuckDuckGo_Search(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		if r.URL.Query().Get("format") != "json" {
			t.Errorf("format = %q, want json", r.URL.Query().Get("format"))
		}
		w.Header().Set("Content-Type", "application/x-javascript")
		w.Write([]byte(ddgBody))
	}))
	defer srv.Close()

	d := NewDuckDuckGo(srv.URL, nil)

	tests := []struct {
		count     int
		wantTitle []string
	}{
		{1, []string{"Golang"}},
		{3, []string{"Golang", "Gopher", "Rob Pike"}},
		{10, []string{"Golang", "Gopher", "Rob Pike", "Plan 9"}},
	}
	for _, tt := range tests {
		results, err := d.Search(t.Context(), "golang", Options{Count: tt.count})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		var titles []string
		for _, r := range results {
			titles = append(titles, r.Title)
		}
		if strings.Join(titles, "|") != strings.Join(tt.wantTitle, "|") {
			t.Errorf("count %d: titles = %v, want %v", tt.count, titles, tt.wantTitle)
		}
	}
	if gotQuery != "golang" {
		t.Errorf("query = %q, want golang", gotQuery)
	}

	results, _ := d.Search(t.Context(), "golang", Options{Count: 2})
	if results[1].Snippet != "The Go mascot." {
		t.Errorf("topic snippet = %q", results[1].Snippet)
	}
}

func TestDuckDuckGo_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewDuckDuckGo(srv.URL, nil).Search(t.Context(), "x", Options{})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v, want HTTP 429", err)
	}
}

func TestSearXNG_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("language") != "de" {
			t.Errorf("language = %q, want de", r.URL.Query().Get("language"))
		}
		w.Write([]byte(`{"results":[
			{"title":"A","url":"https://a.example","content":"alpha"},
			{"title":"B","url":"https://b.example","content":"beta"},
			{"title":"C","url":"https://c.example","content":"gamma"}
		]}`))
	}))
	defer srv.Close()

	results, err := NewSearXNG(srv.URL+"/", nil).Search(t.Context(), "q", Options{Count: 2, Language: "de"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 || results[1].Snippet != "beta" {
		t.Fatalf("unexpected results: %+v", results)
	}
}
