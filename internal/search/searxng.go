package search

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SearXNG queries a self-hosted SearXNG instance. The instance must
// have the json output format enabled in its settings.
type SearXNG struct {
	endpoint string
	client   *http.Client
}

// NewSearXNG creates a provider for the instance rooted at baseURL,
// e.g. "http://searxng.local:8080".
func NewSearXNG(baseURL string, logger *slog.Logger) *SearXNG {
	return &SearXNG{
		endpoint: strings.TrimRight(baseURL, "/") + "/search",
		client:   newHTTPClient(15*time.Second, logger),
	}
}

func (s *SearXNG) Name() string { return "searxng" }

func (s *SearXNG) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	q := url.Values{"q": {query}, "format": {"json"}}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}

	var body struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := getJSON(ctx, s.client, s.Name(), s.endpoint+"?"+q.Encode(), &body); err != nil {
		return nil, err
	}

	limit := opts.Count
	if limit <= 0 {
		limit = 5
	}
	var results []Result
	for _, r := range body.Results[:min(limit, len(body.Results))] {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return results, nil
}
