package search

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultDuckDuckGoURL is the DuckDuckGo Instant Answer endpoint.
const DefaultDuckDuckGoURL = "https://api.duckduckgo.com/"

// DuckDuckGo implements the Provider interface on the keyless Instant
// Answer API. It returns the abstract, the direct answer, and related
// topics; it is not a full web index.
type DuckDuckGo struct {
	baseURL    string
	httpClient *http.Client
}

// NewDuckDuckGo creates a DuckDuckGo provider. An empty baseURL uses
// DefaultDuckDuckGoURL.
func NewDuckDuckGo(baseURL string, logger *slog.Logger) *DuckDuckGo {
	if baseURL == "" {
		baseURL = DefaultDuckDuckGoURL
	}
	return &DuckDuckGo{
		baseURL:    baseURL,
		httpClient: newHTTPClient(10*time.Second, logger),
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Answer        string     `json:"Answer"`
	Definition    string     `json:"Definition"`
	DefinitionURL string     `json:"DefinitionURL"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

// ddgTopic is either a single topic (Text, FirstURL) or a named group
// holding nested Topics.
type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Name     string     `json:"Name"`
	Topics   []ddgTopic `json:"Topics"`
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
	}
	if opts.Language != "" {
		params.Set("kl", opts.Language)
	}

	count := opts.Count
	if count <= 0 {
		count = 3
	}

	var dr ddgResponse
	if err := getJSON(ctx, d.httpClient, d.Name(), d.baseURL+"?"+params.Encode(), &dr); err != nil {
		return nil, err
	}
	return collectResults(dr, count), nil
}

func collectResults(dr ddgResponse, count int) []Result {
	var results []Result
	add := func(r Result) bool {
		if len(results) >= count {
			return false
		}
		results = append(results, r)
		return true
	}

	if dr.Answer != "" {
		add(Result{Title: "Answer", Snippet: dr.Answer})
	}
	if dr.AbstractText != "" {
		add(Result{Title: dr.Heading, URL: dr.AbstractURL, Snippet: dr.AbstractText})
	}
	if dr.Definition != "" {
		add(Result{Title: "Definition", URL: dr.DefinitionURL, Snippet: dr.Definition})
	}

	for _, t := range flattenTopics(dr.RelatedTopics) {
		title, snippet := t.Text, ""
		if head, rest, ok := strings.Cut(t.Text, " - "); ok {
			title, snippet = head, rest
		}
		if !add(Result{Title: title, URL: t.FirstURL, Snippet: snippet}) {
			break
		}
	}
	return results
}

func flattenTopics(topics []ddgTopic) []ddgTopic {
	var out []ddgTopic
	for _, t := range topics {
		if len(t.Topics) > 0 {
			out = append(out, flattenTopics(t.Topics)...)
			continue
		}
		if t.Text != "" {
			out = append(out, t)
		}
	}
	return out
}
