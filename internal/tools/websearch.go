package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/ianisms/ha.ollama.conv.tools/internal/search"
)

// Searcher runs web searches. search.Manager satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// WebSearchTool looks up general information on the web.
type WebSearchTool struct {
	searcher Searcher
	language string
}

// NewWebSearchTool creates the web_search tool.
func NewWebSearchTool(searcher Searcher, language string) *WebSearchTool {
	return &WebSearchTool{searcher: searcher, language: language}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information about a topic"
}

func (t *WebSearchTool) Parameters() Schema {
	return Schema{
		"query": {
			Type:        "string",
			Description: "What to search for",
			Required:    true,
		},
		"num_results": {
			Type:        "integer",
			Description: "Number of results to return (1-10)",
			Default:     3,
		},
	}
}

type webSearchArgs struct {
	Query      string `arg:"query"`
	NumResults int    `arg:"num_results"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]string) (string, error) {
	if t.searcher == nil {
		return "", errors.New("web search is not configured")
	}
	var a webSearchArgs
	if err := decodeArgs(t.Name(), args, &a); err != nil {
		return "", err
	}
	query := strings.TrimSpace(a.Query)
	if query == "" {
		return "", &ArgumentError{Tool: t.Name(), Arg: "query"}
	}

	n := a.NumResults
	switch {
	case n <= 0:
		n = 3
	case n > 10:
		n = 10
	}

	results, err := t.searcher.Search(ctx, query, search.Options{Count: n, Language: t.language})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No relevant information found", nil
	}
	return search.FormatResults(results), nil
}
