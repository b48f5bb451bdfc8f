// Package search holds the web search back-ends behind the web_search
// tool. The keyless DuckDuckGo Instant Answer API is always available;
// a SearXNG instance can be added and made primary.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Result is one hit, already reduced to what the model needs.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Options narrow a query. Zero values leave the choice to the provider.
type Options struct {
	Count    int    `json:"count,omitempty"`
	Language string `json:"language,omitempty"` // ISO 639-1
}

// Provider is a search back-end.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager asks the primary provider first and falls back to the
// others, in registration order, when it fails or finds nothing.
type Manager struct {
	primary   string
	providers []Provider
	logger    *slog.Logger
}

// NewManager creates a manager whose primary provider is named primary.
func NewManager(primary string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{primary: primary, logger: logger}
}

// Register adds p. A provider with the same name replaces the old one.
func (m *Manager) Register(p Provider) {
	for i, existing := range m.providers {
		if existing.Name() == p.Name() {
			m.providers[i] = p
			return
		}
	}
	m.providers = append(m.providers, p)
}

// Providers returns provider names in the order they are tried.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for _, p := range m.ordered() {
		names = append(names, p.Name())
	}
	return names
}

func (m *Manager) ordered() []Provider {
	out := make([]Provider, 0, len(m.providers))
	for _, p := range m.providers {
		if p.Name() == m.primary {
			out = append(out, p)
		}
	}
	for _, p := range m.providers {
		if p.Name() != m.primary {
			out = append(out, p)
		}
	}
	return out
}

// Search runs query against each provider until one returns results.
// An empty result from every provider is not an error. If every
// provider fails, the errors are joined.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	providers := m.ordered()
	if len(providers) == 0 {
		return nil, errors.New("no search provider configured")
	}

	var errs []error
	for _, p := range providers {
		results, err := p.Search(ctx, query, opts)
		if err != nil {
			m.logger.Warn("search provider failed", "provider", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(results) > 0 {
			return results, nil
		}
		m.logger.Debug("search provider found nothing", "provider", p.Name(), "query", query)
	}
	if len(errs) == len(providers) {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}

// FormatResults renders results as a numbered list for the model.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	blocks := make([]string, 0, len(results))
	for i, r := range results {
		lines := []string{strconv.Itoa(i+1) + ". " + r.Title}
		if r.URL != "" {
			lines = append(lines, "   "+r.URL)
		}
		if r.Snippet != "" {
			lines = append(lines, "   "+r.Snippet)
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}
