package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ianisms/ha.ollama.conv.tools/internal/httpkit"
)

func newHTTPClient(timeout time.Duration, logger *slog.Logger) *http.Client {
	return httpkit.NewClient(httpkit.WithTimeout(timeout), httpkit.WithLogger(logger))
}

// getJSON fetches reqURL and decodes the body into v. Errors carry the
// provider name so the manager's joined error reads well. The content
// type is not checked: DuckDuckGo serves JSON as application/x-javascript.
func getJSON(ctx context.Context, client *http.Client, provider, reqURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", provider, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", provider, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d: %s", provider, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode response: %w", provider, err)
	}
	return nil
}
