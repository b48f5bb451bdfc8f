package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ianisms/ha.ollama.conv.tools/internal/httpkit"
)

// DefaultAlphaVantageURL is the Alpha Vantage query endpoint.
const DefaultAlphaVantageURL = "https://www.alphavantage.co/query"

// ErrNoQuote is returned when the quote service has nothing for a symbol.
var ErrNoQuote = errors.New("no quote available")

// Quote is a current stock price.
type Quote struct {
	Symbol string
	Price  string
	Change string
}

// QuoteSource looks up stock quotes.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (*Quote, error)
}

// AlphaVantage fetches quotes from the Alpha Vantage GLOBAL_QUOTE API.
type AlphaVantage struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewAlphaVantage creates a quote source. An empty baseURL uses
// DefaultAlphaVantageURL.
func NewAlphaVantage(baseURL, apiKey string, logger *slog.Logger) *AlphaVantage {
	if baseURL == "" {
		baseURL = DefaultAlphaVantageURL
	}
	return &AlphaVantage{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10*time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

type globalQuoteResponse struct {
	GlobalQuote map[string]string `json:"Global Quote"`
	Note        string            `json:"Note"`
	Information string            `json:"Information"`
	Error       string            `json:"Error Message"`
}

// Quote implements QuoteSource.
func (a *AlphaVantage) Quote(ctx context.Context, symbol string) (*Quote, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)
	params.Set("apikey", a.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote service returned %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 256))
	}

	var body globalQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}

	switch {
	case body.Error != "":
		return nil, errors.New(body.Error)
	case body.Note != "":
		return nil, errors.New(body.Note)
	case body.Information != "":
		return nil, errors.New(body.Information)
	}

	price := body.GlobalQuote["05. price"]
	if price == "" {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoQuote)
	}
	q := &Quote{
		Symbol: body.GlobalQuote["01. symbol"],
		Price:  price,
		Change: body.GlobalQuote["09. change"],
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	return q, nil
}

// StockTool reports a stock price from a Home Assistant sensor or, by
// ticker symbol, from a quote service.
type StockTool struct {
	states StateReader
	quotes QuoteSource
}

// NewStockTool creates the get_stock_price tool. Either source may be
// nil; the tool reports an error when a call needs the missing one.
func NewStockTool(states StateReader, quotes QuoteSource) *StockTool {
	return &StockTool{states: states, quotes: quotes}
}

func (s *StockTool) Name() string { return "get_stock_price" }

func (s *StockTool) Description() string {
	return "Get the current price of a stock"
}

func (s *StockTool) Parameters() Schema {
	return Schema{
		"symbol": {
			Type:        "string",
			Description: "Ticker symbol, e.g. AAPL",
		},
		"entity_id": {
			Type:        "string",
			Description: "Home Assistant sensor holding the price, e.g. sensor.aapl_price",
		},
	}
}

type stockArgs struct {
	Symbol   string `arg:"symbol"`
	EntityID string `arg:"entity_id"`
}

func (s *StockTool) Execute(ctx context.Context, args map[string]string) (string, error) {
	var a stockArgs
	if err := decodeArgs(s.Name(), args, &a); err != nil {
		return "", err
	}

	if a.EntityID != "" {
		if s.states == nil {
			return "", errNoHomeAssistant
		}
		state, err := s.states.GetState(ctx, a.EntityID)
		if err != nil {
			return "", fmt.Errorf("could not read %s: %w", a.EntityID, err)
		}
		if !state.Available() {
			return "", fmt.Errorf("price for %s is %s", a.EntityID, orUnknown(state.State))
		}
		return "Current price: $" + state.State, nil
	}

	symbol := strings.ToUpper(strings.TrimSpace(a.Symbol))
	if symbol == "" {
		return "", &ArgumentError{Tool: s.Name(), Arg: "symbol", Reason: "either symbol or entity_id is required"}
	}
	if s.quotes == nil {
		return "", errors.New("no stock quote service is configured")
	}

	q, err := s.quotes.Quote(ctx, symbol)
	if err != nil {
		if errors.Is(err, ErrNoQuote) {
			return "", fmt.Errorf("could not find stock information for %s", symbol)
		}
		return "", err
	}
	out := fmt.Sprintf("%s: $%s", q.Symbol, q.Price)
	if q.Change != "" {
		out += fmt.Sprintf(" (Change: %s)", q.Change)
	}
	return out, nil
}
