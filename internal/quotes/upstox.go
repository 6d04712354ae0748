package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"kite-gtt/internal/errors"
	"kite-gtt/internal/logging"
	"kite-gtt/internal/models"
)

const (
	upstoxQuotesPath = "/v2/market-quote/quotes"
	// upstoxInvalidToken is returned with HTTP 401 when the access token has expired.
	upstoxInvalidToken = "UDAPI100050"
)

// UpstoxProvider fetches full market quotes from the Upstox v2 API.
type UpstoxProvider struct {
	client   *resty.Client
	resolver *InstrumentResolver
	tokens   TokenSource
	logger   zerolog.Logger

	mu        sync.Mutex
	bySegment map[string]string // "NSE_EQ:INFY" -> "NSE_EQ|INE009A01021"
}

type upstoxQuote struct {
	Symbol          string  `json:"symbol"`
	InstrumentToken string  `json:"instrument_token"`
	LastPrice       float64 `json:"last_price"`
}

type upstoxError struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

type upstoxResponse struct {
	Status string                 `json:"status"`
	Data   map[string]upstoxQuote `json:"data"`
	Errors []upstoxError          `json:"errors"`
}

// NewUpstoxProvider creates a provider against baseURL.
func NewUpstoxProvider(baseURL string, timeout time.Duration, resolver *InstrumentResolver, tokens TokenSource, logger zerolog.Logger) *UpstoxProvider {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")

	return &UpstoxProvider{
		client:    client,
		resolver:  resolver,
		tokens:    tokens,
		logger:    logging.WithOperation(logger, "upstox"),
		bySegment: make(map[string]string),
	}
}

// Name implements Provider.
func (p *UpstoxProvider) Name() string { return "upstox" }

// InstrumentKey implements Provider.
func (p *UpstoxProvider) InstrumentKey(exchange models.Exchange, symbol string) (string, error) {
	key, err := p.resolver.Key(exchange, symbol)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.bySegment[exchange.Segment()+":"+models.NormalizeSymbol(symbol)] = key
	p.mu.Unlock()
	return key, nil
}

// BatchQuote implements Provider. An expired token is refreshed once and the
// batch retried.
func (p *UpstoxProvider) BatchQuote(ctx context.Context, keys []string) (map[string]float64, error) {
	if len(keys) == 0 {
		return map[string]float64{}, nil
	}

	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "upstox token")
	}

	resp, err := p.fetch(ctx, token, keys)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() == http.StatusUnauthorized && hasErrorCode(resp.Body(), upstoxInvalidToken) {
		p.logger.Info().Msg("Invalid Upstox token detected, refreshing")
		token, err = p.tokens.Refresh(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "refreshing upstox token")
		}
		resp, err = p.fetch(ctx, token, keys)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("upstox API error %d: %s", resp.StatusCode(), resp.String())
	}

	var body upstoxResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("failed to parse upstox quotes: %w", err)
	}

	requested := make(map[string]bool, len(keys))
	for _, k := range keys {
		requested[k] = true
	}

	out := make(map[string]float64, len(body.Data))
	p.mu.Lock()
	defer p.mu.Unlock()
	for dataKey, q := range body.Data {
		key := q.InstrumentToken
		if !requested[key] {
			key = p.bySegment[dataKey]
		}
		if !requested[key] {
			p.logger.Debug().Str("key", dataKey).Msg("Unrequested instrument in response")
			continue
		}
		out[key] = q.LastPrice
	}
	return out, nil
}

func (p *UpstoxProvider) fetch(ctx context.Context, token string, keys []string) (*resty.Response, error) {
	start := time.Now()
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParam("instrument_key", strings.Join(keys, ",")).
		Get(upstoxQuotesPath)
	logging.LogAPICall(p.logger, http.MethodGet, upstoxQuotesPath, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch upstox quotes: %w", err)
	}
	return resp, nil
}

func hasErrorCode(body []byte, code string) bool {
	var parsed upstoxResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false
	}
	for _, e := range parsed.Errors {
		if e.ErrorCode == code {
			return true
		}
	}
	return false
}

var _ Provider = (*UpstoxProvider)(nil)
