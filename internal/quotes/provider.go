// Package quotes holds the last traded price cache and the quote providers
// that fill it.
package quotes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kite-gtt/internal/errors"
	"kite-gtt/internal/models"
)

// Provider fetches last traded prices in batches.
type Provider interface {
	// Name identifies the provider in logs and quote sources.
	Name() string
	// InstrumentKey maps an exchange/symbol pair to the provider's key.
	InstrumentKey(exchange models.Exchange, symbol string) (string, error)
	// BatchQuote returns last prices keyed by the instrument keys it was given.
	// Keys the provider has no price for are omitted.
	BatchQuote(ctx context.Context, keys []string) (map[string]float64, error)
}

// TokenSource supplies a bearer token and can replace it once the provider
// reports it as invalid.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticTokenSource serves a fixed token. Refresh re-reads the token through
// reload when set.
type StaticTokenSource struct {
	mu     sync.Mutex
	token  string
	reload func() (string, error)
}

// NewStaticTokenSource creates a token source for token. reload may be nil.
func NewStaticTokenSource(token string, reload func() (string, error)) *StaticTokenSource {
	return &StaticTokenSource{token: token, reload: reload}
}

// Token returns the current token.
func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", errors.ErrNotAuthenticated
	}
	return s.token, nil
}

// Refresh obtains a new token from reload.
func (s *StaticTokenSource) Refresh(ctx context.Context) (string, error) {
	if s.reload == nil {
		return "", errors.ErrSessionExpired
	}
	token, err := s.reload()
	if err != nil {
		return "", errors.Wrap(err, "refreshing token")
	}
	if token == "" {
		return "", errors.ErrSessionExpired
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return token, nil
}

// HoldingsOnlyProvider returns no prices; the cache is then filled from the
// last prices reported with holdings.
type HoldingsOnlyProvider struct{}

// Name implements Provider.
func (HoldingsOnlyProvider) Name() string { return "holdings" }

// InstrumentKey implements Provider.
func (HoldingsOnlyProvider) InstrumentKey(exchange models.Exchange, symbol string) (string, error) {
	return models.Instrument{Exchange: exchange, Symbol: symbol}.String(), nil
}

// BatchQuote implements Provider.
func (HoldingsOnlyProvider) BatchQuote(ctx context.Context, keys []string) (map[string]float64, error) {
	return map[string]float64{}, nil
}

var _ Provider = HoldingsOnlyProvider{}

// ProviderOptions carries what the configured provider needs.
type ProviderOptions struct {
	Name              string
	BaseURL           string
	Timeout           time.Duration
	InstrumentMapPath string
	Tokens            TokenSource
}

// NewProvider builds the provider named in opts.
func NewProvider(opts ProviderOptions, logger zerolog.Logger) (Provider, error) {
	switch opts.Name {
	case "upstox":
		if opts.Tokens == nil {
			return nil, fmt.Errorf("upstox provider needs an access token: %w", errors.ErrInsufficientConfig)
		}
		resolver, err := LoadInstrumentResolver(opts.InstrumentMapPath)
		if err != nil {
			return nil, err
		}
		return NewUpstoxProvider(opts.BaseURL, opts.Timeout, resolver, opts.Tokens, logger), nil
	case "yahoo":
		return NewYahooProvider(logger), nil
	case "holdings":
		return HoldingsOnlyProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown quote provider %q", opts.Name)
	}
}
