package quotes

import (
	"context"
	"fmt"
	"strings"

	"github.com/piquette/finance-go/quote"
	"github.com/rs/zerolog"

	"kite-gtt/internal/logging"
	"kite-gtt/internal/models"
)

// YahooProvider fetches regular market prices from Yahoo Finance. It needs
// no credentials and serves as a fallback when no Upstox token exists.
type YahooProvider struct {
	lookup func(symbol string) (float64, bool, error)
	logger zerolog.Logger
}

// NewYahooProvider creates a Yahoo Finance provider.
func NewYahooProvider(logger zerolog.Logger) *YahooProvider {
	return &YahooProvider{
		lookup: yahooLastPrice,
		logger: logging.WithOperation(logger, "yahoo"),
	}
}

func yahooLastPrice(symbol string) (float64, bool, error) {
	q, err := quote.Get(symbol)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}
	if q == nil {
		return 0, false, nil
	}
	return q.RegularMarketPrice, true, nil
}

// Name implements Provider.
func (p *YahooProvider) Name() string { return "yahoo" }

// InstrumentKey implements Provider: SYMBOL.NS for NSE, SYMBOL.BO for BSE.
func (p *YahooProvider) InstrumentKey(exchange models.Exchange, symbol string) (string, error) {
	symbol = models.NormalizeSymbol(symbol)
	switch exchange {
	case models.NSE:
		return symbol + ".NS", nil
	case models.BSE:
		return symbol + ".BO", nil
	default:
		return "", fmt.Errorf("unsupported exchange for yahoo: %s", exchange)
	}
}

// BatchQuote implements Provider. Yahoo has no batch endpoint in use here,
// so symbols are fetched one by one; individual failures are skipped.
func (p *YahooProvider) BatchQuote(ctx context.Context, keys []string) (map[string]float64, error) {
	out := make(map[string]float64, len(keys))
	var lastErr error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		price, ok, err := p.lookup(key)
		if err != nil {
			lastErr = err
			p.logger.Warn().Err(err).Str("key", strings.TrimSpace(key)).Msg("Yahoo quote failed")
			continue
		}
		if ok && price > 0 {
			out[key] = price
		}
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

var _ Provider = (*YahooProvider)(nil)
