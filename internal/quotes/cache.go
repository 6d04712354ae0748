package quotes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kite-gtt/internal/errors"
	"kite-gtt/internal/logging"
	"kite-gtt/internal/metrics"
	"kite-gtt/internal/models"
)

// Defaults for the cache.
const (
	DefaultTTL       = 600 * time.Second
	DefaultBatchSize = 50
)

// Key identifies a cached quote.
type Key struct {
	Exchange models.Exchange
	Symbol   string
}

// NewKey builds a normalized cache key.
func NewKey(exchange models.Exchange, symbol string) Key {
	return Key{Exchange: exchange, Symbol: models.NormalizeSymbol(symbol)}
}

// RefreshRequest lists the sources whose symbols need prices.
type RefreshRequest struct {
	Holdings  []models.Holding
	GTTs      []models.GTTOrder
	Watchlist []models.WatchlistEntry
}

// RefreshStats summarizes one refresh.
type RefreshStats struct {
	Requested     int
	Resolved      int
	Received      int
	FromHoldings  int
	FailedBatches int
	Unresolved    []Key
}

// Result classifies the refresh for metrics.
func (s RefreshStats) Result() string {
	switch {
	case s.Requested > 0 && s.Received+s.FromHoldings == 0:
		return "failed"
	case s.FailedBatches > 0 || len(s.Unresolved) > 0:
		return "partial"
	default:
		return "ok"
	}
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithMetrics records refresh outcomes on m.
func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// Cache is a time-boxed snapshot of last traded prices. A refresh replaces
// the whole snapshot; once the TTL passes every entry is stale together.
type Cache struct {
	provider  Provider
	ttl       time.Duration
	batchSize int
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu          sync.RWMutex
	quotes      map[Key]models.PriceQuote
	refreshedAt time.Time
}

// NewCache creates an empty cache backed by provider.
func NewCache(provider Provider, ttl time.Duration, batchSize int, logger zerolog.Logger, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	c := &Cache{
		provider:  provider,
		ttl:       ttl,
		batchSize: batchSize,
		logger:    logging.WithOperation(logger, "quotes"),
		now:       time.Now,
		quotes:    make(map[Key]models.PriceQuote),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CollectKeys gathers the unique instruments referenced by holdings, buy
// GTTs and the watchlist, in first-seen order.
func CollectKeys(req RefreshRequest) []Key {
	seen := make(map[Key]bool)
	var keys []Key
	add := func(exchange models.Exchange, symbol string) {
		k := NewKey(exchange, symbol)
		if k.Symbol == "" || seen[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}

	for _, h := range req.Holdings {
		add(h.Exchange, h.Symbol)
	}
	for _, g := range req.GTTs {
		if g.IsBuy() {
			add(g.Exchange, g.Symbol)
		}
	}
	for _, w := range req.Watchlist {
		add(w.Exchange, w.Symbol)
	}
	return keys
}

// Refresh fetches prices for every instrument in req and swaps in the new
// snapshot. Failing batches and unresolvable instruments are logged and
// skipped. Holdings' last prices fill keys the provider did not return.
func (c *Cache) Refresh(ctx context.Context, req RefreshRequest) (RefreshStats, error) {
	start := c.now()
	keys := CollectKeys(req)
	stats := RefreshStats{Requested: len(keys)}

	byProviderKey := make(map[string]Key, len(keys))
	providerKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		pk, err := c.provider.InstrumentKey(k.Exchange, k.Symbol)
		if err != nil {
			c.logger.Warn().Err(err).Str("symbol", k.Symbol).Str("exchange", string(k.Exchange)).
				Msg("Instrument key not found, skipping")
			stats.Unresolved = append(stats.Unresolved, k)
			continue
		}
		if _, dup := byProviderKey[pk]; !dup {
			providerKeys = append(providerKeys, pk)
		}
		byProviderKey[pk] = k
	}
	stats.Resolved = len(providerKeys)

	fetchedAt := c.now()
	snapshot := make(map[Key]models.PriceQuote, len(keys))
	for i := 0; i < len(providerKeys); i += c.batchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := i + c.batchSize
		if end > len(providerKeys) {
			end = len(providerKeys)
		}
		batch := providerKeys[i:end]

		prices, err := c.provider.BatchQuote(ctx, batch)
		if err != nil {
			stats.FailedBatches++
			c.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to fetch batch quote")
			continue
		}

		for pk, price := range prices {
			k, ok := byProviderKey[pk]
			if !ok || price <= 0 {
				continue
			}
			snapshot[k] = models.PriceQuote{
				Exchange:  k.Exchange,
				Symbol:    k.Symbol,
				LastPrice: price,
				FetchedAt: fetchedAt,
				Source:    c.provider.Name(),
			}
			stats.Received++
		}
	}

	for _, h := range req.Holdings {
		k := NewKey(h.Exchange, h.Symbol)
		if _, ok := snapshot[k]; ok || h.LastPrice <= 0 {
			continue
		}
		snapshot[k] = models.PriceQuote{
			Exchange:  k.Exchange,
			Symbol:    k.Symbol,
			LastPrice: h.LastPrice,
			FetchedAt: fetchedAt,
			Source:    "holdings",
		}
		stats.FromHoldings++
	}

	c.mu.Lock()
	c.quotes = snapshot
	c.refreshedAt = fetchedAt
	c.mu.Unlock()

	logging.LogQuoteRefresh(c.logger, c.provider.Name(), stats.Requested, len(snapshot), c.now().Sub(start))
	c.metrics.QuoteRefresh(stats.Result(), len(snapshot))
	return stats, nil
}

// IsStale reports whether the snapshot is missing or older than the TTL.
func (c *Cache) IsStale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isStaleLocked()
}

func (c *Cache) isStaleLocked() bool {
	return c.refreshedAt.IsZero() || c.now().Sub(c.refreshedAt) >= c.ttl
}

// Age returns the time since the last refresh, or zero if never refreshed.
func (c *Cache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.refreshedAt.IsZero() {
		return 0
	}
	return c.now().Sub(c.refreshedAt)
}

// Len returns the number of cached quotes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}

// Quote returns the cached quote. It fails with ErrCacheStale when the
// snapshot has expired and with a LookupError when the symbol is absent.
func (c *Cache) Quote(exchange models.Exchange, symbol string) (models.PriceQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isStaleLocked() {
		return models.PriceQuote{}, errors.ErrCacheStale
	}
	k := NewKey(exchange, symbol)
	q, ok := c.quotes[k]
	if !ok {
		return models.PriceQuote{}, errors.NewLookupError(string(exchange), k.Symbol, "no cached quote", errors.ErrPriceUnavailable)
	}
	return q, nil
}

// LastPrice returns the cached last traded price.
func (c *Cache) LastPrice(exchange models.Exchange, symbol string) (float64, error) {
	q, err := c.Quote(exchange, symbol)
	if err != nil {
		return 0, err
	}
	return q.LastPrice, nil
}

// Snapshot returns every cached quote sorted by exchange then symbol.
func (c *Cache) Snapshot() []models.PriceQuote {
	c.mu.RLock()
	out := make([]models.PriceQuote, 0, len(c.quotes))
	for _, q := range c.quotes {
		out = append(out, q)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Exchange != out[j].Exchange {
			return out[i].Exchange < out[j].Exchange
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
