package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"kite-gtt/internal/models"
)

// SyncDataType represents the type of data being synced.
type SyncDataType string

const (
	SyncTypeTrades    SyncDataType = "trades"
	SyncTypeSnapshots SyncDataType = "roi_snapshots"
	SyncTypeGTTs      SyncDataType = "gtts"
)

// DataFreshness represents the freshness of stored data.
type DataFreshness struct {
	DataType    SyncDataType
	LastUpdated time.Time
	IsFresh     bool
	Age         time.Duration
}

// Freshness reports how old a data type is relative to now. Data never
// synced is not fresh.
func Freshness(s DataStore, dataType SyncDataType, maxAge time.Duration, now time.Time) DataFreshness {
	last := s.GetLastSync(dataType)
	f := DataFreshness{DataType: dataType, LastUpdated: last}
	if last.IsZero() {
		return f
	}
	f.Age = now.Sub(last)
	f.IsFresh = f.Age < maxAge
	return f
}

// FormatFreshness formats data freshness for display.
func FormatFreshness(f DataFreshness) string {
	if f.LastUpdated.IsZero() {
		return fmt.Sprintf("%s: never synced", f.DataType)
	}

	var age string
	switch {
	case f.Age < time.Minute:
		age = "just now"
	case f.Age < time.Hour:
		age = fmt.Sprintf("%d min ago", int(f.Age.Minutes()))
	case f.Age < 24*time.Hour:
		age = fmt.Sprintf("%d hours ago", int(f.Age.Hours()))
	default:
		age = fmt.Sprintf("%d days ago", int(f.Age.Hours()/24))
	}
	return fmt.Sprintf("%s: %s", f.DataType, age)
}

// TradeSource supplies the broker's current tradebook.
type TradeSource interface {
	GetTrades(ctx context.Context) ([]models.Trade, error)
}

// TradeSyncResult represents the result of a trade sync operation.
type TradeSyncResult struct {
	Fetched  int
	Added    int
	Existing int
	SyncedAt time.Time
}

// TradeSync appends the broker's tradebook to the local ledger.
type TradeSync struct {
	store  DataStore
	source TradeSource
	logger zerolog.Logger
	now    func() time.Time
}

// NewTradeSync creates a new trade sync handler.
func NewTradeSync(store DataStore, source TradeSource, logger zerolog.Logger) *TradeSync {
	return &TradeSync{
		store:  store,
		source: source,
		logger: logger.With().Str("operation", "trade_sync").Logger(),
		now:    time.Now,
	}
}

// Sync fetches the tradebook and stores trades not seen before. Running it
// twice on the same day adds nothing the second time.
func (ts *TradeSync) Sync(ctx context.Context) (*TradeSyncResult, error) {
	trades, err := ts.source.GetTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trades: %w", err)
	}

	added, err := ts.store.AppendTrades(ctx, trades)
	if err != nil {
		return nil, err
	}

	result := &TradeSyncResult{
		Fetched:  len(trades),
		Added:    added,
		Existing: len(trades) - added,
		SyncedAt: ts.now(),
	}
	if err := ts.store.SetLastSync(SyncTypeTrades, result.SyncedAt); err != nil {
		ts.logger.Warn().Err(err).Msg("Failed to record sync time")
	}

	ts.logger.Info().
		Int("fetched", result.Fetched).
		Int("added", result.Added).
		Msg("Tradebook synced")
	return result, nil
}
