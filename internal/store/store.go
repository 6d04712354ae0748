// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"kite-gtt/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Trade ledger
	AppendTrades(ctx context.Context, trades []models.Trade) (int, error)
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)

	// ROI history
	UpsertSnapshots(ctx context.Context, snapshots []models.RoiSnapshot) error
	GetSnapshots(ctx context.Context, filter SnapshotFilter) ([]models.RoiSnapshot, error)
	SnapshotDates(ctx context.Context, limit int) ([]time.Time, error)

	// Sync
	GetLastSync(dataType SyncDataType) time.Time
	SetLastSync(dataType SyncDataType, t time.Time) error

	// Lifecycle
	Close() error
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	Symbol    string
	Side      models.OrderSide
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// SnapshotFilter represents filters for querying ROI snapshots.
type SnapshotFilter struct {
	Symbols   []string
	StartDate time.Time
	EndDate   time.Time
}

// dateLayout is how calendar dates are stored.
const dateLayout = "2006-01-02"
