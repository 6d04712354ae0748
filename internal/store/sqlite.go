package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"kite-gtt/internal/errors"
	"kite-gtt/internal/models"
)

var _ DataStore = (*SQLiteStore)(nil)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[SyncDataType]time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", errors.ErrDatabaseError, err)
	}

	// One writer at a time; the CLI is sequential anyway.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[SyncDataType]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %v", errors.ErrDatabaseError, err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Broker tradebook, one row per fill
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL,
		trade_date TEXT NOT NULL,
		executed_at TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Daily ROI per held symbol
	CREATE TABLE IF NOT EXISTS roi_snapshots (
		date TEXT NOT NULL,
		symbol TEXT NOT NULL,
		invested_amount REAL NOT NULL,
		absolute_profit REAL NOT NULL,
		yield_per_day REAL NOT NULL,
		age_days INTEGER NOT NULL,
		profit_percent REAL NOT NULL,
		roi_per_day REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (date, symbol)
	);

	-- Sync status table
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_trades_symbol_date ON trades(symbol, trade_date);
	CREATE INDEX IF NOT EXISTS idx_roi_symbol ON roi_snapshots(symbol);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// AppendTrades inserts trades not already in the ledger and returns how many
// were new. Existing trade ids are left untouched.
func (s *SQLiteStore) AppendTrades(ctx context.Context, trades []models.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO trades (id, order_id, symbol, exchange, side, quantity, price, trade_date, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, t := range trades {
		if t.ID == "" {
			return 0, errors.NewValidationError("trade_id", t.ID, "required")
		}
		res, err := stmt.ExecContext(ctx,
			t.ID, t.OrderID, models.NormalizeSymbol(t.Symbol), string(t.Exchange), string(t.Side),
			t.Quantity, t.Price, t.TradeDate.Format(dateLayout), formatTimestamp(t.ExecutedAt))
		if err != nil {
			return 0, fmt.Errorf("failed to insert trade %s: %w", t.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit trades: %w", err)
	}
	return added, nil
}

// GetTrades retrieves trades ordered by trade date then execution time.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := "SELECT id, order_id, symbol, exchange, side, quantity, price, trade_date, COALESCE(executed_at, '') FROM trades WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, models.NormalizeSymbol(filter.Symbol))
	}
	if filter.Side != "" {
		query += " AND side = ?"
		args = append(args, string(filter.Side))
	}
	if !filter.StartDate.IsZero() {
		query += " AND trade_date >= ?"
		args = append(args, filter.StartDate.Format(dateLayout))
	}
	if !filter.EndDate.IsZero() {
		query += " AND trade_date <= ?"
		args = append(args, filter.EndDate.Format(dateLayout))
	}

	query += " ORDER BY trade_date, executed_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var exchange, side, tradeDate, executedAt string

		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &exchange, &side, &t.Quantity, &t.Price, &tradeDate, &executedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		t.Exchange = models.Exchange(exchange)
		t.Side = models.OrderSide(side)
		if t.TradeDate, err = time.Parse(dateLayout, tradeDate); err != nil {
			return nil, errors.NewDataError("trade", t.Symbol, "bad trade_date "+tradeDate, err)
		}
		t.ExecutedAt = parseTimestamp(executedAt)
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// UpsertSnapshots writes snapshots keyed by (date, symbol); a later write for
// the same key replaces the earlier one.
func (s *SQLiteStore) UpsertSnapshots(ctx context.Context, snapshots []models.RoiSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO roi_snapshots (date, symbol, invested_amount, absolute_profit, yield_per_day, age_days, profit_percent, roi_per_day, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(date, symbol) DO UPDATE SET
			invested_amount = excluded.invested_amount,
			absolute_profit = excluded.absolute_profit,
			yield_per_day = excluded.yield_per_day,
			age_days = excluded.age_days,
			profit_percent = excluded.profit_percent,
			roi_per_day = excluded.roi_per_day,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, snap := range snapshots {
		_, err := stmt.ExecContext(ctx,
			snap.Date.Format(dateLayout), models.NormalizeSymbol(snap.Symbol),
			snap.InvestedAmount, snap.AbsoluteProfit, snap.YieldPerDay,
			snap.AgeDays, snap.ProfitPercent, snap.RoiPerDay)
		if err != nil {
			return fmt.Errorf("failed to upsert snapshot %s/%s: %w", snap.Date.Format(dateLayout), snap.Symbol, err)
		}
	}

	return tx.Commit()
}

// GetSnapshots retrieves snapshots ordered by date then symbol.
func (s *SQLiteStore) GetSnapshots(ctx context.Context, filter SnapshotFilter) ([]models.RoiSnapshot, error) {
	query := "SELECT date, symbol, invested_amount, absolute_profit, yield_per_day, age_days, profit_percent, roi_per_day FROM roi_snapshots WHERE 1=1"
	args := []interface{}{}

	if len(filter.Symbols) > 0 {
		placeholders := make([]string, len(filter.Symbols))
		for i, sym := range filter.Symbols {
			placeholders[i] = "?"
			args = append(args, models.NormalizeSymbol(sym))
		}
		query += " AND symbol IN (" + strings.Join(placeholders, ",") + ")"
	}
	if !filter.StartDate.IsZero() {
		query += " AND date >= ?"
		args = append(args, filter.StartDate.Format(dateLayout))
	}
	if !filter.EndDate.IsZero() {
		query += " AND date <= ?"
		args = append(args, filter.EndDate.Format(dateLayout))
	}
	query += " ORDER BY date, symbol"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.RoiSnapshot
	for rows.Next() {
		var snap models.RoiSnapshot
		var date string
		if err := rows.Scan(&date, &snap.Symbol, &snap.InvestedAmount, &snap.AbsoluteProfit, &snap.YieldPerDay, &snap.AgeDays, &snap.ProfitPercent, &snap.RoiPerDay); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if snap.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, errors.NewDataError("roi_snapshot", snap.Symbol, "bad date "+date, err)
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, rows.Err()
}

// SnapshotDates returns the most recent distinct snapshot dates, oldest first.
// A limit of zero returns every date.
func (s *SQLiteStore) SnapshotDates(ctx context.Context, limit int) ([]time.Time, error) {
	query := "SELECT DISTINCT date FROM roi_snapshots ORDER BY date DESC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot date: %w", err)
		}
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return nil, errors.NewDataError("roi_snapshot", "", "bad date "+raw, err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(dates)-1; i < j; i, j = i+1, j-1 {
		dates[i], dates[j] = dates[j], dates[i]
	}
	return dates, nil
}

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType SyncDataType) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var raw string
	err := s.db.QueryRow(`SELECT last_sync FROM sync_status WHERE data_type = ?`, string(dataType)).Scan(&raw)
	if err != nil {
		return time.Time{}
	}
	lastSync := parseTimestamp(raw)

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType SyncDataType, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
	`, string(dataType), formatTimestamp(t))
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
