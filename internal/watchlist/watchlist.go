// Package watchlist reads the entry-level watchlist CSV.
//
// Columns are symbol, exchange, entry1, entry2, entry3 and Allocated (header
// matching ignores case and padding). Blank entry cells leave the slot empty.
// Rows that fail validation are reported and skipped; the rest still load.
package watchlist

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"

	"kite-gtt/internal/errors"
	"kite-gtt/internal/models"
)

// row mirrors one CSV line before validation.
type row struct {
	Symbol    string `csv:"symbol"`
	Exchange  string `csv:"exchange"`
	Entry1    string `csv:"entry1"`
	Entry2    string `csv:"entry2"`
	Entry3    string `csv:"entry3"`
	Allocated string `csv:"allocated"`
}

// RowError is a rejected watchlist line.
type RowError struct {
	Line   int // 1-based, header is line 1
	Symbol string
	Err    error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d (%s): %v", e.Line, e.Symbol, e.Err)
}

// Result holds the accepted entries and the rejected rows.
type Result struct {
	Entries  []models.WatchlistEntry
	Rejected []RowError
}

// Load reads the watchlist at path.
func Load(path string, logger zerolog.Logger) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open watchlist: %w", err)
	}
	defer f.Close()
	return Parse(f, logger)
}

// Parse reads watchlist rows from r.
func Parse(r io.Reader, logger zerolog.Logger) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read watchlist: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &Result{}, nil
	}

	var rows []*row
	if err := gocsv.UnmarshalBytes(lowerHeader(data), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse watchlist: %w", err)
	}

	res := &Result{Entries: make([]models.WatchlistEntry, 0, len(rows))}
	for i, r := range rows {
		entry, err := r.entry()
		if err != nil {
			rowErr := RowError{Line: i + 2, Symbol: strings.TrimSpace(r.Symbol), Err: err}
			logger.Warn().Err(err).Int("line", rowErr.Line).Str("symbol", rowErr.Symbol).Msg("Skipping watchlist row")
			res.Rejected = append(res.Rejected, rowErr)
			continue
		}
		res.Entries = append(res.Entries, entry)
	}
	return res, nil
}

func (r *row) entry() (models.WatchlistEntry, error) {
	symbol := models.NormalizeSymbol(r.Symbol)
	if symbol == "" {
		return models.WatchlistEntry{}, errors.NewValidationError("symbol", r.Symbol, "required")
	}

	exchange := models.Exchange(strings.ToUpper(strings.TrimSpace(r.Exchange)))
	if exchange == "" {
		exchange = models.NSE
	}
	if exchange != models.NSE && exchange != models.BSE {
		return models.WatchlistEntry{}, errors.NewValidationError("exchange", r.Exchange, "must be NSE or BSE")
	}

	allocated, err := parseNumber("Allocated", r.Allocated)
	if err != nil {
		return models.WatchlistEntry{}, err
	}
	if allocated == nil {
		return models.WatchlistEntry{}, errors.NewValidationError("Allocated", r.Allocated, "required")
	}
	if *allocated < 0 {
		return models.WatchlistEntry{}, errors.NewValidationError("Allocated", *allocated, "must not be negative")
	}

	entry := models.WatchlistEntry{
		Symbol:           symbol,
		Exchange:         exchange,
		AllocatedCapital: *allocated,
	}
	slots := []struct {
		field string
		raw   string
		dst   **float64
	}{
		{"entry1", r.Entry1, &entry.Entry1},
		{"entry2", r.Entry2, &entry.Entry2},
		{"entry3", r.Entry3, &entry.Entry3},
	}
	for _, s := range slots {
		v, err := parseNumber(s.field, s.raw)
		if err != nil {
			return models.WatchlistEntry{}, err
		}
		if v != nil && *v <= 0 {
			return models.WatchlistEntry{}, errors.NewValidationError(s.field, *v, "must be positive")
		}
		*s.dst = v
	}
	return entry, nil
}

// parseNumber returns nil for a blank cell.
func parseNumber(field, raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, errors.NewValidationError(field, raw, "not a number")
	}
	return &v, nil
}

// lowerHeader lowercases and trims the header cells so "Allocated" and
// " Symbol " match the struct tags.
func lowerHeader(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		idx = len(data)
	}
	cells := strings.Split(strings.TrimRight(string(data[:idx]), "\r"), ",")
	for i, c := range cells {
		cells[i] = strings.ToLower(strings.TrimSpace(c))
	}

	var buf bytes.Buffer
	buf.WriteString(strings.Join(cells, ","))
	buf.Write(data[idx:])
	return buf.Bytes()
}

// Symbols returns the normalized symbols of entries in order.
func Symbols(entries []models.WatchlistEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Symbol)
	}
	return out
}
