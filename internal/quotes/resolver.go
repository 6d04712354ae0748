package quotes

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"

	"kite-gtt/internal/errors"
	"kite-gtt/internal/models"
)

// instrumentRow is one line of the exchange's equity listing file.
type instrumentRow struct {
	Symbol string `csv:"SYMBOL"`
	ISIN   string `csv:"ISIN NUMBER"`
}

// InstrumentResolver maps symbols to ISINs from the exchange listing file
// and builds segment-qualified instrument keys from them.
type InstrumentResolver struct {
	isin map[string]string
}

// LoadInstrumentResolver reads the listing CSV at path.
func LoadInstrumentResolver(path string) (*InstrumentResolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open instrument map: %w", err)
	}
	defer f.Close()
	return ParseInstruments(f)
}

// ParseInstruments reads listing rows with SYMBOL and ISIN NUMBER columns.
// Header cells are trimmed since exchange files pad them with spaces.
func ParseInstruments(r io.Reader) (*InstrumentResolver, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read instrument map: %w", err)
	}

	var rows []*instrumentRow
	if err := gocsv.UnmarshalBytes(normalizeHeader(data), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse instrument map: %w", err)
	}

	res := &InstrumentResolver{isin: make(map[string]string, len(rows))}
	for _, row := range rows {
		symbol := models.NormalizeSymbol(row.Symbol)
		isin := strings.TrimSpace(row.ISIN)
		if symbol == "" || isin == "" {
			continue
		}
		if _, ok := res.isin[symbol]; !ok {
			res.isin[symbol] = isin
		}
	}
	if len(res.isin) == 0 {
		return nil, fmt.Errorf("instrument map has no SYMBOL/ISIN NUMBER rows")
	}
	return res, nil
}

func normalizeHeader(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		idx = len(data)
	}
	header := strings.TrimRight(string(data[:idx]), "\r")
	cells := strings.Split(header, ",")
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}

	var buf bytes.Buffer
	buf.WriteString(strings.Join(cells, ","))
	buf.Write(data[idx:])
	return buf.Bytes()
}

// Len returns the number of known symbols.
func (r *InstrumentResolver) Len() int {
	return len(r.isin)
}

// ISIN returns the ISIN for symbol.
func (r *InstrumentResolver) ISIN(symbol string) (string, bool) {
	isin, ok := r.isin[models.NormalizeSymbol(symbol)]
	return isin, ok
}

// Key returns the instrument key "<EXCHANGE>_EQ|<ISIN>".
func (r *InstrumentResolver) Key(exchange models.Exchange, symbol string) (string, error) {
	isin, ok := r.ISIN(symbol)
	if !ok {
		return "", errors.NewLookupError(string(exchange), symbol, "symbol not in instrument map", errors.ErrInstrumentNotFound)
	}
	return exchange.Segment() + "|" + isin, nil
}
