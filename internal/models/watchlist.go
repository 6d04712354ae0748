package models

// EntryLevel is one rung of a watchlist's staged entry ladder.
type EntryLevel struct {
	Label string // E1, E2, E3
	Slot  int    // 1-based declared position
	Price float64
}

// WatchlistEntry declares a symbol to accumulate, its allocated capital and up
// to three staged entry prices.
type WatchlistEntry struct {
	Symbol           string
	Exchange         Exchange
	Entry1           *float64
	Entry2           *float64
	Entry3           *float64
	AllocatedCapital float64
}

// Levels returns the declared entry prices in order, skipping empty slots.
func (w WatchlistEntry) Levels() []EntryLevel {
	slots := []*float64{w.Entry1, w.Entry2, w.Entry3}
	labels := []string{"E1", "E2", "E3"}

	levels := make([]EntryLevel, 0, len(slots))
	for i, p := range slots {
		if p == nil {
			continue
		}
		levels = append(levels, EntryLevel{Label: labels[i], Slot: i + 1, Price: *p})
	}
	return levels
}

// Instrument returns the entry's exchange/symbol pair.
func (w WatchlistEntry) Instrument() Instrument {
	return Instrument{Exchange: w.Exchange, Symbol: w.Symbol}
}

// Price returns a pointer to p, for populating optional entry slots.
func Price(p float64) *float64 {
	return &p
}
