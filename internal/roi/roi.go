// Package roi computes per-holding return on investment and classifies how
// each symbol's ROI/day has been moving across recorded snapshots.
package roi

import (
	"math"
	"sort"
	"time"

	"kite-gtt/internal/models"
	"kite-gtt/pkg/utils"
)

// PriceSource supplies a last price when a holding does not carry one.
type PriceSource interface {
	LastPrice(exchange models.Exchange, symbol string) (float64, error)
}

// Result is the ROI of one holding.
type Result struct {
	Symbol      string
	Exchange    models.Exchange
	Quantity    int
	LastPrice   float64
	Invested    float64
	PnL         float64
	PnLPercent  float64
	DaysHeld    int
	YieldPerDay float64
	RoiPerDay   float64
	AvgBuyDate  time.Time // zero when no buy trades were found
	Trend       *Trend
}

// HoldingROI computes the ROI of h at ltp. buys are the symbol's buy trades
// in any order; today is a calendar date (midnight UTC).
func HoldingROI(h models.Holding, buys []models.Trade, ltp float64, today time.Time) Result {
	qty := h.EffectiveQuantity()
	invested := float64(qty) * h.AveragePrice
	pnl := float64(qty)*ltp - invested

	r := Result{
		Symbol:    models.NormalizeSymbol(h.Symbol),
		Exchange:  h.Exchange,
		Quantity:  qty,
		LastPrice: ltp,
		Invested:  invested,
		PnL:       pnl,
	}
	if invested != 0 {
		r.PnLPercent = pnl / invested * 100
	}

	if avg, ok := WeightedAverageDate(buys, qty); ok {
		r.AvgBuyDate = avg
		r.DaysHeld = int(today.Sub(avg).Hours() / 24)
	}
	if r.DaysHeld > 0 {
		r.YieldPerDay = pnl / float64(r.DaysHeld)
		r.RoiPerDay = r.PnLPercent / float64(r.DaysHeld)
	}
	return r
}

// WeightedAverageDate walks buys newest first, consuming up to qty shares,
// and returns the quantity-weighted mean trade date (rounded down to a day).
// It reports false when no quantity could be attributed.
func WeightedAverageDate(buys []models.Trade, qty int) (time.Time, bool) {
	sorted := append([]models.Trade(nil), buys...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].TradeDate.Equal(sorted[j].TradeDate) {
			return sorted[i].TradeDate.After(sorted[j].TradeDate)
		}
		return sorted[i].ExecutedAt.After(sorted[j].ExecutedAt)
	})

	needed := qty
	var weighted float64
	consumed := 0
	for _, t := range sorted {
		if needed <= 0 {
			break
		}
		if t.Quantity <= 0 {
			continue
		}
		used := t.Quantity
		if used > needed {
			used = needed
		}
		weighted += float64(used) * float64(dayNumber(t.TradeDate))
		consumed += used
		needed -= used
	}

	if consumed == 0 {
		return time.Time{}, false
	}
	avg := int64(math.Floor(weighted / float64(consumed)))
	return time.Unix(avg*86400, 0).UTC(), true
}

// dayNumber counts whole days since the Unix epoch for a calendar date.
func dayNumber(d time.Time) int64 {
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return d.Unix() / 86400
}

// Analyze computes ROI for every holding and returns results sorted by ROI/day,
// highest first. A holding is skipped when neither it nor prices has a
// positive last price.
func Analyze(holdings []models.Holding, trades []models.Trade, prices PriceSource, today time.Time) []Result {
	buys := make(map[string][]models.Trade)
	for _, t := range trades {
		if t.IsBuy() {
			sym := models.NormalizeSymbol(t.Symbol)
			buys[sym] = append(buys[sym], t)
		}
	}

	day := utils.Day(today, today.Location())
	results := make([]Result, 0, len(holdings))
	for _, h := range holdings {
		symbol := models.NormalizeSymbol(h.Symbol)
		ltp := h.LastPrice
		if ltp <= 0 && prices != nil {
			if p, err := prices.LastPrice(h.Exchange, symbol); err == nil {
				ltp = p
			}
		}
		if ltp <= 0 {
			continue
		}
		results = append(results, HoldingROI(h, buys[symbol], ltp, day))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RoiPerDay > results[j].RoiPerDay
	})
	return results
}

// IsRecordingDay reports whether snapshots should be written on date.
// Weekends carry no new prices, so they are skipped.
func IsRecordingDay(date time.Time) bool {
	wd := date.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// Snapshots converts results into ROI snapshots for date.
func Snapshots(results []Result, date time.Time) []models.RoiSnapshot {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]models.RoiSnapshot, 0, len(results))
	for _, r := range results {
		out = append(out, models.RoiSnapshot{
			Date:           day,
			Symbol:         r.Symbol,
			InvestedAmount: r.Invested,
			AbsoluteProfit: r.PnL,
			YieldPerDay:    r.YieldPerDay,
			AgeDays:        r.DaysHeld,
			ProfitPercent:  r.PnLPercent,
			RoiPerDay:      r.RoiPerDay,
		})
	}
	return out
}
