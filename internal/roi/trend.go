package roi

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"kite-gtt/internal/models"
)

// DefaultTrendThreshold ignores ROI/day moves smaller than this.
const DefaultTrendThreshold = 0.002

// Direction of a trend or run.
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
	Flat Direction = "FLAT"
)

// ParseDirection accepts up/down in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP", "1":
		return Up, nil
	case "DOWN", "2":
		return Down, nil
	}
	return "", fmt.Errorf("unknown direction %q (want up or down)", s)
}

// Trend is the direction of the latest moves and how many consecutive
// day-over-day deltas it has held for.
type Trend struct {
	Direction Direction
	RunLength int
}

func (t Trend) String() string {
	return fmt.Sprintf("%s(%d)", t.Direction, t.RunLength)
}

// ClassifyTrend walks series (oldest first) backwards from the latest value.
// The most recent delta fixes the direction unless its magnitude is within
// threshold, which yields FLAT(1). Earlier deltas extend the run while they
// exceed threshold in the same direction. It reports false for fewer than
// two points.
func ClassifyTrend(series []float64, threshold float64) (Trend, bool) {
	if len(series) < 2 {
		return Trend{}, false
	}

	var trend Trend
	for i := len(series) - 1; i > 0; i-- {
		diff := series[i] - series[i-1]

		if trend.Direction == "" {
			if math.Abs(diff) <= threshold {
				return Trend{Direction: Flat, RunLength: 1}, true
			}
			trend.Direction = Up
			if diff < 0 {
				trend.Direction = Down
			}
			trend.RunLength = 1
			continue
		}

		if (trend.Direction == Up && diff > threshold) || (trend.Direction == Down && diff < -threshold) {
			trend.RunLength++
			continue
		}
		break
	}
	return trend, true
}

// Run is a strictly monotonic window of ROI/day values.
type Run struct {
	Symbol string
	Values []float64 // oldest first
	Change float64   // net move in the run's direction, always positive
}

// DetectRuns returns the symbols whose last n values are strictly increasing
// (Up) or strictly decreasing (Down), ranked by net change, largest first.
// Symbols with fewer than n values are ignored.
func DetectRuns(series map[string][]float64, n int, dir Direction) []Run {
	if n < 2 || (dir != Up && dir != Down) {
		return nil
	}

	var runs []Run
	for symbol, values := range series {
		if len(values) < n {
			continue
		}
		window := values[len(values)-n:]
		if !monotonic(window, dir) {
			continue
		}

		change := window[len(window)-1] - window[0]
		if dir == Down {
			change = -change
		}
		runs = append(runs, Run{
			Symbol: symbol,
			Values: append([]float64(nil), window...),
			Change: change,
		})
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Change != runs[j].Change {
			return runs[i].Change > runs[j].Change
		}
		return runs[i].Symbol < runs[j].Symbol
	})
	return runs
}

func monotonic(values []float64, dir Direction) bool {
	for i := 1; i < len(values); i++ {
		if dir == Up && !(values[i-1] < values[i]) {
			return false
		}
		if dir == Down && !(values[i-1] > values[i]) {
			return false
		}
	}
	return true
}

// SeriesBySymbol groups snapshot ROI/day values per symbol in date order.
// A nil filter keeps every symbol.
func SeriesBySymbol(snapshots []models.RoiSnapshot, filter map[string]bool) map[string][]float64 {
	sorted := append([]models.RoiSnapshot(nil), snapshots...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	series := make(map[string][]float64)
	for _, s := range sorted {
		sym := models.NormalizeSymbol(s.Symbol)
		if filter != nil && !filter[sym] {
			continue
		}
		series[sym] = append(series[sym], s.RoiPerDay)
	}
	return series
}

// DailyAverage is the mean ROI/day across symbols on one date.
type DailyAverage struct {
	Date    time.Time
	Average float64
}

// AverageTrend averages ROI/day per date over the given symbols and returns
// the latest points dates in chronological order.
func AverageTrend(snapshots []models.RoiSnapshot, symbols map[string]bool, points int) []DailyAverage {
	type acc struct {
		sum float64
		n   int
	}
	byDate := make(map[time.Time]*acc)
	for _, s := range snapshots {
		if symbols != nil && !symbols[models.NormalizeSymbol(s.Symbol)] {
			continue
		}
		a, ok := byDate[s.Date]
		if !ok {
			a = &acc{}
			byDate[s.Date] = a
		}
		a.sum += s.RoiPerDay
		a.n++
	}

	out := make([]DailyAverage, 0, len(byDate))
	for d, a := range byDate {
		out = append(out, DailyAverage{Date: d, Average: a.sum / float64(a.n)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	if points > 0 && len(out) > points {
		out = out[len(out)-points:]
	}
	return out
}

// FormatSeries joins values as "a -> b -> c" with prec decimals.
func FormatSeries(values []float64, prec int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.*f", prec, v)
	}
	return strings.Join(parts, " -> ")
}

// AttachTrends sets each result's trend from series using threshold.
func AttachTrends(results []Result, series map[string][]float64, threshold float64) {
	for i := range results {
		if t, ok := ClassifyTrend(series[results[i].Symbol], threshold); ok {
			t := t
			results[i].Trend = &t
		}
	}
}
