package roi

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"kite-gtt/internal/models"
)

func date(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
}

func buy(symbol string, qty int, d time.Time) models.Trade {
	return models.Trade{ID: symbol + d.Format("0102"), Symbol: symbol, Side: models.OrderSideBuy, Quantity: qty, TradeDate: d}
}

func TestWeightedAverageDate(t *testing.T) {
	// Equal lots: midpoint of 1 Mar and 11 Mar.
	avg, ok := WeightedAverageDate([]models.Trade{buy("INFY", 5, date(3, 1)), buy("INFY", 5, date(3, 11))}, 10)
	if !ok || !avg.Equal(date(3, 6)) {
		t.Errorf("equal lots avg = %v, want 2024-03-06", avg)
	}

	// Unequal lots weight towards the larger one.
	avg, _ = WeightedAverageDate([]models.Trade{buy("INFY", 2, date(3, 1)), buy("INFY", 8, date(3, 11))}, 10)
	if !avg.Equal(date(3, 9)) {
		t.Errorf("weighted avg = %v, want 2024-03-09", avg)
	}

	// Only the newest shares count once the holding is covered.
	avg, _ = WeightedAverageDate([]models.Trade{buy("INFY", 100, date(1, 1)), buy("INFY", 4, date(3, 11)), buy("INFY", 6, date(3, 1))}, 8)
	// 4 on 11 Mar and 4 of the 6 on 1 Mar.
	if !avg.Equal(date(3, 6)) {
		t.Errorf("partial consumption avg = %v, want 2024-03-06", avg)
	}

	if _, ok := WeightedAverageDate(nil, 10); ok {
		t.Error("no trades should report false")
	}
}

func TestHoldingROI(t *testing.T) {
	h := models.Holding{Symbol: "INFY", Exchange: models.NSE, Quantity: 8, T1Quantity: 2, AveragePrice: 100}
	buys := []models.Trade{buy("INFY", 5, date(3, 1)), buy("INFY", 5, date(3, 11))}

	r := HoldingROI(h, buys, 110, date(3, 16))
	if r.Quantity != 10 || r.Invested != 1000 || r.PnL != 100 || r.PnLPercent != 10 {
		t.Errorf("unexpected ROI: %+v", r)
	}
	if r.DaysHeld != 10 {
		t.Errorf("DaysHeld = %d, want 10", r.DaysHeld)
	}
	if r.YieldPerDay != 10 || r.RoiPerDay != 1 {
		t.Errorf("per-day = %v, %v; want 10, 1", r.YieldPerDay, r.RoiPerDay)
	}

	// Bought today: no age, no per-day figures.
	r = HoldingROI(h, []models.Trade{buy("INFY", 10, date(3, 16))}, 110, date(3, 16))
	if r.DaysHeld != 0 || r.RoiPerDay != 0 || r.YieldPerDay != 0 {
		t.Errorf("same-day holding should have zero per-day figures: %+v", r)
	}

	// Zero invested: percent stays zero.
	r = HoldingROI(models.Holding{Symbol: "BONUS", Quantity: 5}, nil, 10, date(3, 16))
	if r.PnLPercent != 0 || r.PnL != 50 {
		t.Errorf("zero-cost holding: %+v", r)
	}
}

type fixedPrices map[string]float64

func (f fixedPrices) LastPrice(exchange models.Exchange, symbol string) (float64, error) {
	if p, ok := f[symbol]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("no price for %s", symbol)
}

func TestAnalyze(t *testing.T) {
	holdings := []models.Holding{
		{Symbol: "INFY", Exchange: models.NSE, Quantity: 10, AveragePrice: 100, LastPrice: 105},
		{Symbol: "TCS#", Exchange: models.NSE, Quantity: 1, AveragePrice: 100},
		{Symbol: "GHOST", Exchange: models.NSE, Quantity: 1, AveragePrice: 100},
	}
	trades := []models.Trade{
		buy("INFY", 10, date(3, 6)),
		buy("TCS", 1, date(3, 11)),
		{ID: "S1", Symbol: "INFY", Side: models.OrderSideSell, Quantity: 10, TradeDate: date(3, 15)},
	}
	today := time.Date(2024, 3, 16, 15, 0, 0, 0, time.UTC)

	results := Analyze(holdings, trades, fixedPrices{"TCS": 120}, today)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (GHOST has no price)", len(results))
	}
	// TCS: 20% over 5 days = 4/day; INFY: 5% over 10 days = 0.5/day.
	if results[0].Symbol != "TCS" || results[1].Symbol != "INFY" {
		t.Errorf("not sorted by ROI/day: %s, %s", results[0].Symbol, results[1].Symbol)
	}
	if math.Abs(results[0].RoiPerDay-4) > 1e-9 || math.Abs(results[1].RoiPerDay-0.5) > 1e-9 {
		t.Errorf("ROI/day = %v, %v", results[0].RoiPerDay, results[1].RoiPerDay)
	}

	snaps := Snapshots(results, date(3, 16))
	if len(snaps) != 2 || !snaps[0].Date.Equal(date(3, 16)) || snaps[0].AgeDays != 5 {
		t.Errorf("unexpected snapshots: %+v", snaps)
	}
}

func TestIsRecordingDay(t *testing.T) {
	if IsRecordingDay(date(3, 16)) || IsRecordingDay(date(3, 17)) {
		t.Error("weekend should not be a recording day")
	}
	if !IsRecordingDay(date(3, 18)) {
		t.Error("Monday should be a recording day")
	}
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		name   string
		series []float64
		want   Trend
		ok     bool
	}{
		{"rising", []float64{0.01, 0.015, 0.02}, Trend{Up, 2}, true},
		{"falling then broken", []float64{0.05, 0.01, 0.03, 0.02, 0.01}, Trend{Down, 2}, true},
		{"flat latest move", []float64{0.01, 0.02, 0.021}, Trend{Flat, 1}, true},
		{"small earlier move stops run", []float64{0.01, 0.011, 0.02}, Trend{Up, 1}, true},
		{"single point", []float64{0.01}, Trend{}, false},
		{"empty", nil, Trend{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClassifyTrend(tt.series, DefaultTrendThreshold)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ClassifyTrend() = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}

	if s := (Trend{Up, 3}).String(); s != "UP(3)" {
		t.Errorf("String() = %s", s)
	}
}

func TestDetectRuns(t *testing.T) {
	series := map[string][]float64{
		"INFY":  {0.5, 0.1, 0.2, 0.3},
		"TCS":   {0.1, 0.2, 0.9},
		"ITC":   {0.3, 0.2, 0.1},
		"SHORT": {0.1, 0.2},
		"EQUAL": {0.1, 0.1, 0.2},
	}

	up := DetectRuns(series, 3, Up)
	if len(up) != 2 || up[0].Symbol != "TCS" || up[1].Symbol != "INFY" {
		t.Fatalf("up runs = %+v", up)
	}
	if math.Abs(up[0].Change-0.8) > 1e-9 || len(up[1].Values) != 3 {
		t.Errorf("unexpected run detail: %+v", up)
	}

	down := DetectRuns(series, 3, Down)
	if len(down) != 1 || down[0].Symbol != "ITC" || math.Abs(down[0].Change-0.2) > 1e-9 {
		t.Errorf("down runs = %+v", down)
	}

	if DetectRuns(series, 1, Up) != nil {
		t.Error("a window of one cannot form a run")
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Error("expected error for unknown direction")
	}
}

func TestAverageTrend(t *testing.T) {
	var snaps []models.RoiSnapshot
	for d := 1; d <= 7; d++ {
		snaps = append(snaps,
			models.RoiSnapshot{Date: date(3, d), Symbol: "INFY", RoiPerDay: float64(d)},
			models.RoiSnapshot{Date: date(3, d), Symbol: "TCS", RoiPerDay: float64(d) + 2},
			models.RoiSnapshot{Date: date(3, d), Symbol: "SOLD", RoiPerDay: 100},
		)
	}

	avg := AverageTrend(snaps, map[string]bool{"INFY": true, "TCS": true}, 5)
	if len(avg) != 5 {
		t.Fatalf("got %d points, want 5", len(avg))
	}
	if !avg[0].Date.Equal(date(3, 3)) || avg[0].Average != 4 || avg[4].Average != 8 {
		t.Errorf("unexpected averages: %+v", avg)
	}

	series := SeriesBySymbol(snaps, map[string]bool{"INFY": true})
	if len(series) != 1 || len(series["INFY"]) != 7 || series["INFY"][6] != 7 {
		t.Errorf("unexpected series: %v", series)
	}
	if got := FormatSeries([]float64{0.01, 0.0155}, 3); got != "0.010 -> 0.016" && got != "0.010 -> 0.015" {
		t.Errorf("FormatSeries() = %s", got)
	}
}

// TestProperty_TrendRunLengthBounded checks the run never exceeds the number
// of deltas and FLAT always has length one.
func TestProperty_TrendRunLengthBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("run length within series", prop.ForAll(
		func(series []float64) bool {
			trend, ok := ClassifyTrend(series, DefaultTrendThreshold)
			if len(series) < 2 {
				return !ok
			}
			if !ok || trend.RunLength < 1 || trend.RunLength > len(series)-1 {
				return false
			}
			return trend.Direction != Flat || trend.RunLength == 1
		},
		gen.SliceOf(gen.Float64Range(-0.05, 0.05)),
	))

	properties.Property("strictly rising series runs its full length", prop.ForAll(
		func(start float64, n int) bool {
			series := make([]float64, n)
			for i := range series {
				series[i] = start + float64(i)*0.01
			}
			trend, ok := ClassifyTrend(series, DefaultTrendThreshold)
			return ok && trend.Direction == Up && trend.RunLength == n-1
		},
		gen.Float64Range(-1, 1),
		gen.IntRange(2, 30),
	))

	properties.TestingRun(t)
}
