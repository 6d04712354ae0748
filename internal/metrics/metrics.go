// Package metrics exposes Prometheus counters for planning, placement and
// price cache activity.
//
// Metrics:
//   - gtt_plan_items_total{outcome}     watchlist items by planning outcome
//   - gtt_placements_total{result}      GTT creates/deletes by result
//   - gtt_quote_refresh_total{result}   price cache refreshes (ok|partial|failed)
//   - gtt_quote_cache_symbols           symbols in the current price snapshot
//   - gtt_roi_per_day_avg               latest average ROI/day across holdings
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	planItems    *prometheus.CounterVec
	placements   *prometheus.CounterVec
	quoteRefresh *prometheus.CounterVec
	cacheSymbols prometheus.Gauge
	roiPerDayAvg prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		planItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gtt_plan_items_total",
				Help: "Watchlist items processed by the planner, by outcome",
			},
			[]string{"outcome"},
		),
		placements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gtt_placements_total",
				Help: "GTT broker mutations, by result",
			},
			[]string{"result"},
		),
		quoteRefresh: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gtt_quote_refresh_total",
				Help: "Price cache refreshes, by result",
			},
			[]string{"result"},
		),
		cacheSymbols: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gtt_quote_cache_symbols",
				Help: "Symbols held in the current price snapshot",
			},
		),
		roiPerDayAvg: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gtt_roi_per_day_avg",
				Help: "Average ROI/day across current holdings",
			},
		),
	}

	m.registry.MustRegister(m.planItems, m.placements, m.quoteRefresh, m.cacheSymbols, m.roiPerDayAvg)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// PlanItem counts one planner outcome.
func (m *Metrics) PlanItem(outcome string) {
	if m == nil {
		return
	}
	m.planItems.WithLabelValues(outcome).Inc()
}

// Placement counts one broker mutation result (placed, dry_run, failed, deleted, ...).
func (m *Metrics) Placement(result string) {
	if m == nil {
		return
	}
	m.placements.WithLabelValues(result).Inc()
}

// QuoteRefresh counts a cache refresh and records the snapshot size.
func (m *Metrics) QuoteRefresh(result string, symbols int) {
	if m == nil {
		return
	}
	m.quoteRefresh.WithLabelValues(result).Inc()
	m.cacheSymbols.Set(float64(symbols))
}

// RoiPerDayAverage records the latest portfolio ROI/day average.
func (m *Metrics) RoiPerDayAverage(v float64) {
	if m == nil {
		return
	}
	m.roiPerDayAvg.Set(v)
}

// WriteTextfile writes the registry in text exposition format for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
