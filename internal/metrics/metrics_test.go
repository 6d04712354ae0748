package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()

	m.PlanItem("proposed")
	m.PlanItem("proposed")
	m.PlanItem("fully_allocated")
	m.Placement("placed")
	m.QuoteRefresh("ok", 42)
	m.RoiPerDayAverage(0.15)

	if got := testutil.ToFloat64(m.planItems.WithLabelValues("proposed")); got != 2 {
		t.Errorf("proposed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.planItems.WithLabelValues("fully_allocated")); got != 1 {
		t.Errorf("fully_allocated = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.placements.WithLabelValues("placed")); got != 1 {
		t.Errorf("placed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheSymbols); got != 42 {
		t.Errorf("cache symbols = %v, want 42", got)
	}
	if got := testutil.ToFloat64(m.roiPerDayAvg); got != 0.15 {
		t.Errorf("roi per day = %v, want 0.15", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.PlanItem("proposed")
	m.Placement("placed")
	m.QuoteRefresh("ok", 1)
	m.RoiPerDayAverage(1)
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "gtt.prom")); err != nil {
		t.Fatalf("nil WriteTextfile returned error: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Placement("dry_run")

	path := filepath.Join(t.TempDir(), "textfile", "gtt.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("Failed to write textfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read textfile: %v", err)
	}
	if !strings.Contains(string(data), `gtt_placements_total{result="dry_run"} 1`) {
		t.Errorf("textfile missing placement counter:\n%s", data)
	}
}
