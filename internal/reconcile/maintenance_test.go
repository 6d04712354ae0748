package reconcile

import (
	"context"
	"fmt"
	"testing"

	"kite-gtt/internal/models"
	"kite-gtt/pkg/utils"
)

type fixedPrices map[string]float64

func (f fixedPrices) LastPrice(exchange models.Exchange, symbol string) (float64, error) {
	if p, ok := f[symbol]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("no price for %s", symbol)
}

func sampleBook() []models.GTTOrder {
	sell := buyGTT("E", "INFY", models.GTTStatusActive, 120, 120, 10)
	sell.Orders[0].Side = models.OrderSideSell
	return []models.GTTOrder{
		buyGTT("A", "INFY", models.GTTStatusActive, 90, 89.91, 10),
		buyGTT("B", "TCS", models.GTTStatusActive, 99, 98.9, 2),
		buyGTT("C", "TCS", models.GTTStatusActive, 95, 94.9, 1),
		buyGTT("D", "ITC", models.GTTStatusActive, 400, 399.6, 1),
		sell,
		buyGTT("F", "WIPRO", models.GTTStatusTriggered, 500, 499.5, 1),
	}
}

var samplePrices = fixedPrices{"INFY": 100, "TCS": 100, "WIPRO": 480}

func TestAnalyze(t *testing.T) {
	book := Analyze(sampleBook(), samplePrices)

	if len(book.Rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(book.Rows))
	}
	want := []struct {
		id       string
		variance float64
	}{{"B", 1.01}, {"C", 5.26}, {"A", 11.11}}
	for i, w := range want {
		if book.Rows[i].GTT.ID != w.id || book.Rows[i].Variance != w.variance {
			t.Errorf("row %d = %s %.2f, want %s %.2f", i, book.Rows[i].GTT.ID, book.Rows[i].Variance, w.id, w.variance)
		}
	}
	if len(book.Duplicates) != 1 || book.Duplicates[0] != "TCS" {
		t.Errorf("duplicates = %v", book.Duplicates)
	}
	if len(book.Unpriced) != 1 || book.Unpriced[0].ID != "D" {
		t.Errorf("unpriced = %+v", book.Unpriced)
	}
	// 899.10 + 197.80 + 94.90 + 399.60
	if book.Capital.Amount() != 159140 {
		t.Errorf("capital = %s", utils.FormatMoney(book.Capital))
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	p := newPaper(t, sampleBook()...)
	book := Analyze(sampleBook(), samplePrices)

	actions := newReconciler(p).Prune(ctx, book, 5)
	if len(actions) != 2 || actions[0].Row.GTT.ID != "C" || actions[1].Row.GTT.ID != "A" {
		t.Fatalf("actions = %+v", actions)
	}
	for _, a := range actions {
		if !a.Executed || a.Err != nil {
			t.Errorf("action on %s failed: %v", a.Row.GTT.ID, a.Err)
		}
	}

	left, _ := p.GetGTTs(ctx)
	for _, g := range left {
		if g.ID == "A" || g.ID == "C" {
			t.Errorf("GTT %s not deleted", g.ID)
		}
	}

	// Already gone: reported per item, not fatal.
	again := newReconciler(p).Prune(ctx, book, 5)
	if len(again) != 2 || again[0].Err == nil || again[0].Executed {
		t.Errorf("second prune = %+v", again)
	}
}

func TestRealign(t *testing.T) {
	ctx := context.Background()
	p := newPaper(t, sampleBook()...)
	book := Analyze(sampleBook(), samplePrices)

	actions := newReconciler(p).Realign(ctx, book, 5)
	if len(actions) != 1 {
		t.Fatalf("actions = %+v", actions)
	}
	a := actions[0]
	// 100 / 1.05 = 95.24, then 95.24 + 0.0952 = 95.34 as trigger.
	if a.Err != nil || !a.Executed || a.Trigger != 95.34 || a.Limit != 95.24 || a.NewID == "" {
		t.Errorf("realign action = %+v", a)
	}

	gtts, _ := p.GetGTTs(ctx)
	var replaced *models.GTTOrder
	for i, g := range gtts {
		if g.ID == "B" {
			t.Error("old GTT still present")
		}
		if g.ID == a.NewID {
			replaced = &gtts[i]
		}
	}
	if replaced == nil {
		t.Fatal("replacement not placed")
	}
	if replaced.TriggerPrice != 95.34 || replaced.Quantity() != 2 || replaced.LimitPrice() != 95.24 || replaced.LastPrice != 100 {
		t.Errorf("replacement = %+v", replaced)
	}
}
