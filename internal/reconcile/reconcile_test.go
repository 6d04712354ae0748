package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"kite-gtt/internal/broker"
	"kite-gtt/internal/errors"
	"kite-gtt/internal/metrics"
	"kite-gtt/internal/models"
	"kite-gtt/pkg/utils"
)

// 10:00 IST on 15 Mar 2024.
var testNow = time.Date(2024, 3, 15, 4, 30, 0, 0, time.UTC)

func newPaper(t *testing.T, gtts ...models.GTTOrder) *broker.PaperBroker {
	t.Helper()
	p, err := broker.NewPaperBroker(broker.PaperBrokerConfig{Clock: func() time.Time { return testNow }})
	if err != nil {
		t.Fatalf("Failed to create paper broker: %v", err)
	}
	p.SeedGTTs(gtts...)
	return p
}

func newReconciler(b broker.Broker) *Reconciler {
	r := New(b, utils.IndiaLocation, zerolog.Nop(), metrics.New())
	r.now = func() time.Time { return testNow }
	return r
}

func proposal(symbol string) models.OrderProposal {
	return models.OrderProposal{
		Symbol:         symbol,
		Exchange:       models.NSE,
		LimitPrice:     95,
		TriggerPrice:   95.1,
		Quantity:       3,
		ReferencePrice: 100,
		EntryLevel:     "E1",
	}
}

func buyGTT(id, symbol, status string, trigger, limit float64, qty int) models.GTTOrder {
	return models.GTTOrder{
		ID:           id,
		Symbol:       symbol,
		Exchange:     models.NSE,
		TriggerType:  broker.TriggerTypeSingle,
		TriggerPrice: trigger,
		Status:       status,
		Orders: []models.GTTOrderLeg{{
			Side: models.OrderSideBuy, Type: models.OrderTypeLimit, Product: models.ProductCNC,
			Quantity: qty, Price: limit,
		}},
	}
}

func symbols(placed []Placement) []string {
	var out []string
	for _, p := range placed {
		out = append(out, p.Proposal.Symbol)
	}
	return out
}

func TestReconcile_SkipsExistingAndDuplicates(t *testing.T) {
	ctx := context.Background()
	sell := buyGTT("S1", "ITC", models.GTTStatusActive, 450, 450, 5)
	sell.Orders[0].Side = models.OrderSideSell
	p := newPaper(t, buyGTT("G1", "INFY", models.GTTStatusActive, 1400, 1398, 2), sell)

	live, _ := p.GetGTTs(ctx)
	plan := []models.OrderProposal{proposal("INFY"), proposal("TCS"), proposal("tcs"), proposal("ITC")}

	res := newReconciler(p).Reconcile(ctx, plan, live, false)

	if res.RunID == "" {
		t.Error("missing run id")
	}
	if got := symbols(res.Placed); len(got) != 2 || got[0] != "TCS" || got[1] != "ITC" {
		t.Errorf("placed = %v, want [TCS ITC]", got)
	}
	if len(res.Skipped) != 2 {
		t.Fatalf("skipped = %+v", res.Skipped)
	}
	if res.Skipped[0].Reason != AlreadyExists || res.Skipped[0].ExistingID != "G1" {
		t.Errorf("INFY skip = %+v", res.Skipped[0])
	}
	if res.Skipped[1].Reason != DuplicateInPlan {
		t.Errorf("second TCS skip = %+v", res.Skipped[1])
	}

	after, _ := p.GetGTTs(ctx)
	if len(after) != 4 {
		t.Errorf("broker holds %d GTTs, want 4", len(after))
	}
	for _, g := range after {
		if g.ID == "G1" && g.Status != models.GTTStatusActive {
			t.Error("existing GTT was modified")
		}
	}
}

func TestReconcile_TriggeredToday(t *testing.T) {
	ctx := context.Background()

	// 01:30 IST on 15 Mar, still the previous day in UTC.
	today := buyGTT("T1", "INFY", models.GTTStatusTriggered, 1400, 1398, 2)
	today.TriggeredAt = time.Date(2024, 3, 14, 20, 0, 0, 0, time.UTC)
	stale := buyGTT("T2", "TCS", models.GTTStatusTriggered, 3800, 3796, 1)
	stale.TriggeredAt = time.Date(2024, 3, 13, 9, 0, 0, 0, time.UTC)
	unknown := buyGTT("T3", "ITC", models.GTTStatusTriggered, 450, 449, 5)

	live := []models.GTTOrder{today, stale, unknown}
	p := newPaper(t)
	res := newReconciler(p).Reconcile(ctx, []models.OrderProposal{proposal("INFY"), proposal("TCS"), proposal("ITC")}, live, false)

	if got := symbols(res.Placed); len(got) != 1 || got[0] != "TCS" {
		t.Errorf("placed = %v, want only TCS", got)
	}
	if len(res.Skipped) != 2 {
		t.Errorf("skipped = %+v", res.Skipped)
	}
}

func TestReconcile_DryRun(t *testing.T) {
	ctx := context.Background()
	p := newPaper(t)

	res := newReconciler(p).Reconcile(ctx, []models.OrderProposal{proposal("INFY"), proposal("INFY")}, nil, true)
	if len(res.Placed) != 1 || !res.Placed[0].DryRun || res.Placed[0].GTTID != "" {
		t.Errorf("dry run placed = %+v", res.Placed)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Reason != DuplicateInPlan {
		t.Errorf("dry run skipped = %+v", res.Skipped)
	}
	if gtts, _ := p.GetGTTs(ctx); len(gtts) != 0 {
		t.Errorf("dry run reached the broker: %+v", gtts)
	}
}

type rejectingBroker struct {
	*broker.PaperBroker
	reject map[string]bool
}

func (b rejectingBroker) PlaceGTT(ctx context.Context, g *models.GTTOrder) (*broker.GTTResult, error) {
	if b.reject[g.Symbol] {
		return nil, errors.NewOrderError("", g.Symbol, "place_gtt", "rejected by exchange", nil)
	}
	return b.PaperBroker.PlaceGTT(ctx, g)
}

func TestReconcile_FailureDoesNotStopBatch(t *testing.T) {
	ctx := context.Background()
	b := rejectingBroker{PaperBroker: newPaper(t), reject: map[string]bool{"TCS": true}}

	zero := proposal("ITC")
	zero.Quantity = 0
	plan := []models.OrderProposal{proposal("INFY"), proposal("TCS"), proposal("WIPRO"), zero}

	res := newReconciler(b).Reconcile(ctx, plan, nil, false)
	if got := symbols(res.Placed); len(got) != 2 || got[0] != "INFY" || got[1] != "WIPRO" {
		t.Errorf("placed = %v", got)
	}
	if len(res.Failed) != 2 {
		t.Fatalf("failed = %+v", res.Failed)
	}
	if !errors.IsBroker(res.Failed[0].Err) || res.Failed[0].Proposal.Symbol != "TCS" {
		t.Errorf("TCS failure = %+v", res.Failed[0])
	}
	// Zero quantity is passed through and rejected by the broker.
	if !errors.IsValidation(res.Failed[1].Err) {
		t.Errorf("zero quantity failure = %v", res.Failed[1].Err)
	}
}

func TestReconcile_PlacedGTTShape(t *testing.T) {
	ctx := context.Background()
	p := newPaper(t)
	newReconciler(p).Reconcile(ctx, []models.OrderProposal{proposal("INFY")}, nil, false)

	gtts, _ := p.GetGTTs(ctx)
	if len(gtts) != 1 {
		t.Fatalf("got %d GTTs", len(gtts))
	}
	g := gtts[0]
	leg := g.Orders[0]
	if g.TriggerPrice != 95.1 || g.LastPrice != 100 || g.TriggerType != broker.TriggerTypeSingle {
		t.Errorf("unexpected GTT: %+v", g)
	}
	if leg.Side != models.OrderSideBuy || leg.Type != models.OrderTypeLimit || leg.Product != models.ProductCNC || leg.Price != 95 || leg.Quantity != 3 {
		t.Errorf("unexpected leg: %+v", leg)
	}
}

// TestProperty_NoDuplicatePlacement checks one pass never places two GTTs for
// a symbol, nor one for a symbol that already has a live buy GTT.
func TestProperty_NoDuplicatePlacement(t *testing.T) {
	names := []string{"INFY", "TCS", "ITC", "WIPRO", "SBIN"}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("placements are unique and new", prop.ForAll(
		func(planIdx, liveIdx []int) bool {
			ctx := context.Background()
			var live []models.GTTOrder
			blocked := make(map[string]bool)
			for i, n := range liveIdx {
				live = append(live, buyGTT(fmt.Sprintf("L%d", i), names[n], models.GTTStatusActive, 10, 9.99, 1))
				blocked[names[n]] = true
			}
			var plan []models.OrderProposal
			for _, n := range planIdx {
				plan = append(plan, proposal(names[n]))
			}

			p := newPaper(t, live...)
			res := newReconciler(p).Reconcile(ctx, plan, live, false)

			if len(res.Placed)+len(res.Skipped)+len(res.Failed) != len(plan) {
				return false
			}
			seen := make(map[string]bool)
			for _, pl := range res.Placed {
				if seen[pl.Proposal.Symbol] || blocked[pl.Proposal.Symbol] {
					return false
				}
				seen[pl.Proposal.Symbol] = true
			}

			// Every planned symbol now has exactly one buy GTT unless it had some before.
			after, _ := p.GetGTTs(ctx)
			counts := make(map[string]int)
			for _, g := range after {
				counts[g.Symbol]++
			}
			for _, pr := range plan {
				if !blocked[pr.Symbol] && counts[pr.Symbol] != 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(names)-1)),
		gen.SliceOf(gen.IntRange(0, len(names)-1)),
	))

	properties.TestingRun(t)
}
