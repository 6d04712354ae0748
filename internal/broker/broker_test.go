package broker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"kite-gtt/internal/errors"
	"kite-gtt/internal/models"
	"kite-gtt/pkg/utils"
)

func proposal() models.OrderProposal {
	return models.OrderProposal{
		Symbol:         "INFY",
		Exchange:       models.NSE,
		LimitPrice:     95,
		TriggerPrice:   95.1,
		Quantity:       10,
		ReferencePrice: 100,
		EntryLevel:     "E1",
	}
}

func TestNewBuyGTT(t *testing.T) {
	g := NewBuyGTT(proposal())

	if g.TriggerType != TriggerTypeSingle || g.TriggerPrice != 95.1 || g.LastPrice != 100 {
		t.Errorf("unexpected GTT: %+v", g)
	}
	if len(g.Orders) != 1 {
		t.Fatalf("expected one leg, got %d", len(g.Orders))
	}
	leg := g.Orders[0]
	if leg.Side != models.OrderSideBuy || leg.Type != models.OrderTypeLimit || leg.Product != models.ProductCNC {
		t.Errorf("unexpected leg: %+v", leg)
	}
	if leg.Quantity != 10 || leg.Price != 95 {
		t.Errorf("leg = %d @ %v, want 10 @ 95", leg.Quantity, leg.Price)
	}
	if err := ValidateGTT(g); err != nil {
		t.Errorf("ValidateGTT() error = %v", err)
	}
}

func TestValidateGTT(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(g *models.GTTOrder)
	}{
		{"empty symbol", func(g *models.GTTOrder) { g.Symbol = " " }},
		{"bad exchange", func(g *models.GTTOrder) { g.Exchange = "NFO" }},
		{"zero trigger", func(g *models.GTTOrder) { g.TriggerPrice = 0 }},
		{"no legs", func(g *models.GTTOrder) { g.Orders = nil }},
		{"zero quantity", func(g *models.GTTOrder) { g.Orders[0].Quantity = 0 }},
		{"zero price", func(g *models.GTTOrder) { g.Orders[0].Price = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewBuyGTT(proposal())
			tt.mutate(g)
			if err := ValidateGTT(g); !errors.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	if err := ValidateGTT(nil); !errors.IsValidation(err) {
		t.Errorf("nil GTT should fail validation, got %v", err)
	}
}

func TestPaperBroker_PlaceAndCancel(t *testing.T) {
	ctx := context.Background()
	p, err := NewPaperBroker(PaperBrokerConfig{})
	if err != nil {
		t.Fatalf("Failed to create paper broker: %v", err)
	}

	res, err := p.PlaceGTT(ctx, NewBuyGTT(proposal()))
	if err != nil {
		t.Fatalf("Failed to place GTT: %v", err)
	}
	if res.Status != models.GTTStatusActive || res.TriggerID == "" {
		t.Errorf("unexpected result: %+v", res)
	}

	gtts, _ := p.GetGTTs(ctx)
	if len(gtts) != 1 || gtts[0].ID != res.TriggerID || gtts[0].Symbol != "INFY" {
		t.Fatalf("unexpected book: %+v", gtts)
	}

	if err := p.CancelGTT(ctx, res.TriggerID); err != nil {
		t.Fatalf("Failed to cancel GTT: %v", err)
	}
	gtts, _ = p.GetGTTs(ctx)
	if len(gtts) != 0 {
		t.Errorf("cancelled GTT still listed: %+v", gtts)
	}

	var oerr *errors.OrderError
	if err := p.CancelGTT(ctx, res.TriggerID); !errors.As(err, &oerr) {
		t.Errorf("expected OrderError for unknown id, got %v", err)
	}

	if _, err := p.PlaceGTT(ctx, &models.GTTOrder{Symbol: "INFY", Exchange: models.NSE}); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPaperBroker_TriggerFillsHolding(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 4, 11, 0, 0, 0, utils.IndiaLocation)
	p, _ := NewPaperBroker(PaperBrokerConfig{Clock: func() time.Time { return now }})
	p.SeedHoldings(models.Holding{Symbol: "INFY", Exchange: models.NSE, Quantity: 10, AveragePrice: 110})

	res, err := p.PlaceGTT(ctx, NewBuyGTT(proposal()))
	if err != nil {
		t.Fatalf("Failed to place GTT: %v", err)
	}

	// Trigger is below the last price, so a rise does nothing.
	if fired, _ := p.UpdatePrice("INFY", 101); len(fired) != 0 {
		t.Fatalf("GTT fired on a rise: %v", fired)
	}
	fired, err := p.UpdatePrice("INFY", 95.05)
	if err != nil {
		t.Fatalf("UpdatePrice() error = %v", err)
	}
	if len(fired) != 1 || fired[0] != res.TriggerID {
		t.Fatalf("fired = %v, want [%s]", fired, res.TriggerID)
	}

	gtts, _ := p.GetGTTs(ctx)
	if gtts[0].Status != models.GTTStatusTriggered || !gtts[0].TriggeredAt.Equal(now) {
		t.Errorf("GTT not marked triggered: %+v", gtts[0])
	}

	holdings, _ := p.GetHoldings(ctx)
	if len(holdings) != 1 || holdings[0].Quantity != 10 || holdings[0].T1Quantity != 10 {
		t.Fatalf("unexpected holdings: %+v", holdings)
	}
	if holdings[0].AveragePrice != 102.5 {
		t.Errorf("AveragePrice = %v, want 102.5", holdings[0].AveragePrice)
	}

	trades, _ := p.GetTrades(ctx)
	if len(trades) != 1 || trades[0].OrderID != res.TriggerID || trades[0].Quantity != 10 {
		t.Errorf("unexpected trades: %+v", trades)
	}

	if err := p.CancelGTT(ctx, res.TriggerID); err == nil {
		t.Error("cancelling a triggered GTT should fail")
	}
}

func TestPaperBroker_StatePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "paper.json")

	p, err := NewPaperBroker(PaperBrokerConfig{StatePath: path})
	if err != nil {
		t.Fatalf("Failed to create paper broker: %v", err)
	}
	res, err := p.PlaceGTT(ctx, NewBuyGTT(proposal()))
	if err != nil {
		t.Fatalf("Failed to place GTT: %v", err)
	}

	reopened, err := NewPaperBroker(PaperBrokerConfig{StatePath: path})
	if err != nil {
		t.Fatalf("Failed to reopen paper broker: %v", err)
	}
	gtts, _ := reopened.GetGTTs(ctx)
	if len(gtts) != 1 || gtts[0].ID != res.TriggerID || gtts[0].Quantity() != 10 {
		t.Errorf("state not restored: %+v", gtts)
	}
}

func TestGTTFromKite(t *testing.T) {
	raw := `[
		{"id": 101, "type": "single", "status": "triggered",
		 "created_at": "2024-03-01 09:20:00", "updated_at": "2024-03-04 10:05:00",
		 "condition": {"exchange": "NSE", "tradingsymbol": "INFY", "trigger_values": [1450.5], "last_price": 1500},
		 "orders": [{"transaction_type": "BUY", "order_type": "LIMIT", "product": "CNC", "quantity": 7, "price": 1452}]},
		{"id": 102, "type": "single", "status": "active",
		 "condition": {"exchange": "NSE", "tradingsymbol": "TCS", "trigger_values": [], "last_price": 3800},
		 "orders": [{"transaction_type": "BUY", "quantity": 1, "price": 3700}]},
		{"id": 103, "type": "single", "status": "active",
		 "condition": {"exchange": "NSE", "tradingsymbol": "ITC", "trigger_values": [400], "last_price": 420},
		 "orders": []}
	]`

	var gtts []kiteconnect.GTT
	if err := json.Unmarshal([]byte(raw), &gtts); err != nil {
		t.Fatalf("Failed to decode fixture: %v", err)
	}

	g, err := gttFromKite(gtts[0])
	if err != nil {
		t.Fatalf("gttFromKite() error = %v", err)
	}
	if g.ID != "101" || g.Symbol != "INFY" || g.TriggerPrice != 1450.5 || g.LastPrice != 1500 {
		t.Errorf("unexpected mapping: %+v", g)
	}
	if g.Quantity() != 7 || g.LimitPrice() != 1452 || !g.IsBuy() {
		t.Errorf("unexpected leg: %+v", g.Orders)
	}
	if g.TriggeredAt.IsZero() || !g.TriggeredAt.Equal(g.UpdatedAt) {
		t.Errorf("TriggeredAt = %v, want UpdatedAt %v", g.TriggeredAt, g.UpdatedAt)
	}

	for _, bad := range gtts[1:] {
		if _, err := gttFromKite(bad); !errors.IsValidation(err) {
			t.Errorf("GTT %d: expected validation error, got %v", bad.ID, err)
		}
	}
}

func TestHoldingAndTradeFromKite(t *testing.T) {
	var holdings []kiteconnect.Holding
	raw := `[{"tradingsymbol": "IDEA#", "exchange": "NSE", "isin": "INE669E01016", "quantity": 100, "t1_quantity": 5, "average_price": 10.5, "last_price": 12},
		{"tradingsymbol": "", "exchange": "NSE", "quantity": 3}]`
	if err := json.Unmarshal([]byte(raw), &holdings); err != nil {
		t.Fatalf("Failed to decode fixture: %v", err)
	}

	h, err := holdingFromKite(holdings[0])
	if err != nil {
		t.Fatalf("holdingFromKite() error = %v", err)
	}
	if h.Symbol != "IDEA" || h.EffectiveQuantity() != 105 || h.LastPrice != 12 {
		t.Errorf("unexpected holding: %+v", h)
	}
	if _, err := holdingFromKite(holdings[1]); !errors.IsValidation(err) {
		t.Errorf("expected validation error for blank symbol, got %v", err)
	}

	var trades []kiteconnect.Trade
	raw = `[{"trade_id": "T1", "order_id": "O1", "tradingsymbol": "INFY", "exchange": "NSE",
		"transaction_type": "BUY", "quantity": 4, "average_price": 1500.25, "exchange_timestamp": "2024-03-04 10:15:00"}]`
	if err := json.Unmarshal([]byte(raw), &trades); err != nil {
		t.Fatalf("Failed to decode fixture: %v", err)
	}
	tr, err := tradeFromKite(trades[0])
	if err != nil {
		t.Fatalf("tradeFromKite() error = %v", err)
	}
	if tr.ID != "T1" || tr.Quantity != 4 || tr.Price != 1500.25 || !tr.IsBuy() {
		t.Errorf("unexpected trade: %+v", tr)
	}
	if tr.TradeDate.Format("2006-01-02") != "2024-03-04" {
		t.Errorf("TradeDate = %v, want 2024-03-04", tr.TradeDate)
	}
}

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2024, 3, 4, 23, 30, 0, 0, utils.IndiaLocation)
	got := SessionExpiry(now)
	want := time.Date(2024, 3, 5, 6, 0, 0, 0, utils.IndiaLocation)
	if !got.Equal(want) {
		t.Errorf("SessionExpiry() = %v, want %v", got, want)
	}

	early := time.Date(2024, 3, 5, 2, 0, 0, 0, utils.IndiaLocation)
	if got := SessionExpiry(early); !got.Equal(want) {
		t.Errorf("SessionExpiry(02:00) = %v, want %v", got, want)
	}
}

func TestKiteBroker_RequiresSession(t *testing.T) {
	ctx := context.Background()
	k := NewKiteBroker(KiteConfig{APIKey: "key", TokenPath: filepath.Join(t.TempDir(), "session.json")}, zerolog.Nop())

	if k.IsAuthenticated() {
		t.Fatal("broker without a saved session should not be authenticated")
	}
	if _, err := k.GetGTTs(ctx); !errors.Is(err, errors.ErrNotAuthenticated) {
		t.Errorf("GetGTTs() error = %v, want ErrNotAuthenticated", err)
	}
	if _, err := k.PlaceGTT(ctx, NewBuyGTT(proposal())); !errors.Is(err, errors.ErrNotAuthenticated) {
		t.Errorf("PlaceGTT() error = %v, want ErrNotAuthenticated", err)
	}
	if err := k.CompleteLogin(ctx, " "); !errors.IsValidation(err) {
		t.Errorf("blank request token should fail validation, got %v", err)
	}
}

// TestProperty_PaperIDsUnique checks every placement gets a distinct id and
// shows up in the book.
func TestProperty_PaperIDsUnique(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("placements never share an id", prop.ForAll(
		func(n int) bool {
			p, _ := NewPaperBroker(PaperBrokerConfig{})
			seen := make(map[string]bool)
			for i := 0; i < n; i++ {
				res, err := p.PlaceGTT(context.Background(), NewBuyGTT(proposal()))
				if err != nil || seen[res.TriggerID] {
					return false
				}
				seen[res.TriggerID] = true
			}
			gtts, _ := p.GetGTTs(context.Background())
			return len(gtts) == n
		},
		gen.IntRange(0, 30),
	))

	properties.TestingRun(t)
}
