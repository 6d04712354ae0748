package broker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kite-gtt/internal/errors"
	"kite-gtt/internal/models"
)

var _ Broker = (*PaperBroker)(nil)

// PaperBroker simulates the broker in memory. GTTs trigger when UpdatePrice
// crosses their trigger value; a triggered buy becomes a holding and a trade.
type PaperBroker struct {
	holdings  map[string]*models.Holding
	gttOrders map[string]*models.GTTOrder
	trades    []models.Trade

	statePath string
	now       func() time.Time

	mu sync.RWMutex
}

// PaperBrokerConfig holds configuration for paper broker.
type PaperBrokerConfig struct {
	// StatePath persists the simulated book between runs. Empty keeps it in memory.
	StatePath string
	Clock     func() time.Time
}

// paperState is the on-disk form of the simulated book.
type paperState struct {
	Holdings []models.Holding  `json:"holdings"`
	GTTs     []models.GTTOrder `json:"gtts"`
	Trades   []models.Trade    `json:"trades"`
}

// NewPaperBroker creates a paper broker, loading saved state when StatePath exists.
func NewPaperBroker(cfg PaperBrokerConfig) (*PaperBroker, error) {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	p := &PaperBroker{
		holdings:  make(map[string]*models.Holding),
		gttOrders: make(map[string]*models.GTTOrder),
		statePath: cfg.StatePath,
		now:       now,
	}

	if cfg.StatePath != "" {
		if err := p.load(); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "failed to load paper state")
		}
	}
	return p, nil
}

// Login is a no-op for paper trading.
func (p *PaperBroker) Login(ctx context.Context) error {
	return nil
}

// CompleteLogin is a no-op for paper trading.
func (p *PaperBroker) CompleteLogin(ctx context.Context, requestToken string) error {
	return nil
}

// Logout is a no-op for paper trading.
func (p *PaperBroker) Logout(ctx context.Context) error {
	return nil
}

// IsAuthenticated always returns true for paper trading.
func (p *PaperBroker) IsAuthenticated() bool {
	return true
}

// SeedHoldings replaces the simulated holdings.
func (p *PaperBroker) SeedHoldings(holdings ...models.Holding) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.holdings = make(map[string]*models.Holding, len(holdings))
	for _, h := range holdings {
		h := h
		h.Symbol = models.NormalizeSymbol(h.Symbol)
		p.holdings[h.Symbol] = &h
	}
}

// SeedTrades appends trades to the simulated tradebook.
func (p *PaperBroker) SeedTrades(trades ...models.Trade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trades = append(p.trades, trades...)
}

// SeedGTTs adds GTTs as-is, keeping their ids and statuses.
func (p *PaperBroker) SeedGTTs(gtts ...models.GTTOrder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range gtts {
		g := g
		if g.ID == "" {
			g.ID = newPaperID()
		}
		p.gttOrders[g.ID] = &g
	}
}

// GetHoldings returns the simulated holdings sorted by symbol.
func (p *PaperBroker) GetHoldings(ctx context.Context) ([]models.Holding, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]models.Holding, 0, len(p.holdings))
	for _, h := range p.holdings {
		result = append(result, *h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

// GetTrades returns the simulated tradebook.
func (p *PaperBroker) GetTrades(ctx context.Context) ([]models.Trade, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]models.Trade(nil), p.trades...), nil
}

// GetOrders returns no regular orders; the paper book only holds GTTs.
func (p *PaperBroker) GetOrders(ctx context.Context) ([]models.Order, error) {
	return nil, nil
}

// GetGTTs returns all GTTs ordered by creation time.
func (p *PaperBroker) GetGTTs(ctx context.Context) ([]models.GTTOrder, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]models.GTTOrder, 0, len(p.gttOrders))
	for _, g := range p.gttOrders {
		c := *g
		c.Orders = append([]models.GTTOrderLeg(nil), g.Orders...)
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// PlaceGTT records a new active GTT.
func (p *PaperBroker) PlaceGTT(ctx context.Context, gtt *models.GTTOrder) (*GTTResult, error) {
	if err := ValidateGTT(gtt); err != nil {
		return nil, err
	}

	p.mu.Lock()
	now := p.now()
	order := *gtt
	order.ID = newPaperID()
	order.Symbol = models.NormalizeSymbol(gtt.Symbol)
	order.Orders = append([]models.GTTOrderLeg(nil), gtt.Orders...)
	order.Status = models.GTTStatusActive
	order.CreatedAt = now
	order.UpdatedAt = now
	p.gttOrders[order.ID] = &order
	p.mu.Unlock()

	if err := p.persist(); err != nil {
		return nil, err
	}

	return &GTTResult{
		TriggerID: order.ID,
		Status:    order.Status,
		Message:   "Paper GTT placed",
	}, nil
}

// CancelGTT removes an active GTT from the book.
func (p *PaperBroker) CancelGTT(ctx context.Context, gttID string) error {
	p.mu.Lock()
	gtt, ok := p.gttOrders[gttID]
	if !ok {
		p.mu.Unlock()
		return errors.NewOrderError(gttID, "", "delete_gtt", "GTT not found", nil)
	}
	if gtt.Status != models.GTTStatusActive {
		p.mu.Unlock()
		return errors.NewOrderError(gttID, gtt.Symbol, "delete_gtt", "GTT is "+gtt.Status, nil)
	}
	delete(p.gttOrders, gttID)
	p.mu.Unlock()

	return p.persist()
}

// UpdatePrice feeds a price for symbol and fires any GTT it crosses.
// It returns the ids of the GTTs that triggered.
func (p *PaperBroker) UpdatePrice(symbol string, price float64) ([]string, error) {
	symbol = models.NormalizeSymbol(symbol)

	p.mu.Lock()
	var fired []string
	now := p.now()
	for _, g := range p.gttOrders {
		if g.Symbol != symbol || g.Status != models.GTTStatusActive || !crossed(g, price) {
			continue
		}
		g.Status = models.GTTStatusTriggered
		g.UpdatedAt = now
		g.TriggeredAt = now
		fired = append(fired, g.ID)
		p.fill(g, now)
	}
	p.mu.Unlock()

	sort.Strings(fired)
	if len(fired) == 0 {
		return nil, nil
	}
	return fired, p.persist()
}

// crossed reports whether price has moved through the trigger from the side
// the GTT was created on.
func crossed(g *models.GTTOrder, price float64) bool {
	if g.TriggerPrice >= g.LastPrice {
		return price >= g.TriggerPrice
	}
	return price <= g.TriggerPrice
}

// fill executes the first leg at its limit price. Callers hold p.mu.
func (p *PaperBroker) fill(g *models.GTTOrder, at time.Time) {
	if len(g.Orders) == 0 {
		return
	}
	leg := g.Orders[0]

	p.trades = append(p.trades, models.Trade{
		ID:         newPaperID(),
		OrderID:    g.ID,
		Symbol:     g.Symbol,
		Exchange:   g.Exchange,
		Side:       leg.Side,
		Quantity:   leg.Quantity,
		Price:      leg.Price,
		TradeDate:  time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC),
		ExecutedAt: at,
	})

	h, ok := p.holdings[g.Symbol]
	if !ok {
		h = &models.Holding{Symbol: g.Symbol, Exchange: g.Exchange}
		p.holdings[g.Symbol] = h
	}
	switch leg.Side {
	case models.OrderSideBuy:
		// Bought today: settles as T1.
		cost := h.AveragePrice*float64(h.EffectiveQuantity()) + leg.Price*float64(leg.Quantity)
		h.T1Quantity += leg.Quantity
		h.AveragePrice = cost / float64(h.EffectiveQuantity())
	case models.OrderSideSell:
		h.Quantity -= leg.Quantity
		if h.EffectiveQuantity() <= 0 {
			delete(p.holdings, g.Symbol)
		}
	}
	h.LastPrice = leg.Price
}

func newPaperID() string {
	return "PAPER_" + uuid.NewString()
}

func (p *PaperBroker) load() error {
	data, err := os.ReadFile(p.statePath)
	if err != nil {
		return err
	}

	var state paperState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}

	p.SeedHoldings(state.Holdings...)
	p.SeedGTTs(state.GTTs...)
	p.SeedTrades(state.Trades...)
	return nil
}

func (p *PaperBroker) persist() error {
	if p.statePath == "" {
		return nil
	}

	p.mu.RLock()
	state := paperState{Trades: p.trades}
	for _, h := range p.holdings {
		state.Holdings = append(state.Holdings, *h)
	}
	for _, g := range p.gttOrders {
		state.GTTs = append(state.GTTs, *g)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	p.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p.statePath), 0700); err != nil {
		return err
	}
	return os.WriteFile(p.statePath, data, 0600)
}
