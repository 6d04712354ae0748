package models

import "time"

// GTT statuses reported by the broker.
const (
	GTTStatusActive    = "active"
	GTTStatusTriggered = "triggered"
	GTTStatusCancelled = "cancelled"
	GTTStatusDeleted   = "deleted"
)

// Order represents a regular (non-GTT) order.
type Order struct {
	ID           string
	Symbol       string
	Exchange     Exchange
	Side         OrderSide
	Type         OrderType
	Product      ProductType
	Quantity     int
	Price        float64
	TriggerPrice float64
	Status       string
	FilledQty    int
	AveragePrice float64
	PlacedAt     time.Time
}

// GTTOrder represents a live Good Till Triggered order held by the broker.
type GTTOrder struct {
	ID           string
	Symbol       string
	Exchange     Exchange
	TriggerType  string // single, two-leg
	TriggerPrice float64
	LastPrice    float64 // last price at creation
	Orders       []GTTOrderLeg
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	TriggeredAt  time.Time
}

// GTTOrderLeg represents a leg of a GTT order.
type GTTOrderLeg struct {
	Side     OrderSide
	Type     OrderType
	Product  ProductType
	Quantity int
	Price    float64
}

// IsBuy reports whether the first leg of the GTT is a buy.
func (g GTTOrder) IsBuy() bool {
	return len(g.Orders) > 0 && g.Orders[0].Side == OrderSideBuy
}

// Quantity returns the first leg's quantity.
func (g GTTOrder) Quantity() int {
	if len(g.Orders) == 0 {
		return 0
	}
	return g.Orders[0].Quantity
}

// LimitPrice returns the first leg's limit price.
func (g GTTOrder) LimitPrice() float64 {
	if len(g.Orders) == 0 {
		return 0
	}
	return g.Orders[0].Price
}

// OrderProposal is a single planned GTT buy for one watchlist entry.
type OrderProposal struct {
	Symbol         string
	Exchange       Exchange
	LimitPrice     float64
	TriggerPrice   float64
	Quantity       int
	ReferencePrice float64 // current price snapshot used for planning
	EntryLevel     string  // E1, E2, E3
}

// Amount returns the capital the proposal commits when it executes.
func (p OrderProposal) Amount() float64 {
	return p.LimitPrice * float64(p.Quantity)
}

// Holding represents a delivery holding.
type Holding struct {
	Symbol       string
	Exchange     Exchange
	ISIN         string
	Quantity     int
	T1Quantity   int
	AveragePrice float64
	LastPrice    float64
}

// EffectiveQuantity counts unsettled T1 shares as held.
func (h Holding) EffectiveQuantity() int {
	return h.Quantity + h.T1Quantity
}
