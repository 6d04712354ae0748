package models

import "time"

// Trade is one executed fill from the broker tradebook. Trades are keyed by ID
// and never rewritten once stored.
type Trade struct {
	ID         string
	OrderID    string
	Symbol     string
	Exchange   Exchange
	Side       OrderSide
	Quantity   int
	Price      float64
	TradeDate  time.Time
	ExecutedAt time.Time
}

// IsBuy reports whether the trade is a buy.
func (t Trade) IsBuy() bool {
	return t.Side == OrderSideBuy
}

// RoiSnapshot is one day's ROI figures for a held symbol. The pair
// (Date, Symbol) is unique; later writes replace earlier ones.
type RoiSnapshot struct {
	Date           time.Time
	Symbol         string
	InvestedAmount float64
	AbsoluteProfit float64
	YieldPerDay    float64
	AgeDays        int
	ProfitPercent  float64
	RoiPerDay      float64
}
