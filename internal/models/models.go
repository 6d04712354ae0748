// Package models provides domain models for the GTT planner.
package models

import (
	"strings"
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// Segment returns the equity segment name used by quote providers (e.g. NSE_EQ).
func (e Exchange) Segment() string {
	return string(e) + "_EQ"
}

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS ProductType = "MIS" // Intraday
	ProductCNC ProductType = "CNC" // Delivery
)

// PriceQuote is a last traded price snapshot owned by the price cache.
type PriceQuote struct {
	Exchange  Exchange
	Symbol    string
	LastPrice float64
	FetchedAt time.Time
	Source    string
}

// Instrument identifies a tradeable equity by exchange and symbol.
type Instrument struct {
	Exchange Exchange
	Symbol   string
}

// String returns the EXCHANGE:SYMBOL form used by Kite.
func (i Instrument) String() string {
	return string(i.Exchange) + ":" + i.Symbol
}

// NormalizeSymbol strips the suffixes Kite appends to some holding symbols
// (e.g. "IDEA#") and upper-cases the result.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(symbol, "#", "")))
}
