// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"
	"strings"

	"kite-gtt/internal/errors"
	"kite-gtt/internal/models"
)

// Broker defines the operations the planner and reconciler need from a broker.
type Broker interface {
	// Authentication
	Login(ctx context.Context) error
	CompleteLogin(ctx context.Context, requestToken string) error
	Logout(ctx context.Context) error
	IsAuthenticated() bool

	// Portfolio
	GetHoldings(ctx context.Context) ([]models.Holding, error)
	GetTrades(ctx context.Context) ([]models.Trade, error)
	GetOrders(ctx context.Context) ([]models.Order, error)

	// GTT Orders
	GetGTTs(ctx context.Context) ([]models.GTTOrder, error)
	PlaceGTT(ctx context.Context, gtt *models.GTTOrder) (*GTTResult, error)
	CancelGTT(ctx context.Context, gttID string) error
}

// GTTResult represents the result of a GTT order placement.
type GTTResult struct {
	TriggerID string
	Status    string
	Message   string
}

// TriggerTypeSingle is a one-leg GTT.
const TriggerTypeSingle = "single"

// NewBuyGTT builds a single-leg LIMIT buy for delivery (CNC) from a proposal.
// The proposal's reference price becomes the GTT's last price.
func NewBuyGTT(p models.OrderProposal) *models.GTTOrder {
	return &models.GTTOrder{
		Symbol:       p.Symbol,
		Exchange:     p.Exchange,
		TriggerType:  TriggerTypeSingle,
		TriggerPrice: p.TriggerPrice,
		LastPrice:    p.ReferencePrice,
		Orders: []models.GTTOrderLeg{{
			Side:     models.OrderSideBuy,
			Type:     models.OrderTypeLimit,
			Product:  models.ProductCNC,
			Quantity: p.Quantity,
			Price:    p.LimitPrice,
		}},
	}
}

// ValidateGTT checks a GTT before it is sent to a broker.
func ValidateGTT(g *models.GTTOrder) error {
	if g == nil {
		return errors.NewValidationError("gtt", nil, "missing")
	}
	if strings.TrimSpace(g.Symbol) == "" {
		return errors.NewValidationError("symbol", g.Symbol, "required")
	}
	if g.Exchange != models.NSE && g.Exchange != models.BSE {
		return errors.NewValidationError("exchange", g.Exchange, "must be NSE or BSE")
	}
	if g.TriggerPrice <= 0 {
		return errors.NewValidationError("trigger_price", g.TriggerPrice, "must be positive")
	}
	if len(g.Orders) == 0 {
		return errors.NewValidationError("orders", 0, "GTT order must have at least one leg")
	}
	for _, leg := range g.Orders {
		if leg.Quantity <= 0 {
			return errors.NewValidationError("quantity", leg.Quantity, "must be positive")
		}
		if leg.Price <= 0 {
			return errors.NewValidationError("price", leg.Price, "must be positive")
		}
	}
	return nil
}
