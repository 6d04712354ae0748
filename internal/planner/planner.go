// Package planner turns watchlist entries into staged GTT buy proposals.
//
// Each entry declares up to three entry prices. Capital is converted to a
// target quantity at the current price and split across the declared levels;
// held quantity decides which single level is active. At most one proposal is
// produced per entry per pass.
package planner

import (
	"math"
	"sort"

	"github.com/Rhymond/go-money"
	"github.com/rs/zerolog"

	"kite-gtt/internal/errors"
	"kite-gtt/internal/logging"
	"kite-gtt/internal/metrics"
	"kite-gtt/internal/models"
	"kite-gtt/internal/pricing"
	"kite-gtt/pkg/utils"
)

// DefaultPriceCapFactor caps entries above the last price at +2.5%.
const DefaultPriceCapFactor = 1.025

// Outcome classifies what happened to one watchlist entry.
type Outcome string

const (
	Proposed         Outcome = "proposed"
	FullyAllocated   Outcome = "fully_allocated"
	NoActiveLevel    Outcome = "no_active_level"
	PriceUnavailable Outcome = "price_unavailable"
	Invalid          Outcome = "invalid"
)

// PriceSource returns the last traded price for an instrument.
type PriceSource interface {
	LastPrice(exchange models.Exchange, symbol string) (float64, error)
}

// Holdings maps normalized symbols to effective held quantity.
type Holdings map[string]int

// IndexHoldings sums effective quantity (including T1) per symbol.
func IndexHoldings(holdings []models.Holding) Holdings {
	idx := make(Holdings, len(holdings))
	for _, h := range holdings {
		idx[models.NormalizeSymbol(h.Symbol)] += h.EffectiveQuantity()
	}
	return idx
}

// Held returns the effective quantity held for symbol.
func (h Holdings) Held(symbol string) int {
	return h[models.NormalizeSymbol(symbol)]
}

// ItemResult is the planning outcome for one watchlist entry.
type ItemResult struct {
	Entry          models.WatchlistEntry
	Outcome        Outcome
	Proposal       *models.OrderProposal
	CurrentPrice   float64
	HeldQuantity   int
	TargetQuantity int
	Err            error
}

// Report collects the per-entry results of one planning pass.
type Report struct {
	Items      []ItemResult
	Duplicates []string
}

// Plan returns the proposals in watchlist order.
func (r Report) Plan() []models.OrderProposal {
	var plan []models.OrderProposal
	for _, item := range r.Items {
		if item.Proposal != nil {
			plan = append(plan, *item.Proposal)
		}
	}
	return plan
}

// Count returns how many items ended with outcome.
func (r Report) Count(outcome Outcome) int {
	n := 0
	for _, item := range r.Items {
		if item.Outcome == outcome {
			n++
		}
	}
	return n
}

// CapitalRequired sums limit * quantity over every proposal.
func (r Report) CapitalRequired() *money.Money {
	plan := r.Plan()
	values := make([]*money.Money, 0, len(plan))
	for _, p := range plan {
		values = append(values, utils.OrderValue(p.LimitPrice, p.Quantity))
	}
	return utils.SumINR(values...)
}

// Planner generates proposals with a fixed price cap.
type Planner struct {
	capFactor float64
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// New creates a Planner. A capFactor below 1 falls back to the default.
func New(capFactor float64, logger zerolog.Logger, m *metrics.Metrics) *Planner {
	if capFactor < 1 {
		capFactor = DefaultPriceCapFactor
	}
	return &Planner{
		capFactor: capFactor,
		logger:    logging.WithOperation(logger, "plan"),
		metrics:   m,
	}
}

// GeneratePlan plans one entry with the default price cap.
func GeneratePlan(entry models.WatchlistEntry, currentPrice float64, heldQty int) (*models.OrderProposal, error) {
	return New(DefaultPriceCapFactor, zerolog.Nop(), nil).Generate(entry, currentPrice, heldQty)
}

// TotalQuantity is the whole number of shares allocated capital buys at price.
func TotalQuantity(allocated, price float64) int {
	if price <= 0 {
		return 0
	}
	return int(math.Floor(allocated / price))
}

// Generate returns the proposal for the entry's active level, or nil when no
// level is active, the position is fully allocated, or currentPrice is zero
// (unknown). Entries without any entry price fail with ErrInsufficientConfig.
func (p *Planner) Generate(entry models.WatchlistEntry, currentPrice float64, heldQty int) (*models.OrderProposal, error) {
	levels := entry.Levels()
	if len(levels) == 0 {
		return nil, &errors.ValidationError{
			Field:   "entry_levels",
			Value:   entry.Symbol,
			Message: "no entry price declared",
			Err:     errors.ErrInsufficientConfig,
		}
	}
	if math.IsNaN(currentPrice) || math.IsInf(currentPrice, 0) || currentPrice < 0 {
		return nil, errors.NewValidationError("current_price", currentPrice, "must be a positive number")
	}
	if math.IsNaN(entry.AllocatedCapital) || math.IsInf(entry.AllocatedCapital, 0) {
		return nil, errors.NewValidationError("allocated_capital", entry.AllocatedCapital, "must be a number")
	}
	if currentPrice == 0 {
		return nil, nil
	}

	total := TotalQuantity(entry.AllocatedCapital, currentPrice)
	if heldQty >= total {
		return nil, nil
	}

	splits := splitQuantity(total, len(levels))
	for i, level := range levels {
		if !levelActive(level.Slot, heldQty, total) {
			continue
		}

		desired := pricing.CapDesired(level.Price, currentPrice, p.capFactor)
		res, err := pricing.Compute(desired, currentPrice)
		if err != nil {
			return nil, err
		}
		return &models.OrderProposal{
			Symbol:         models.NormalizeSymbol(entry.Symbol),
			Exchange:       entry.Exchange,
			LimitPrice:     res.Limit,
			TriggerPrice:   res.Trigger,
			Quantity:       splits[i],
			ReferencePrice: pricing.Round2(currentPrice),
			EntryLevel:     level.Label,
		}, nil
	}
	return nil, nil
}

// levelActive evaluates the held-quantity gate for a declared slot. Callers
// walk slots in order and stop at the first active one.
func levelActive(slot, held, total int) bool {
	switch slot {
	case 1:
		return held == 0
	case 2:
		return held <= floorDiv(total, 3)
	case 3:
		return held <= floorDiv(2*total, 3)
	}
	return false
}

// splitQuantity divides total evenly over n levels with the remainder on the last.
func splitQuantity(total, n int) []int {
	splits := make([]int, n)
	base := floorDiv(total, n)
	for i := range splits {
		splits[i] = base
	}
	splits[n-1] += total - base*n
	return splits
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// PlanAll plans every entry. One entry's failure never stops the others.
func (p *Planner) PlanAll(entries []models.WatchlistEntry, prices PriceSource, holdings Holdings) Report {
	report := Report{
		Items:      make([]ItemResult, 0, len(entries)),
		Duplicates: DuplicateSymbols(entries),
	}

	for _, d := range report.Duplicates {
		p.logger.Warn().Str("symbol", d).Msg("Symbol listed more than once in watchlist")
	}

	for _, entry := range entries {
		item := p.planOne(entry, prices, holdings)
		p.metrics.PlanItem(string(item.Outcome))
		report.Items = append(report.Items, item)
	}
	return report
}

func (p *Planner) planOne(entry models.WatchlistEntry, prices PriceSource, holdings Holdings) ItemResult {
	symbol := models.NormalizeSymbol(entry.Symbol)
	log := logging.WithSymbol(p.logger, symbol)
	item := ItemResult{Entry: entry, HeldQuantity: holdings.Held(symbol)}

	if len(entry.Levels()) == 0 {
		item.Outcome = Invalid
		item.Err = &errors.ValidationError{Field: "entry_levels", Value: symbol, Message: "no entry price declared", Err: errors.ErrInsufficientConfig}
		log.Warn().Err(item.Err).Msg("No valid entry levels, skipping")
		return item
	}

	price, err := prices.LastPrice(entry.Exchange, symbol)
	if err != nil || price <= 0 {
		item.Outcome = PriceUnavailable
		if err == nil {
			err = errors.NewLookupError(string(entry.Exchange), symbol, "no price", errors.ErrPriceUnavailable)
		}
		item.Err = err
		log.Warn().Err(err).Msg("Could not fetch current price, skipping")
		return item
	}
	item.CurrentPrice = price
	item.TargetQuantity = TotalQuantity(entry.AllocatedCapital, price)

	if item.HeldQuantity >= item.TargetQuantity {
		item.Outcome = FullyAllocated
		log.Info().Int("held", item.HeldQuantity).Int("target", item.TargetQuantity).Msg("Fully allocated")
		return item
	}

	proposal, err := p.Generate(entry, price, item.HeldQuantity)
	switch {
	case err != nil:
		item.Outcome = Invalid
		item.Err = err
		log.Warn().Err(err).Msg("Failed to plan entry")
	case proposal == nil:
		item.Outcome = NoActiveLevel
		log.Debug().Int("held", item.HeldQuantity).Int("target", item.TargetQuantity).Msg("No active entry level")
	default:
		item.Outcome = Proposed
		item.Proposal = proposal
		log.Debug().
			Str("level", proposal.EntryLevel).
			Float64("limit", proposal.LimitPrice).
			Float64("trigger", proposal.TriggerPrice).
			Int("quantity", proposal.Quantity).
			Msg("Proposed GTT")
	}
	return item
}

// DuplicateSymbols returns symbols listed more than once, sorted.
func DuplicateSymbols(entries []models.WatchlistEntry) []string {
	counts := make(map[string]int, len(entries))
	for _, e := range entries {
		counts[models.NormalizeSymbol(e.Symbol)]++
	}
	var dups []string
	for sym, n := range counts {
		if n > 1 {
			dups = append(dups, sym)
		}
	}
	sort.Strings(dups)
	return dups
}
