package reconcile

import (
	"context"
	"sort"

	"github.com/Rhymond/go-money"

	"kite-gtt/internal/broker"
	"kite-gtt/internal/errors"
	"kite-gtt/internal/logging"
	"kite-gtt/internal/models"
	"kite-gtt/internal/pricing"
	"kite-gtt/pkg/utils"
)

// PriceSource returns the last traded price for an instrument.
type PriceSource interface {
	LastPrice(exchange models.Exchange, symbol string) (float64, error)
}

// BookRow is one active buy GTT priced against the market.
type BookRow struct {
	GTT       models.GTTOrder
	LastPrice float64
	// Variance is how far the last price sits above the trigger, in percent.
	Variance float64
}

// Book is the analysed set of active buy GTTs.
type Book struct {
	Rows       []BookRow // ascending variance
	Duplicates []string
	Unpriced   []models.GTTOrder
	Capital    *money.Money
}

// Analyze prices every active buy GTT and sorts them by variance, closest to
// triggering first. GTTs with no available price are listed separately.
func Analyze(live []models.GTTOrder, prices PriceSource) Book {
	book := Book{}
	counts := make(map[string]int)
	var seen []string
	var values []*money.Money

	for _, g := range live {
		if !g.IsBuy() || g.Status != models.GTTStatusActive {
			continue
		}
		sym := models.NormalizeSymbol(g.Symbol)
		if counts[sym] == 0 {
			seen = append(seen, sym)
		}
		counts[sym]++
		values = append(values, utils.OrderValue(g.LimitPrice(), g.Quantity()))

		ltp, err := prices.LastPrice(g.Exchange, sym)
		if err != nil || ltp <= 0 {
			book.Unpriced = append(book.Unpriced, g)
			continue
		}
		book.Rows = append(book.Rows, BookRow{
			GTT:       g,
			LastPrice: ltp,
			Variance:  pricing.VarianceFromTrigger(g.TriggerPrice, ltp),
		})
	}

	sort.SliceStable(book.Rows, func(i, j int) bool {
		return book.Rows[i].Variance < book.Rows[j].Variance
	})
	for _, sym := range seen {
		if counts[sym] > 1 {
			book.Duplicates = append(book.Duplicates, sym)
		}
	}
	book.Capital = utils.SumINR(values...)
	return book
}

// Action is the outcome of a maintenance step on one GTT.
type Action struct {
	Row      BookRow
	NewID    string
	Trigger  float64
	Limit    float64
	Err      error
	Executed bool
}

// Prune deletes every GTT whose variance is above threshold.
func (r *Reconciler) Prune(ctx context.Context, book Book, threshold float64) []Action {
	var actions []Action
	for _, row := range book.Rows {
		if row.Variance <= threshold {
			continue
		}
		sym := models.NormalizeSymbol(row.GTT.Symbol)
		a := Action{Row: row}
		if err := r.broker.CancelGTT(ctx, row.GTT.ID); err != nil {
			a.Err = err
			r.metrics.Placement("failed")
		} else {
			a.Executed = true
			r.metrics.Placement("deleted")
		}
		logging.LogPlacement(logging.WithSymbol(r.logger, sym), "delete", sym, row.GTT.ID, row.GTT.TriggerPrice, row.GTT.LimitPrice(), row.GTT.Quantity(), a.Err)
		actions = append(actions, a)
	}
	return actions
}

// Realign moves every GTT whose variance is below target so the last price
// sits target percent above its new trigger. The old GTT is deleted before
// the replacement is placed; a failed placement leaves the symbol without a
// GTT and is reported on the action.
func (r *Reconciler) Realign(ctx context.Context, book Book, target float64) []Action {
	var actions []Action
	for _, row := range book.Rows {
		if row.Variance >= target {
			continue
		}
		sym := models.NormalizeSymbol(row.GTT.Symbol)
		logger := logging.WithSymbol(r.logger, sym)
		a := Action{Row: row}

		desired := pricing.TriggerForVariance(row.LastPrice, target)
		prices, err := pricing.Compute(desired, row.LastPrice)
		if err != nil {
			a.Err = err
			actions = append(actions, a)
			logger.Warn().Err(err).Msg("Cannot derive new trigger")
			continue
		}
		a.Trigger, a.Limit = prices.Trigger, prices.Limit

		if err := r.broker.CancelGTT(ctx, row.GTT.ID); err != nil {
			a.Err = err
			r.metrics.Placement("failed")
			logging.LogPlacement(logger, "delete", sym, row.GTT.ID, row.GTT.TriggerPrice, row.GTT.LimitPrice(), row.GTT.Quantity(), err)
			actions = append(actions, a)
			continue
		}
		r.metrics.Placement("deleted")

		replacement := broker.NewBuyGTT(models.OrderProposal{
			Symbol:         sym,
			Exchange:       row.GTT.Exchange,
			LimitPrice:     prices.Limit,
			TriggerPrice:   prices.Trigger,
			Quantity:       row.GTT.Quantity(),
			ReferencePrice: row.LastPrice,
		})
		placed, err := r.broker.PlaceGTT(ctx, replacement)
		if err != nil {
			a.Err = errors.Wrapf(err, "deleted GTT %s but failed to place replacement", row.GTT.ID)
			r.metrics.Placement("failed")
		} else {
			a.NewID = placed.TriggerID
			a.Executed = true
			r.metrics.Placement("placed")
		}
		logging.LogPlacement(logger, "realign", sym, a.NewID, a.Trigger, a.Limit, row.GTT.Quantity(), err)
		actions = append(actions, a)
	}
	return actions
}
