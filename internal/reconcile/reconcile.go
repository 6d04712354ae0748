// Package reconcile places planned GTT buys that the broker does not already
// hold, and offers user-invoked maintenance of the live GTT book.
package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kite-gtt/internal/broker"
	"kite-gtt/internal/logging"
	"kite-gtt/internal/metrics"
	"kite-gtt/internal/models"
	"kite-gtt/pkg/utils"
)

// SkipReason explains why a proposal was not placed.
type SkipReason string

const (
	// AlreadyExists means the broker holds a relevant buy GTT for the symbol.
	AlreadyExists SkipReason = "already_exists"
	// DuplicateInPlan means an earlier proposal in the same plan took the symbol.
	DuplicateInPlan SkipReason = "duplicate_in_plan"
)

// Placement is a proposal sent to the broker (or that would have been, in a
// dry run).
type Placement struct {
	Proposal models.OrderProposal
	GTTID    string
	DryRun   bool
}

// Skip is a proposal left alone.
type Skip struct {
	Proposal   models.OrderProposal
	Reason     SkipReason
	ExistingID string
}

// Failure is a proposal the broker rejected.
type Failure struct {
	Proposal models.OrderProposal
	Err      error
}

// Result is the outcome of one reconciliation pass.
type Result struct {
	RunID   string
	Placed  []Placement
	Skipped []Skip
	Failed  []Failure
}

// Reconciler compares a plan with the broker's live GTTs.
type Reconciler struct {
	broker  broker.Broker
	loc     *time.Location
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Reconciler. loc decides what "today" means for triggered
// GTTs; nil uses India time.
func New(b broker.Broker, loc *time.Location, logger zerolog.Logger, m *metrics.Metrics) *Reconciler {
	if loc == nil {
		loc = utils.IndiaLocation
	}
	return &Reconciler{
		broker:  b,
		loc:     loc,
		logger:  logging.WithOperation(logger, "reconcile"),
		metrics: m,
		now:     time.Now,
	}
}

// LiveBuys indexes the buy GTTs that still block a new order, by normalized
// symbol. A triggered GTT only blocks on the day it triggered; one with no
// trigger time is kept.
func LiveBuys(live []models.GTTOrder, now time.Time, loc *time.Location) map[string]models.GTTOrder {
	out := make(map[string]models.GTTOrder)
	for _, g := range live {
		if !g.IsBuy() {
			continue
		}
		if g.Status == models.GTTStatusTriggered && !g.TriggeredAt.IsZero() && !utils.SameDay(g.TriggeredAt, now, loc) {
			continue
		}
		sym := models.NormalizeSymbol(g.Symbol)
		if _, ok := out[sym]; !ok {
			out[sym] = g
		}
	}
	return out
}

// Reconcile places every proposal whose symbol has no live buy GTT. It never
// deletes or modifies existing GTTs, and a failed placement does not stop the
// rest of the plan.
func (r *Reconciler) Reconcile(ctx context.Context, plan []models.OrderProposal, live []models.GTTOrder, dryRun bool) Result {
	res := Result{RunID: uuid.NewString()}
	logger := logging.WithRunID(r.logger, res.RunID)

	existing := LiveBuys(live, r.now(), r.loc)
	taken := make(map[string]bool, len(plan))

	for _, p := range plan {
		sym := models.NormalizeSymbol(p.Symbol)
		symLogger := logging.WithSymbol(logger, sym)

		if g, ok := existing[sym]; ok {
			symLogger.Debug().Str("gtt_id", g.ID).Msg("Skipping, GTT already exists")
			res.Skipped = append(res.Skipped, Skip{Proposal: p, Reason: AlreadyExists, ExistingID: g.ID})
			r.metrics.Placement("skipped")
			continue
		}
		if taken[sym] {
			symLogger.Info().Msg("Skipping, symbol already placed in this run")
			res.Skipped = append(res.Skipped, Skip{Proposal: p, Reason: DuplicateInPlan})
			r.metrics.Placement("skipped")
			continue
		}
		taken[sym] = true

		if p.Quantity <= 0 {
			symLogger.Warn().Int("quantity", p.Quantity).Msg("Proposal has no quantity")
		}

		if dryRun {
			symLogger.Info().
				Float64("trigger", p.TriggerPrice).
				Float64("limit", p.LimitPrice).
				Int("quantity", p.Quantity).
				Msg("Dry run, GTT not placed")
			res.Placed = append(res.Placed, Placement{Proposal: p, DryRun: true})
			r.metrics.Placement("dry_run")
			continue
		}

		gtt := broker.NewBuyGTT(p)
		placed, err := r.broker.PlaceGTT(ctx, gtt)
		if err != nil {
			logging.LogPlacement(symLogger, "place", sym, "", p.TriggerPrice, p.LimitPrice, p.Quantity, err)
			res.Failed = append(res.Failed, Failure{Proposal: p, Err: err})
			r.metrics.Placement("failed")
			continue
		}

		logging.LogPlacement(symLogger, "place", sym, placed.TriggerID, p.TriggerPrice, p.LimitPrice, p.Quantity, nil)
		res.Placed = append(res.Placed, Placement{Proposal: p, GTTID: placed.TriggerID})
		r.metrics.Placement("placed")
	}

	logger.Info().
		Int("placed", len(res.Placed)).
		Int("skipped", len(res.Skipped)).
		Int("failed", len(res.Failed)).
		Bool("dry_run", dryRun).
		Msg("Reconciliation complete")
	return res
}
