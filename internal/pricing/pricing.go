// Package pricing derives GTT limit and trigger prices that respect the
// exchange's minimum distance between trigger and last traded price.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"kite-gtt/internal/errors"
)

// Fractions applied to prices when deriving a trigger.
const (
	// MinTriggerFraction is the minimum gap between trigger and last price.
	MinTriggerFraction = 0.0026
	// ExactGapFraction is the gap kept between limit and trigger.
	ExactGapFraction = 0.001
)

var (
	minTriggerFraction = decimal.NewFromFloat(MinTriggerFraction)
	exactGapFraction   = decimal.NewFromFloat(ExactGapFraction)
	hundred            = decimal.NewFromInt(100)
	one                = decimal.NewFromInt(1)
)

// Kind identifies which side of the last price the order sits on.
type Kind string

const (
	// Momentum buys as the price rises back through a level below it.
	Momentum Kind = "momentum"
	// Reverse buys as the price falls towards a level at or above it.
	Reverse Kind = "reverse"
)

// Result is a limit/trigger pair ready for a single-leg GTT.
type Result struct {
	Limit   float64
	Trigger float64
	Kind    Kind
	// Clamped is set when the natural trigger sat too close to the last
	// price and was moved to the minimum distance.
	Clamped bool
}

// Compute returns the limit and trigger prices for a GTT buy at desired
// when the instrument last traded at current.
//
// Momentum (desired < current): desired <= trigger < current.
// Reverse (desired >= current): current < trigger <= limit.
//
// Every derived price is rounded to two places and every gap to four places
// before it feeds the next step.
func Compute(desired, current float64) (Result, error) {
	if !finite(current) || current <= 0 {
		return Result{}, errors.NewValidationError("current_price", current, "must be a positive number")
	}
	if !finite(desired) || desired <= 0 {
		return Result{}, errors.NewValidationError("desired_price", desired, "must be a positive number")
	}

	ltp := decimal.NewFromFloat(current)
	price := round2(decimal.NewFromFloat(desired))
	minDiff := round4(ltp.Mul(minTriggerFraction))

	if price.LessThan(ltp) {
		minTrigger := round2(ltp.Sub(minDiff))
		trigger := round2(price.Add(gap(price)))
		if trigger.LessThan(minTrigger) {
			return newResult(price, trigger, Momentum, false), nil
		}
		limit := round2(minTrigger.Sub(gap(minTrigger)))
		return newResult(limit, minTrigger, Momentum, true), nil
	}

	maxTrigger := round2(ltp.Add(minDiff))
	trigger := round2(price.Sub(gap(price)))
	if trigger.GreaterThan(maxTrigger) {
		return newResult(price, trigger, Reverse, false), nil
	}
	limit := round2(maxTrigger.Add(gap(maxTrigger)))
	return newResult(limit, maxTrigger, Reverse, true), nil
}

// CapDesired limits how far above the last price a staged entry may be
// placed. Targets at or below current are returned unchanged.
func CapDesired(target, current, capFactor float64) float64 {
	if target <= current {
		return target
	}
	ceiling := round2(decimal.NewFromFloat(current).Mul(decimal.NewFromFloat(capFactor)))
	t := decimal.NewFromFloat(target)
	if t.LessThan(ceiling) {
		return toFloat(t)
	}
	return toFloat(ceiling)
}

// VarianceFromTrigger returns how far, in percent, the last price sits above
// the trigger. Negative values mean the price is already below the trigger.
func VarianceFromTrigger(trigger, ltp float64) float64 {
	if trigger == 0 {
		return 0
	}
	t := decimal.NewFromFloat(trigger)
	v := decimal.NewFromFloat(ltp).Sub(t).Div(t).Mul(hundred)
	return toFloat(round2(v))
}

// TriggerForVariance is the trigger that puts ltp exactly variancePct above it.
func TriggerForVariance(ltp, variancePct float64) float64 {
	factor := one.Add(decimal.NewFromFloat(variancePct).Div(hundred))
	return toFloat(round2(decimal.NewFromFloat(ltp).Div(factor)))
}

// Round2 rounds a price to two places, half away from zero.
func Round2(v float64) float64 {
	return toFloat(round2(decimal.NewFromFloat(v)))
}

func gap(price decimal.Decimal) decimal.Decimal {
	return round4(price.Mul(exactGapFraction))
}

func newResult(limit, trigger decimal.Decimal, kind Kind, clamped bool) Result {
	return Result{
		Limit:   toFloat(limit),
		Trigger: toFloat(trigger),
		Kind:    kind,
		Clamped: clamped,
	}
}

func round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }
func round4(d decimal.Decimal) decimal.Decimal { return d.Round(4) }

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
