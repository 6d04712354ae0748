package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"kite-gtt/internal/errors"
)

func TestCompute_Examples(t *testing.T) {
	tests := []struct {
		name        string
		desired     float64
		current     float64
		wantLimit   float64
		wantTrigger float64
		wantKind    Kind
		wantClamped bool
	}{
		{"momentum below min trigger", 95, 100, 95, 95.1, Momentum, false},
		{"momentum clamped to min trigger", 99.9, 100, 99.64, 99.74, Momentum, true},
		{"reverse capped entry", 87.13, 85, 87.13, 87.04, Reverse, false},
		{"reverse clamped to max trigger", 100.1, 100, 100.36, 100.26, Reverse, true},
		{"desired equal to current is reverse", 100, 100, 100.36, 100.26, Reverse, true},
		{"desired rounded on entry", 94.996, 100, 95, 95.1, Momentum, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.desired, tt.current)
			if err != nil {
				t.Fatalf("Compute() error = %v", err)
			}
			if got.Limit != tt.wantLimit || got.Trigger != tt.wantTrigger {
				t.Errorf("Compute() = (%v, %v), want (%v, %v)", got.Limit, got.Trigger, tt.wantLimit, tt.wantTrigger)
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if got.Clamped != tt.wantClamped {
				t.Errorf("Clamped = %v, want %v", got.Clamped, tt.wantClamped)
			}
		})
	}
}

func TestCompute_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		desired float64
		current float64
	}{
		{"zero current", 95, 0},
		{"negative current", 95, -10},
		{"nan current", 95, math.NaN()},
		{"inf current", 95, math.Inf(1)},
		{"zero desired", 0, 100},
		{"nan desired", math.NaN(), 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.desired, tt.current)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCapDesired(t *testing.T) {
	tests := []struct {
		name    string
		target  float64
		current float64
		want    float64
	}{
		{"target above cap", 90, 85, 87.13},
		{"target within cap", 86, 85, 86},
		{"target below current", 80, 85, 80},
		{"target equal to current", 85, 85, 85},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CapDesired(tt.target, tt.current, 1.025); got != tt.want {
				t.Errorf("CapDesired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVarianceAndTriggerForVariance(t *testing.T) {
	if got := VarianceFromTrigger(100, 110); got != 10 {
		t.Errorf("VarianceFromTrigger(100, 110) = %v, want 10", got)
	}
	if got := VarianceFromTrigger(200, 190); got != -5 {
		t.Errorf("VarianceFromTrigger(200, 190) = %v, want -5", got)
	}
	if got := VarianceFromTrigger(0, 190); got != 0 {
		t.Errorf("VarianceFromTrigger(0, 190) = %v, want 0", got)
	}
	if got := TriggerForVariance(110, 10); got != 100 {
		t.Errorf("TriggerForVariance(110, 10) = %v, want 100", got)
	}
	if got := TriggerForVariance(100, 3); got != 97.09 {
		t.Errorf("TriggerForVariance(100, 3) = %v, want 97.09", got)
	}
}

func gapOf(p float64) decimal.Decimal {
	return decimal.NewFromFloat(p).Mul(decimal.NewFromFloat(ExactGapFraction)).Round(4)
}

func twoPlaces(v float64) bool {
	return math.Abs(v*100-math.Round(v*100)) < 1e-6
}

// checkResult verifies ordering and the limit/trigger gap for one result.
func checkResult(r Result, current float64) bool {
	if !twoPlaces(r.Limit) || !twoPlaces(r.Trigger) {
		return false
	}

	switch r.Kind {
	case Momentum:
		if !(r.Limit <= r.Trigger && r.Trigger < current) {
			return false
		}
		if r.Clamped {
			want, _ := decimal.NewFromFloat(r.Trigger).Sub(gapOf(r.Trigger)).Round(2).Float64()
			return r.Limit == want
		}
		want, _ := decimal.NewFromFloat(r.Limit).Add(gapOf(r.Limit)).Round(2).Float64()
		return r.Trigger == want
	case Reverse:
		if !(current < r.Trigger && r.Trigger <= r.Limit) {
			return false
		}
		if r.Clamped {
			want, _ := decimal.NewFromFloat(r.Trigger).Add(gapOf(r.Trigger)).Round(2).Float64()
			return r.Limit == want
		}
		want, _ := decimal.NewFromFloat(r.Limit).Sub(gapOf(r.Limit)).Round(2).Float64()
		return r.Trigger == want
	}
	return false
}

// TestProperty_TriggerOrdering checks that every computed pair sits on the
// correct side of the last price with the exact limit/trigger gap.
func TestProperty_TriggerOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("independent desired and current prices", prop.ForAll(
		func(desired, current float64) bool {
			r, err := Compute(desired, current)
			if err != nil {
				return false
			}
			return checkResult(r, current)
		},
		gen.Float64Range(10, 10000),
		gen.Float64Range(10, 10000),
	))

	properties.Property("desired near current exercises clamping", prop.ForAll(
		func(current, ratio float64) bool {
			r, err := Compute(current*ratio, current)
			if err != nil {
				return false
			}
			return checkResult(r, current)
		},
		gen.Float64Range(10, 10000),
		gen.Float64Range(0.99, 1.01),
	))

	properties.TestingRun(t)
}

// TestProperty_ComputeDeterministic checks identical inputs give identical output.
func TestProperty_ComputeDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("repeat calls agree", prop.ForAll(
		func(desired, current float64) bool {
			a, errA := Compute(desired, current)
			b, errB := Compute(desired, current)
			return errA == nil && errB == nil && a == b
		},
		gen.Float64Range(10, 10000),
		gen.Float64Range(10, 10000),
	))

	properties.TestingRun(t)
}
