package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		transient  bool
		broker     bool
	}{
		{"validation", NewValidationError("current_price", -1.0, "must be positive"), true, false, false},
		{"wrapped validation", fmt.Errorf("planning: %w", NewValidationError("entry", nil, "missing")), true, false, false},
		{"insufficient config", &ValidationError{Field: "entry", Err: ErrInsufficientConfig}, true, false, false},
		{"lookup", NewLookupError("NSE", "INFY", "no quote", ErrPriceUnavailable), false, true, false},
		{"stale cache", Wrap(ErrCacheStale, "reading INFY"), false, true, false},
		{"broker", NewBrokerError("gtt", "place failed", errors.New("boom")), false, false, true},
		{"order", NewOrderError("", "INFY", "place", "rejected", nil), false, false, true},
		{"plain", errors.New("plain"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidation(tt.err); got != tt.validation {
				t.Errorf("IsValidation() = %v, want %v", got, tt.validation)
			}
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.transient)
			}
			if got := IsBroker(tt.err); got != tt.broker {
				t.Errorf("IsBroker() = %v, want %v", got, tt.broker)
			}
		})
	}
}

func TestValidationErrorUnwrapsToSentinel(t *testing.T) {
	err := NewValidationError("current_price", 0.0, "must be positive")
	if !errors.Is(err, ErrInputValidation) {
		t.Fatal("expected ValidationError to match ErrInputValidation")
	}

	specific := &ValidationError{Field: "entry", Err: ErrInsufficientConfig}
	if !errors.Is(specific, ErrInsufficientConfig) {
		t.Fatal("expected ValidationError to match its wrapped sentinel")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}
