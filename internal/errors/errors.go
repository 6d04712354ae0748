// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrSessionExpired     = errors.New("session expired")
	ErrInputValidation    = errors.New("input validation failed")
	ErrInsufficientConfig = errors.New("insufficient configuration")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrCacheStale         = errors.New("price cache is stale, refresh it first")
	ErrPriceUnavailable   = errors.New("price unavailable")
	ErrInstrumentNotFound = errors.New("instrument key not found")
	ErrSymbolNotFound     = errors.New("symbol not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrDatabaseError      = errors.New("database error")
)

// BrokerError represents an error from the broker API.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// OrderError represents a failed create or delete of a conditional order.
type OrderError struct {
	OrderID string
	Symbol  string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderID, e.Action, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderID, e.Action, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, symbol, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderID: orderID,
		Symbol:  symbol,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// ValidationError represents malformed or missing input for a single item.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap lets errors.Is match ErrInputValidation or a more specific sentinel.
func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInputValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// LookupError represents a price or instrument key that could not be resolved.
// The affected symbol is skipped for the current pass only.
type LookupError struct {
	Exchange string
	Symbol   string
	Message  string
	Err      error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lookup error [%s:%s]: %s: %v", e.Exchange, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("lookup error [%s:%s]: %s", e.Exchange, e.Symbol, e.Message)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// NewLookupError creates a new LookupError.
func NewLookupError(exchange, symbol, message string, err error) *LookupError {
	return &LookupError{
		Exchange: exchange,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// DataError represents a data-related error.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrInputValidation) || errors.Is(err, ErrInsufficientConfig)
}

// IsTransient reports whether err is a lookup failure worth retrying on the next pass.
func IsTransient(err error) bool {
	var le *LookupError
	return errors.As(err, &le) ||
		errors.Is(err, ErrPriceUnavailable) ||
		errors.Is(err, ErrInstrumentNotFound) ||
		errors.Is(err, ErrCacheStale)
}

// IsBroker reports whether err came from a broker operation.
func IsBroker(err error) bool {
	var be *BrokerError
	var oe *OrderError
	return errors.As(err, &be) || errors.As(err, &oe)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
