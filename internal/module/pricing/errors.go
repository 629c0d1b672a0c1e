package pricing

import (
	"errors"
	"fmt"
)

// ErrValidation is the class sentinel for all pricing input errors. The typed
// errors below unwrap to it so callers can branch with errors.Is.
var ErrValidation = errors.New("invalid pricing input")

// MissingParameterError indicates a rule referenced a parameter the caller
// did not supply.
type MissingParameterError struct {
	Parameter string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing pricing parameter %q", e.Parameter)
}

func (e *MissingParameterError) Unwrap() error { return ErrValidation }

// NoRateForValueError indicates a per-unit rule has no rate for the supplied
// parameter value.
type NoRateForValueError struct {
	Parameter string
	Value     string
}

func (e *NoRateForValueError) Error() string {
	return fmt.Sprintf("no rate for %s=%q", e.Parameter, e.Value)
}

func (e *NoRateForValueError) Unwrap() error { return ErrValidation }

// InvalidUnitsError indicates unit_count could not be coerced to a number.
type InvalidUnitsError struct {
	Value any
}

func (e *InvalidUnitsError) Error() string {
	return fmt.Sprintf("unit_count %v is not numeric", e.Value)
}

func (e *InvalidUnitsError) Unwrap() error { return ErrValidation }

// NoMatchingRuleError indicates no conditional case matched the params.
type NoMatchingRuleError struct{}

func (e *NoMatchingRuleError) Error() string {
	return "no conditional pricing case matched"
}

func (e *NoMatchingRuleError) Unwrap() error { return ErrValidation }
