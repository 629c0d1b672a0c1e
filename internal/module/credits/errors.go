package credits

import (
	"errors"
	"fmt"
)

var (
	ErrBalanceNotFound     = errors.New("credit balance not found")
	ErrPlanNotFound        = errors.New("plan not found")
	ErrInvalidAmount       = errors.New("credit amount must be positive")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// InsufficientCreditsError reports a failed reservation with the amounts
// involved. It unwraps to ErrInsufficientCredits.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }
