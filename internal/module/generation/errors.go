package generation

import (
	"errors"
	"fmt"
)

var (
	ErrGenerationNotFound = errors.New("generation not found")
	ErrModelNotSupported  = errors.New("model not supported")
	ErrInvalidInput       = errors.New("invalid generation input")

	// ErrProviderClient marks a provider rejection that retrying cannot fix.
	ErrProviderClient = errors.New("provider rejected request")
	// ErrProviderTransient marks a provider failure worth retrying.
	ErrProviderTransient = errors.New("provider temporarily unavailable")
)

// LimitExceededError is returned when a plan cap blocks a new generation.
type LimitExceededError struct {
	Reason string
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("plan limit exceeded: %s", e.Reason)
}

// ProviderError carries the provider's HTTP status and response detail.
type ProviderError struct {
	StatusCode int
	Detail     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Detail)
}

func (e *ProviderError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return ErrProviderClient
	}
	return ErrProviderTransient
}
