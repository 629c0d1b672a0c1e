package events

import "github.com/google/uuid"

// Generation event type constants.
const (
	GenerationCompletedType = "GenerationCompleted"
	GenerationFailedType    = "GenerationFailed"
	CreditsRefundedType     = "CreditsRefunded"
)

// GenerationCompletedEvent is emitted when a generation reaches the
// completed state.
// Defined in the events package to avoid cyclic imports.
type GenerationCompletedEvent struct {
	BaseEvent

	// GenerationID is the unique identifier of the generation.
	GenerationID uuid.UUID `json:"generation_id"`

	// UserID is the owner of the generation.
	UserID uuid.UUID `json:"user_id"`

	// Model is the provider model that produced the output.
	Model string `json:"model"`

	// CreditsCharged is the number of credits reserved for the generation.
	CreditsCharged int64 `json:"credits_charged"`
}

// NewGenerationCompletedEvent creates a new GenerationCompletedEvent.
func NewGenerationCompletedEvent(generationID, userID uuid.UUID, model string, creditsCharged int64) *GenerationCompletedEvent {
	return &GenerationCompletedEvent{
		BaseEvent:      NewBaseEvent(GenerationCompletedType, generationID, "Generation"),
		GenerationID:   generationID,
		UserID:         userID,
		Model:          model,
		CreditsCharged: creditsCharged,
	}
}

// GenerationFailedEvent is emitted when a generation reaches the failed state.
type GenerationFailedEvent struct {
	BaseEvent

	// GenerationID is the unique identifier of the generation.
	GenerationID uuid.UUID `json:"generation_id"`

	// UserID is the owner of the generation.
	UserID uuid.UUID `json:"user_id"`

	// Model is the provider model the request targeted.
	Model string `json:"model"`

	// Reason is a human-readable failure description.
	Reason string `json:"reason,omitempty"`
}

// NewGenerationFailedEvent creates a new GenerationFailedEvent.
func NewGenerationFailedEvent(generationID, userID uuid.UUID, model, reason string) *GenerationFailedEvent {
	return &GenerationFailedEvent{
		BaseEvent:    NewBaseEvent(GenerationFailedType, generationID, "Generation"),
		GenerationID: generationID,
		UserID:       userID,
		Model:        model,
		Reason:       reason,
	}
}

// CreditsRefundedEvent is emitted when reserved credits are returned to a
// user after a failed generation.
type CreditsRefundedEvent struct {
	BaseEvent

	// GenerationID is the generation whose reservation was refunded.
	GenerationID uuid.UUID `json:"generation_id"`

	// UserID is the user whose balance was restored.
	UserID uuid.UUID `json:"user_id"`

	// Credits is the refunded amount.
	Credits int64 `json:"credits"`

	// Reason describes why the refund was issued.
	Reason string `json:"reason,omitempty"`
}

// NewCreditsRefundedEvent creates a new CreditsRefundedEvent.
func NewCreditsRefundedEvent(generationID, userID uuid.UUID, credits int64, reason string) *CreditsRefundedEvent {
	return &CreditsRefundedEvent{
		BaseEvent:    NewBaseEvent(CreditsRefundedType, generationID, "Generation"),
		GenerationID: generationID,
		UserID:       userID,
		Credits:      credits,
		Reason:       reason,
	}
}
