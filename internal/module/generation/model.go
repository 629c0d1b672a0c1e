package generation

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a generation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StatusFromProvider maps a provider-reported status to the internal one.
func StatusFromProvider(s string) (Status, bool) {
	switch s {
	case "starting":
		return StatusStarting, true
	case "processing":
		return StatusProcessing, true
	case "succeeded":
		return StatusCompleted, true
	case "failed", "canceled":
		return StatusFailed, true
	default:
		return "", false
	}
}

// Error records why a generation failed.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Generation is one credit-reserved request against the provider.
//
// CreditsReserved is set exactly once at creation and stays as an audit
// record after a refund; only the balance is restored. Records are never
// deleted by this module.
type Generation struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	Model      string    `json:"model" gorm:"not null"`
	ExternalID string    `json:"external_id,omitempty" gorm:"uniqueIndex:idx_generations_external_id,where:external_id <> ''"`
	Status     Status    `json:"status" gorm:"not null;default:pending"`

	CreditsReserved int64 `json:"credits_reserved" gorm:"not null"`
	Units           int   `json:"units" gorm:"not null;default:1"`

	Input  map[string]any `json:"input" gorm:"type:jsonb;serializer:json;not null"`
	Output map[string]any `json:"output,omitempty" gorm:"type:jsonb;serializer:json"`
	Error  *Error         `json:"error,omitempty" gorm:"type:jsonb;serializer:json"`

	ProcessingSeconds *float64   `json:"processing_seconds,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// TableName returns the database table name.
func (Generation) TableName() string {
	return "generations"
}

// ProviderEvent is a provider status notification, already authenticated by
// the webhook gateway. Not persisted; the generation row is the only record.
type ProviderEvent struct {
	ExternalID  string     `json:"id"`
	Status      string     `json:"status"`
	Model       string     `json:"model"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
