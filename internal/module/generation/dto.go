package generation

import (
	"time"

	"github.com/google/uuid"
)

// CreateGenerationRequest is the request body for creating a generation.
type CreateGenerationRequest struct {
	Model string         `json:"model" binding:"required"`
	Input map[string]any `json:"input" binding:"required"`
	Units int            `json:"units,omitempty"`
}

// GenerationResponse is the API representation of a generation.
type GenerationResponse struct {
	ID                uuid.UUID      `json:"id"`
	Model             string         `json:"model"`
	Status            Status         `json:"status"`
	CreditsReserved   int64          `json:"credits_reserved"`
	Units             int            `json:"units"`
	Input             map[string]any `json:"input"`
	Output            map[string]any `json:"output,omitempty"`
	Error             *Error         `json:"error,omitempty"`
	ProcessingSeconds *float64       `json:"processing_seconds,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

// ToResponse converts a generation to its API representation.
func (g *Generation) ToResponse() *GenerationResponse {
	return &GenerationResponse{
		ID:                g.ID,
		Model:             g.Model,
		Status:            g.Status,
		CreditsReserved:   g.CreditsReserved,
		Units:             g.Units,
		Input:             g.Input,
		Output:            g.Output,
		Error:             g.Error,
		ProcessingSeconds: g.ProcessingSeconds,
		CreatedAt:         g.CreatedAt,
		CompletedAt:       g.CompletedAt,
	}
}

// ListGenerationsResponse is a paginated list of generations.
type ListGenerationsResponse struct {
	Generations []*GenerationResponse `json:"generations"`
	Total       int64                 `json:"total"`
	Limit       int                   `json:"limit"`
	Offset      int                   `json:"offset"`
}

// ModelResponse describes one supported model.
type ModelResponse struct {
	Name     string `json:"name"`
	Sync     bool   `json:"sync"`
	MaxUnits int    `json:"max_units"`
}
