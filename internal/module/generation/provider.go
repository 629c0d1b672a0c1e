package generation

import (
	"context"
	"time"
)

// PredictionRequest is a single prediction issued against the provider.
type PredictionRequest struct {
	Model string
	Input map[string]any
	// Wait selects the synchronous path; the call blocks until the
	// provider finishes or its hold timeout elapses.
	Wait bool
}

// PredictionResponse is the provider's view of a prediction.
type PredictionResponse struct {
	ID          string
	Status      string
	Output      any
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ProviderClient issues prediction requests to the upstream provider.
type ProviderClient interface {
	CreatePrediction(ctx context.Context, req *PredictionRequest) (*PredictionResponse, error)
}

// UploadedObject is one provider output copied into durable storage.
type UploadedObject struct {
	SourceURL string
	Key       string
	PublicURL string
}

// StorageUploader copies provider-hosted outputs into owned storage before
// the provider's URLs expire.
type StorageUploader interface {
	UploadMany(ctx context.Context, userID string, urls []string) ([]UploadedObject, error)
}
