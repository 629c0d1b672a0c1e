// Package provider implements the HTTP client for the upstream generation
// provider.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/genforge/server/internal/module/generation"
)

// Config holds the provider connection settings.
type Config struct {
	BaseURL       string
	Token         string
	WebhookURL    string
	SyncTimeout   time.Duration
	AckTimeout    time.Duration
}

// Client issues prediction requests over HTTP. A shared circuit breaker
// sheds load when the provider is failing consistently.
type Client struct {
	cfg        Config
	syncClient *http.Client
	ackClient  *http.Client
	breaker    *gobreaker.CircuitBreaker[*predictionPayload]
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 60 * time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[*predictionPayload](gobreaker.Settings{
		Name:        "generation-provider",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// Client-side rejections are the caller's problem, not a
			// sign of provider outage.
			var provErr *generation.ProviderError
			if errors.As(err, &provErr) {
				return provErr.StatusCode < 500
			}
			return err == nil
		},
	})

	return &Client{
		cfg:        cfg,
		syncClient: &http.Client{Timeout: cfg.SyncTimeout + 5*time.Second},
		ackClient:  &http.Client{Timeout: cfg.AckTimeout},
		breaker:    breaker,
		logger:     logger,
	}
}

type predictionBody struct {
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook,omitempty"`
	WebhookEventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

type predictionPayload struct {
	ID          string          `json:"id"`
	Model       string          `json:"model"`
	Status      string          `json:"status"`
	Output      any             `json:"output,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Detail      string          `json:"detail,omitempty"`
}

// CreatePrediction submits one prediction. Synchronous requests are held
// open with Prefer: wait; asynchronous ones register the webhook and return
// after the provider acknowledges.
func (c *Client) CreatePrediction(ctx context.Context, req *generation.PredictionRequest) (*generation.PredictionResponse, error) {
	payload, err := c.breaker.Execute(func() (*predictionPayload, error) {
		return c.doCreate(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", generation.ErrProviderTransient)
		}
		return nil, err
	}

	return &generation.PredictionResponse{
		ID:          payload.ID,
		Status:      payload.Status,
		Output:      payload.Output,
		Error:       decodeError(payload.Error),
		CreatedAt:   payload.CreatedAt,
		StartedAt:   payload.StartedAt,
		CompletedAt: payload.CompletedAt,
	}, nil
}

func (c *Client) doCreate(ctx context.Context, req *generation.PredictionRequest) (*predictionPayload, error) {
	body := &predictionBody{Input: req.Input}
	if !req.Wait {
		body.Webhook = c.cfg.WebhookURL
		body.WebhookEventsFilter = []string{"start", "output", "completed"}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/models/%s/predictions", c.cfg.BaseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	client := c.ackClient
	if req.Wait {
		httpReq.Header.Set("Prefer", fmt.Sprintf("wait=%d", int(c.cfg.SyncTimeout.Seconds())))
		client = c.syncClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrProviderTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", generation.ErrProviderTransient, err)
	}

	if resp.StatusCode >= 400 {
		return nil, &generation.ProviderError{
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(respBody),
		}
	}

	var payload predictionPayload
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", generation.ErrProviderTransient, err)
	}
	return &payload, nil
}

func errorDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Title  string `json:"title"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Detail != "" {
			return parsed.Detail
		}
		if parsed.Title != "" {
			return parsed.Title
		}
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}

// decodeError handles both string and structured error fields.
func decodeError(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
