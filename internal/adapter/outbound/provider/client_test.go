package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/genforge/server/internal/module/generation"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		BaseURL:    server.URL,
		Token:      "r8_test",
		WebhookURL: "https://example.com/api/v1/webhooks/provider",
	}, zap.NewNop())
}

func TestCreatePredictionAsync(t *testing.T) {
	var gotBody predictionBody
	var gotPrefer string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models/flux-dev/predictions", r.URL.Path)
		assert.Equal(t, "Bearer r8_test", r.Header.Get("Authorization"))
		gotPrefer = r.Header.Get("Prefer")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pred-abc","status":"starting"}`))
	})

	resp, err := client.CreatePrediction(context.Background(), &generation.PredictionRequest{
		Model: "flux-dev",
		Input: map[string]any{"prompt": "a fox"},
	})
	require.NoError(t, err)

	assert.Equal(t, "pred-abc", resp.ID)
	assert.Equal(t, "starting", resp.Status)
	assert.Empty(t, gotPrefer)
	assert.Equal(t, "https://example.com/api/v1/webhooks/provider", gotBody.Webhook)
	assert.NotEmpty(t, gotBody.WebhookEventsFilter)
}

func TestCreatePredictionSync(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Prefer"), "wait=")
		var body predictionBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		// Held-open calls settle inline, no webhook registration.
		assert.Empty(t, body.Webhook)

		_, _ = w.Write([]byte(`{"id":"pred-sync","status":"succeeded","output":["https://cdn.example.com/a.png"]}`))
	})

	resp, err := client.CreatePrediction(context.Background(), &generation.PredictionRequest{
		Model: "sdxl-turbo",
		Input: map[string]any{"prompt": "a fox"},
		Wait:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "succeeded", resp.Status)
	assert.NotNil(t, resp.Output)
}

func TestCreatePredictionClientError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"prompt is required"}`))
	})

	_, err := client.CreatePrediction(context.Background(), &generation.PredictionRequest{
		Model: "flux-dev",
		Input: map[string]any{},
	})
	require.ErrorIs(t, err, generation.ErrProviderClient)

	var provErr *generation.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusUnprocessableEntity, provErr.StatusCode)
	assert.Equal(t, "prompt is required", provErr.Detail)
}

func TestCreatePredictionServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.CreatePrediction(context.Background(), &generation.PredictionRequest{
		Model: "flux-dev",
		Input: map[string]any{"prompt": "a fox"},
	})
	assert.ErrorIs(t, err, generation.ErrProviderTransient)
}

func TestCircuitBreakerOpensOnConsecutiveFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	req := &generation.PredictionRequest{Model: "flux-dev", Input: map[string]any{"prompt": "x"}}
	for i := 0; i < 5; i++ {
		_, err := client.CreatePrediction(context.Background(), req)
		require.Error(t, err)
	}

	// Breaker is open now; the request never reaches the server.
	_, err := client.CreatePrediction(context.Background(), req)
	assert.ErrorIs(t, err, generation.ErrProviderTransient)
}

func TestDecodeError(t *testing.T) {
	assert.Equal(t, "", decodeError(nil))
	assert.Equal(t, "boom", decodeError(json.RawMessage(`"boom"`)))
	assert.Equal(t, `{"code":"E42"}`, decodeError(json.RawMessage(`{"code":"E42"}`)))
}
