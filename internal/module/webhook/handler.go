package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/genforge/server/internal/module/generation"
	"github.com/genforge/server/internal/utils/metrics"
)

const maxBodySize = 1 << 20

// Handler terminates provider webhook deliveries.
type Handler struct {
	verifier *Verifier
	gateway  *Gateway
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewHandler(verifier *Verifier, gateway *Gateway, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{verifier: verifier, gateway: gateway, metrics: m, logger: logger}
}

// RegisterRoutes registers the webhook routes. The group is unauthenticated;
// the HMAC signature is the authentication.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/provider", h.HandleProviderEvent)
}

// HandleProviderEvent verifies and applies one provider event delivery.
func (h *Handler) HandleProviderEvent(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	err = h.verifier.Verify(body,
		c.GetHeader("Webhook-Signature"),
		c.GetHeader("Webhook-Timestamp"),
	)
	if err != nil {
		h.metrics.WebhookEventsTotal.WithLabelValues(outcomeRejected).Inc()
		h.logger.Warn("rejected webhook delivery",
			zap.String("remote_addr", c.ClientIP()),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
		return
	}

	var event generation.ProviderEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.metrics.WebhookEventsTotal.WithLabelValues(outcomeRejected).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}
	if event.ExternalID == "" || event.Status == "" {
		h.metrics.WebhookEventsTotal.WithLabelValues(outcomeRejected).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	if err := h.gateway.Handle(c.Request.Context(), &event); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event_processing_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
