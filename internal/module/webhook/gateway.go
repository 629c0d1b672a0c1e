package webhook

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/genforge/server/internal/module/generation"
	"github.com/genforge/server/internal/utils/metrics"
)

// Lifecycle is the slice of the generation service the gateway drives.
type Lifecycle interface {
	ApplyProviderEvent(ctx context.Context, event *generation.ProviderEvent) error
	ForceFail(ctx context.Context, externalID, reason string) error
}

// ModelFilter decides which models' events are applied. Events for models
// outside the catalog are acknowledged and dropped.
type ModelFilter interface {
	Monitored(model string) bool
}

// Outcome labels for webhook metrics.
const (
	outcomeProcessed = "processed"
	outcomeIgnored   = "ignored"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
)

// Gateway applies authenticated provider events with bounded retries.
type Gateway struct {
	lifecycle Lifecycle
	filter    ModelFilter
	metrics   *metrics.Metrics
	logger    *zap.Logger

	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewGateway(lifecycle Lifecycle, filter ModelFilter, m *metrics.Metrics, logger *zap.Logger) *Gateway {
	return &Gateway{
		lifecycle:   lifecycle,
		filter:      filter,
		metrics:     m,
		logger:      logger,
		maxAttempts: 3,
		baseDelay:   time.Second,
		sleep:       sleepContext,
	}
}

// Handle applies one event. Transient application failures are retried with
// exponential backoff; when attempts are exhausted the generation is
// force-failed so its reservation is refunded, and the last error is
// returned for operational visibility.
func (g *Gateway) Handle(ctx context.Context, event *generation.ProviderEvent) error {
	if !g.filter.Monitored(event.Model) {
		g.logger.Debug("event for unmonitored model",
			zap.String("model", event.Model),
			zap.String("external_id", event.ExternalID),
		)
		g.metrics.WebhookEventsTotal.WithLabelValues(outcomeIgnored).Inc()
		return nil
	}

	var lastErr error
	delay := g.baseDelay
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if lastErr = g.lifecycle.ApplyProviderEvent(ctx, event); lastErr == nil {
			g.metrics.WebhookEventsTotal.WithLabelValues(outcomeProcessed).Inc()
			return nil
		}
		if attempt == g.maxAttempts {
			break
		}

		g.metrics.WebhookRetriesTotal.Inc()
		g.logger.Warn("retrying provider event",
			zap.String("external_id", event.ExternalID),
			zap.String("status", event.Status),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(lastErr),
		)
		if err := g.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
		delay *= 3
	}

	g.metrics.WebhookEventsTotal.WithLabelValues(outcomeFailed).Inc()
	g.logger.Error("abandoning provider event",
		zap.String("external_id", event.ExternalID),
		zap.String("status", event.Status),
		zap.Error(lastErr),
	)

	// The user must not stay charged for a result that will never settle.
	reason := fmt.Sprintf("event processing failed after %d attempts: %v", g.maxAttempts, lastErr)
	if err := g.lifecycle.ForceFail(context.WithoutCancel(ctx), event.ExternalID, reason); err != nil {
		g.logger.Error("force-fail after abandoned event",
			zap.String("external_id", event.ExternalID),
			zap.Error(err),
		)
	}
	return fmt.Errorf("apply event %s: %w", event.ExternalID, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
