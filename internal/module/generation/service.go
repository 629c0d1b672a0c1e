package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/genforge/server/internal/infra/events"
	"github.com/genforge/server/internal/module/credits"
	"github.com/genforge/server/internal/module/pricing"
	"github.com/genforge/server/internal/utils/metrics"
)

// CreditLedger is the slice of the credit ledger the lifecycle needs.
type CreditLedger interface {
	Reserve(ctx context.Context, userID uuid.UUID, amount int64, generationID uuid.UUID, breakdown map[string]any) (*credits.ReserveResult, error)
	Refill(ctx context.Context, userID uuid.UUID, amount int64, txType credits.TransactionType, reason string, generationID *uuid.UUID) (*credits.RefillResult, error)
	CheckPackageLimits(ctx context.Context, userID uuid.UUID) (*credits.LimitStatus, error)
	RecordGeneration(ctx context.Context, userID uuid.UUID)
	ReleaseGeneration(ctx context.Context, userID uuid.UUID)
}

// Publisher dispatches domain events. The bus logs handler failures; Publish
// never blocks the lifecycle on a slow subscriber.
type Publisher interface {
	Publish(event events.Event)
}

// CreateRequest is a user request for a new generation.
type CreateRequest struct {
	Model string
	Input map[string]any
	// Units requests fan-out: multiple outputs for one logical request.
	// Zero means 1.
	Units int
}

// Service owns the generation lifecycle: pricing, reservation, dispatch to
// the provider and terminal settlement.
type Service struct {
	repo      Repository
	ledger    CreditLedger
	provider  ProviderClient
	catalog   *Catalog
	converter *pricing.Converter
	uploader  StorageUploader
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger

	// maxConcurrentUnits bounds provider fan-out for one request.
	maxConcurrentUnits int
	// uploadTimeout bounds the background copy of provider outputs.
	uploadTimeout time.Duration
}

// ServiceConfig wires the lifecycle service dependencies.
type ServiceConfig struct {
	Repo               Repository
	Ledger             CreditLedger
	Provider           ProviderClient
	Catalog            *Catalog
	Converter          *pricing.Converter
	Uploader           StorageUploader
	Publisher          Publisher
	Metrics            *metrics.Metrics
	Logger             *zap.Logger
	MaxConcurrentUnits int
}

func NewService(cfg ServiceConfig) *Service {
	maxUnits := cfg.MaxConcurrentUnits
	if maxUnits < 1 {
		maxUnits = 4
	}
	return &Service{
		repo:               cfg.Repo,
		ledger:             cfg.Ledger,
		provider:           cfg.Provider,
		catalog:            cfg.Catalog,
		converter:          cfg.Converter,
		uploader:           cfg.Uploader,
		publisher:          cfg.Publisher,
		metrics:            cfg.Metrics,
		logger:             cfg.Logger,
		maxConcurrentUnits: maxUnits,
		uploadTimeout:      5 * time.Minute,
	}
}

// Create prices the request, reserves credits and dispatches the provider
// call. The reservation happens before dispatch; a provider rejection after
// that point marks the generation failed without refunding, since the
// provider may still have incurred cost on its side.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req *CreateRequest) (*Generation, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidInput)
	}
	spec, ok := s.catalog.Get(req.Model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotSupported, req.Model)
	}

	units := req.Units
	if units < 1 {
		units = 1
	}
	maxUnits := spec.MaxUnits
	if maxUnits < 1 {
		maxUnits = 1
	}
	if units > maxUnits {
		return nil, fmt.Errorf("%w: %d units requested, model allows %d", ErrInvalidInput, units, maxUnits)
	}

	limits, err := s.ledger.CheckPackageLimits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check limits: %w", err)
	}
	if !limits.CanGenerate {
		return nil, &LimitExceededError{Reason: limits.Reason}
	}

	input := req.Input
	if input == nil {
		input = map[string]any{}
	}
	conv, err := s.converter.ToCredits(spec.Rule, pricing.Params(input))
	if err != nil {
		return nil, err
	}
	// Fan-out multiplies the single-unit price; partial failures later do
	// not reduce the charge.
	total := conv.Credits * int64(units)

	gen := &Generation{
		ID:              uuid.New(),
		UserID:          userID,
		Model:           req.Model,
		Status:          StatusPending,
		CreditsReserved: total,
		Units:           units,
		Input:           input,
	}

	if _, err := s.ledger.Reserve(ctx, userID, total, gen.ID, breakdownRecord(conv, units)); err != nil {
		return nil, err
	}
	s.metrics.CreditsReservedTotal.Add(float64(total))
	s.ledger.RecordGeneration(ctx, userID)

	if err := s.repo.Create(ctx, gen); err != nil {
		// Nothing was sent to the provider yet, so the reservation is
		// returned rather than stranding the user's credits.
		s.refund(context.WithoutCancel(ctx), gen, "persist failed")
		return nil, err
	}

	if spec.Sync {
		return s.dispatchSync(ctx, gen, units)
	}
	return s.dispatchAsync(ctx, gen)
}

// dispatchAsync issues a single webhook-completed prediction.
func (s *Service) dispatchAsync(ctx context.Context, gen *Generation) (*Generation, error) {
	resp, err := s.provider.CreatePrediction(ctx, &PredictionRequest{
		Model: gen.Model,
		Input: gen.Input,
	})
	if err != nil {
		s.failAtDispatch(ctx, gen, err)
		return nil, fmt.Errorf("dispatch %s: %w", gen.Model, err)
	}

	gen.ExternalID = resp.ID
	if st, ok := StatusFromProvider(resp.Status); ok && !st.IsTerminal() {
		gen.Status = st
	}
	if err := s.repo.Update(ctx, gen); err != nil {
		return nil, err
	}

	// Some models complete inside the acknowledgement window.
	if st, ok := StatusFromProvider(resp.Status); ok && st.IsTerminal() {
		if err := s.ApplyProviderEvent(ctx, eventFromResponse(gen.Model, resp)); err != nil {
			s.logger.Error("settle acknowledged terminal state",
				zap.String("generation_id", gen.ID.String()),
				zap.Error(err),
			)
		}
		return s.repo.Get(ctx, gen.ID)
	}
	return gen, nil
}

// dispatchSync fans out units held-open provider calls and settles inline.
func (s *Service) dispatchSync(ctx context.Context, gen *Generation, units int) (*Generation, error) {
	type result struct {
		resp *PredictionResponse
		err  error
	}

	started := time.Now()
	results := make([]result, units)
	sem := make(chan struct{}, s.maxConcurrentUnits)
	var wg sync.WaitGroup
	for i := 0; i < units; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			resp, err := s.provider.CreatePrediction(ctx, &PredictionRequest{
				Model: gen.Model,
				Input: gen.Input,
				Wait:  true,
			})
			results[i] = result{resp: resp, err: err}
		}(i)
	}
	wg.Wait()

	var outputs []any
	var lastErr error
	for _, r := range results {
		if r.err != nil {
			lastErr = r.err
			continue
		}
		if gen.ExternalID == "" {
			gen.ExternalID = r.resp.ID
		}
		if r.resp.Error != "" {
			lastErr = fmt.Errorf("%w: %s", ErrProviderClient, r.resp.Error)
			continue
		}
		if r.resp.Output != nil {
			outputs = append(outputs, r.resp.Output)
		}
	}

	now := time.Now()
	secs := now.Sub(started).Seconds()
	if len(outputs) > 0 {
		gen.Status = StatusCompleted
		gen.Output = map[string]any{"output": outputs}
		gen.CompletedAt = &now
		gen.ProcessingSeconds = &secs
		if err := s.repo.Update(ctx, gen); err != nil {
			return nil, err
		}
		s.settleCompleted(gen)
		if lastErr != nil {
			s.logger.Warn("partial fan-out failure",
				zap.String("generation_id", gen.ID.String()),
				zap.Int("succeeded", len(outputs)),
				zap.Int("requested", units),
				zap.Error(lastErr),
			)
		}
		return gen, nil
	}

	s.failAtDispatch(ctx, gen, lastErr)
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: empty output", ErrProviderClient)
	}
	return nil, fmt.Errorf("dispatch %s: %w", gen.Model, lastErr)
}

// failAtDispatch marks a generation failed after the provider rejected or
// errored on the initial call. Credits stay charged.
func (s *Service) failAtDispatch(ctx context.Context, gen *Generation, cause error) {
	gen.Status = StatusFailed
	msg := "provider dispatch failed"
	if cause != nil {
		msg = cause.Error()
	}
	gen.Error = &Error{Code: "dispatch_failed", Message: msg}
	if err := s.repo.Update(context.WithoutCancel(ctx), gen); err != nil {
		s.logger.Error("mark generation failed",
			zap.String("generation_id", gen.ID.String()),
			zap.Error(err),
		)
		return
	}
	s.metrics.GenerationsTotal.WithLabelValues(gen.Model, string(StatusFailed)).Inc()
	s.publisher.Publish(events.NewGenerationFailedEvent(gen.ID, gen.UserID, gen.Model, msg))
}

// ApplyProviderEvent advances a generation according to a provider status
// event. Events for unknown predictions and events arriving after a terminal
// state are no-ops; the terminal guard is enforced by a conditional update so
// concurrent deliveries cannot double-settle.
func (s *Service) ApplyProviderEvent(ctx context.Context, event *ProviderEvent) error {
	gen, err := s.repo.GetByExternalID(ctx, event.ExternalID)
	if err != nil {
		if errors.Is(err, ErrGenerationNotFound) {
			s.logger.Info("event for unknown prediction",
				zap.String("external_id", event.ExternalID),
				zap.String("status", event.Status),
			)
			return nil
		}
		return err
	}

	target, ok := StatusFromProvider(event.Status)
	if !ok {
		s.logger.Warn("unmapped provider status",
			zap.String("external_id", event.ExternalID),
			zap.String("status", event.Status),
		)
		return nil
	}

	if gen.Status.IsTerminal() {
		s.logger.Debug("duplicate event after terminal state",
			zap.String("generation_id", gen.ID.String()),
			zap.String("status", event.Status),
		)
		return nil
	}
	if target == gen.Status {
		return nil
	}

	gen.Status = target
	switch target {
	case StatusCompleted:
		gen.Output = map[string]any{"output": event.Output}
		completedAt := time.Now()
		if event.CompletedAt != nil {
			completedAt = *event.CompletedAt
		}
		gen.CompletedAt = &completedAt
		if event.StartedAt != nil {
			secs := completedAt.Sub(*event.StartedAt).Seconds()
			gen.ProcessingSeconds = &secs
		}
	case StatusFailed:
		gen.Error = &Error{Code: "provider_error", Message: event.Error}
	}

	applied, err := s.repo.UpdateIfNotTerminal(ctx, gen)
	if err != nil {
		return err
	}
	if !applied {
		// Lost the race to a concurrent terminal write.
		return nil
	}

	switch target {
	case StatusCompleted:
		s.settleCompleted(gen)
	case StatusFailed:
		s.metrics.GenerationsTotal.WithLabelValues(gen.Model, string(StatusFailed)).Inc()
		s.publisher.Publish(events.NewGenerationFailedEvent(gen.ID, gen.UserID, gen.Model, event.Error))
		s.refund(ctx, gen, "generation failed")
	}
	return nil
}

// ForceFail transitions a generation to failed with a diagnostic message and
// refunds its reservation. Used when event processing is abandoned after
// retries so the user is not left charged for a result that never settles.
func (s *Service) ForceFail(ctx context.Context, externalID, reason string) error {
	gen, err := s.repo.GetByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, ErrGenerationNotFound) {
			return nil
		}
		return err
	}
	if gen.Status.IsTerminal() {
		return nil
	}

	gen.Status = StatusFailed
	gen.Error = &Error{Code: "event_processing_failed", Message: reason}
	applied, err := s.repo.UpdateIfNotTerminal(ctx, gen)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.metrics.GenerationsTotal.WithLabelValues(gen.Model, string(StatusFailed)).Inc()
	s.publisher.Publish(events.NewGenerationFailedEvent(gen.ID, gen.UserID, gen.Model, reason))
	s.refund(ctx, gen, reason)
	return nil
}

// Get returns a generation owned by the user.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*Generation, error) {
	gen, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if gen.UserID != userID {
		return nil, ErrGenerationNotFound
	}
	return gen, nil
}

// List returns the user's generations, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Generation, int64, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) settleCompleted(gen *Generation) {
	s.metrics.GenerationsTotal.WithLabelValues(gen.Model, string(StatusCompleted)).Inc()
	if gen.ProcessingSeconds != nil {
		s.metrics.GenerationDuration.WithLabelValues(gen.Model).Observe(*gen.ProcessingSeconds)
	}
	s.publisher.Publish(events.NewGenerationCompletedEvent(gen.ID, gen.UserID, gen.Model, gen.CreditsReserved))

	if s.uploader == nil {
		return
	}
	urls := collectOutputURLs(gen.Output["output"])
	if len(urls) == 0 {
		return
	}
	// Provider URLs expire; copy into owned storage off the settlement
	// path. An upload failure never affects the charge.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.uploadTimeout)
		defer cancel()
		objects, err := s.uploader.UploadMany(ctx, gen.UserID.String(), urls)
		if err != nil {
			s.logger.Error("archive generation outputs",
				zap.String("generation_id", gen.ID.String()),
				zap.Error(err),
			)
			return
		}

		public := make([]string, 0, len(objects))
		for _, obj := range objects {
			public = append(public, obj.PublicURL)
		}
		gen.Output["archived_urls"] = public
		if err := s.repo.Update(ctx, gen); err != nil {
			s.logger.Error("record archived outputs",
				zap.String("generation_id", gen.ID.String()),
				zap.Error(err),
			)
		}
	}()
}

// refund restores the reservation after a terminal failure. The terminal
// status is already committed, so a refill failure is logged for manual
// reconciliation rather than propagated.
func (s *Service) refund(ctx context.Context, gen *Generation, reason string) {
	_, err := s.ledger.Refill(ctx, gen.UserID, gen.CreditsReserved, credits.TransactionRefund, reason, &gen.ID)
	if err != nil {
		s.logger.Error("refund reservation",
			zap.String("generation_id", gen.ID.String()),
			zap.String("user_id", gen.UserID.String()),
			zap.Int64("credits", gen.CreditsReserved),
			zap.Error(err),
		)
		return
	}
	s.metrics.CreditsRefundedTotal.Add(float64(gen.CreditsReserved))
	s.ledger.ReleaseGeneration(ctx, gen.UserID)
	s.publisher.Publish(events.NewCreditsRefundedEvent(gen.ID, gen.UserID, gen.CreditsReserved, reason))
}

func breakdownRecord(conv *pricing.Conversion, units int) map[string]any {
	return map[string]any{
		"cost":              conv.Breakdown.Cost.String(),
		"margin":            conv.Breakdown.Margin.String(),
		"total_cost":        conv.Breakdown.TotalCost.String(),
		"credit_unit_value": conv.Breakdown.CreditUnitValue.String(),
		"raw_credits":       conv.Breakdown.RawCredits.String(),
		"rounded_credits":   conv.Breakdown.RoundedCredits,
		"units":             units,
	}
}

func eventFromResponse(model string, resp *PredictionResponse) *ProviderEvent {
	return &ProviderEvent{
		ExternalID:  resp.ID,
		Status:      resp.Status,
		Model:       model,
		Output:      resp.Output,
		Error:       resp.Error,
		CreatedAt:   resp.CreatedAt,
		StartedAt:   resp.StartedAt,
		CompletedAt: resp.CompletedAt,
	}
}

// collectOutputURLs extracts http(s) URLs from the provider's opaque output.
func collectOutputURLs(output any) []string {
	var urls []string
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			if len(val) > 8 && (val[:7] == "http://" || val[:8] == "https://") {
				urls = append(urls, val)
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		case []string:
			for _, item := range val {
				walk(item)
			}
		case map[string]any:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(output)
	return urls
}
