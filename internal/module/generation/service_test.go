package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/genforge/server/internal/infra/events"
	"github.com/genforge/server/internal/module/credits"
	"github.com/genforge/server/internal/module/pricing"
	"github.com/genforge/server/internal/utils/metrics"
)

// Prometheus collectors register globally, so the package shares one set.
var testMetrics = metrics.New("generation_test")

type fakeRepo struct {
	mu         sync.Mutex
	byID       map[uuid.UUID]*Generation
	byExternal map[string]uuid.UUID
	updates    int

	failCreate bool
	failUpdate bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		byID:       make(map[uuid.UUID]*Generation),
		byExternal: make(map[string]uuid.UUID),
	}
}

func (r *fakeRepo) Create(_ context.Context, gen *Generation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return errors.New("create failed")
	}
	stored := *gen
	r.byID[gen.ID] = &stored
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id uuid.UUID) (*Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gen, ok := r.byID[id]
	if !ok {
		return nil, ErrGenerationNotFound
	}
	copied := *gen
	return &copied, nil
}

func (r *fakeRepo) GetByExternalID(_ context.Context, externalID string) (*Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byExternal[externalID]
	if !ok {
		return nil, ErrGenerationNotFound
	}
	copied := *r.byID[id]
	return &copied, nil
}

func (r *fakeRepo) Update(_ context.Context, gen *Generation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdate {
		return errors.New("update failed")
	}
	stored := *gen
	r.byID[gen.ID] = &stored
	if gen.ExternalID != "" {
		r.byExternal[gen.ExternalID] = gen.ID
	}
	r.updates++
	return nil
}

func (r *fakeRepo) UpdateIfNotTerminal(_ context.Context, gen *Generation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdate {
		return false, errors.New("update failed")
	}
	current, ok := r.byID[gen.ID]
	if !ok || current.Status.IsTerminal() {
		return false, nil
	}
	stored := *gen
	r.byID[gen.ID] = &stored
	r.updates++
	return true, nil
}

func (r *fakeRepo) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*Generation, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var gens []*Generation
	for _, gen := range r.byID {
		if gen.UserID == userID {
			copied := *gen
			gens = append(gens, &copied)
		}
	}
	return gens, int64(len(gens)), nil
}

func (r *fakeRepo) stored(id uuid.UUID) *Generation {
	r.mu.Lock()
	defer r.mu.Unlock()
	gen := r.byID[id]
	if gen == nil {
		return nil
	}
	copied := *gen
	return &copied
}

type fakeLedger struct {
	mu        sync.Mutex
	balance   int64
	reserved  int64
	refunded  int64
	refunds   int
	active    int
	canCreate bool
	reason    string
}

func newFakeLedger(balance int64) *fakeLedger {
	return &fakeLedger{balance: balance, canCreate: true}
}

func (l *fakeLedger) Reserve(_ context.Context, _ uuid.UUID, amount int64, _ uuid.UUID, _ map[string]any) (*credits.ReserveResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount > l.balance {
		return nil, &credits.InsufficientCreditsError{Required: amount, Available: l.balance}
	}
	l.balance -= amount
	l.reserved += amount
	return &credits.ReserveResult{Tier: credits.TierAccount, RemainingBalance: l.balance}, nil
}

func (l *fakeLedger) Refill(_ context.Context, _ uuid.UUID, amount int64, _ credits.TransactionType, _ string, _ *uuid.UUID) (*credits.RefillResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance += amount
	l.refunded += amount
	l.refunds++
	return &credits.RefillResult{NewBalance: l.balance}, nil
}

func (l *fakeLedger) CheckPackageLimits(_ context.Context, _ uuid.UUID) (*credits.LimitStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &credits.LimitStatus{
		CanGenerate:          l.canCreate,
		Reason:               l.reason,
		CreditsRemaining:     l.balance,
		GenerationsRemaining: -1,
	}, nil
}

func (l *fakeLedger) RecordGeneration(_ context.Context, _ uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active++
}

func (l *fakeLedger) ReleaseGeneration(_ context.Context, _ uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active--
}

type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	response *PredictionResponse
	err      error
}

func (p *fakeProvider) CreatePrediction(_ context.Context, _ *PredictionRequest) (*PredictionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	resp := *p.response
	return &resp, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *fakePublisher) typesSeen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []string
	for _, e := range p.events {
		types = append(types, e.EventType())
	}
	return types
}

type fixture struct {
	service   *Service
	repo      *fakeRepo
	ledger    *fakeLedger
	provider  *fakeProvider
	publisher *fakePublisher
}

func newFixture(t *testing.T, balance int64) *fixture {
	t.Helper()
	repo := newFakeRepo()
	ledger := newFakeLedger(balance)
	provider := &fakeProvider{
		response: &PredictionResponse{ID: "pred-1", Status: "starting", CreatedAt: time.Now()},
	}
	publisher := &fakePublisher{}
	catalog := NewCatalog()
	catalog.Register(&ModelSpec{
		Name: "flux-dev",
		Rule: pricing.FixedRule{Price: decimal.NewFromFloat(0.08)},
	})
	catalog.Register(&ModelSpec{
		Name:     "sdxl-turbo",
		Rule:     pricing.FixedRule{Price: decimal.NewFromFloat(0.02)},
		Sync:     true,
		MaxUnits: 4,
	})

	converter := pricing.NewConverter(pricing.ConverterConfig{
		ProfitMargin:    decimal.NewFromFloat(1.5),
		CreditUnitValue: decimal.NewFromFloat(0.05),
		MinCredits:      1,
	})

	service := NewService(ServiceConfig{
		Repo:      repo,
		Ledger:    ledger,
		Provider:  provider,
		Catalog:   catalog,
		Converter: converter,
		Publisher: publisher,
		Metrics:   testMetrics,
		Logger:    zap.NewNop(),
	})
	return &fixture{service: service, repo: repo, ledger: ledger, provider: provider, publisher: publisher}
}

func TestCreateReservesAndDispatches(t *testing.T) {
	f := newFixture(t, 100)
	userID := uuid.New()

	gen, err := f.service.Create(context.Background(), userID, &CreateRequest{
		Model: "flux-dev",
		Input: map[string]any{"prompt": "a red fox"},
	})
	require.NoError(t, err)

	// 0.08 * 1.5 / 0.05 = 2.4, rounded up to 3.
	assert.Equal(t, int64(3), gen.CreditsReserved)
	assert.Equal(t, int64(97), f.ledger.balance)
	assert.Equal(t, "pred-1", gen.ExternalID)
	assert.Equal(t, StatusStarting, gen.Status)
	assert.Equal(t, 1, f.provider.calls)
	assert.Equal(t, 1, f.ledger.active)
}

func TestCreateMultiUnitChargesPerUnit(t *testing.T) {
	f := newFixture(t, 100)
	f.provider.response = &PredictionResponse{
		ID:     "pred-sync",
		Status: "succeeded",
		Output: []any{"https://cdn.example.com/a.png"},
	}

	gen, err := f.service.Create(context.Background(), uuid.New(), &CreateRequest{
		Model: "sdxl-turbo",
		Input: map[string]any{"prompt": "a fox"},
		Units: 3,
	})
	require.NoError(t, err)

	// Single unit is 1 credit (0.02 * 1.5 / 0.05 = 0.6, ceil 1).
	assert.Equal(t, int64(3), gen.CreditsReserved)
	assert.Equal(t, 3, f.provider.calls)
	assert.Equal(t, StatusCompleted, gen.Status)
	outputs, ok := gen.Output["output"].([]any)
	require.True(t, ok)
	assert.Len(t, outputs, 3)
}

func TestCreateInsufficientCreditsAborts(t *testing.T) {
	f := newFixture(t, 2)

	_, err := f.service.Create(context.Background(), uuid.New(), &CreateRequest{
		Model: "flux-dev",
		Input: map[string]any{"prompt": "a fox"},
	})

	var insufficientErr *credits.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, int64(3), insufficientErr.Required)
	assert.Equal(t, int64(2), insufficientErr.Available)
	assert.Equal(t, 0, f.provider.calls)
	assert.Empty(t, f.repo.byID)
	assert.Equal(t, int64(2), f.ledger.balance)
}

func TestCreateLimitExceeded(t *testing.T) {
	f := newFixture(t, 100)
	f.ledger.canCreate = false
	f.ledger.reason = "monthly generation limit reached"

	_, err := f.service.Create(context.Background(), uuid.New(), &CreateRequest{
		Model: "flux-dev",
		Input: map[string]any{"prompt": "a fox"},
	})

	var limitErr *LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "monthly generation limit reached", limitErr.Reason)
	assert.Equal(t, int64(100), f.ledger.balance)
}

func TestCreateProviderFailureKeepsCharge(t *testing.T) {
	f := newFixture(t, 100)
	f.provider.err = &ProviderError{StatusCode: 422, Detail: "invalid prompt"}
	userID := uuid.New()

	_, err := f.service.Create(context.Background(), userID, &CreateRequest{
		Model: "flux-dev",
		Input: map[string]any{"prompt": "a fox"},
	})
	require.ErrorIs(t, err, ErrProviderClient)

	// Credits stay charged and the failed record is kept.
	assert.Equal(t, int64(97), f.ledger.balance)
	assert.Equal(t, 0, f.ledger.refunds)

	gens, _, listErr := f.repo.ListByUser(context.Background(), userID, 10, 0)
	require.NoError(t, listErr)
	require.Len(t, gens, 1)
	assert.Equal(t, StatusFailed, gens[0].Status)
	require.NotNil(t, gens[0].Error)
	assert.Contains(t, gens[0].Error.Message, "invalid prompt")
}

func TestCreateUnknownModel(t *testing.T) {
	f := newFixture(t, 100)

	_, err := f.service.Create(context.Background(), uuid.New(), &CreateRequest{
		Model: "nonexistent",
		Input: map[string]any{},
	})
	assert.ErrorIs(t, err, ErrModelNotSupported)
}

func createStarted(t *testing.T, f *fixture) *Generation {
	t.Helper()
	gen, err := f.service.Create(context.Background(), uuid.New(), &CreateRequest{
		Model: "flux-dev",
		Input: map[string]any{"prompt": "a fox"},
	})
	require.NoError(t, err)
	return gen
}

func TestApplyEventCompletes(t *testing.T) {
	f := newFixture(t, 100)
	gen := createStarted(t, f)

	started := time.Now().Add(-12 * time.Second)
	completed := time.Now()
	err := f.service.ApplyProviderEvent(context.Background(), &ProviderEvent{
		ExternalID:  "pred-1",
		Status:      "succeeded",
		Model:       "flux-dev",
		Output:      []any{"https://cdn.example.com/out.png"},
		StartedAt:   &started,
		CompletedAt: &completed,
	})
	require.NoError(t, err)

	stored := f.repo.stored(gen.ID)
	assert.Equal(t, StatusCompleted, stored.Status)
	require.NotNil(t, stored.ProcessingSeconds)
	assert.InDelta(t, 12, *stored.ProcessingSeconds, 1)
	require.NotNil(t, stored.CompletedAt)
	assert.Contains(t, f.publisher.typesSeen(), events.GenerationCompletedType)
	// Success keeps the charge.
	assert.Equal(t, int64(97), f.ledger.balance)
}

func TestApplyEventTerminalIsIdempotent(t *testing.T) {
	f := newFixture(t, 100)
	gen := createStarted(t, f)

	event := &ProviderEvent{ExternalID: "pred-1", Status: "succeeded", Model: "flux-dev"}
	require.NoError(t, f.service.ApplyProviderEvent(context.Background(), event))
	updatesAfterFirst := f.repo.updates

	// Redelivery of the same terminal event is a no-op.
	require.NoError(t, f.service.ApplyProviderEvent(context.Background(), event))
	assert.Equal(t, updatesAfterFirst, f.repo.updates)

	// A contradicting terminal event does not reopen the generation.
	require.NoError(t, f.service.ApplyProviderEvent(context.Background(), &ProviderEvent{
		ExternalID: "pred-1", Status: "failed", Model: "flux-dev", Error: "late failure",
	}))
	stored := f.repo.stored(gen.ID)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, 0, f.ledger.refunds)
}

func TestApplyEventFailureRefundsOnce(t *testing.T) {
	f := newFixture(t, 100)
	gen := createStarted(t, f)
	require.Equal(t, int64(97), f.ledger.balance)

	event := &ProviderEvent{ExternalID: "pred-1", Status: "failed", Model: "flux-dev", Error: "NSFW content"}
	require.NoError(t, f.service.ApplyProviderEvent(context.Background(), event))

	stored := f.repo.stored(gen.ID)
	assert.Equal(t, StatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Equal(t, "NSFW content", stored.Error.Message)
	assert.Equal(t, int64(100), f.ledger.balance)
	assert.Equal(t, 1, f.ledger.refunds)
	assert.Equal(t, 0, f.ledger.active)
	assert.Contains(t, f.publisher.typesSeen(), events.CreditsRefundedType)

	// Redelivery must not refund again.
	require.NoError(t, f.service.ApplyProviderEvent(context.Background(), event))
	assert.Equal(t, 1, f.ledger.refunds)
	assert.Equal(t, int64(100), f.ledger.balance)
}

func TestApplyEventIntermediateStatuses(t *testing.T) {
	f := newFixture(t, 100)
	gen := createStarted(t, f)

	require.NoError(t, f.service.ApplyProviderEvent(context.Background(), &ProviderEvent{
		ExternalID: "pred-1", Status: "processing", Model: "flux-dev",
	}))
	assert.Equal(t, StatusProcessing, f.repo.stored(gen.ID).Status)

	// Unknown statuses are logged and skipped.
	require.NoError(t, f.service.ApplyProviderEvent(context.Background(), &ProviderEvent{
		ExternalID: "pred-1", Status: "warming_up", Model: "flux-dev",
	}))
	assert.Equal(t, StatusProcessing, f.repo.stored(gen.ID).Status)
}

func TestApplyEventUnknownPredictionIsNoop(t *testing.T) {
	f := newFixture(t, 100)

	err := f.service.ApplyProviderEvent(context.Background(), &ProviderEvent{
		ExternalID: "never-seen", Status: "succeeded", Model: "flux-dev",
	})
	assert.NoError(t, err)
}

func TestForceFailRefunds(t *testing.T) {
	f := newFixture(t, 100)
	gen := createStarted(t, f)

	require.NoError(t, f.service.ForceFail(context.Background(), "pred-1", "event processing abandoned"))

	stored := f.repo.stored(gen.ID)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, int64(100), f.ledger.balance)
	assert.Equal(t, 1, f.ledger.refunds)

	// Already terminal: no second refund.
	require.NoError(t, f.service.ForceFail(context.Background(), "pred-1", "again"))
	assert.Equal(t, 1, f.ledger.refunds)
}

func TestGetEnforcesOwnership(t *testing.T) {
	f := newFixture(t, 100)
	gen := createStarted(t, f)

	_, err := f.service.Get(context.Background(), uuid.New(), gen.ID)
	assert.ErrorIs(t, err, ErrGenerationNotFound)

	found, err := f.service.Get(context.Background(), gen.UserID, gen.ID)
	require.NoError(t, err)
	assert.Equal(t, gen.ID, found.ID)
}

func TestCollectOutputURLs(t *testing.T) {
	urls := collectOutputURLs([]any{
		"https://cdn.example.com/a.png",
		map[string]any{"video": "https://cdn.example.com/b.mp4"},
		"not a url",
	})
	assert.ElementsMatch(t, []string{
		"https://cdn.example.com/a.png",
		"https://cdn.example.com/b.mp4",
	}, urls)
}
