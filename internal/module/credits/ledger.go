package credits

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UsageCounters tracks per-period generation counts backing the package
// limit pre-check. Implemented by the Redis adapter.
type UsageCounters interface {
	IncrementGenerations(ctx context.Context, userID uuid.UUID) (int64, error)
	DecrementGenerations(ctx context.Context, userID uuid.UUID) error
	GenerationsThisPeriod(ctx context.Context, userID uuid.UUID) (int64, error)
}

// ReserveResult reports a successful reservation.
type ReserveResult struct {
	Tier             Tier  `json:"tier"`
	RemainingBalance int64 `json:"remaining_balance"`
}

// RefillResult reports a credit refill.
type RefillResult struct {
	NewBalance int64 `json:"new_balance"`
}

// Ledger holds user credit balances and applies atomic reservations and
// refills against them.
type Ledger struct {
	repo     Repository
	counters UsageCounters
	logger   *zap.Logger
}

// NewLedger creates a new credit ledger. A nil counters disables generation
// caps; credit checks still apply.
func NewLedger(repo Repository, counters UsageCounters, logger *zap.Logger) *Ledger {
	if counters == nil {
		counters = noopCounters{}
	}
	return &Ledger{
		repo:     repo,
		counters: counters,
		logger:   logger,
	}
}

// noopCounters always reports zero usage.
type noopCounters struct{}

func (noopCounters) IncrementGenerations(context.Context, uuid.UUID) (int64, error) { return 0, nil }
func (noopCounters) DecrementGenerations(context.Context, uuid.UUID) error          { return nil }
func (noopCounters) GenerationsThisPeriod(context.Context, uuid.UUID) (int64, error) {
	return 0, nil
}

// Reserve atomically debits amount from the user's balance, consuming the
// package allowance first and falling back to the account balance. The whole
// read-decide-write sequence runs under the repository's per-user lock, so
// two concurrent reservations can never both observe a sufficient balance
// for the last credit.
func (l *Ledger) Reserve(ctx context.Context, userID uuid.UUID, amount int64, generationID uuid.UUID, breakdown map[string]any) (*ReserveResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var tier Tier
	bal, err := l.repo.UpdateBalanceLocked(ctx, userID, func(b *CreditBalance) (*CreditTransaction, error) {
		switch {
		case b.AvailablePackage() >= amount:
			b.PackageUsed += amount
			tier = TierPackage
		case b.AccountBalance >= amount:
			b.AccountBalance -= amount
			tier = TierAccount
		default:
			return nil, &InsufficientCreditsError{
				Required:  amount,
				Available: b.TotalAvailable(),
			}
		}

		genID := generationID
		return &CreditTransaction{
			UserID:       userID,
			Type:         TransactionReserve,
			Tier:         tier,
			Amount:       amount,
			BalanceAfter: b.TotalAvailable(),
			GenerationID: &genID,
			Breakdown:    breakdown,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("credits reserved",
		zap.String("user_id", userID.String()),
		zap.String("generation_id", generationID.String()),
		zap.Int64("amount", amount),
		zap.String("tier", string(tier)),
		zap.Int64("remaining", bal.TotalAvailable()),
	)

	return &ReserveResult{
		Tier:             tier,
		RemainingBalance: bal.TotalAvailable(),
	}, nil
}

// Refill credits amount back to the user's account balance. Refunds and
// top-ups are account-tier credits regardless of which tier was originally
// debited; no attempt is made to restore the package allowance.
func (l *Ledger) Refill(ctx context.Context, userID uuid.UUID, amount int64, txType TransactionType, reason string, generationID *uuid.UUID) (*RefillResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if txType != TransactionRefund && txType != TransactionTopUp {
		return nil, fmt.Errorf("refill with transaction type %q: %w", txType, ErrInvalidAmount)
	}

	bal, err := l.repo.UpdateBalanceLocked(ctx, userID, func(b *CreditBalance) (*CreditTransaction, error) {
		b.AccountBalance += amount
		return &CreditTransaction{
			UserID:       userID,
			Type:         txType,
			Tier:         TierAccount,
			Amount:       amount,
			BalanceAfter: b.TotalAvailable(),
			GenerationID: generationID,
			Reason:       reason,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("credits refilled",
		zap.String("user_id", userID.String()),
		zap.Int64("amount", amount),
		zap.String("type", string(txType)),
		zap.String("reason", reason),
		zap.Int64("new_balance", bal.TotalAvailable()),
	)

	return &RefillResult{NewBalance: bal.TotalAvailable()}, nil
}

// CheckSufficient is an advisory pre-check. The authoritative check happens
// inside Reserve under the lock; callers must not treat a true result as a
// guarantee.
func (l *Ledger) CheckSufficient(ctx context.Context, userID uuid.UUID, amount int64) (bool, error) {
	bal, err := l.repo.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return bal.TotalAvailable() >= amount, nil
}

// GetBalance returns the user's current balance.
func (l *Ledger) GetBalance(ctx context.Context, userID uuid.UUID) (*CreditBalance, error) {
	return l.repo.GetBalance(ctx, userID)
}

// ListTransactions returns the user's recent ledger movements.
func (l *Ledger) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*CreditTransaction, error) {
	return l.repo.ListTransactions(ctx, userID, limit)
}

// CheckPackageLimits is a cheap early rejection consulted before pricing: it
// checks the plan's generation-count cap and reports remaining credits
// without touching the lock.
func (l *Ledger) CheckPackageLimits(ctx context.Context, userID uuid.UUID) (*LimitStatus, error) {
	bal, err := l.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	plan, err := l.repo.GetPlan(ctx, bal.PlanID)
	if err != nil {
		return nil, err
	}

	status := &LimitStatus{
		CanGenerate:          true,
		CreditsRemaining:     bal.TotalAvailable(),
		GenerationsRemaining: -1,
	}

	if !plan.IsUnlimitedGenerations() {
		used, err := l.counters.GenerationsThisPeriod(ctx, userID)
		if err != nil {
			// Counter outage must not block generation; the credit check in
			// Reserve still applies.
			l.logger.Warn("generation counter unavailable",
				zap.String("user_id", userID.String()), zap.Error(err))
			return status, nil
		}

		remaining := plan.MonthlyGenerations - used
		if remaining < 0 {
			remaining = 0
		}
		status.GenerationsRemaining = remaining
		if remaining == 0 {
			status.CanGenerate = false
			status.Reason = "monthly generation limit reached"
		}
	}

	if status.CreditsRemaining <= 0 {
		status.CanGenerate = false
		if status.Reason == "" {
			status.Reason = "no credits remaining"
		}
	}

	return status, nil
}

// RecordGeneration bumps the per-period generation counter after a
// reservation succeeds.
func (l *Ledger) RecordGeneration(ctx context.Context, userID uuid.UUID) {
	if _, err := l.counters.IncrementGenerations(ctx, userID); err != nil {
		l.logger.Warn("increment generation counter",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// ReleaseGeneration compensates the counter increment when a generation is
// refunded.
func (l *Ledger) ReleaseGeneration(ctx context.Context, userID uuid.UUID) {
	if err := l.counters.DecrementGenerations(ctx, userID); err != nil {
		l.logger.Warn("decrement generation counter",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
}
