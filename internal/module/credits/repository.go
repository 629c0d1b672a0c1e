package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the interface for credit data access.
//
// UpdateBalanceLocked is the single mutual-exclusion boundary of the ledger:
// it must run the callback while holding an exclusive per-user lock on the
// balance row, and persist the mutated balance plus the returned transaction
// atomically. Locks are scoped per user so different users never contend.
type Repository interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (*CreditBalance, error)
	UpdateBalanceLocked(ctx context.Context, userID uuid.UUID, fn func(*CreditBalance) (*CreditTransaction, error)) (*CreditBalance, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*CreditTransaction, error)
	GetPlan(ctx context.Context, id string) (*Plan, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new credits repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetBalance(ctx context.Context, userID uuid.UUID) (*CreditBalance, error) {
	var bal CreditBalance
	err := r.db.WithContext(ctx).First(&bal, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &bal, nil
}

func (r *repository) UpdateBalanceLocked(ctx context.Context, userID uuid.UUID, fn func(*CreditBalance) (*CreditTransaction, error)) (*CreditBalance, error) {
	var result *CreditBalance

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bal CreditBalance
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&bal, "user_id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBalanceNotFound
			}
			return fmt.Errorf("lock balance: %w", err)
		}

		txRecord, err := fn(&bal)
		if err != nil {
			return err
		}

		if err := tx.Save(&bal).Error; err != nil {
			return fmt.Errorf("save balance: %w", err)
		}
		if txRecord != nil {
			if err := tx.Create(txRecord).Error; err != nil {
				return fmt.Errorf("create transaction: %w", err)
			}
		}

		result = &bal
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *repository) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var txs []*CreditTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (r *repository) GetPlan(ctx context.Context, id string) (*Plan, error) {
	var plan Plan
	err := r.db.WithContext(ctx).First(&plan, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return &plan, nil
}
