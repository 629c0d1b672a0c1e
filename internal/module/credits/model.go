package credits

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CreditBalance is a user's two-tier credit balance: a periodic package
// allowance consumed first, then the standing account balance. Both
// components stay non-negative at rest; PackageUsed resets at period rollover
// which is handled by the subscription system, not here.
type CreditBalance struct {
	UserID         uuid.UUID `json:"user_id" gorm:"type:uuid;primaryKey"`
	PlanID         string    `json:"plan_id" gorm:"not null;default:'free'"`
	PackageTotal   int64     `json:"package_total" gorm:"not null;default:0"`
	PackageUsed    int64     `json:"package_used" gorm:"not null;default:0"`
	AccountBalance int64     `json:"account_balance" gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (CreditBalance) TableName() string {
	return "credit_balances"
}

// AvailablePackage returns the unconsumed part of the period allowance.
func (b *CreditBalance) AvailablePackage() int64 {
	if b.PackageUsed >= b.PackageTotal {
		return 0
	}
	return b.PackageTotal - b.PackageUsed
}

// TotalAvailable returns the spendable credit total across both tiers.
func (b *CreditBalance) TotalAvailable() int64 {
	return b.AvailablePackage() + b.AccountBalance
}

// TransactionType classifies a ledger movement.
type TransactionType string

const (
	TransactionReserve TransactionType = "reserve"
	TransactionRefund  TransactionType = "refund"
	TransactionTopUp   TransactionType = "topup"
)

// Tier identifies which balance component a reservation debited.
type Tier string

const (
	TierPackage Tier = "package"
	TierAccount Tier = "account"
)

// CreditTransaction is the audit record of one ledger movement.
type CreditTransaction struct {
	ID           int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID       uuid.UUID       `json:"user_id" gorm:"type:uuid;not null;index"`
	Type         TransactionType `json:"type" gorm:"not null"`
	Tier         Tier            `json:"tier,omitempty"`
	Amount       int64           `json:"amount" gorm:"not null"`
	BalanceAfter int64           `json:"balance_after" gorm:"not null"`
	GenerationID *uuid.UUID      `json:"generation_id,omitempty" gorm:"type:uuid;index"`
	Reason       string          `json:"reason,omitempty"`
	Breakdown    map[string]any  `json:"breakdown,omitempty" gorm:"type:jsonb;serializer:json"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TableName returns the database table name.
func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

// Plan is the subscription tier feeding package limits. Checkout and renewal
// live in the billing system; this module only reads the quota fields.
type Plan struct {
	ID                 string         `json:"id" gorm:"primaryKey"`
	Name               string         `json:"name" gorm:"not null"`
	MonthlyCredits     int64          `json:"monthly_credits" gorm:"not null;default:0"`
	MonthlyGenerations int64          `json:"monthly_generations" gorm:"not null;default:-1"` // -1 = unlimited
	Features           pq.StringArray `json:"features" gorm:"type:text[]"`
	Active             bool           `json:"active" gorm:"default:true"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// TableName returns the database table name.
func (Plan) TableName() string {
	return "plans"
}

// IsUnlimitedGenerations returns true if the plan has no generation cap.
func (p *Plan) IsUnlimitedGenerations() bool {
	return p.MonthlyGenerations == -1
}

// LimitStatus is the result of a package-limit pre-check.
type LimitStatus struct {
	CanGenerate          bool   `json:"can_generate"`
	Reason               string `json:"reason,omitempty"`
	CreditsRemaining     int64  `json:"credits_remaining"`
	GenerationsRemaining int64  `json:"generations_remaining"` // -1 = unlimited
}
