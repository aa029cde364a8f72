package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. The check constraint backs the
// in-process non-negativity guard.
type Account struct {
	AccountID    string    `gorm:"type:uuid;primaryKey"`
	OwnerKind    string    `gorm:"not null"`
	DisplayName  string    `gorm:"not null"`
	BalanceCents int64     `gorm:"not null;check:chk_accounts_balance,balance_cents >= 0"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// Transaction mirrors the append-only transactions table. No update or
// delete path exists anywhere in this package.
type Transaction struct {
	TransactionID   string         `gorm:"type:uuid;primaryKey"`
	SourceAccountID string         `gorm:"type:uuid;not null;index:idx_transactions_source_created,priority:1"`
	DestAccountID   *string        `gorm:"type:uuid;index"`
	Kind            string         `gorm:"not null;index:idx_transactions_kind_created,priority:1"`
	AmountCents     int64          `gorm:"not null"`
	Reason          string         `gorm:"not null"`
	Metadata        datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt       time.Time      `gorm:"not null;index:idx_transactions_source_created,priority:2;index:idx_transactions_kind_created,priority:2"`
}

func (Transaction) TableName() string { return "transactions" }

func (transaction *Transaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// Advantage mirrors the advantages table. CompanyID points at the offering
// company's account row.
type Advantage struct {
	AdvantageID string    `gorm:"type:uuid;primaryKey"`
	CompanyID   string    `gorm:"type:uuid;not null;index"`
	Description string    `gorm:"not null"`
	CostCents   int64     `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (Advantage) TableName() string { return "advantages" }

func (advantage *Advantage) BeforeCreate(tx *gorm.DB) error {
	if advantage.AdvantageID == "" {
		advantage.AdvantageID = uuid.NewString()
	}
	return nil
}

// Coupon mirrors the coupons table. The unique index on code is what makes
// concurrent consumption attempts collide on one row.
type Coupon struct {
	CouponID    string         `gorm:"type:uuid;primaryKey"`
	Code        string         `gorm:"not null;uniqueIndex:uniq_coupons_code"`
	AdvantageID string         `gorm:"type:uuid;not null"`
	AccountID   string         `gorm:"type:uuid;not null"`
	IssuedAt    time.Time      `gorm:"not null"`
	ExpiresAt   *time.Time     `gorm:""`
	Used        bool           `gorm:"not null"`
	UsedAt      *time.Time     `gorm:""`
	Valid       bool           `gorm:"not null"`
	Metadata    datatypes.JSON `gorm:"type:jsonb;not null"`
}

func (Coupon) TableName() string { return "coupons" }

func (coupon *Coupon) BeforeCreate(tx *gorm.DB) error {
	if coupon.CouponID == "" {
		coupon.CouponID = uuid.NewString()
	}
	return nil
}
