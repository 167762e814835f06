package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BucketColumns flattens one category's sub-balances into prefixed columns.
type BucketColumns struct {
	PlanTotal      int64 `gorm:"not null;default:0"`
	PlanUsed       int64 `gorm:"not null;default:0"`
	AddonRemaining int64 `gorm:"not null;default:0"`
	AdminRemaining int64 `gorm:"not null;default:0"`
	TrialRemaining int64 `gorm:"not null;default:0"`
}

// CreditAccount mirrors the credit_accounts table. Version guards optimistic
// balance updates; every write is conditional on the version it read.
type CreditAccount struct {
	UserID         string        `gorm:"primaryKey"`
	PlanID         string        `gorm:""`
	CycleStart     *time.Time    `gorm:""`
	CycleEnd       *time.Time    `gorm:""`
	CycleAnchorDay int           `gorm:"not null;default:0"`
	AllowRollover  bool          `gorm:"not null;default:false"`
	TrialExpiresAt *time.Time    `gorm:""`
	Words          BucketColumns `gorm:"embedded;embeddedPrefix:words_"`
	Books          BucketColumns `gorm:"embedded;embeddedPrefix:books_"`
	Offers         BucketColumns `gorm:"embedded;embeddedPrefix:offers_"`
	Version        int64         `gorm:"not null;default:0"`
	CreatedAt      time.Time     `gorm:"not null"`
	UpdatedAt      time.Time     `gorm:"not null"`
}

func (CreditAccount) TableName() string { return "credit_accounts" }

// CreditTransaction mirrors the append-only credit_transactions table.
type CreditTransaction struct {
	TransactionID string         `gorm:"type:uuid;primaryKey"`
	UserID        string         `gorm:"not null;index:idx_credit_txn_user_created,priority:1"`
	Type          string         `gorm:"not null"`
	Category      string         `gorm:"not null"`
	AmountDelta   int64          `gorm:"not null"`
	Description   string         `gorm:""`
	Metadata      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_credit_txn_user_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (transaction *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// PaymentRecord mirrors the payment_records table. The unique index on
// invoice_id enforces one-invoice-one-order at the database, behind the
// application-level binding checks.
type PaymentRecord struct {
	OrderID                    string    `gorm:"primaryKey"`
	UserID                     string    `gorm:"not null;index"`
	Kind                       string    `gorm:"not null"`
	PlanID                     string    `gorm:""`
	AddonID                    string    `gorm:""`
	ExpectedPriceCents         int64     `gorm:"not null"`
	InvoiceID                  *string   `gorm:"index:uniq_payment_invoice,unique"`
	ChargedAmountCents         int64     `gorm:"not null;default:0"`
	VerifiedChargedAmountCents int64     `gorm:"not null;default:0"`
	Status                     string    `gorm:"not null"`
	ApprovalStatus             string    `gorm:"not null"`
	RejectionReason            string    `gorm:""`
	PaymentMethod              string    `gorm:""`
	GatewayTransactionID       string    `gorm:""`
	FeeCents                   int64     `gorm:"not null;default:0"`
	CreatedAt                  time.Time `gorm:"not null"`
	UpdatedAt                  time.Time `gorm:"not null"`
}

func (PaymentRecord) TableName() string { return "payment_records" }

// SubscriptionPlan mirrors the subscription_plans table. The price captured
// on a payment record at checkout is authoritative for that order even if the
// plan row changes later.
type SubscriptionPlan struct {
	PlanID         string    `gorm:"primaryKey"`
	Name           string    `gorm:"not null"`
	PriceCents     int64     `gorm:"not null"`
	WordsPerCycle  int64     `gorm:"not null;default:0"`
	BooksPerCycle  int64     `gorm:"not null;default:0"`
	OffersPerCycle int64     `gorm:"not null;default:0"`
	AllowRollover  bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (SubscriptionPlan) TableName() string { return "subscription_plans" }

// AddonCreditPlan mirrors the addon_credit_plans table.
type AddonCreditPlan struct {
	AddonID    string    `gorm:"primaryKey"`
	Name       string    `gorm:"not null"`
	PriceCents int64     `gorm:"not null"`
	Category   string    `gorm:"not null"`
	Amount     int64     `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (AddonCreditPlan) TableName() string { return "addon_credit_plans" }
