package credits

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// UserID identifies an account owner.
type UserID struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// Amount is a strictly positive quantity of credits.
type Amount int64

// Category is one of the independent consumption categories.
type Category string

const (
	CategoryWords  Category = "words"
	CategoryBooks  Category = "books"
	CategoryOffers Category = "offers"
)

// Categories returns all categories in a stable order.
func Categories() []Category {
	return []Category{CategoryWords, CategoryBooks, CategoryOffers}
}

// ParseCategory validates a raw category string.
func ParseCategory(raw string) (Category, error) {
	switch Category(raw) {
	case CategoryWords, CategoryBooks, CategoryOffers:
		return Category(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
}

// String returns the category name.
func (category Category) String() string {
	return string(category)
}

// BucketSource tags the origin of a credit grant.
type BucketSource string

const (
	SourcePlan  BucketSource = "plan"
	SourceAddon BucketSource = "addon"
	SourceAdmin BucketSource = "admin"
	SourceTrial BucketSource = "trial"
)

// ParseBucketSource validates a raw source string.
func ParseBucketSource(raw string) (BucketSource, error) {
	switch BucketSource(raw) {
	case SourcePlan, SourceAddon, SourceAdmin, SourceTrial:
		return BucketSource(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidBucketSource, raw)
}

// String returns the source name.
func (source BucketSource) String() string {
	return string(source)
}

// Creditable reports whether the source may be incremented through Credit.
// The plan bucket is owned by the cycle manager and is never credited directly.
func (source BucketSource) Creditable() bool {
	return source == SourceAddon || source == SourceAdmin || source == SourceTrial
}

// TransactionType enumerates ledger transaction kinds.
type TransactionType string

const (
	TxnUsage           TransactionType = "usage"
	TxnPurchase        TransactionType = "purchase"
	TxnAdminAllocation TransactionType = "admin_allocation"
	TxnRefund          TransactionType = "refund"
)

// ParseTransactionType validates a raw transaction type string.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TxnUsage, TxnPurchase, TxnAdminAllocation, TxnRefund:
		return TransactionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// String returns the transaction type name.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// NewAmount validates an amount and ensures it is strictly positive.
func NewAmount(raw int64) (Amount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Amount(raw), nil
}

// Int64 returns the raw amount.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// Bucket holds the four origin-tagged sub-balances of one category.
type Bucket struct {
	PlanTotal      int64
	PlanUsed       int64
	AddonRemaining int64
	AdminRemaining int64
	TrialRemaining int64
}

// Available computes the spendable balance of the bucket. An expired trial
// sub-balance reports zero even while its stored value is positive.
func (bucket Bucket) Available(trialExpired bool) int64 {
	planRemaining := bucket.PlanTotal - bucket.PlanUsed
	if planRemaining < 0 {
		planRemaining = 0
	}
	available := planRemaining + bucket.AddonRemaining + bucket.AdminRemaining
	if !trialExpired {
		available += bucket.TrialRemaining
	}
	return available
}

// Total reports all credits granted for the bucket in the current cycle.
func (bucket Bucket) Total(trialExpired bool) int64 {
	total := bucket.PlanTotal + bucket.AddonRemaining + bucket.AdminRemaining
	if !trialExpired {
		total += bucket.TrialRemaining
	}
	return total
}

// Account is the materialized per-user balance snapshot. The transaction log
// is the source of truth; Version guards optimistic concurrent updates.
type Account struct {
	UserID              string
	PlanID              string
	CycleStartUnixUTC   int64
	CycleEndUnixUTC     int64
	CycleAnchorDay      int
	AllowRollover       bool
	TrialExpiresUnixUTC int64
	Words               Bucket
	Books               Bucket
	Offers              Bucket
	Version             int64
}

// BucketFor returns the mutable bucket for a category.
func (account *Account) BucketFor(category Category) *Bucket {
	switch category {
	case CategoryBooks:
		return &account.Books
	case CategoryOffers:
		return &account.Offers
	default:
		return &account.Words
	}
}

// TrialExpired reports whether trial credits are past their cutoff.
func (account *Account) TrialExpired(nowUnixUTC int64) bool {
	return account.TrialExpiresUnixUTC != 0 && nowUnixUTC > account.TrialExpiresUnixUTC
}

// Available computes the spendable balance of a category at a point in time.
func (account *Account) Available(category Category, nowUnixUTC int64) int64 {
	return account.BucketFor(category).Available(account.TrialExpired(nowUnixUTC))
}

// Transaction is a single immutable line in the credit ledger.
type Transaction struct {
	TransactionID  string
	UserID         string
	Type           TransactionType
	Category       Category
	AmountDelta    int64
	Description    string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// Plan defines a subscription tier's recurring allotments.
type Plan struct {
	PlanID         string
	Name           string
	PriceCents     int64
	WordsPerCycle  int64
	BooksPerCycle  int64
	OffersPerCycle int64
	AllowRollover  bool
}

// Allotment returns the per-cycle allotment for a category.
func (plan Plan) Allotment(category Category) int64 {
	switch category {
	case CategoryBooks:
		return plan.BooksPerCycle
	case CategoryOffers:
		return plan.OffersPerCycle
	default:
		return plan.WordsPerCycle
	}
}

// AddonPlan defines a one-time purchasable credit pack.
type AddonPlan struct {
	AddonID    string
	Name       string
	PriceCents int64
	Category   Category
	Amount     int64
}

// Summary is the read-only per-user aggregation for display.
type Summary struct {
	PlanID     string
	Categories map[Category]CategorySummary
}

// CategorySummary reports one category's balances.
type CategorySummary struct {
	Available int64
	Used      int64
	Total     int64
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetAccount(ctx context.Context, userID string) (Account, error)
	GetOrCreateAccount(ctx context.Context, userID string) (Account, error)
	SaveAccount(ctx context.Context, account Account, expectedVersion int64) error
	InsertTransaction(ctx context.Context, transaction Transaction) error
	ListTransactions(ctx context.Context, userID string, beforeUnixUTC int64, limit int) ([]Transaction, error)
	GetPlan(ctx context.Context, planID string) (Plan, error)
	GetAddonPlan(ctx context.Context, addonID string) (AddonPlan, error)
}
