package payments

import (
	"context"

	"github.com/scriptorium-ai/creditd/pkg/credits"
)

// PaymentStatus is the checkout order lifecycle state.
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusCompleted  PaymentStatus = "completed"
	StatusFailed     PaymentStatus = "failed"
	StatusCancelled  PaymentStatus = "cancelled"
)

// String returns the status name.
func (status PaymentStatus) String() string {
	return string(status)
}

// Terminal reports whether the status is an end state.
func (status PaymentStatus) Terminal() bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// ApprovalStatus tracks the settlement decision.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// String returns the approval status name.
func (status ApprovalStatus) String() string {
	return string(status)
}

// PurchaseKind distinguishes what a checkout order buys.
type PurchaseKind string

const (
	KindSubscription PurchaseKind = "subscription"
	KindAddon        PurchaseKind = "addon"
)

// String returns the kind name.
func (kind PurchaseKind) String() string {
	return string(kind)
}

// PaymentRecord is one checkout order. InvoiceID is set at most once and is
// globally unique across records; a completed+approved record is terminal
// and its credits have been granted exactly once.
type PaymentRecord struct {
	OrderID                    string
	UserID                     string
	Kind                       PurchaseKind
	PlanID                     string
	AddonID                    string
	ExpectedPriceCents         int64
	InvoiceID                  string
	ChargedAmountCents         int64
	VerifiedChargedAmountCents int64
	Status                     PaymentStatus
	ApprovalStatus             ApprovalStatus
	RejectionReason            string
	PaymentMethod              string
	GatewayTransactionID       string
	FeeCents                   int64
	CreatedUnixUTC             int64
	UpdatedUnixUTC             int64
}

// Settled reports whether credits were granted for this record.
func (record PaymentRecord) Settled() bool {
	return record.Status == StatusCompleted && record.ApprovalStatus == ApprovalApproved
}

// Verification is the gateway's authoritative view of a charged invoice.
// Caller- and webhook-supplied amounts are advisory; only this is trusted.
type Verification struct {
	Status             string
	InvoiceID          string
	OrderID            string
	ChargedAmountCents int64
	AmountCents        int64
	FeeCents           int64
	PaymentMethod      string
	TransactionID      string
}

// Paid reports whether the gateway confirms a successful charge.
func (verification Verification) Paid() bool {
	return verification.Status == verificationStatusPaid
}

const verificationStatusPaid = "paid"

// Verifier calls the gateway's authoritative verification endpoint.
type Verifier interface {
	Verify(ctx context.Context, invoiceID string) (Verification, error)
}

// Event is the inbound payment notification carried by a webhook.
type Event struct {
	InvoiceID          string
	OrderID            string
	ChargedAmountCents int64
	FeeCents           int64
	PaymentMethod      string
	TransactionID      string
}

// Store is the persistence contract for payment records. Credits exposes the
// ledger contract bound to the same transaction, so a settlement can grant
// credits and approve the record atomically.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreatePayment(ctx context.Context, record PaymentRecord) error
	GetPaymentByOrderID(ctx context.Context, orderID string) (PaymentRecord, error)
	GetPaymentByInvoiceID(ctx context.Context, invoiceID string) (PaymentRecord, error)
	BindInvoice(ctx context.Context, orderID string, invoiceID string) error
	ClaimPayment(ctx context.Context, orderID string) error
	CompletePayment(ctx context.Context, orderID string, verifiedChargedCents int64) error
	RejectPayment(ctx context.Context, orderID string, reason string) error
	Credits() credits.Store
}
