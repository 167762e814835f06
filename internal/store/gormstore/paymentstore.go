package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/scriptorium-ai/creditd/internal/payments"
	"github.com/scriptorium-ai/creditd/pkg/credits"
)

// Store implements payments.Store using GORM. Credits returns a ledger store
// bound to the same handle, so inside WithTx both share one transaction.
type Store struct {
	db     *gorm.DB
	ledger *LedgerStore
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db, ledger: NewLedgerStore(db)}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore payments.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction, ledger: NewLedgerStore(transaction)})
	})
}

// Credits exposes the ledger contract bound to the same database handle.
func (store *Store) Credits() credits.Store {
	return store.ledger
}

func (store *Store) CreatePayment(ctx context.Context, record payments.PaymentRecord) error {
	model := paymentToModel(record)
	now := time.Now().UTC()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = now
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPayment, errorCodeCreate, payments.ErrInvoiceReuse)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPaymentByOrderID(ctx context.Context, orderID string) (payments.PaymentRecord, error) {
	var model PaymentRecord
	err := store.db.WithContext(ctx).Where("order_id = ?", orderID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return payments.PaymentRecord{}, wrapStoreError(errorSubjectPayment, errorCodeGet, payments.ErrPaymentNotFound)
	}
	if err != nil {
		return payments.PaymentRecord{}, wrapStoreError(errorSubjectPayment, errorCodeGet, err)
	}
	return paymentFromModel(model), nil
}

func (store *Store) GetPaymentByInvoiceID(ctx context.Context, invoiceID string) (payments.PaymentRecord, error) {
	var model PaymentRecord
	err := store.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return payments.PaymentRecord{}, wrapStoreError(errorSubjectPayment, errorCodeGet, payments.ErrPaymentNotFound)
	}
	if err != nil {
		return payments.PaymentRecord{}, wrapStoreError(errorSubjectPayment, errorCodeGet, err)
	}
	return paymentFromModel(model), nil
}

// BindInvoice sets the invoice once. The conditional update keeps an already
// bound record immutable and the unique index rejects reuse across orders.
func (store *Store) BindInvoice(ctx context.Context, orderID string, invoiceID string) error {
	result := store.db.WithContext(ctx).
		Model(&PaymentRecord{}).
		Where("order_id = ? AND (invoice_id IS NULL OR invoice_id = ?)", orderID, invoiceID).
		Updates(map[string]interface{}{
			"invoice_id": invoiceID,
			"updated_at": time.Now().UTC(),
		})
	if isUniqueViolation(result.Error) {
		return wrapStoreError(errorSubjectPayment, errorCodeBind, payments.ErrInvoiceReuse)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeBind, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetPaymentByOrderID(ctx, orderID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectPayment, errorCodeBind, payments.ErrInvoiceBindingViolation)
	}
	return nil
}

// ClaimPayment moves an open record into processing. It is the settlement
// claim token; a terminal record cannot be claimed again.
func (store *Store) ClaimPayment(ctx context.Context, orderID string) error {
	result := store.db.WithContext(ctx).
		Model(&PaymentRecord{}).
		Where("order_id = ? AND status IN ?", orderID, []string{
			payments.StatusPending.String(),
			payments.StatusProcessing.String(),
		}).
		Updates(map[string]interface{}{
			"status":     payments.StatusProcessing.String(),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeClaim, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetPaymentByOrderID(ctx, orderID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectPayment, errorCodeClaim, payments.ErrPaymentClosed)
	}
	return nil
}

func (store *Store) CompletePayment(ctx context.Context, orderID string, verifiedChargedCents int64) error {
	result := store.db.WithContext(ctx).
		Model(&PaymentRecord{}).
		Where("order_id = ? AND status = ?", orderID, payments.StatusProcessing.String()).
		Updates(map[string]interface{}{
			"status":                        payments.StatusCompleted.String(),
			"approval_status":               payments.ApprovalApproved.String(),
			"verified_charged_amount_cents": verifiedChargedCents,
			"updated_at":                    time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeComplete, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetPaymentByOrderID(ctx, orderID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectPayment, errorCodeComplete, payments.ErrPaymentClosed)
	}
	return nil
}

func (store *Store) RejectPayment(ctx context.Context, orderID string, reason string) error {
	result := store.db.WithContext(ctx).
		Model(&PaymentRecord{}).
		Where("order_id = ? AND status IN ?", orderID, []string{
			payments.StatusPending.String(),
			payments.StatusProcessing.String(),
		}).
		Updates(map[string]interface{}{
			"status":           payments.StatusFailed.String(),
			"approval_status":  payments.ApprovalRejected.String(),
			"rejection_reason": reason,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeReject, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetPaymentByOrderID(ctx, orderID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectPayment, errorCodeReject, payments.ErrPaymentClosed)
	}
	return nil
}

func paymentFromModel(model PaymentRecord) payments.PaymentRecord {
	invoiceID := ""
	if model.InvoiceID != nil {
		invoiceID = *model.InvoiceID
	}
	return payments.PaymentRecord{
		OrderID:                    model.OrderID,
		UserID:                     model.UserID,
		Kind:                       payments.PurchaseKind(model.Kind),
		PlanID:                     model.PlanID,
		AddonID:                    model.AddonID,
		ExpectedPriceCents:         model.ExpectedPriceCents,
		InvoiceID:                  invoiceID,
		ChargedAmountCents:         model.ChargedAmountCents,
		VerifiedChargedAmountCents: model.VerifiedChargedAmountCents,
		Status:                     payments.PaymentStatus(model.Status),
		ApprovalStatus:             payments.ApprovalStatus(model.ApprovalStatus),
		RejectionReason:            model.RejectionReason,
		PaymentMethod:              model.PaymentMethod,
		GatewayTransactionID:       model.GatewayTransactionID,
		FeeCents:                   model.FeeCents,
		CreatedUnixUTC:             model.CreatedAt.Unix(),
		UpdatedUnixUTC:             model.UpdatedAt.Unix(),
	}
}

func paymentToModel(record payments.PaymentRecord) PaymentRecord {
	var invoiceID *string
	if record.InvoiceID != "" {
		value := record.InvoiceID
		invoiceID = &value
	}
	model := PaymentRecord{
		OrderID:                    record.OrderID,
		UserID:                     record.UserID,
		Kind:                       record.Kind.String(),
		PlanID:                     record.PlanID,
		AddonID:                    record.AddonID,
		ExpectedPriceCents:         record.ExpectedPriceCents,
		InvoiceID:                  invoiceID,
		ChargedAmountCents:         record.ChargedAmountCents,
		VerifiedChargedAmountCents: record.VerifiedChargedAmountCents,
		Status:                     record.Status.String(),
		ApprovalStatus:             record.ApprovalStatus.String(),
		RejectionReason:            record.RejectionReason,
		PaymentMethod:              record.PaymentMethod,
		GatewayTransactionID:       record.GatewayTransactionID,
		FeeCents:                   record.FeeCents,
	}
	if record.CreatedUnixUTC != 0 {
		model.CreatedAt = time.Unix(record.CreatedUnixUTC, 0).UTC()
	}
	if record.UpdatedUnixUTC != 0 {
		model.UpdatedAt = time.Unix(record.UpdatedUnixUTC, 0).UTC()
	}
	return model
}
