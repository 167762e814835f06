package payments

import (
	"context"
	"testing"

	"github.com/scriptorium-ai/creditd/pkg/credits"
)

type stubCreditStore struct {
	accounts     map[string]credits.Account
	transactions []credits.Transaction
	plans        map[string]credits.Plan
	addons       map[string]credits.AddonPlan

	saveConflicts int
}

func newStubCreditStore() *stubCreditStore {
	return &stubCreditStore{
		accounts: make(map[string]credits.Account),
		plans:    make(map[string]credits.Plan),
		addons:   make(map[string]credits.AddonPlan),
	}
}

func (store *stubCreditStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return fn(ctx, store)
}

func (store *stubCreditStore) GetAccount(_ context.Context, userID string) (credits.Account, error) {
	account, ok := store.accounts[userID]
	if !ok {
		return credits.Account{}, credits.ErrUnknownAccount
	}
	return account, nil
}

func (store *stubCreditStore) GetOrCreateAccount(_ context.Context, userID string) (credits.Account, error) {
	account, ok := store.accounts[userID]
	if !ok {
		account = credits.Account{UserID: userID}
		store.accounts[userID] = account
	}
	return account, nil
}

func (store *stubCreditStore) SaveAccount(_ context.Context, account credits.Account, expectedVersion int64) error {
	if store.saveConflicts > 0 {
		store.saveConflicts--
		return credits.ErrVersionConflict
	}
	if store.accounts[account.UserID].Version != expectedVersion {
		return credits.ErrVersionConflict
	}
	store.accounts[account.UserID] = account
	return nil
}

func (store *stubCreditStore) InsertTransaction(_ context.Context, transaction credits.Transaction) error {
	store.transactions = append(store.transactions, transaction)
	return nil
}

func (store *stubCreditStore) ListTransactions(_ context.Context, _ string, _ int64, _ int) ([]credits.Transaction, error) {
	return store.transactions, nil
}

func (store *stubCreditStore) GetPlan(_ context.Context, planID string) (credits.Plan, error) {
	plan, ok := store.plans[planID]
	if !ok {
		return credits.Plan{}, credits.ErrPlanNotFound
	}
	return plan, nil
}

func (store *stubCreditStore) GetAddonPlan(_ context.Context, addonID string) (credits.AddonPlan, error) {
	addon, ok := store.addons[addonID]
	if !ok {
		return credits.AddonPlan{}, credits.ErrPlanNotFound
	}
	return addon, nil
}

type stubSettlementStore struct {
	records map[string]PaymentRecord
	ledger  *stubCreditStore

	// completeConflicts simulates a rival settler finishing the record
	// between our claim and our completion write.
	completeConflicts int
}

func newStubSettlementStore() *stubSettlementStore {
	return &stubSettlementStore{
		records: make(map[string]PaymentRecord),
		ledger:  newStubCreditStore(),
	}
}

func (store *stubSettlementStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubSettlementStore) CreatePayment(_ context.Context, record PaymentRecord) error {
	store.records[record.OrderID] = record
	return nil
}

func (store *stubSettlementStore) GetPaymentByOrderID(_ context.Context, orderID string) (PaymentRecord, error) {
	record, ok := store.records[orderID]
	if !ok {
		return PaymentRecord{}, ErrPaymentNotFound
	}
	return record, nil
}

func (store *stubSettlementStore) GetPaymentByInvoiceID(_ context.Context, invoiceID string) (PaymentRecord, error) {
	for _, record := range store.records {
		if record.InvoiceID == invoiceID {
			return record, nil
		}
	}
	return PaymentRecord{}, ErrPaymentNotFound
}

func (store *stubSettlementStore) BindInvoice(_ context.Context, orderID string, invoiceID string) error {
	for _, record := range store.records {
		if record.InvoiceID == invoiceID && record.OrderID != orderID {
			return ErrInvoiceReuse
		}
	}
	record, ok := store.records[orderID]
	if !ok {
		return ErrPaymentNotFound
	}
	if record.InvoiceID != "" && record.InvoiceID != invoiceID {
		return ErrInvoiceBindingViolation
	}
	record.InvoiceID = invoiceID
	store.records[orderID] = record
	return nil
}

func (store *stubSettlementStore) ClaimPayment(_ context.Context, orderID string) error {
	record, ok := store.records[orderID]
	if !ok {
		return ErrPaymentNotFound
	}
	if record.Status.Terminal() {
		return ErrPaymentClosed
	}
	record.Status = StatusProcessing
	store.records[orderID] = record
	return nil
}

func (store *stubSettlementStore) CompletePayment(_ context.Context, orderID string, verifiedChargedCents int64) error {
	record, ok := store.records[orderID]
	if !ok {
		return ErrPaymentNotFound
	}
	if store.completeConflicts > 0 {
		store.completeConflicts--
		record.Status = StatusCompleted
		record.ApprovalStatus = ApprovalApproved
		store.records[orderID] = record
		return ErrPaymentClosed
	}
	if record.Status != StatusProcessing {
		return ErrPaymentClosed
	}
	record.Status = StatusCompleted
	record.ApprovalStatus = ApprovalApproved
	record.VerifiedChargedAmountCents = verifiedChargedCents
	store.records[orderID] = record
	return nil
}

func (store *stubSettlementStore) RejectPayment(_ context.Context, orderID string, reason string) error {
	record, ok := store.records[orderID]
	if !ok {
		return ErrPaymentNotFound
	}
	record.Status = StatusFailed
	record.ApprovalStatus = ApprovalRejected
	record.RejectionReason = reason
	store.records[orderID] = record
	return nil
}

func (store *stubSettlementStore) Credits() credits.Store {
	return store.ledger
}

type stubVerifier struct {
	verification Verification
	err          error
	calls        int
}

func (verifier *stubVerifier) Verify(_ context.Context, invoiceID string) (Verification, error) {
	verifier.calls++
	if verifier.err != nil {
		return Verification{}, verifier.err
	}
	verification := verifier.verification
	if verification.InvoiceID == "" {
		verification.InvoiceID = invoiceID
	}
	return verification, nil
}

type recorderAlertLogger struct {
	alerts []SecurityAlert
}

func (logger *recorderAlertLogger) LogSecurityAlert(_ context.Context, alert SecurityAlert) {
	logger.alerts = append(logger.alerts, alert)
}

type recorderSettlementLogger struct {
	entries []SettlementLog
}

func (logger *recorderSettlementLogger) LogSettlement(_ context.Context, entry SettlementLog) {
	logger.entries = append(logger.entries, entry)
}

func mustProcessor(test *testing.T, store Store, verifier Verifier, options ...ProcessorOption) *Processor {
	test.Helper()
	processor, err := NewProcessor(store, verifier, func() int64 { return 1_700_000_000 }, options...)
	if err != nil {
		test.Fatalf("processor init: %v", err)
	}
	return processor
}
