package payments

import (
	"context"
	"errors"
	"testing"
)

func mustGuard(test *testing.T, store Store, verifier Verifier, alerts AlertLogger) *Guard {
	test.Helper()
	guard, err := NewGuard("hook-secret", store, verifier, alerts)
	if err != nil {
		test.Fatalf("guard init: %v", err)
	}
	return guard
}

func TestAuthenticateRejectsWrongSecret(test *testing.T) {
	test.Parallel()
	store := newStubSettlementStore()
	alerts := &recorderAlertLogger{}
	guard := mustGuard(test, store, &stubVerifier{}, alerts)

	if err := guard.Authenticate(context.Background(), "wrong"); !errors.Is(err, ErrSecretMismatch) {
		test.Fatalf("expected ErrSecretMismatch, got %v", err)
	}
	if len(alerts.alerts) != 1 || alerts.alerts[0].Reason != alertReasonBadSecret {
		test.Fatalf("expected bad secret alert, got %+v", alerts.alerts)
	}
	if err := guard.Authenticate(context.Background(), "hook-secret"); err != nil {
		test.Fatalf("valid secret rejected: %v", err)
	}
}

func TestValidateAndBindBindsFirstInvoice(test *testing.T) {
	test.Parallel()
	store := newStubSettlementStore()
	record := seedAddonOrder(store)
	record.InvoiceID = ""
	store.records[record.OrderID] = record
	verifier := &stubVerifier{verification: paidVerification("ORD-1", 1000)}
	guard := mustGuard(test, store, verifier, &recorderAlertLogger{})

	err := guard.ValidateAndBind(context.Background(), Event{OrderID: "ORD-1", InvoiceID: "INV-123"})
	if err != nil {
		test.Fatalf("bind: %v", err)
	}
	if store.records["ORD-1"].InvoiceID != "INV-123" {
		test.Fatalf("expected invoice bound, got %q", store.records["ORD-1"].InvoiceID)
	}
}

func TestValidateAndBindRejectsInvoiceChange(test *testing.T) {
	test.Parallel()
	store := newStubSettlementStore()
	seedAddonOrder(store) // ORD-1 already bound to INV-123
	alerts := &recorderAlertLogger{}
	guard := mustGuard(test, store, &stubVerifier{}, alerts)

	err := guard.ValidateAndBind(context.Background(), Event{OrderID: "ORD-1", InvoiceID: "INV-999"})
	if !errors.Is(err, ErrInvoiceBindingViolation) {
		test.Fatalf("expected ErrInvoiceBindingViolation, got %v", err)
	}
	if store.records["ORD-1"].InvoiceID != "INV-123" {
		test.Fatalf("binding must be immutable")
	}
	if len(alerts.alerts) != 1 || alerts.alerts[0].Reason != alertReasonInvoiceConflict {
		test.Fatalf("expected binding alert, got %+v", alerts.alerts)
	}
}

func TestValidateAndBindRejectsInvoiceReuseAcrossOrders(test *testing.T) {
	test.Parallel()
	store := newStubSettlementStore()
	seedAddonOrder(store) // binds INV-123 to ORD-1
	store.records["ORD-2"] = PaymentRecord{
		OrderID:        "ORD-2",
		UserID:         "writer-9",
		Kind:           KindAddon,
		AddonID:        "words-10k",
		Status:         StatusPending,
		ApprovalStatus: ApprovalPending,
	}
	alerts := &recorderAlertLogger{}
	guard := mustGuard(test, store, &stubVerifier{}, alerts)

	err := guard.ValidateAndBind(context.Background(), Event{OrderID: "ORD-2", InvoiceID: "INV-123"})
	if !errors.Is(err, ErrInvoiceReuse) {
		test.Fatalf("expected ErrInvoiceReuse, got %v", err)
	}
	if store.records["ORD-2"].InvoiceID != "" {
		test.Fatalf("reused invoice must not bind")
	}
	if len(store.ledger.transactions) != 0 {
		test.Fatalf("ORD-2 must receive zero credits")
	}
	if len(alerts.alerts) != 1 || alerts.alerts[0].Reason != alertReasonInvoiceReuse {
		test.Fatalf("expected reuse alert, got %+v", alerts.alerts)
	}
}

func TestValidateAndBindRejectsSubstitutedOrder(test *testing.T) {
	test.Parallel()
	store := newStubSettlementStore()
	record := seedAddonOrder(store)
	record.InvoiceID = ""
	store.records[record.OrderID] = record
	// Gateway says the invoice belongs to somebody else's order.
	verifier := &stubVerifier{verification: paidVerification("ORD-VICTIM", 1000)}
	alerts := &recorderAlertLogger{}
	guard := mustGuard(test, store, verifier, alerts)

	err := guard.ValidateAndBind(context.Background(), Event{OrderID: "ORD-1", InvoiceID: "INV-123"})
	if !errors.Is(err, ErrInvoiceBindingViolation) {
		test.Fatalf("expected ErrInvoiceBindingViolation, got %v", err)
	}
	if store.records["ORD-1"].InvoiceID != "" {
		test.Fatalf("substituted invoice must not bind")
	}
	if len(alerts.alerts) != 1 || alerts.alerts[0].Reason != alertReasonOrderMismatch {
		test.Fatalf("expected substitution alert, got %+v", alerts.alerts)
	}
}

func TestValidateAndBindUnknownOrderAlerts(test *testing.T) {
	test.Parallel()
	store := newStubSettlementStore()
	alerts := &recorderAlertLogger{}
	guard := mustGuard(test, store, &stubVerifier{}, alerts)

	err := guard.ValidateAndBind(context.Background(), Event{OrderID: "ORD-GHOST", InvoiceID: "INV-1"})
	if !errors.Is(err, ErrPaymentNotFound) {
		test.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
	if len(alerts.alerts) != 1 || alerts.alerts[0].Reason != alertReasonUnknownOrder {
		test.Fatalf("expected unknown order alert, got %+v", alerts.alerts)
	}
}

func TestValidateAndBindAcceptsRedelivery(test *testing.T) {
	test.Parallel()
	store := newStubSettlementStore()
	seedAddonOrder(store) // ORD-1 bound to INV-123
	verifier := &stubVerifier{verification: paidVerification("ORD-1", 1000)}
	guard := mustGuard(test, store, verifier, &recorderAlertLogger{})

	if err := guard.ValidateAndBind(context.Background(), Event{OrderID: "ORD-1", InvoiceID: "INV-123"}); err != nil {
		test.Fatalf("redelivered event must validate, got %v", err)
	}
}
