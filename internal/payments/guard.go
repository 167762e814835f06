package payments

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
)

// Guard authenticates inbound payment events and enforces the invoice
// binding invariants before any settlement proceeds:
//
//  1. an order's invoice id is immutable once set,
//  2. an invoice id binds to at most one order,
//  3. the order id the event claims must equal the order id the gateway's
//     own verification reports for that invoice.
//
// Any violation raises a security alert and rejects the event with no state
// change and no credit grant.
type Guard struct {
	secret   []byte
	store    Store
	verifier Verifier
	alerts   AlertLogger
}

// NewGuard wires a Guard.
func NewGuard(secret string, store Store, verifier Verifier, alerts AlertLogger) (*Guard, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if store == nil || verifier == nil {
		return nil, fmt.Errorf("store and verifier are required")
	}
	return &Guard{secret: []byte(secret), store: store, verifier: verifier, alerts: alerts}, nil
}

// Authenticate checks the shared-secret header value in constant time.
func (guard *Guard) Authenticate(ctx context.Context, providedSecret string) error {
	if subtle.ConstantTimeCompare(guard.secret, []byte(providedSecret)) != 1 {
		guard.alert(ctx, SecurityAlert{Reason: alertReasonBadSecret})
		return ErrSecretMismatch
	}
	return nil
}

// ValidateAndBind enforces the binding invariants for an authenticated event
// and binds the invoice to the order when it is the first sighting. The
// event's amounts are advisory and ignored here; settlement re-verifies.
func (guard *Guard) ValidateAndBind(ctx context.Context, event Event) error {
	record, err := guard.store.GetPaymentByOrderID(ctx, event.OrderID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			guard.alert(ctx, SecurityAlert{
				Reason:    alertReasonUnknownOrder,
				OrderID:   event.OrderID,
				InvoiceID: event.InvoiceID,
			})
		}
		return err
	}

	if record.InvoiceID != "" && record.InvoiceID != event.InvoiceID {
		guard.alert(ctx, SecurityAlert{
			Reason:    alertReasonInvoiceConflict,
			OrderID:   event.OrderID,
			InvoiceID: event.InvoiceID,
			Detail:    fmt.Sprintf("order already bound to invoice %s", record.InvoiceID),
		})
		return fmt.Errorf("%w: order %s already bound", ErrInvoiceBindingViolation, event.OrderID)
	}

	bound, err := guard.store.GetPaymentByInvoiceID(ctx, event.InvoiceID)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return err
	}
	if err == nil && bound.OrderID != event.OrderID {
		guard.alert(ctx, SecurityAlert{
			Reason:    alertReasonInvoiceReuse,
			OrderID:   event.OrderID,
			InvoiceID: event.InvoiceID,
			Detail:    fmt.Sprintf("invoice already bound to order %s", bound.OrderID),
		})
		return fmt.Errorf("%w: invoice %s", ErrInvoiceReuse, event.InvoiceID)
	}

	verification, err := guard.verifier.Verify(ctx, event.InvoiceID)
	if err != nil {
		return err
	}
	if verification.OrderID != event.OrderID {
		guard.alert(ctx, SecurityAlert{
			Reason:    alertReasonOrderMismatch,
			OrderID:   event.OrderID,
			InvoiceID: event.InvoiceID,
			Detail:    fmt.Sprintf("gateway reports order %s", verification.OrderID),
		})
		return fmt.Errorf("%w: gateway order mismatch", ErrInvoiceBindingViolation)
	}

	if record.InvoiceID == "" {
		return guard.store.BindInvoice(ctx, event.OrderID, event.InvoiceID)
	}
	return nil
}

func (guard *Guard) alert(ctx context.Context, alert SecurityAlert) {
	if guard.alerts == nil {
		return
	}
	guard.alerts.LogSecurityAlert(ctx, alert)
}
