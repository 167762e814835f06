package payments

import "context"

// SecurityAlert describes a rejected settlement or webhook event. Alerts are
// recorded for operator audit; no state changes accompany them.
type SecurityAlert struct {
	Reason    string
	OrderID   string
	InvoiceID string
	Detail    string
}

// AlertLogger receives security alerts raised by the guard and processor.
type AlertLogger interface {
	LogSecurityAlert(ctx context.Context, alert SecurityAlert)
}

// SettlementLog describes a completed settlement attempt.
type SettlementLog struct {
	OrderID   string
	InvoiceID string
	Status    string
	Error     error
}

// SettlementLogger receives settlement outcomes.
type SettlementLogger interface {
	LogSettlement(ctx context.Context, entry SettlementLog)
}

const (
	alertReasonBadSecret       = "webhook_secret_mismatch"
	alertReasonInvoiceConflict = "invoice_binding_violation"
	alertReasonInvoiceReuse    = "invoice_reuse"
	alertReasonOrderMismatch   = "invoice_substitution"
	alertReasonAmountMismatch  = "amount_mismatch"
	alertReasonUnknownOrder    = "unknown_order"

	settlementStatusGranted    = "granted"
	settlementStatusIdempotent = "idempotent"
	settlementStatusRejected   = "rejected"
	settlementStatusDeferred   = "deferred"
)
