package payments

import "errors"

// Settlement and security error values. The security-class errors
// (ErrInvoiceBindingViolation, ErrInvoiceReuse, ErrAmountMismatch) always
// reject, always raise an alert, and never grant credits.
var (
	ErrPaymentNotFound         = errors.New("payment record not found")
	ErrPaymentClosed           = errors.New("payment record closed")
	ErrInvoiceNotBound         = errors.New("no invoice bound to order")
	ErrVerificationFailed      = errors.New("gateway verification failed")
	ErrAmountMismatch          = errors.New("charged amount mismatch")
	ErrInvoiceBindingViolation = errors.New("invoice binding violation")
	ErrInvoiceReuse            = errors.New("invoice reuse")
	ErrSecretMismatch          = errors.New("webhook secret mismatch")
)
