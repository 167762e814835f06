package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/scriptorium-ai/creditd/pkg/credits"
)

const defaultToleranceCents int64 = 1

// Processor is the single entry point that converts a verified payment into
// ledger credits, shared by the webhook, the redirect-verify endpoint, and
// the manual admin-approve action. Settlement is idempotent per order: the
// record's status field acts as the claim token, so concurrent callers grant
// at most once.
type Processor struct {
	store          Store
	verifier       Verifier
	cycles         *credits.CycleManager
	nowFn          func() int64
	alerts         AlertLogger
	settlements    SettlementLogger
	toleranceCents int64
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithAlertLogger wires the security alert sink.
func WithAlertLogger(alerts AlertLogger) ProcessorOption {
	return func(processor *Processor) { processor.alerts = alerts }
}

// WithSettlementLogger wires the settlement outcome sink.
func WithSettlementLogger(settlements SettlementLogger) ProcessorOption {
	return func(processor *Processor) { processor.settlements = settlements }
}

// WithToleranceCents overrides the amount comparison tolerance.
func WithToleranceCents(tolerance int64) ProcessorOption {
	return func(processor *Processor) {
		if tolerance >= 0 {
			processor.toleranceCents = tolerance
		}
	}
}

// NewProcessor wires a Processor.
func NewProcessor(store Store, verifier Verifier, now func() int64, options ...ProcessorOption) (*Processor, error) {
	if store == nil || verifier == nil {
		return nil, fmt.Errorf("store and verifier are required")
	}
	if now == nil {
		return nil, fmt.Errorf("clock is required")
	}
	processor := &Processor{
		store:          store,
		verifier:       verifier,
		cycles:         credits.NewCycleManager(),
		nowFn:          now,
		toleranceCents: defaultToleranceCents,
	}
	for _, option := range options {
		if option != nil {
			option(processor)
		}
	}
	return processor, nil
}

// Settle drives one order to a terminal state. The gateway verification runs
// outside any transaction; its result is applied inside a short transaction
// that re-checks the record is still claimable before crediting. A gateway
// error leaves the record non-terminal for a later retry.
func (processor *Processor) Settle(ctx context.Context, orderID string) error {
	record, err := processor.store.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if record.Settled() {
		processor.logSettlement(ctx, record, settlementStatusIdempotent, nil)
		return nil
	}
	if record.Status.Terminal() {
		return fmt.Errorf("%w: order %s is %s/%s", ErrPaymentClosed, orderID, record.Status, record.ApprovalStatus)
	}
	if record.InvoiceID == "" {
		return fmt.Errorf("%w: order %s", ErrInvoiceNotBound, orderID)
	}

	verification, err := processor.verifier.Verify(ctx, record.InvoiceID)
	if err != nil {
		// Transient gateway failures leave the record for a later retry
		// rather than guessing a terminal state.
		processor.logSettlement(ctx, record, settlementStatusDeferred, err)
		return err
	}
	if !verification.Paid() {
		processor.logSettlement(ctx, record, settlementStatusDeferred, ErrVerificationFailed)
		return fmt.Errorf("%w: gateway status %q", ErrVerificationFailed, verification.Status)
	}
	if verification.OrderID != record.OrderID {
		return processor.reject(ctx, record, alertReasonOrderMismatch,
			fmt.Sprintf("gateway reports order %s", verification.OrderID),
			fmt.Errorf("%w: gateway order mismatch", ErrInvoiceBindingViolation))
	}

	grant, expectedCents, err := processor.resolveGrant(ctx, record)
	if err != nil {
		if errors.Is(err, credits.ErrPlanNotFound) {
			return processor.reject(ctx, record, "plan_not_found", "purchased plan no longer resolvable", err)
		}
		return err
	}
	if absInt64(verification.ChargedAmountCents-expectedCents) > processor.toleranceCents {
		reason := fmt.Sprintf("charged %d cents, expected %d cents", verification.ChargedAmountCents, expectedCents)
		return processor.reject(ctx, record, alertReasonAmountMismatch, reason,
			fmt.Errorf("%w: %s", ErrAmountMismatch, reason))
	}

	// Claim the record before crediting; exactly one caller wins a race.
	if err := processor.store.ClaimPayment(ctx, orderID); err != nil {
		if errors.Is(err, ErrPaymentClosed) {
			latest, readErr := processor.store.GetPaymentByOrderID(ctx, orderID)
			if readErr == nil && latest.Settled() {
				processor.logSettlement(ctx, latest, settlementStatusIdempotent, nil)
				return nil
			}
		}
		return err
	}

	settleError := processor.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if err := grant(ctx, txStore.Credits()); err != nil {
			return err
		}
		return txStore.CompletePayment(ctx, orderID, verification.ChargedAmountCents)
	})
	if settleError != nil {
		// A rival settler can still complete the record between our claim
		// and this transaction; their grant counts as ours.
		if errors.Is(settleError, ErrPaymentClosed) {
			latest, readErr := processor.store.GetPaymentByOrderID(ctx, orderID)
			if readErr == nil && latest.Settled() {
				processor.logSettlement(ctx, latest, settlementStatusIdempotent, nil)
				return nil
			}
		}
		processor.logSettlement(ctx, record, settlementStatusDeferred, settleError)
		return settleError
	}
	processor.logSettlement(ctx, record, settlementStatusGranted, nil)
	return nil
}

// resolveGrant looks up what the order purchased and returns the grant
// application plus the price captured at checkout.
func (processor *Processor) resolveGrant(ctx context.Context, record PaymentRecord) (func(ctx context.Context, txStore credits.Store) error, int64, error) {
	userID, err := credits.NewUserID(record.UserID)
	if err != nil {
		return nil, 0, err
	}
	metadata, err := credits.NewMetadataJSON(fmt.Sprintf(`{"order_id":%q,"invoice_id":%q}`, record.OrderID, record.InvoiceID))
	if err != nil {
		return nil, 0, err
	}
	nowUnixUTC := processor.nowFn()

	switch record.Kind {
	case KindAddon:
		addon, err := processor.store.Credits().GetAddonPlan(ctx, record.AddonID)
		if err != nil {
			return nil, 0, err
		}
		amount, err := credits.NewAmount(addon.Amount)
		if err != nil {
			return nil, 0, err
		}
		grant := func(ctx context.Context, txStore credits.Store) error {
			_, err := credits.ApplyCredit(ctx, txStore, processor.cycles, nowUnixUTC, credits.CreditParams{
				UserID:          userID,
				Category:        addon.Category,
				Amount:          amount,
				Source:          credits.SourceAddon,
				TransactionType: credits.TxnPurchase,
				Description:     addon.Name,
				Metadata:        metadata,
			})
			return err
		}
		return grant, record.ExpectedPriceCents, nil
	default:
		plan, err := processor.store.Credits().GetPlan(ctx, record.PlanID)
		if err != nil {
			return nil, 0, err
		}
		grant := func(ctx context.Context, txStore credits.Store) error {
			_, err := credits.ApplyPlanActivation(ctx, txStore, processor.cycles, nowUnixUTC, userID, plan, plan.Name, metadata)
			return err
		}
		return grant, record.ExpectedPriceCents, nil
	}
}

// reject moves the record to failed/rejected with an auditable reason and
// raises a security alert. Zero credits are granted.
func (processor *Processor) reject(ctx context.Context, record PaymentRecord, alertReason string, detail string, cause error) error {
	processor.alertIf(ctx, SecurityAlert{
		Reason:    alertReason,
		OrderID:   record.OrderID,
		InvoiceID: record.InvoiceID,
		Detail:    detail,
	})
	if err := processor.store.RejectPayment(ctx, record.OrderID, detail); err != nil {
		return err
	}
	processor.logSettlement(ctx, record, settlementStatusRejected, cause)
	return cause
}

func (processor *Processor) alertIf(ctx context.Context, alert SecurityAlert) {
	if processor.alerts == nil {
		return
	}
	processor.alerts.LogSecurityAlert(ctx, alert)
}

func (processor *Processor) logSettlement(ctx context.Context, record PaymentRecord, status string, err error) {
	if processor.settlements == nil {
		return
	}
	processor.settlements.LogSettlement(ctx, SettlementLog{
		OrderID:   record.OrderID,
		InvoiceID: record.InvoiceID,
		Status:    status,
		Error:     err,
	})
}

func absInt64(value int64) int64 {
	if value < 0 {
		return -value
	}
	return value
}
