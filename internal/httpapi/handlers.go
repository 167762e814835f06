package httpapi

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scriptorium-ai/creditd/internal/faults"
	"github.com/scriptorium-ai/creditd/internal/payments"
	"github.com/scriptorium-ai/creditd/pkg/credits"
)

const transactionHistoryLimit = 50

type httpHandler struct {
	logger    *zap.Logger
	cfg       Config
	ledger    *credits.Service
	store     payments.Store
	guard     *payments.Guard
	processor *payments.Processor
}

func (handler *httpHandler) handleSummary(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	userID, err := credits.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user", "malformed user id"))
		return
	}
	summary, err := handler.ledger.Summary(ctx.Request.Context(), userID)
	if err != nil {
		handler.logger.Error("summary failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "summary unavailable"))
		return
	}
	categories := gin.H{}
	for category, entry := range summary.Categories {
		categories[category.String()] = gin.H{
			"available": entry.Available,
			"used":      entry.Used,
			"total":     entry.Total,
		}
	}
	ctx.JSON(http.StatusOK, gin.H{
		"plan_id":    summary.PlanID,
		"categories": categories,
	})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	userID, err := credits.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user", "malformed user id"))
		return
	}
	before := time.Now().UTC().Add(time.Second).Unix()
	transactions, err := handler.ledger.ListTransactions(ctx.Request.Context(), userID, before, transactionHistoryLimit)
	if err != nil {
		handler.logger.Error("transaction list failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "history unavailable"))
		return
	}
	payload := make([]gin.H, 0, len(transactions))
	for _, transaction := range transactions {
		payload = append(payload, gin.H{
			"transaction_id":   transaction.TransactionID,
			"type":             transaction.Type.String(),
			"category":         transaction.Category.String(),
			"amount_delta":     transaction.AmountDelta,
			"description":      transaction.Description,
			"created_unix_utc": transaction.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": payload})
}

type checkoutRequest struct {
	Kind    string `json:"kind"`
	PlanID  string `json:"plan_id"`
	AddonID string `json:"addon_id"`
}

// handleCheckout opens a pending order. The plan price is captured on the
// record now; settlement later validates the gateway charge against it.
func (handler *httpHandler) handleCheckout(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request checkoutRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}

	record := payments.PaymentRecord{
		OrderID:        uuid.NewString(),
		UserID:         claims.GetUserID(),
		Status:         payments.StatusPending,
		ApprovalStatus: payments.ApprovalPending,
		CreatedUnixUTC: time.Now().UTC().Unix(),
	}
	switch payments.PurchaseKind(request.Kind) {
	case payments.KindSubscription:
		plan, err := handler.store.Credits().GetPlan(ctx.Request.Context(), request.PlanID)
		if err != nil {
			ctx.JSON(http.StatusNotFound, errorResponse("unknown_plan", "no such subscription plan"))
			return
		}
		record.Kind = payments.KindSubscription
		record.PlanID = plan.PlanID
		record.ExpectedPriceCents = plan.PriceCents
	case payments.KindAddon:
		addon, err := handler.store.Credits().GetAddonPlan(ctx.Request.Context(), request.AddonID)
		if err != nil {
			ctx.JSON(http.StatusNotFound, errorResponse("unknown_addon", "no such addon pack"))
			return
		}
		record.Kind = payments.KindAddon
		record.AddonID = addon.AddonID
		record.ExpectedPriceCents = addon.PriceCents
	default:
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_kind", "kind must be subscription or addon"))
		return
	}

	if err := handler.store.CreatePayment(ctx.Request.Context(), record); err != nil {
		handler.logger.Error("checkout create failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("payment_error", "order creation failed"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"order_id":     record.OrderID,
		"amount_cents": record.ExpectedPriceCents,
	})
}

// handleVerifyPayment serves the post-checkout redirect. When the invoice is
// already bound but settlement has not happened yet, it settles inline so the
// redirect path does not depend on webhook delivery order.
func (handler *httpHandler) handleVerifyPayment(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	orderID := ctx.Query("order_id")
	if orderID == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "order_id is required"))
		return
	}
	record, err := handler.store.GetPaymentByOrderID(ctx.Request.Context(), orderID)
	if err != nil || record.UserID != claims.GetUserID() {
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_order", "no such order"))
		return
	}
	if !record.Settled() && record.InvoiceID != "" && !record.Status.Terminal() {
		if err := handler.processor.Settle(ctx.Request.Context(), orderID); err != nil {
			handler.logger.Warn("inline settlement failed", zap.String("order_id", orderID), zap.Error(err))
		}
		if refreshed, refreshErr := handler.store.GetPaymentByOrderID(ctx.Request.Context(), orderID); refreshErr == nil {
			record = refreshed
		}
	}
	ctx.JSON(http.StatusOK, paymentPayload(record))
}

// webhookEvent mirrors the gateway's delivery payload: money as decimal
// amounts and the order reference nested under metadata.
type webhookEvent struct {
	InvoiceID     string  `json:"invoice_id"`
	ChargedAmount float64 `json:"charged_amount"`
	Fee           float64 `json:"fee"`
	PaymentMethod string  `json:"payment_method"`
	TransactionID string  `json:"transaction_id"`
	Metadata      struct {
		OrderID string `json:"order_id"`
	} `json:"metadata"`
}

// centsFromDecimal converts the gateway's decimal money fields to integer
// cents at the boundary; everything past it works in cents.
func centsFromDecimal(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

const webhookSecretHeader = "X-Webhook-Secret"

func (handler *httpHandler) handleWebhook(ctx *gin.Context) {
	requestCtx := ctx.Request.Context()
	if err := handler.guard.Authenticate(requestCtx, ctx.GetHeader(webhookSecretHeader)); err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "secret mismatch"))
		return
	}
	var event webhookEvent
	if err := ctx.ShouldBindJSON(&event); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	orderID := event.Metadata.OrderID
	if orderID == "" || event.InvoiceID == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "metadata.order_id and invoice_id are required"))
		return
	}

	err := handler.guard.ValidateAndBind(requestCtx, payments.Event{
		InvoiceID:          event.InvoiceID,
		OrderID:            orderID,
		ChargedAmountCents: centsFromDecimal(event.ChargedAmount),
		FeeCents:           centsFromDecimal(event.Fee),
		PaymentMethod:      event.PaymentMethod,
		TransactionID:      event.TransactionID,
	})
	if err != nil {
		handler.respondSettlementError(ctx, err)
		return
	}
	if err := handler.processor.Settle(requestCtx, orderID); err != nil {
		handler.respondSettlementError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "settled"})
}

// respondSettlementError maps settlement failures onto response codes. The
// gateway retries on 5xx, so only transient verification failures use it.
func (handler *httpHandler) respondSettlementError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, payments.ErrPaymentNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_order", "no such order"))
	case errors.Is(err, payments.ErrInvoiceBindingViolation), errors.Is(err, payments.ErrInvoiceReuse):
		ctx.JSON(http.StatusConflict, errorResponse("invoice_conflict", "invoice binding rejected"))
	case errors.Is(err, payments.ErrAmountMismatch):
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse("amount_mismatch", "charged amount differs from order price"))
	case errors.Is(err, payments.ErrVerificationFailed):
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse("verification_failed", "gateway does not confirm the charge"))
	case errors.Is(err, payments.ErrPaymentClosed):
		ctx.JSON(http.StatusConflict, errorResponse("payment_closed", "order is already in a terminal state"))
	case faults.KindOf(err) == faults.KindTransient:
		ctx.JSON(http.StatusBadGateway, errorResponse("gateway_unavailable", "verification deferred, retry later"))
	default:
		handler.logger.Error("settlement failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("settlement_error", "settlement failed"))
	}
}

func paymentPayload(record payments.PaymentRecord) gin.H {
	return gin.H{
		"order_id":        record.OrderID,
		"kind":            record.Kind.String(),
		"status":          record.Status.String(),
		"approval_status": record.ApprovalStatus.String(),
		"amount_cents":    record.ExpectedPriceCents,
		"settled":         record.Settled(),
	}
}
