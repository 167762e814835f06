package httpapi

import (
	"context"

	"go.uber.org/zap"

	"github.com/scriptorium-ai/creditd/internal/payments"
	"github.com/scriptorium-ai/creditd/pkg/credits"
)

// NewOperationLogger adapts zap to the credit service's operation callback.
func NewOperationLogger(logger *zap.Logger) credits.OperationLogger {
	return &zapOperationLogger{logger: logger}
}

type zapOperationLogger struct {
	logger *zap.Logger
}

func (adapter *zapOperationLogger) LogOperation(_ context.Context, entry credits.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("category", entry.Category.String()),
		zap.String("status", entry.Status),
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount.Int64()))
	}
	if entry.Source != "" {
		fields = append(fields, zap.String("source", entry.Source.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		adapter.logger.Warn("credit operation failed", fields...)
		return
	}
	adapter.logger.Info("credit operation", fields...)
}

// NewAlertLogger adapts zap to the settlement security alert callback.
func NewAlertLogger(logger *zap.Logger) payments.AlertLogger {
	return &zapAlertLogger{logger: logger}
}

type zapAlertLogger struct {
	logger *zap.Logger
}

func (adapter *zapAlertLogger) LogSecurityAlert(_ context.Context, alert payments.SecurityAlert) {
	adapter.logger.Warn("payment security alert",
		zap.String("reason", alert.Reason),
		zap.String("order_id", alert.OrderID),
		zap.String("invoice_id", alert.InvoiceID),
		zap.String("detail", alert.Detail),
	)
}

// NewSettlementLogger adapts zap to the settlement outcome callback.
func NewSettlementLogger(logger *zap.Logger) payments.SettlementLogger {
	return &zapSettlementLogger{logger: logger}
}

type zapSettlementLogger struct {
	logger *zap.Logger
}

func (adapter *zapSettlementLogger) LogSettlement(_ context.Context, entry payments.SettlementLog) {
	fields := []zap.Field{
		zap.String("order_id", entry.OrderID),
		zap.String("invoice_id", entry.InvoiceID),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		adapter.logger.Warn("settlement attempt", fields...)
		return
	}
	adapter.logger.Info("settlement attempt", fields...)
}
