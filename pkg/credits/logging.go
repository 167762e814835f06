package credits

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing credit operation.
type OperationLog struct {
	Operation string
	UserID    UserID
	Category  Category
	Source    BucketSource
	Type      TransactionType
	Amount    Amount
	Metadata  MetadataJSON
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithDebitRetryLimit bounds the optimistic-concurrency retry loop.
func WithDebitRetryLimit(limit int) ServiceOption {
	return func(service *Service) {
		if limit > 0 {
			service.retryLimit = limit
		}
	}
}
