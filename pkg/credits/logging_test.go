package credits

import (
	"context"
	"testing"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsDebitOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.setAccount(Account{UserID: "writer-1", Words: Bucket{AddonRemaining: 100}})
	logger := &recorderLogger{}
	service := mustNewService(test, store, testNowUnixUTC, WithOperationLogger(logger))
	userID := mustUserID(test, "writer-1")
	amount := mustAmount(test, 40)

	if _, err := service.Debit(context.Background(), userID, CategoryWords, amount, TxnUsage, "draft", mustMetadata(test, "{}")); err != nil {
		test.Fatalf("debit: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationDebit || entry.UserID != userID || entry.Amount != amount {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != operationStatusOK {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recorderLogger{}
	service := mustNewService(test, store, testNowUnixUTC, WithOperationLogger(logger))
	userID := mustUserID(test, "writer-2")

	_, err := service.Debit(context.Background(), userID, CategoryWords, mustAmount(test, 5), TxnUsage, "", mustMetadata(test, "{}"))
	if err == nil {
		test.Fatalf("expected error")
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	if logger.entries[0].Status != operationStatusError || logger.entries[0].Error == nil {
		test.Fatalf("expected error log entry, got %+v", logger.entries[0])
	}
}
