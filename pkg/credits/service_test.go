package credits

import (
	"context"
	"errors"
	"sync"
	"testing"
)

const testNowUnixUTC int64 = 1_700_000_000

func TestPreflightCheckSufficientBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.setAccount(Account{UserID: "writer-1", Words: Bucket{AddonRemaining: 500}})
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, "writer-1")

	if err := service.PreflightCheck(context.Background(), userID, CategoryWords, mustAmount(test, 400)); err != nil {
		test.Fatalf("preflight: %v", err)
	}
	if len(store.transactions) != 0 {
		test.Fatalf("preflight must not write transactions, got %d", len(store.transactions))
	}
}

func TestPreflightCheckInsufficientBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.setAccount(Account{UserID: "writer-2", Words: Bucket{AddonRemaining: 100}})
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, "writer-2")

	err := service.PreflightCheck(context.Background(), userID, CategoryWords, mustAmount(test, 101))
	if !errors.Is(err, ErrInsufficientCredits) {
		test.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
}

func TestDebitFollowsBucketPrecedence(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.setAccount(Account{
		UserID: "writer-3",
		Words: Bucket{
			PlanTotal:      100,
			PlanUsed:       80,
			AddonRemaining: 50,
			AdminRemaining: 30,
			TrialRemaining: 40,
		},
	})
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, "writer-3")

	// 20 plan + 50 addon + 30 admin + 10 trial.
	transaction, err := service.Debit(context.Background(), userID, CategoryWords, mustAmount(test, 110), TxnUsage, "chapter draft", mustMetadata(test, `{"flow":"chapter"}`))
	if err != nil {
		test.Fatalf("debit: %v", err)
	}
	if transaction.AmountDelta != -110 {
		test.Fatalf("expected delta -110, got %d", transaction.AmountDelta)
	}

	account := store.accounts["writer-3"]
	if account.Words.PlanUsed != 100 {
		test.Fatalf("expected plan fully used, got used=%d", account.Words.PlanUsed)
	}
	if account.Words.AddonRemaining != 0 {
		test.Fatalf("expected addon exhausted, got %d", account.Words.AddonRemaining)
	}
	if account.Words.AdminRemaining != 0 {
		test.Fatalf("expected admin exhausted, got %d", account.Words.AdminRemaining)
	}
	if account.Words.TrialRemaining != 30 {
		test.Fatalf("expected trial 30 remaining, got %d", account.Words.TrialRemaining)
	}
	if account.Version != 1 {
		test.Fatalf("expected version bump, got %d", account.Version)
	}
}

func TestDebitInsufficientWritesNothing(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.setAccount(Account{UserID: "writer-4", Books: Bucket{AdminRemaining: 1}})
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, "writer-4")

	_, err := service.Debit(context.Background(), userID, CategoryBooks, mustAmount(test, 2), TxnUsage, "new book", mustMetadata(test, "{}"))
	if !errors.Is(err, ErrInsufficientCredits) {
		test.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if len(store.transactions) != 0 {
		test.Fatalf("failed debit must not write transactions, got %d", len(store.transactions))
	}
	if store.accounts["writer-4"].Books.AdminRemaining != 1 {
		test.Fatalf("failed debit must not mutate the account")
	}
}

func TestDebitRetriesThenSucceeds(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.setAccount(Account{UserID: "writer-5", Words: Bucket{AddonRemaining: 10}})
	store.conflictNextSaves = 2
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, "writer-5")

	if _, err := service.Debit(context.Background(), userID, CategoryWords, mustAmount(test, 5), TxnUsage, "", mustMetadata(test, "{}")); err != nil {
		test.Fatalf("debit after retries: %v", err)
	}
	if store.accounts["writer-5"].Words.AddonRemaining != 5 {
		test.Fatalf("expected 5 addon credits left, got %d", store.accounts["writer-5"].Words.AddonRemaining)
	}
}

func TestDebitRetriesExhaust(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.setAccount(Account{UserID: "writer-6", Words: Bucket{AddonRemaining: 10}})
	store.conflictNextSaves = 10
	service := mustNewService(test, store, testNowUnixUTC, WithDebitRetryLimit(3))
	userID := mustUserID(test, "writer-6")

	_, err := service.Debit(context.Background(), userID, CategoryWords, mustAmount(test, 5), TxnUsage, "", mustMetadata(test, "{}"))
	if !errors.Is(err, ErrConcurrentModification) {
		test.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if store.conflictNextSaves != 7 {
		test.Fatalf("expected exactly 3 attempts, %d conflicts left", store.conflictNextSaves)
	}
}

func TestCreditThenDebitRestoresPriorState(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.setAccount(Account{UserID: "writer-7", Offers: Bucket{AddonRemaining: 3}})
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, "writer-7")
	metadata := mustMetadata(test, "{}")

	if _, err := service.Credit(context.Background(), userID, CategoryOffers, mustAmount(test, 4), SourceAddon, TxnPurchase, "offer pack", metadata); err != nil {
		test.Fatalf("credit: %v", err)
	}
	if _, err := service.Debit(context.Background(), userID, CategoryOffers, mustAmount(test, 4), TxnUsage, "offer", metadata); err != nil {
		test.Fatalf("debit: %v", err)
	}
	if got := store.accounts["writer-7"].Offers.AddonRemaining; got != 3 {
		test.Fatalf("expected addon balance restored to 3, got %d", got)
	}
}

func TestCreditRejectsPlanSource(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, "writer-8")

	_, err := service.Credit(context.Background(), userID, CategoryWords, mustAmount(test, 10), SourcePlan, TxnPurchase, "", mustMetadata(test, "{}"))
	if !errors.Is(err, ErrInvalidBucketSource) {
		test.Fatalf("expected ErrInvalidBucketSource, got %v", err)
	}
	if len(store.transactions) != 0 {
		test.Fatalf("rejected credit must not write transactions")
	}
}

func TestPreflightThenDebitSucceedsWithoutInterleaving(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.setAccount(Account{UserID: "writer-9", Words: Bucket{PlanTotal: 200}})
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, "writer-9")
	amount := mustAmount(test, 200)

	if err := service.PreflightCheck(context.Background(), userID, CategoryWords, amount); err != nil {
		test.Fatalf("preflight: %v", err)
	}
	if _, err := service.Debit(context.Background(), userID, CategoryWords, amount, TxnUsage, "", mustMetadata(test, "{}")); err != nil {
		test.Fatalf("debit after successful preflight: %v", err)
	}
}

func TestSummaryReportsPerCategoryView(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.plans["pro"] = Plan{PlanID: "pro", WordsPerCycle: 1000, BooksPerCycle: 3, OffersPerCycle: 1}
	store.setAccount(Account{
		UserID:            "writer-10",
		PlanID:            "pro",
		CycleStartUnixUTC: testNowUnixUTC - 1000,
		CycleEndUnixUTC:   testNowUnixUTC + 1000,
		Words:             Bucket{PlanTotal: 1000, PlanUsed: 400, AddonRemaining: 250},
	})
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, "writer-10")

	summary, err := service.Summary(context.Background(), userID)
	if err != nil {
		test.Fatalf("summary: %v", err)
	}
	if summary.PlanID != "pro" {
		test.Fatalf("expected plan pro, got %q", summary.PlanID)
	}
	words := summary.Categories[CategoryWords]
	if words.Available != 850 || words.Used != 400 || words.Total != 1250 {
		test.Fatalf("unexpected words summary: %+v", words)
	}
	if store.accounts["writer-10"].Words.PlanUsed != 400 {
		test.Fatalf("summary must not mutate the stored account")
	}
}

func TestSummaryExpiredTrialReportsZero(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.setAccount(Account{
		UserID:              "writer-11",
		TrialExpiresUnixUTC: testNowUnixUTC - 1,
		Words:               Bucket{TrialRemaining: 90},
	})
	service := mustNewService(test, store, testNowUnixUTC)
	userID := mustUserID(test, "writer-11")

	summary, err := service.Summary(context.Background(), userID)
	if err != nil {
		test.Fatalf("summary: %v", err)
	}
	if summary.Categories[CategoryWords].Available != 0 {
		test.Fatalf("expired trial must report zero, got %d", summary.Categories[CategoryWords].Available)
	}
}

func TestDebitConcurrentWritersNeverOverspend(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.setAccount(Account{UserID: "writer-12", Words: Bucket{AddonRemaining: 50}})
	service := mustNewService(test, store, testNowUnixUTC, WithDebitRetryLimit(25))
	userID := mustUserID(test, "writer-12")
	amount := mustAmount(test, 10)
	metadata := mustMetadata(test, "{}")

	const writers = 10
	results := make(chan error, writers)
	var release sync.WaitGroup
	release.Add(1)
	for writerIndex := 0; writerIndex < writers; writerIndex++ {
		go func() {
			release.Wait()
			_, err := service.Debit(context.Background(), userID, CategoryWords, amount, TxnUsage, "", metadata)
			results <- err
		}()
	}
	release.Done()

	successes := 0
	for writerIndex := 0; writerIndex < writers; writerIndex++ {
		err := <-results
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrInsufficientCredits), errors.Is(err, ErrConcurrentModification):
		default:
			test.Fatalf("unexpected debit error: %v", err)
		}
	}
	// 50 credits fund at most five 10-credit debits no matter how the
	// writers interleave.
	if successes > 5 {
		test.Fatalf("expected at most 5 successful debits, got %d", successes)
	}
	remaining := store.accounts["writer-12"].Words.AddonRemaining
	if remaining != 50-int64(successes)*10 {
		test.Fatalf("balance %d inconsistent with %d successful debits", remaining, successes)
	}
	if len(store.transactions) != successes {
		test.Fatalf("expected %d transactions, got %d", successes, len(store.transactions))
	}
}
