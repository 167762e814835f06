package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// debitOrder is the explicit bucket precedence during a debit: the plan
// allotment expires at cycle end and is exhausted first, then purchased
// addon credits (never expire), then admin grants, then trial credits
// (expire on their own clock).
var debitOrder = []BucketSource{SourcePlan, SourceAddon, SourceAdmin, SourceTrial}

// Service contains the domain logic over a Store.
type Service struct {
	store      Store
	nowFn      func() int64
	cycles     *CycleManager
	logger     OperationLogger
	retryLimit int
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:      store,
		nowFn:      now,
		cycles:     NewCycleManager(),
		retryLimit: defaultDebitRetryLimit,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// PreflightCheck reports whether the user can afford the amount without
// mutating any state. A success is advisory: only Debit re-checks and
// commits atomically.
func (service *Service) PreflightCheck(ctx context.Context, userID UserID, category Category, amount Amount) error {
	account, err := service.store.GetOrCreateAccount(ctx, userID.String())
	if err != nil {
		return err
	}
	nowUnixUTC := service.nowFn()
	plan, err := service.planFor(ctx, service.store, account)
	if err != nil {
		return err
	}
	service.cycles.Advance(&account, plan, nowUnixUTC)
	if account.Available(category, nowUnixUTC) < amount.Int64() {
		return WrapError(operationPreflight, category.String(), "insufficient", ErrInsufficientCredits)
	}
	return nil
}

// Debit atomically re-checks sufficiency and decrements buckets in the fixed
// precedence order, appending one usage transaction. Version conflicts are
// retried up to the configured limit, then surfaced as
// ErrConcurrentModification.
func (service *Service) Debit(ctx context.Context, userID UserID, category Category, amount Amount, transactionType TransactionType, description string, metadata MetadataJSON) (Transaction, error) {
	var transaction Transaction
	operationError := service.retryOnConflict(ctx, func(ctx context.Context, txStore Store) error {
		account, err := txStore.GetOrCreateAccount(ctx, userID.String())
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		plan, err := service.planFor(ctx, txStore, account)
		if err != nil {
			return err
		}
		service.cycles.Advance(&account, plan, nowUnixUTC)
		if account.Available(category, nowUnixUTC) < amount.Int64() {
			return WrapError(operationDebit, category.String(), "insufficient", ErrInsufficientCredits)
		}
		applyDebit(account.BucketFor(category), amount.Int64())
		expectedVersion := account.Version
		account.Version++
		if err := txStore.SaveAccount(ctx, account, expectedVersion); err != nil {
			return err
		}
		transaction = Transaction{
			TransactionID:  uuid.NewString(),
			UserID:         userID.String(),
			Type:           transactionType,
			Category:       category,
			AmountDelta:    -amount.Int64(),
			Description:    description,
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: nowUnixUTC,
		}
		return txStore.InsertTransaction(ctx, transaction)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDebit,
		UserID:    userID,
		Category:  category,
		Type:      transactionType,
		Amount:    amount,
		Metadata:  metadata,
		Error:     operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return transaction, nil
}

// Credit atomically increments the bucket matching source and appends one
// transaction. The plan bucket is never credited here; it is owned by the
// cycle manager.
func (service *Service) Credit(ctx context.Context, userID UserID, category Category, amount Amount, source BucketSource, transactionType TransactionType, description string, metadata MetadataJSON) (Transaction, error) {
	var transaction Transaction
	operationError := func() error {
		if !source.Creditable() {
			return WrapError(operationCredit, category.String(), "source", fmt.Errorf("%w: %q is not creditable", ErrInvalidBucketSource, source))
		}
		return service.retryOnConflict(ctx, func(ctx context.Context, txStore Store) error {
			applied, err := ApplyCredit(ctx, txStore, service.cycles, service.nowFn(), CreditParams{
				UserID:          userID,
				Category:        category,
				Amount:          amount,
				Source:          source,
				TransactionType: transactionType,
				Description:     description,
				Metadata:        metadata,
			})
			if err != nil {
				return err
			}
			transaction = applied
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		UserID:    userID,
		Category:  category,
		Source:    source,
		Type:      transactionType,
		Amount:    amount,
		Metadata:  metadata,
		Error:     operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return transaction, nil
}

// Summary returns {available, used, total} per category plus the active plan.
// Reads never mutate: cycle rollover is applied to the returned view only.
func (service *Service) Summary(ctx context.Context, userID UserID) (Summary, error) {
	account, err := service.store.GetOrCreateAccount(ctx, userID.String())
	if err != nil {
		return Summary{}, err
	}
	nowUnixUTC := service.nowFn()
	plan, err := service.planFor(ctx, service.store, account)
	if err != nil {
		return Summary{}, err
	}
	service.cycles.Advance(&account, plan, nowUnixUTC)
	trialExpired := account.TrialExpired(nowUnixUTC)
	summary := Summary{
		PlanID:     account.PlanID,
		Categories: make(map[Category]CategorySummary, len(Categories())),
	}
	for _, category := range Categories() {
		bucket := account.BucketFor(category)
		summary.Categories[category] = CategorySummary{
			Available: bucket.Available(trialExpired),
			Used:      bucket.PlanUsed,
			Total:     bucket.Total(trialExpired),
		}
	}
	return summary, nil
}

// CreditParams carries one grant application.
type CreditParams struct {
	UserID          UserID
	Category        Category
	Amount          Amount
	Source          BucketSource
	TransactionType TransactionType
	Description     string
	Metadata        MetadataJSON
}

// ApplyCredit performs a single grant attempt against the supplied store.
// It is shared by Service.Credit and by settlement, which runs it inside its
// own transaction so a credit grant and a payment approval commit together.
func ApplyCredit(ctx context.Context, store Store, cycles *CycleManager, nowUnixUTC int64, params CreditParams) (Transaction, error) {
	account, err := store.GetOrCreateAccount(ctx, params.UserID.String())
	if err != nil {
		return Transaction{}, err
	}
	plan, err := planForAccount(ctx, store, account)
	if err != nil {
		return Transaction{}, err
	}
	cycles.Advance(&account, plan, nowUnixUTC)
	bucket := account.BucketFor(params.Category)
	switch params.Source {
	case SourceAddon:
		bucket.AddonRemaining += params.Amount.Int64()
	case SourceAdmin:
		bucket.AdminRemaining += params.Amount.Int64()
	case SourceTrial:
		bucket.TrialRemaining += params.Amount.Int64()
	default:
		return Transaction{}, WrapError(operationCredit, params.Category.String(), "source", fmt.Errorf("%w: %q is not creditable", ErrInvalidBucketSource, params.Source))
	}
	expectedVersion := account.Version
	account.Version++
	if err := store.SaveAccount(ctx, account, expectedVersion); err != nil {
		return Transaction{}, err
	}
	transaction := Transaction{
		TransactionID:  uuid.NewString(),
		UserID:         params.UserID.String(),
		Type:           params.TransactionType,
		Category:       params.Category,
		AmountDelta:    params.Amount.Int64(),
		Description:    params.Description,
		MetadataJSON:   params.Metadata.String(),
		CreatedUnixUTC: nowUnixUTC,
	}
	if err := store.InsertTransaction(ctx, transaction); err != nil {
		return Transaction{}, err
	}
	return transaction, nil
}

// retryOnConflict runs fn in a transaction, retrying bounded times when the
// account CAS detects a concurrent writer.
func (service *Service) retryOnConflict(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	var lastErr error
	for attempt := 0; attempt < service.retryLimit; attempt++ {
		lastErr = service.store.WithTx(ctx, fn)
		if !errors.Is(lastErr, ErrVersionConflict) {
			return lastErr
		}
	}
	return WrapError(operationDebit, "account", "conflict", fmt.Errorf("%w: %v", ErrConcurrentModification, lastErr))
}

func (service *Service) planFor(ctx context.Context, store Store, account Account) (Plan, error) {
	return planForAccount(ctx, store, account)
}

func planForAccount(ctx context.Context, store Store, account Account) (Plan, error) {
	if account.PlanID == "" {
		return Plan{AllowRollover: account.AllowRollover}, nil
	}
	return store.GetPlan(ctx, account.PlanID)
}

// applyDebit consumes amount from the bucket following debitOrder. The caller
// has already established sufficiency under the same transaction.
func applyDebit(bucket *Bucket, amount int64) {
	remaining := amount
	for _, source := range debitOrder {
		if remaining == 0 {
			return
		}
		switch source {
		case SourcePlan:
			planRemaining := bucket.PlanTotal - bucket.PlanUsed
			if planRemaining < 0 {
				planRemaining = 0
			}
			take := minInt64(remaining, planRemaining)
			bucket.PlanUsed += take
			remaining -= take
		case SourceAddon:
			take := minInt64(remaining, bucket.AddonRemaining)
			bucket.AddonRemaining -= take
			remaining -= take
		case SourceAdmin:
			take := minInt64(remaining, bucket.AdminRemaining)
			bucket.AdminRemaining -= take
			remaining -= take
		case SourceTrial:
			take := minInt64(remaining, bucket.TrialRemaining)
			bucket.TrialRemaining -= take
			remaining -= take
		}
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func minInt64(a int64, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
