package credits

import (
	"context"

	"github.com/google/uuid"
)

// ActivatePlan puts the user onto a subscription plan, starting a fresh cycle
// anchored at the activation instant, and appends a purchase transaction.
func (service *Service) ActivatePlan(ctx context.Context, userID UserID, planID string, description string, metadata MetadataJSON) error {
	operationError := service.retryOnConflict(ctx, func(ctx context.Context, txStore Store) error {
		plan, err := txStore.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		_, err = ApplyPlanActivation(ctx, txStore, service.cycles, service.nowFn(), userID, plan, description, metadata)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationActivatePlan,
		UserID:    userID,
		Source:    SourcePlan,
		Type:      TxnPurchase,
		Metadata:  metadata,
		Error:     operationError,
	})
	return operationError
}

// ApplyPlanActivation performs a single plan-activation attempt against the
// supplied store. Settlement runs it inside its own transaction.
func ApplyPlanActivation(ctx context.Context, store Store, cycles *CycleManager, nowUnixUTC int64, userID UserID, plan Plan, description string, metadata MetadataJSON) (Transaction, error) {
	account, err := store.GetOrCreateAccount(ctx, userID.String())
	if err != nil {
		return Transaction{}, err
	}
	cycles.StartCycle(&account, plan, nowUnixUTC)
	expectedVersion := account.Version
	account.Version++
	if err := store.SaveAccount(ctx, account, expectedVersion); err != nil {
		return Transaction{}, err
	}
	transaction := Transaction{
		TransactionID:  uuid.NewString(),
		UserID:         userID.String(),
		Type:           TxnPurchase,
		Category:       CategoryWords,
		AmountDelta:    plan.WordsPerCycle,
		Description:    description,
		MetadataJSON:   metadata.String(),
		CreatedUnixUTC: nowUnixUTC,
	}
	if err := store.InsertTransaction(ctx, transaction); err != nil {
		return Transaction{}, err
	}
	return transaction, nil
}

// GrantTrial credits the trial bucket and stamps its expiry on the account.
func (service *Service) GrantTrial(ctx context.Context, userID UserID, category Category, amount Amount, expiresUnixUTC int64, metadata MetadataJSON) error {
	operationError := service.retryOnConflict(ctx, func(ctx context.Context, txStore Store) error {
		account, err := txStore.GetOrCreateAccount(ctx, userID.String())
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		plan, err := planForAccount(ctx, txStore, account)
		if err != nil {
			return err
		}
		service.cycles.Advance(&account, plan, nowUnixUTC)
		account.BucketFor(category).TrialRemaining += amount.Int64()
		if expiresUnixUTC > account.TrialExpiresUnixUTC {
			account.TrialExpiresUnixUTC = expiresUnixUTC
		}
		expectedVersion := account.Version
		account.Version++
		if err := txStore.SaveAccount(ctx, account, expectedVersion); err != nil {
			return err
		}
		return txStore.InsertTransaction(ctx, Transaction{
			TransactionID:  uuid.NewString(),
			UserID:         userID.String(),
			Type:           TxnAdminAllocation,
			Category:       category,
			AmountDelta:    amount.Int64(),
			Description:    "trial grant",
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: nowUnixUTC,
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationGrantTrial,
		UserID:    userID,
		Category:  category,
		Source:    SourceTrial,
		Amount:    amount,
		Metadata:  metadata,
		Error:     operationError,
	})
	return operationError
}

// ListTransactions lists ledger transactions for a user before a cutoff time.
func (service *Service) ListTransactions(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	return service.store.ListTransactions(ctx, userID.String(), beforeUnixUTC, limit)
}
