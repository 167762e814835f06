package credits

import (
	"context"
	"sync"
	"testing"
)

// stubStore is an in-memory Store. The mutex makes each call atomic, the way
// a single database statement is; the version check in SaveAccount is what
// keeps interleaved read-modify-write sequences honest.
type stubStore struct {
	mutex        sync.Mutex
	accounts     map[string]Account
	transactions []Transaction
	plans        map[string]Plan
	addons       map[string]AddonPlan

	conflictNextSaves int

	getAccountError  error
	saveAccountError error
	insertError      error
	planError        error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accounts: make(map[string]Account),
		plans:    make(map[string]Plan),
		addons:   make(map[string]AddonPlan),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetAccount(_ context.Context, userID string) (Account, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.getAccountError != nil {
		return Account{}, store.getAccountError
	}
	account, ok := store.accounts[userID]
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	return account, nil
}

func (store *stubStore) GetOrCreateAccount(_ context.Context, userID string) (Account, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.getAccountError != nil {
		return Account{}, store.getAccountError
	}
	account, ok := store.accounts[userID]
	if !ok {
		account = Account{UserID: userID}
		store.accounts[userID] = account
	}
	return account, nil
}

func (store *stubStore) SaveAccount(_ context.Context, account Account, expectedVersion int64) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.saveAccountError != nil {
		return store.saveAccountError
	}
	if store.conflictNextSaves > 0 {
		store.conflictNextSaves--
		return ErrVersionConflict
	}
	existing := store.accounts[account.UserID]
	if existing.Version != expectedVersion {
		return ErrVersionConflict
	}
	store.accounts[account.UserID] = account
	return nil
}

func (store *stubStore) InsertTransaction(_ context.Context, transaction Transaction) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.insertError != nil {
		return store.insertError
	}
	store.transactions = append(store.transactions, transaction)
	return nil
}

func (store *stubStore) ListTransactions(_ context.Context, userID string, _ int64, limit int) ([]Transaction, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	listed := make([]Transaction, 0, limit)
	for _, transaction := range store.transactions {
		if transaction.UserID == userID && len(listed) < limit {
			listed = append(listed, transaction)
		}
	}
	return listed, nil
}

func (store *stubStore) GetPlan(_ context.Context, planID string) (Plan, error) {
	if store.planError != nil {
		return Plan{}, store.planError
	}
	plan, ok := store.plans[planID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return plan, nil
}

func (store *stubStore) GetAddonPlan(_ context.Context, addonID string) (AddonPlan, error) {
	addon, ok := store.addons[addonID]
	if !ok {
		return AddonPlan{}, ErrPlanNotFound
	}
	return addon, nil
}

func (store *stubStore) setAccount(account Account) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.accounts[account.UserID] = account
}

func mustNewService(test *testing.T, store Store, nowUnixUTC int64, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return nowUnixUTC }, options...)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustAmount(test *testing.T, raw int64) Amount {
	test.Helper()
	amount, err := NewAmount(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return metadata
}
