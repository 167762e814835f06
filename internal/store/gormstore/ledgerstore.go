package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/scriptorium-ai/creditd/pkg/credits"
)

// LedgerStore implements credits.Store using GORM.
type LedgerStore struct {
	db *gorm.DB
}

// NewLedgerStore returns a LedgerStore backed by gorm.DB.
func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &LedgerStore{db: transaction})
	})
}

func (store *LedgerStore) GetAccount(ctx context.Context, userID string) (credits.Account, error) {
	var model CreditAccount
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return credits.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, credits.ErrUnknownAccount)
	}
	if err != nil {
		return credits.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return accountFromModel(model), nil
}

func (store *LedgerStore) GetOrCreateAccount(ctx context.Context, userID string) (credits.Account, error) {
	var model CreditAccount
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		model = CreditAccount{UserID: userID}
		err = store.db.WithContext(ctx).Create(&model).Error
		if isUniqueViolation(err) {
			err = store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&model).Error
		}
	}
	if err != nil {
		return credits.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return accountFromModel(model), nil
}

// SaveAccount writes a balance snapshot conditional on the version it was
// read at. Zero rows affected means another writer got there first.
func (store *LedgerStore) SaveAccount(ctx context.Context, account credits.Account, expectedVersion int64) error {
	model := accountToModel(account)
	result := store.db.WithContext(ctx).
		Model(&CreditAccount{}).
		Where("user_id = ? AND version = ?", account.UserID, expectedVersion).
		Select("*").
		Omit("user_id", "created_at").
		Updates(&model)
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, credits.ErrVersionConflict)
	}
	return nil
}

func (store *LedgerStore) InsertTransaction(ctx context.Context, transaction credits.Transaction) error {
	model := CreditTransaction{
		TransactionID: transaction.TransactionID,
		UserID:        transaction.UserID,
		Type:          transaction.Type.String(),
		Category:      transaction.Category.String(),
		AmountDelta:   transaction.AmountDelta,
		Description:   transaction.Description,
		Metadata:      datatypesJSON(transaction.MetadataJSON),
		CreatedAt:     time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	if transaction.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectTxn, errorCodeInsert, err)
	}
	return nil
}

func (store *LedgerStore) ListTransactions(ctx context.Context, userID string, beforeUnixUTC int64, limit int) ([]credits.Transaction, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []CreditTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND created_at < ?", userID, before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTxn, errorCodeList, err)
	}

	transactions := make([]credits.Transaction, 0, len(rows))
	for _, row := range rows {
		transactions = append(transactions, credits.Transaction{
			TransactionID:  row.TransactionID,
			UserID:         row.UserID,
			Type:           credits.TransactionType(row.Type),
			Category:       credits.Category(row.Category),
			AmountDelta:    row.AmountDelta,
			Description:    row.Description,
			MetadataJSON:   string(row.Metadata),
			CreatedUnixUTC: row.CreatedAt.Unix(),
		})
	}
	return transactions, nil
}

func (store *LedgerStore) GetPlan(ctx context.Context, planID string) (credits.Plan, error) {
	var model SubscriptionPlan
	err := store.db.WithContext(ctx).Where("plan_id = ?", planID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return credits.Plan{}, wrapStoreError(errorSubjectPlan, errorCodeGet, credits.ErrPlanNotFound)
	}
	if err != nil {
		return credits.Plan{}, wrapStoreError(errorSubjectPlan, errorCodeGet, err)
	}
	return credits.Plan{
		PlanID:         model.PlanID,
		Name:           model.Name,
		PriceCents:     model.PriceCents,
		WordsPerCycle:  model.WordsPerCycle,
		BooksPerCycle:  model.BooksPerCycle,
		OffersPerCycle: model.OffersPerCycle,
		AllowRollover:  model.AllowRollover,
	}, nil
}

func (store *LedgerStore) GetAddonPlan(ctx context.Context, addonID string) (credits.AddonPlan, error) {
	var model AddonCreditPlan
	err := store.db.WithContext(ctx).Where("addon_id = ?", addonID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return credits.AddonPlan{}, wrapStoreError(errorSubjectAddon, errorCodeGet, credits.ErrPlanNotFound)
	}
	if err != nil {
		return credits.AddonPlan{}, wrapStoreError(errorSubjectAddon, errorCodeGet, err)
	}
	return credits.AddonPlan{
		AddonID:    model.AddonID,
		Name:       model.Name,
		PriceCents: model.PriceCents,
		Category:   credits.Category(model.Category),
		Amount:     model.Amount,
	}, nil
}

func accountFromModel(model CreditAccount) credits.Account {
	return credits.Account{
		UserID:              model.UserID,
		PlanID:              model.PlanID,
		CycleStartUnixUTC:   timeOrZero(model.CycleStart),
		CycleEndUnixUTC:     timeOrZero(model.CycleEnd),
		CycleAnchorDay:      model.CycleAnchorDay,
		AllowRollover:       model.AllowRollover,
		TrialExpiresUnixUTC: timeOrZero(model.TrialExpiresAt),
		Words:               bucketFromColumns(model.Words),
		Books:               bucketFromColumns(model.Books),
		Offers:              bucketFromColumns(model.Offers),
		Version:             model.Version,
	}
}

func accountToModel(account credits.Account) CreditAccount {
	return CreditAccount{
		UserID:         account.UserID,
		PlanID:         account.PlanID,
		CycleStart:     timePointer(account.CycleStartUnixUTC),
		CycleEnd:       timePointer(account.CycleEndUnixUTC),
		CycleAnchorDay: account.CycleAnchorDay,
		AllowRollover:  account.AllowRollover,
		TrialExpiresAt: timePointer(account.TrialExpiresUnixUTC),
		Words:          bucketToColumns(account.Words),
		Books:          bucketToColumns(account.Books),
		Offers:         bucketToColumns(account.Offers),
		Version:        account.Version,
		UpdatedAt:      time.Now().UTC(),
	}
}

func bucketFromColumns(columns BucketColumns) credits.Bucket {
	return credits.Bucket{
		PlanTotal:      columns.PlanTotal,
		PlanUsed:       columns.PlanUsed,
		AddonRemaining: columns.AddonRemaining,
		AdminRemaining: columns.AdminRemaining,
		TrialRemaining: columns.TrialRemaining,
	}
}

func bucketToColumns(bucket credits.Bucket) BucketColumns {
	return BucketColumns{
		PlanTotal:      bucket.PlanTotal,
		PlanUsed:       bucket.PlanUsed,
		AddonRemaining: bucket.AddonRemaining,
		AdminRemaining: bucket.AdminRemaining,
		TrialRemaining: bucket.TrialRemaining,
	}
}
