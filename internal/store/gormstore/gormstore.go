// Package gormstore persists credit accounts, the transaction ledger, plans,
// and payment records using GORM. The same database handle backs both the
// credits.Store and payments.Store contracts so a settlement can approve a
// payment and grant its credits inside one transaction.
package gormstore

import (
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/scriptorium-ai/creditd/pkg/credits"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectTxn       = "transaction"
	errorSubjectPlan      = "plan"
	errorSubjectAddon     = "addon"
	errorSubjectPayment   = "payment"
	errorCodeCreate       = "create"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeList         = "list"
	errorCodeSave         = "save"
	errorCodeBind         = "bind"
	errorCodeClaim        = "claim"
	errorCodeComplete     = "complete"
	errorCodeReject       = "reject"
)

// Migrate creates or updates the schema. Intended for sqlite development
// databases; production postgres schemas are managed by migrations.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&CreditAccount{},
		&CreditTransaction{},
		&PaymentRecord{},
		&SubscriptionPlan{},
		&AddonCreditPlan{},
	)
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func timePointer(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}
