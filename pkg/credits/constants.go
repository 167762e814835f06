package credits

const (
	operationPreflight    = "preflight"
	operationDebit        = "debit"
	operationCredit       = "credit"
	operationActivatePlan = "activate_plan"
	operationGrantTrial   = "grant_trial"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	defaultDebitRetryLimit = 3
)
