package credits

import "time"

// CycleManager normalizes accounts onto their current billing cycle. Rollover
// is applied lazily: mutating operations persist the advanced account, reads
// advance an in-memory copy only.
type CycleManager struct{}

// NewCycleManager returns a CycleManager.
func NewCycleManager() *CycleManager {
	return &CycleManager{}
}

// Advance moves the account forward to the cycle containing nowUnixUTC and
// reports whether anything changed. Crossing a boundary resets per-cycle
// usage; unused plan allotment is discarded unless the plan rolls over, in
// which case it is carried into the new cycle's plan total on top of the
// plan's recurring allotment. Trial balances are zeroed independently once
// past their expiry.
func (manager *CycleManager) Advance(account *Account, plan Plan, nowUnixUTC int64) bool {
	changed := false
	for account.CycleEndUnixUTC != 0 && nowUnixUTC >= account.CycleEndUnixUTC {
		for _, category := range Categories() {
			bucket := account.BucketFor(category)
			carried := int64(0)
			if account.AllowRollover {
				carried = bucket.PlanTotal - bucket.PlanUsed
				if carried < 0 {
					carried = 0
				}
			}
			bucket.PlanTotal = plan.Allotment(category) + carried
			bucket.PlanUsed = 0
		}
		account.CycleStartUnixUTC = account.CycleEndUnixUTC
		account.CycleEndUnixUTC = nextCycleBoundary(account.CycleEndUnixUTC, account.CycleAnchorDay)
		changed = true
	}
	if account.TrialExpired(nowUnixUTC) {
		for _, category := range Categories() {
			bucket := account.BucketFor(category)
			if bucket.TrialRemaining != 0 {
				bucket.TrialRemaining = 0
				changed = true
			}
		}
		account.TrialExpiresUnixUTC = 0
		changed = true
	}
	return changed
}

// StartCycle initializes the account onto a fresh cycle for the plan,
// anchored at the activation instant. Any rolled-over or partially used
// allotment from a previous plan is replaced outright.
func (manager *CycleManager) StartCycle(account *Account, plan Plan, nowUnixUTC int64) {
	account.PlanID = plan.PlanID
	account.AllowRollover = plan.AllowRollover
	account.CycleStartUnixUTC = nowUnixUTC
	account.CycleAnchorDay = time.Unix(nowUnixUTC, 0).UTC().Day()
	account.CycleEndUnixUTC = nextCycleBoundary(nowUnixUTC, account.CycleAnchorDay)
	for _, category := range Categories() {
		bucket := account.BucketFor(category)
		bucket.PlanTotal = plan.Allotment(category)
		bucket.PlanUsed = 0
	}
}

// nextCycleBoundary returns the boundary one calendar month past unixUTC,
// landing on the activation anchor day clamped to the target month's length.
// Clamping is re-derived from the anchor each month, so a short month
// (Jan 31 -> Feb 28) does not pull later boundaries off the anchor
// (Mar 31, not Mar 28). Accounts persisted before the anchor column existed
// carry a zero anchor and fall back to the current boundary's day.
func nextCycleBoundary(unixUTC int64, anchorDay int) int64 {
	at := time.Unix(unixUTC, 0).UTC()
	if anchorDay <= 0 {
		anchorDay = at.Day()
	}
	hour, minute, second := at.Clock()
	firstOfNext := time.Date(at.Year(), at.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	lastDay := firstOfNext.AddDate(0, 1, -1).Day()
	day := anchorDay
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day, hour, minute, second, 0, time.UTC).Unix()
}
