package directory

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// FailureClass categorizes a request failure for recovery purposes.
// Rate-limit and auth failures get flat holds; everything else feeds the
// consecutive-failure breaker.
type FailureClass int

const (
	FailureGeneric FailureClass = iota
	FailureRateLimit
	FailureAuth
)

const (
	rateLimitHold = 5 * time.Minute
	authHold      = time.Minute

	// breakerThreshold consecutive generic failures open the breaker;
	// the hold then backs off exponentially from breakerBaseHold up to
	// breakerMaxHold.
	breakerThreshold = 5
	breakerBaseHold  = 5 * time.Minute
	breakerMaxHold   = time.Hour
)

type recoveryState struct {
	consecutive int
	openUntilNs int64
	halfOpen    bool
}

// RecoveryTracker keeps per-account failure-recovery state. An account with
// an open hold is excluded from selection; when the hold expires the account
// is allowed through half-open until the next success or failure settles it.
type RecoveryTracker struct {
	states *xsync.Map[string, recoveryState]
	now    func() time.Time
}

// NewRecoveryTracker creates an empty tracker.
func NewRecoveryTracker() *RecoveryTracker {
	return &RecoveryTracker{
		states: xsync.NewMap[string, recoveryState](),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (r *RecoveryTracker) SetClock(now func() time.Time) { r.now = now }

// Allow reports whether the account identified by key may be selected.
// An expired hold transitions to half-open and allows one probe through.
func (r *RecoveryTracker) Allow(key string) bool {
	nowNs := r.now().UnixNano()
	allowed := true
	r.states.Compute(key, func(st recoveryState, loaded bool) (recoveryState, xsync.ComputeOp) {
		if !loaded || st.openUntilNs == 0 {
			return st, xsync.CancelOp
		}
		if nowNs < st.openUntilNs {
			allowed = false
			return st, xsync.CancelOp
		}
		st.openUntilNs = 0
		st.halfOpen = true
		return st, xsync.UpdateOp
	})
	return allowed
}

// RecordFailure registers a failed request against the account.
func (r *RecoveryTracker) RecordFailure(key string, class FailureClass) {
	nowNs := r.now().UnixNano()
	r.states.Compute(key, func(st recoveryState, _ bool) (recoveryState, xsync.ComputeOp) {
		st.consecutive++
		st.halfOpen = false
		switch class {
		case FailureRateLimit:
			st.openUntilNs = nowNs + int64(rateLimitHold)
		case FailureAuth:
			// Token refresh is delegated to the provider service; hold the
			// account briefly so the refresh can land.
			st.openUntilNs = nowNs + int64(authHold)
		default:
			if st.consecutive >= breakerThreshold {
				hold := breakerBaseHold << (st.consecutive - breakerThreshold)
				if hold > breakerMaxHold || hold <= 0 {
					hold = breakerMaxHold
				}
				st.openUntilNs = nowNs + int64(hold)
			}
		}
		return st, xsync.UpdateOp
	})
}

// RecordSuccess resets the account's failure state and closes any hold.
func (r *RecoveryTracker) RecordSuccess(key string) {
	r.states.Delete(key)
}

// Open reports whether the account currently has an active hold.
func (r *RecoveryTracker) Open(key string) bool {
	st, ok := r.states.Load(key)
	return ok && st.openUntilNs != 0 && r.now().UnixNano() < st.openUntilNs
}
