package enum

import "strings"

// AccountState 表示收款帳戶的驗證狀態
type AccountState string

const (
	AccountStateUnverified AccountState = "unverified"  // 帳戶已建立，尚未發出 onboarding 連結
	AccountStateLinkIssued AccountState = "link_issued" // onboarding 連結已發出
	AccountStateSubmitted  AccountState = "submitted"   // 資料已提交，等待審核
	AccountStateVerified   AccountState = "verified"    // 驗證通過
	AccountStateRejected   AccountState = "rejected"    // 驗證被拒
)

// rejectedPrefix marks a Stripe requirements.disabled_reason that is a final rejection.
const rejectedPrefix = "rejected."

// Signals are the fields of an account snapshot that drive transitions.
type Signals struct {
	ChargesEnabled   bool
	DetailsSubmitted bool
	DisabledReason   string
}

// Rejected reports whether the processor explicitly rejected the account.
func (s Signals) Rejected() bool {
	return strings.HasPrefix(s.DisabledReason, rejectedPrefix)
}

func (s AccountState) Valid() bool {
	switch s {
	case AccountStateUnverified, AccountStateLinkIssued, AccountStateSubmitted,
		AccountStateVerified, AccountStateRejected:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition is defined.
func (s AccountState) Terminal() bool {
	return s == AccountStateVerified || s == AccountStateRejected
}

// Step applies a single row of the transition table.
// ok is false when no row matches; the state is then returned unchanged.
// Unverified accounts never accept events and report ErrNoTransition.
func (s AccountState) Step(sig Signals) (next AccountState, ok bool, err error) {
	switch s {
	case AccountStateUnverified:
		return s, false, ErrNoTransition
	case AccountStateLinkIssued:
		if sig.DetailsSubmitted {
			return AccountStateSubmitted, true, nil
		}
	case AccountStateSubmitted:
		if sig.Rejected() {
			return AccountStateRejected, true, nil
		}
		if sig.ChargesEnabled && sig.DetailsSubmitted {
			return AccountStateVerified, true, nil
		}
	case AccountStateVerified, AccountStateRejected:
		return s, false, nil
	default:
		return s, false, ErrNoTransition
	}
	return s, false, nil
}

// Next follows the transition table until no row matches and returns every
// state visited after s, in order. An empty path means the event is a no-op.
func (s AccountState) Next(sig Signals) ([]AccountState, error) {
	var path []AccountState
	cur := s
	for {
		next, ok, err := cur.Step(sig)
		if err != nil {
			return nil, err
		}
		if !ok {
			return path, nil
		}
		path = append(path, next)
		cur = next
	}
}
