package models

import (
	"time"

	"goflare.io/payout/models/enum"
)

// Account 代表一個在 Stripe Connect 上的收款帳戶
type Account struct {
	ID          string            `json:"id"`
	OwnerEmail  string            `json:"owner_email"`
	State       enum.AccountState `json:"state"`
	LastEventID string            `json:"last_event_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// AccountSnapshot is the part of a Stripe account object that drives verification.
type AccountSnapshot struct {
	AccountID        string
	ChargesEnabled   bool
	DetailsSubmitted bool
	DisabledReason   string
}

func (s AccountSnapshot) Signals() enum.Signals {
	return enum.Signals{
		ChargesEnabled:   s.ChargesEnabled,
		DetailsSubmitted: s.DetailsSubmitted,
		DisabledReason:   s.DisabledReason,
	}
}

// OnboardingLink 代表 Stripe 發出的有時效的 onboarding 連結
type OnboardingLink struct {
	AccountID string    `json:"account_id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StateChange describes one committed transition of an account.
type StateChange struct {
	AccountID string            `json:"account_id"`
	EventID   string            `json:"event_id"`
	From      enum.AccountState `json:"from"`
	To        enum.AccountState `json:"to"`
	At        time.Time         `json:"at"`
}

// DroppedEvent is an authentic delivery that could not be applied because it
// contradicts local state: the account is unknown or cannot move.
type DroppedEvent struct {
	AccountID string    `json:"account_id"`
	EventID   string    `json:"event_id"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}
