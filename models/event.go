package models

import (
	"time"

	"github.com/stripe/stripe-go/v79"

	"goflare.io/payout/models/enum"
)

// Event 是已處理的 webhook 事件的稽核紀錄
type Event struct {
	ID        string            `json:"id"`
	Type      stripe.EventType  `json:"type"`
	AccountID string            `json:"account_id"`
	Outcome   enum.EventOutcome `json:"outcome"`
	FromState enum.AccountState `json:"from_state"`
	ToState   enum.AccountState `json:"to_state"`
	CreatedAt time.Time         `json:"created_at"`
}

// WebhookResult is what the pipeline reports back for one delivery.
type WebhookResult struct {
	EventID   string            `json:"event_id"`
	AccountID string            `json:"account_id,omitempty"`
	Outcome   enum.EventOutcome `json:"outcome"`
	State     enum.AccountState `json:"state,omitempty"`
}
