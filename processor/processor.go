// Package processor registers payable accounts with the payment processor.
package processor

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps every failure to reach or get an answer from the processor.
var ErrUnavailable = errors.New("payment processor unavailable")

// Link is an onboarding URL and the time it stops working.
type Link struct {
	URL       string
	ExpiresAt time.Time
}

type Processor interface {
	// CreateAccount registers a new connected account and returns its id.
	CreateAccount(ctx context.Context, ownerEmail string) (string, error)
	// CreateOnboardingLink issues a time-boxed onboarding URL for accountID.
	CreateOnboardingLink(ctx context.Context, accountID string) (*Link, error)
}
