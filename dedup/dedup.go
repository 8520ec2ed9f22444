// Package dedup guards webhook application so each event id is applied at
// most once within a retention window.
package dedup

import (
	"context"
	"time"
)

// DefaultRetention covers Stripe's redelivery schedule for a failed endpoint.
const DefaultRetention = 24 * time.Hour

type Deduplicator interface {
	// ShouldApply atomically claims eventID. Exactly one caller per id
	// observes true within the retention window.
	ShouldApply(ctx context.Context, eventID string) (bool, error)

	// Release drops a claim so a later redelivery can apply the event again.
	Release(ctx context.Context, eventID string) error
}
