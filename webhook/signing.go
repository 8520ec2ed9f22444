package webhook

import (
	"encoding/hex"
	"fmt"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v79/webhook"
)

// SignHeader builds a Stripe-Signature header for payload signed at t.
// It is used by tests and local tooling that replays deliveries.
func SignHeader(payload []byte, secret string, t time.Time) string {
	sig := stripewebhook.ComputeSignature(t, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", t.Unix(), hex.EncodeToString(sig))
}
