// Package webhook authenticates Stripe webhook deliveries.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	stripewebhook "github.com/stripe/stripe-go/v79/webhook"
)

// SignatureHeader is the header Stripe signs deliveries with.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance is the maximum accepted age of a signed timestamp.
const DefaultTolerance = 5 * time.Minute

var (
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrReplayRejected   = errors.New("webhook timestamp outside tolerance")
	ErrMalformedPayload = errors.New("webhook payload malformed")
)

type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier returns a verifier for secret. An empty secret is accepted so the
// service can start, but every delivery is then rejected.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}
}

// Configured reports whether a shared secret is set.
func (v *Verifier) Configured() bool {
	return v.secret != ""
}

// Verify authenticates the raw request body against header and only then
// decodes it. payload must be the exact bytes received.
func (v *Verifier) Verify(payload []byte, header string) (*stripe.Event, error) {
	if v.secret == "" {
		return nil, fmt.Errorf("%w: no webhook secret configured", ErrSignatureInvalid)
	}

	// Without a timestamp the stripe validator reports the header as too old.
	if !hasTimestamp(header) {
		return nil, fmt.Errorf("%w: header carries no timestamp", ErrSignatureInvalid)
	}

	if err := stripewebhook.ValidatePayloadWithTolerance(payload, header, v.secret, v.tolerance); err != nil {
		if errors.Is(err, stripewebhook.ErrTooOld) {
			return nil, fmt.Errorf("%w: %v", ErrReplayRejected, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrMalformedPayload)
	}
	return &event, nil
}

func hasTimestamp(header string) bool {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || key != "t" {
			continue
		}
		if _, err := strconv.ParseInt(value, 10, 64); err == nil {
			return true
		}
	}
	return false
}
