package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/zap"
)

const accountLinkTypeOnboarding = "account_onboarding"

var _ Processor = (*Stripe)(nil)

type StripeConfig struct {
	SecretKey  string
	RefreshURL string
	ReturnURL  string
	Timeout    time.Duration
	// Backends overrides the API backends; nil uses Stripe's defaults.
	Backends *stripe.Backends
}

// Stripe talks to Stripe Connect. Calls are bounded by Timeout and go through
// a circuit breaker so a failing processor is not hammered by retries.
type Stripe struct {
	api        *client.API
	refreshURL string
	returnURL  string
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewStripe(cfg StripeConfig, logger *zap.Logger) *Stripe {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	backends := cfg.Backends
	if backends == nil {
		backends = stripe.NewBackends(&http.Client{Timeout: cfg.Timeout})
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Stripe{
		api:        api,
		refreshURL: cfg.RefreshURL,
		returnURL:  cfg.ReturnURL,
		timeout:    cfg.Timeout,
		breaker:    breaker,
		logger:     logger,
	}
}

func (s *Stripe) CreateAccount(ctx context.Context, ownerEmail string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(ownerEmail),
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())

	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.api.Accounts.New(params)
	})
	if err != nil {
		s.logger.Error("Failed to create Stripe account", zap.Error(err))
		return "", unavailable("create account", err)
	}

	return res.(*stripe.Account).ID, nil
}

func (s *Stripe) CreateOnboardingLink(ctx context.Context, accountID string) (*Link, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(s.refreshURL),
		ReturnURL:  stripe.String(s.returnURL),
		Type:       stripe.String(accountLinkTypeOnboarding),
	}
	params.Context = ctx

	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.api.AccountLinks.New(params)
	})
	if err != nil {
		s.logger.Error("Failed to create Stripe account link", zap.String("account_id", accountID), zap.Error(err))
		return nil, unavailable("create account link", err)
	}

	link := res.(*stripe.AccountLink)
	return &Link{
		URL:       link.URL,
		ExpiresAt: time.Unix(link.ExpiresAt, 0).UTC(),
	}, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: circuit open", ErrUnavailable, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
