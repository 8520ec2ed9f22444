// Package payout verifies payable accounts with Stripe Connect: it issues
// onboarding links and applies signed account webhooks exactly once to a
// persistent account state machine.
package payout

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/payout/account"
	"goflare.io/payout/dedup"
	"goflare.io/payout/driver"
	"goflare.io/payout/event"
	"goflare.io/payout/keylock"
	"goflare.io/payout/models"
	"goflare.io/payout/notify"
	"goflare.io/payout/processor"
)

const defaultProcessorTimeout = 10 * time.Second

type Service interface {
	IssueOnboardingLink(ctx context.Context, ownerEmail string) (*models.OnboardingLink, error)
	RefreshOnboardingLink(ctx context.Context, accountID string) (*models.OnboardingLink, error)
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	ListAccountEvents(ctx context.Context, accountID string, limit uint64) ([]*models.Event, error)

	HandleWebhook(ctx context.Context, payload []byte, signature string) (*models.WebhookResult, error)
	WebhookConfigured() bool
}

// Verifier authenticates a raw webhook body.
type Verifier interface {
	Verify(payload []byte, header string) (*stripe.Event, error)
	Configured() bool
}

// Notifier is the fire-and-forget side channel to external collaborators.
type Notifier interface {
	Notify(n notify.Notification)
	PublishStateChange(change models.StateChange)
	PublishDrop(drop models.DroppedEvent)
}

type Option func(*service)

// WithProcessorTimeout bounds every onboarding call to the processor.
func WithProcessorTimeout(d time.Duration) Option {
	return func(s *service) {
		if d > 0 {
			s.processorTimeout = d
		}
	}
}

type service struct {
	account account.Repository
	event   event.Repository

	transactionManager driver.Transactor
	eventManager       *EventManager
	verifier           Verifier
	dedup              dedup.Deduplicator
	processor          processor.Processor
	notifier           Notifier
	locks              *keylock.Locker
	validate           *validator.Validate

	processorTimeout time.Duration
	now              func() time.Time
	logger           *zap.Logger
}

func NewService(
	accounts account.Repository, events event.Repository, tm driver.Transactor,
	verifier Verifier, deduplicator dedup.Deduplicator, proc processor.Processor, notifier Notifier,
	logger *zap.Logger, opts ...Option) Service {
	s := &service{
		account:            accounts,
		event:              events,
		transactionManager: tm,
		verifier:           verifier,
		dedup:              deduplicator,
		processor:          proc,
		notifier:           notifier,
		locks:              keylock.New(),
		validate:           validator.New(),
		processorTimeout:   defaultProcessorTimeout,
		now:                time.Now,
		logger:             logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.eventManager = NewEventManager(logger)
	s.registerEventHandlers()

	return s
}

func (s *service) WebhookConfigured() bool {
	return s.verifier.Configured()
}
