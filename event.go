package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/payout/account"
	"goflare.io/payout/models"
	"goflare.io/payout/models/enum"
	"goflare.io/payout/notify"
	"goflare.io/payout/webhook"
)

// EventHandler extracts the account snapshot an event carries.
type EventHandler func(context.Context, *stripe.Event) (*models.AccountSnapshot, error)

type EventManager struct {
	handlers map[stripe.EventType]EventHandler
	logger   *zap.Logger
}

func NewEventManager(logger *zap.Logger) *EventManager {
	return &EventManager{
		handlers: make(map[stripe.EventType]EventHandler),
		logger:   logger,
	}
}

func (em *EventManager) RegisterHandler(eventType stripe.EventType, handler EventHandler) {
	em.handlers[eventType] = handler
}

func (em *EventManager) GetHandler(eventType stripe.EventType) (EventHandler, bool) {
	handler, exists := em.handlers[eventType]
	return handler, exists
}

func (s *service) registerEventHandlers() {
	eventHandlers := map[stripe.EventType]EventHandler{
		stripe.EventTypeAccountUpdated: s.handleAccountUpdated,
	}

	for eventType, handler := range eventHandlers {
		s.eventManager.RegisterHandler(eventType, handler)
	}
}

func (s *service) handleAccountUpdated(_ context.Context, event *stripe.Event) (*models.AccountSnapshot, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data object", webhook.ErrMalformedPayload, event.ID)
	}

	var acct stripe.Account
	if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
		return nil, fmt.Errorf("%w: decode account: %v", webhook.ErrMalformedPayload, err)
	}
	if acct.ID == "" {
		return nil, fmt.Errorf("%w: event %s has no account id", webhook.ErrMalformedPayload, event.ID)
	}

	snap := &models.AccountSnapshot{
		AccountID:        acct.ID,
		ChargesEnabled:   acct.ChargesEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}
	if acct.Requirements != nil {
		snap.DisabledReason = string(acct.Requirements.DisabledReason)
	}
	return snap, nil
}

// HandleWebhook authenticates, deduplicates and applies one delivery.
// Dropped deliveries return a result together with an error matching IsDropped.
func (s *service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*models.WebhookResult, error) {
	event, err := s.verifier.Verify(payload, signature)
	if err != nil {
		s.logger.Warn("Rejected webhook delivery", zap.Error(err))
		return nil, err
	}

	handler, exists := s.eventManager.GetHandler(event.Type)
	if !exists {
		s.logger.Debug("Ignoring webhook event type",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)))
		return &models.WebhookResult{EventID: event.ID, Outcome: enum.EventOutcomeIgnored}, nil
	}

	snap, err := handler(ctx, event)
	if err != nil {
		s.logger.Warn("Malformed webhook event", zap.String("event_id", event.ID), zap.Error(err))
		return nil, err
	}

	// Once the claim is taken the delivery runs to completion even if the
	// caller goes away.
	ctx = context.WithoutCancel(ctx)

	unlock := s.locks.Lock(snap.AccountID)
	defer unlock()

	apply, err := s.dedup.ShouldApply(ctx, event.ID)
	if err != nil {
		s.logger.Error("Failed to claim event", zap.String("event_id", event.ID), zap.Error(err))
		return nil, fmt.Errorf("claim event %s: %w", event.ID, err)
	}
	if !apply {
		s.logger.Info("Event already processed", zap.String("event_id", event.ID))
		return &models.WebhookResult{EventID: event.ID, AccountID: snap.AccountID, Outcome: enum.EventOutcomeDuplicate}, nil
	}

	result, changes, err := s.applyEvent(ctx, event, snap)
	if err != nil {
		if IsDropped(err) {
			s.logger.Warn("Dropping webhook event",
				zap.String("event_id", event.ID),
				zap.String("account_id", snap.AccountID),
				zap.Error(err))
			s.notifier.PublishDrop(models.DroppedEvent{
				AccountID: snap.AccountID,
				EventID:   event.ID,
				Reason:    dropReason(err),
				At:        s.now().UTC(),
			})
			return &models.WebhookResult{EventID: event.ID, AccountID: snap.AccountID, Outcome: enum.EventOutcomeDropped}, err
		}

		if relErr := s.dedup.Release(ctx, event.ID); relErr != nil {
			s.logger.Error("Failed to release event claim", zap.String("event_id", event.ID), zap.Error(relErr))
		}
		s.logger.Error("Failed to apply webhook event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return nil, err
	}

	s.dispatch(changes)

	s.logger.Info("Stripe event processed",
		zap.String("event_id", event.ID),
		zap.String("account_id", result.AccountID),
		zap.String("outcome", string(result.Outcome)),
		zap.String("state", string(result.State)))

	return result, nil
}

// applyEvent runs the transition table for one event inside a single
// transaction holding the account row lock.
func (s *service) applyEvent(ctx context.Context, event *stripe.Event, snap *models.AccountSnapshot) (*models.WebhookResult, []models.StateChange, error) {
	var (
		result  *models.WebhookResult
		changes []models.StateChange
	)

	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		result, changes = nil, nil

		acct, err := s.account.GetForUpdate(ctx, tx, snap.AccountID)
		if err != nil {
			if errors.Is(err, account.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownAccount, snap.AccountID)
			}
			return fmt.Errorf("load account %s: %w", snap.AccountID, err)
		}

		path, err := acct.State.Next(snap.Signals())
		if err != nil {
			if errors.Is(err, enum.ErrNoTransition) {
				return fmt.Errorf("%w: account %s is %s", ErrInvalidTransition, acct.ID, acct.State)
			}
			return err
		}

		now := s.now().UTC()
		from := acct.State
		to := from
		outcome := enum.EventOutcomeNoop
		switch {
		case len(path) > 0:
			to = path[len(path)-1]
			outcome = enum.EventOutcomeApplied
		case from.Terminal():
			outcome = enum.EventOutcomeTerminal
		}

		inserted, err := s.event.Create(ctx, tx, &models.Event{
			ID:        event.ID,
			Type:      event.Type,
			AccountID: acct.ID,
			Outcome:   outcome,
			FromState: from,
			ToState:   to,
			CreatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("record event %s: %w", event.ID, err)
		}
		if !inserted {
			// Recorded by an earlier delivery whose dedup claim has expired.
			result = &models.WebhookResult{EventID: event.ID, AccountID: acct.ID, Outcome: enum.EventOutcomeDuplicate, State: from}
			return nil
		}

		if outcome == enum.EventOutcomeApplied {
			acct.State = to
			acct.LastEventID = event.ID
			acct.UpdatedAt = now
			if err = s.account.UpdateState(ctx, tx, acct); err != nil {
				return fmt.Errorf("update account %s: %w", acct.ID, err)
			}

			prev := from
			for _, next := range path {
				changes = append(changes, models.StateChange{
					AccountID: acct.ID,
					EventID:   event.ID,
					From:      prev,
					To:        next,
					At:        now,
				})
				prev = next
			}
		} else if outcome == enum.EventOutcomeTerminal {
			s.logger.Info("Event on terminal account recorded",
				zap.String("event_id", event.ID),
				zap.String("account_id", acct.ID),
				zap.String("state", string(from)))
		}

		result = &models.WebhookResult{EventID: event.ID, AccountID: acct.ID, Outcome: outcome, State: to}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return result, changes, nil
}

// dispatch runs after commit; nothing here can undo the transition.
func (s *service) dispatch(changes []models.StateChange) {
	for _, change := range changes {
		s.notifier.PublishStateChange(change)
		if change.To.Terminal() {
			s.notifier.Notify(notify.Notification{
				AccountID: change.AccountID,
				Kind:      change.To,
				EventID:   change.EventID,
				At:        change.At,
			})
		}
	}
}

func dropReason(err error) string {
	if errors.Is(err, ErrUnknownAccount) {
		return ErrUnknownAccount.Error()
	}
	return ErrInvalidTransition.Error()
}
