package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/payout/account"
	"goflare.io/payout/models"
	"goflare.io/payout/models/enum"
)

type onboardingRequest struct {
	OwnerEmail string `validate:"required,email,max=254"`
}

// IssueOnboardingLink registers a new account with the processor and records
// it locally in link_issued. Nothing is stored when the processor fails.
func (s *service) IssueOnboardingLink(ctx context.Context, ownerEmail string) (*models.OnboardingLink, error) {
	req := onboardingRequest{OwnerEmail: strings.TrimSpace(ownerEmail)}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, ownerEmail)
	}

	pctx, cancel := context.WithTimeout(ctx, s.processorTimeout)
	defer cancel()

	accountID, err := s.processor.CreateAccount(pctx, req.OwnerEmail)
	if err != nil {
		s.logger.Error("Failed to register account with processor", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrProcessorUnavailable, err)
	}

	link, err := s.processor.CreateOnboardingLink(pctx, accountID)
	if err != nil {
		// The remote account exists but is unusable without a link; the
		// processor expires unfinished accounts on its own.
		s.logger.Error("Failed to create onboarding link",
			zap.String("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrProcessorUnavailable, err)
	}

	now := s.now().UTC()
	acct := &models.Account{
		ID:         accountID,
		OwnerEmail: req.OwnerEmail,
		State:      enum.AccountStateLinkIssued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err = s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		return s.account.Create(ctx, tx, acct)
	}); err != nil {
		s.logger.Error("Failed to store account", zap.String("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("store account %s: %w", accountID, err)
	}

	s.notifier.PublishStateChange(models.StateChange{
		AccountID: accountID,
		From:      enum.AccountStateUnverified,
		To:        enum.AccountStateLinkIssued,
		At:        now,
	})

	s.logger.Info("Onboarding link issued",
		zap.String("account_id", accountID),
		zap.Time("expires_at", link.ExpiresAt))

	return &models.OnboardingLink{AccountID: accountID, URL: link.URL, ExpiresAt: link.ExpiresAt}, nil
}

// RefreshOnboardingLink issues a new link for an account whose previous link
// expired before onboarding was completed.
func (s *service) RefreshOnboardingLink(ctx context.Context, accountID string) (*models.OnboardingLink, error) {
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.State != enum.AccountStateLinkIssued {
		return nil, fmt.Errorf("%w: account %s is %s", ErrInvalidTransition, accountID, acct.State)
	}

	pctx, cancel := context.WithTimeout(ctx, s.processorTimeout)
	defer cancel()

	link, err := s.processor.CreateOnboardingLink(pctx, accountID)
	if err != nil {
		s.logger.Error("Failed to refresh onboarding link", zap.String("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrProcessorUnavailable, err)
	}

	return &models.OnboardingLink{AccountID: accountID, URL: link.URL, ExpiresAt: link.ExpiresAt}, nil
}

func (s *service) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	acct, err := s.account.GetByID(ctx, nil, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
		}
		return nil, err
	}
	return acct, nil
}

func (s *service) ListAccountEvents(ctx context.Context, accountID string, limit uint64) ([]*models.Event, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	if limit == 0 || limit > 100 {
		limit = 100
	}
	return s.event.ListByAccount(ctx, nil, accountID, limit)
}
