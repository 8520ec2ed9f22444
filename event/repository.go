package event

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/payout/driver"
	"goflare.io/payout/models"
	"goflare.io/payout/models/enum"
)

var _ Repository = (*repository)(nil)

type Repository interface {
	// Create records a processed event. It reports false without error when
	// the event id was already recorded.
	Create(ctx context.Context, tx pgx.Tx, event *models.Event) (bool, error)
	GetByID(ctx context.Context, tx pgx.Tx, id string) (*models.Event, error)
	ListByAccount(ctx context.Context, tx pgx.Tx, accountID string, limit uint64) ([]*models.Event, error)
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

func (r *repository) Create(ctx context.Context, tx pgx.Tx, event *models.Event) (bool, error) {
	tag, err := driver.Executor(r.conn, tx).Exec(ctx,
		`INSERT INTO webhook_events (id, type, account_id, outcome, from_state, to_state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		event.ID, string(event.Type), event.AccountID, string(event.Outcome),
		string(event.FromState), string(event.ToState), event.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create event", zap.String("event_id", event.ID), zap.Error(err))
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repository) GetByID(ctx context.Context, tx pgx.Tx, id string) (*models.Event, error) {
	rows, err := driver.Executor(r.conn, tx).Query(ctx,
		`SELECT id, type, account_id, outcome, from_state, to_state, created_at
		 FROM webhook_events WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	events, err := collect(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("event %s: %w", id, pgx.ErrNoRows)
	}
	return events[0], nil
}

func (r *repository) ListByAccount(ctx context.Context, tx pgx.Tx, accountID string, limit uint64) ([]*models.Event, error) {
	rows, err := driver.Executor(r.conn, tx).Query(ctx,
		`SELECT id, type, account_id, outcome, from_state, to_state, created_at
		 FROM webhook_events WHERE account_id = $1
		 ORDER BY created_at DESC LIMIT $2`, accountID, int64(limit))
	if err != nil {
		r.logger.Error("Failed to list events", zap.String("account_id", accountID), zap.Error(err))
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*models.Event, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Event, error) {
		var (
			e                             models.Event
			typ, outcome, fromSt, toState string
		)
		if err := row.Scan(&e.ID, &typ, &e.AccountID, &outcome, &fromSt, &toState, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = stripe.EventType(typ)
		e.Outcome = enum.EventOutcome(outcome)
		e.FromState = enum.AccountState(fromSt)
		e.ToState = enum.AccountState(toState)
		return &e, nil
	})
}
