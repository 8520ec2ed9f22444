package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"goflare.io/payout/driver"
	"goflare.io/payout/models"
	"goflare.io/payout/models/enum"
)

var (
	ErrNotFound      = errors.New("account not found")
	ErrAlreadyExists = errors.New("account already exists")
)

const pgUniqueViolation = "23505"

var _ Repository = (*repository)(nil)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, account *models.Account) error
	GetByID(ctx context.Context, tx pgx.Tx, id string) (*models.Account, error)
	// GetForUpdate locks the account row until tx ends. tx must not be nil.
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*models.Account, error)
	UpdateState(ctx context.Context, tx pgx.Tx, account *models.Account) error
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

const accountColumns = `id, owner_email, state, COALESCE(last_event_id, ''), created_at, updated_at`

func (r *repository) Create(ctx context.Context, tx pgx.Tx, account *models.Account) error {
	_, err := driver.Executor(r.conn, tx).Exec(ctx,
		`INSERT INTO accounts (id, owner_email, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		account.ID, account.OwnerEmail, string(account.State), account.CreatedAt, account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, account.ID)
		}
		r.logger.Error("Failed to create account", zap.String("account_id", account.ID), zap.Error(err))
		return err
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, tx pgx.Tx, id string) (*models.Account, error) {
	row := driver.Executor(r.conn, tx).QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return r.scan(row, id)
}

func (r *repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*models.Account, error) {
	if tx == nil {
		return nil, errors.New("GetForUpdate requires a transaction")
	}
	row := tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	return r.scan(row, id)
}

func (r *repository) UpdateState(ctx context.Context, tx pgx.Tx, account *models.Account) error {
	tag, err := driver.Executor(r.conn, tx).Exec(ctx,
		`UPDATE accounts SET state = $2, last_event_id = $3, updated_at = $4 WHERE id = $1`,
		account.ID, string(account.State), account.LastEventID, account.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to update account state", zap.String("account_id", account.ID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, account.ID)
	}
	return nil
}

func (r *repository) scan(row pgx.Row, id string) (*models.Account, error) {
	var (
		a     models.Account
		state string
	)
	if err := row.Scan(&a.ID, &a.OwnerEmail, &state, &a.LastEventID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		r.logger.Error("Failed to get account", zap.String("account_id", id), zap.Error(err))
		return nil, err
	}
	a.State = enum.AccountState(state)
	return &a, nil
}
