package payout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"goflare.io/payout/account"
	"goflare.io/payout/event"
	"goflare.io/payout/models"
	"goflare.io/payout/notify"
	"goflare.io/payout/processor"
)

type fakeTransactor struct{}

func (fakeTransactor) ExecuteTransaction(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

var _ account.Repository = (*fakeAccounts)(nil)

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]models.Account
	updates  int
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: make(map[string]models.Account)}
}

func (f *fakeAccounts) Create(_ context.Context, _ pgx.Tx, a *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[a.ID]; ok {
		return account.ErrAlreadyExists
	}
	f.accounts[a.ID] = *a
	return nil
}

func (f *fakeAccounts) GetByID(_ context.Context, _ pgx.Tx, id string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", account.ErrNotFound, id)
	}
	return &a, nil
}

func (f *fakeAccounts) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*models.Account, error) {
	return f.GetByID(ctx, tx, id)
}

func (f *fakeAccounts) UpdateState(_ context.Context, _ pgx.Tx, a *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[a.ID]; !ok {
		return account.ErrNotFound
	}
	f.accounts[a.ID] = *a
	f.updates++
	return nil
}

func (f *fakeAccounts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.accounts)
}

var _ event.Repository = (*fakeEvents)(nil)

type fakeEvents struct {
	mu       sync.Mutex
	events   map[string]models.Event
	failNext error
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{events: make(map[string]models.Event)}
}

func (f *fakeEvents) Create(_ context.Context, _ pgx.Tx, e *models.Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return false, err
	}
	if _, ok := f.events[e.ID]; ok {
		return false, nil
	}
	f.events[e.ID] = *e
	return true, nil
}

func (f *fakeEvents) GetByID(_ context.Context, _ pgx.Tx, id string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &e, nil
}

func (f *fakeEvents) ListByAccount(_ context.Context, _ pgx.Tx, accountID string, limit uint64) ([]*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Event
	for _, e := range f.events {
		if e.AccountID == accountID {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if uint64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ processor.Processor = (*fakeProcessor)(nil)

type fakeProcessor struct {
	mu         sync.Mutex
	nextID     int
	accountErr error
	linkErr    error
	block      bool
	links      int
}

func (f *fakeProcessor) CreateAccount(ctx context.Context, _ string) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountErr != nil {
		return "", f.accountErr
	}
	f.nextID++
	return fmt.Sprintf("acct_%d", f.nextID), nil
}

func (f *fakeProcessor) CreateOnboardingLink(_ context.Context, accountID string) (*processor.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	f.links++
	return &processor.Link{
		URL:       fmt.Sprintf("https://connect.stripe.com/setup/e/%s/%d", accountID, f.links),
		ExpiresAt: time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC),
	}, nil
}

type fakeNotifier struct {
	mu            sync.Mutex
	notifications []notify.Notification
	changes       []models.StateChange
	drops         []models.DroppedEvent
}

func (f *fakeNotifier) Notify(n notify.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
}

func (f *fakeNotifier) PublishStateChange(c models.StateChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, c)
}

func (f *fakeNotifier) PublishDrop(d models.DroppedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drops = append(f.drops, d)
}

func (f *fakeNotifier) dropped() []models.DroppedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DroppedEvent(nil), f.drops...)
}

func (f *fakeNotifier) notified() []notify.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Notification(nil), f.notifications...)
}

func (f *fakeNotifier) stateChanges() []models.StateChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.StateChange(nil), f.changes...)
}

// flakyDedup fails the first claim attempt.
type flakyDedup struct {
	inner interface {
		ShouldApply(ctx context.Context, eventID string) (bool, error)
		Release(ctx context.Context, eventID string) error
	}
	failed bool
}

func (f *flakyDedup) ShouldApply(ctx context.Context, eventID string) (bool, error) {
	if !f.failed {
		f.failed = true
		return false, errors.New("redis: connection refused")
	}
	return f.inner.ShouldApply(ctx, eventID)
}

func (f *flakyDedup) Release(ctx context.Context, eventID string) error {
	return f.inner.Release(ctx, eventID)
}
