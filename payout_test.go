package payout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/payout/dedup"
	"goflare.io/payout/models"
	"goflare.io/payout/models/enum"
	"goflare.io/payout/webhook"
)

const testSecret = "whsec_test"

type harness struct {
	svc       *service
	accounts  *fakeAccounts
	events    *fakeEvents
	processor *fakeProcessor
	notifier  *fakeNotifier
	dedup     *dedup.Memory
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		accounts:  newFakeAccounts(),
		events:    newFakeEvents(),
		processor: &fakeProcessor{},
		notifier:  &fakeNotifier{},
		dedup:     dedup.NewMemory(24 * time.Hour),
	}
	h.svc = NewService(h.accounts, h.events, fakeTransactor{},
		webhook.NewVerifier(testSecret, 5*time.Minute), h.dedup, h.processor, h.notifier,
		zap.NewNop(), opts...).(*service)
	return h
}

func accountEventPayload(t *testing.T, eventID, accountID string, charges, details bool, disabledReason string) []byte {
	t.Helper()
	requirements := map[string]any{"disabled_reason": nil}
	if disabledReason != "" {
		requirements["disabled_reason"] = disabledReason
	}
	payload, err := json.Marshal(map[string]any{
		"id":     eventID,
		"object": "event",
		"type":   "account.updated",
		"data": map[string]any{
			"object": map[string]any{
				"id":                accountID,
				"object":            "account",
				"charges_enabled":   charges,
				"details_submitted": details,
				"requirements":      requirements,
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func (h *harness) deliver(t *testing.T, payload []byte) (*models.WebhookResult, error) {
	t.Helper()
	return h.svc.HandleWebhook(context.Background(), payload, webhook.SignHeader(payload, testSecret, time.Now()))
}

func (h *harness) state(t *testing.T, accountID string) enum.AccountState {
	t.Helper()
	acct, err := h.svc.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	return acct.State
}

func (h *harness) seed(t *testing.T, id string, state enum.AccountState) {
	t.Helper()
	require.NoError(t, h.accounts.Create(context.Background(), nil, &models.Account{
		ID: id, OwnerEmail: "seed@example.com", State: state,
	}))
}

func TestOnboardingThroughVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	link, err := h.svc.IssueOnboardingLink(ctx, "owner@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, link.URL)
	assert.False(t, link.ExpiresAt.IsZero())
	assert.Equal(t, enum.AccountStateLinkIssued, h.state(t, link.AccountID))

	e1 := accountEventPayload(t, "e1", link.AccountID, false, true, "")
	res, err := h.deliver(t, e1)
	require.NoError(t, err)
	assert.Equal(t, enum.EventOutcomeApplied, res.Outcome)
	assert.Equal(t, enum.AccountStateSubmitted, h.state(t, link.AccountID))

	res, err = h.deliver(t, e1)
	require.NoError(t, err)
	assert.Equal(t, enum.EventOutcomeDuplicate, res.Outcome)
	assert.Equal(t, enum.AccountStateSubmitted, h.state(t, link.AccountID))
	assert.Empty(t, h.notifier.notified())

	e2 := accountEventPayload(t, "e2", link.AccountID, true, true, "")
	res, err = h.deliver(t, e2)
	require.NoError(t, err)
	assert.Equal(t, enum.EventOutcomeApplied, res.Outcome)
	assert.Equal(t, enum.AccountStateVerified, res.State)

	acct, err := h.svc.GetAccount(ctx, link.AccountID)
	require.NoError(t, err)
	assert.Equal(t, enum.AccountStateVerified, acct.State)
	assert.Equal(t, "e2", acct.LastEventID)

	notified := h.notifier.notified()
	require.Len(t, notified, 1)
	assert.Equal(t, link.AccountID, notified[0].AccountID)
	assert.Equal(t, enum.AccountStateVerified, notified[0].Kind)
	assert.Equal(t, "e2", notified[0].EventID)

	changes := h.notifier.stateChanges()
	require.Len(t, changes, 3)
	assert.Equal(t, enum.AccountStateLinkIssued, changes[0].To)
	assert.Equal(t, enum.AccountStateSubmitted, changes[1].To)
	assert.Equal(t, enum.AccountStateVerified, changes[2].To)

	history, err := h.svc.ListAccountEvents(ctx, link.AccountID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestHandleWebhook_ReplayRejected(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acct_1", enum.AccountStateLinkIssued)

	payload := accountEventPayload(t, "e1", "acct_1", false, true, "")
	_, err := h.svc.HandleWebhook(context.Background(), payload,
		webhook.SignHeader(payload, testSecret, time.Now().Add(-10*time.Minute)))

	assert.ErrorIs(t, err, webhook.ErrReplayRejected)
	assert.Equal(t, enum.AccountStateLinkIssued, h.state(t, "acct_1"))

	// The rejected delivery must not have consumed the event id.
	res, err := h.deliver(t, payload)
	require.NoError(t, err)
	assert.Equal(t, enum.EventOutcomeApplied, res.Outcome)
}

func TestHandleWebhook_SignatureInvalid(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acct_1", enum.AccountStateLinkIssued)

	payload := accountEventPayload(t, "e1", "acct_1", false, true, "")
	header := webhook.SignHeader(payload, "whsec_attacker", time.Now())
	_, err := h.svc.HandleWebhook(context.Background(), payload, header)

	assert.ErrorIs(t, err, webhook.ErrSignatureInvalid)
	assert.Equal(t, enum.AccountStateLinkIssued, h.state(t, "acct_1"))
	assert.Zero(t, h.accounts.updates)
}

func TestHandleWebhook_MissingSecretRejectsAll(t *testing.T) {
	h := newHarness(t)
	h.svc.verifier = webhook.NewVerifier("", 5*time.Minute)
	h.seed(t, "acct_1", enum.AccountStateLinkIssued)

	payload := accountEventPayload(t, "e1", "acct_1", false, true, "")
	_, err := h.svc.HandleWebhook(context.Background(), payload, webhook.SignHeader(payload, "", time.Now()))

	assert.ErrorIs(t, err, webhook.ErrSignatureInvalid)
	assert.False(t, h.svc.WebhookConfigured())
	assert.Equal(t, enum.AccountStateLinkIssued, h.state(t, "acct_1"))
}

func TestHandleWebhook_UnknownAccount(t *testing.T) {
	h := newHarness(t)

	res, err := h.deliver(t, accountEventPayload(t, "e1", "acct_ghost", true, true, ""))

	assert.ErrorIs(t, err, ErrUnknownAccount)
	assert.True(t, IsDropped(err))
	require.NotNil(t, res)
	assert.Equal(t, enum.EventOutcomeDropped, res.Outcome)
	assert.Zero(t, h.accounts.count())
	assert.Empty(t, h.notifier.notified())

	drops := h.notifier.dropped()
	require.Len(t, drops, 1)
	assert.Equal(t, "e1", drops[0].EventID)
	assert.Equal(t, "acct_ghost", drops[0].AccountID)
	assert.Equal(t, ErrUnknownAccount.Error(), drops[0].Reason)
}

func TestHandleWebhook_UnverifiedAccountIsInvalidTransition(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acct_1", enum.AccountStateUnverified)

	_, err := h.deliver(t, accountEventPayload(t, "e1", "acct_1", true, true, ""))

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, IsDropped(err))
	assert.Equal(t, enum.AccountStateUnverified, h.state(t, "acct_1"))

	drops := h.notifier.dropped()
	require.Len(t, drops, 1)
	assert.Equal(t, ErrInvalidTransition.Error(), drops[0].Reason)
}

func TestHandleWebhook_TerminalAccountIsAuditedNoop(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acct_1", enum.AccountStateVerified)

	res, err := h.deliver(t, accountEventPayload(t, "e9", "acct_1", false, true, ""))
	require.NoError(t, err)
	assert.Equal(t, enum.EventOutcomeTerminal, res.Outcome)
	assert.Equal(t, enum.AccountStateVerified, h.state(t, "acct_1"))
	assert.Empty(t, h.notifier.notified())

	recorded, err := h.events.GetByID(context.Background(), nil, "e9")
	require.NoError(t, err)
	assert.Equal(t, enum.EventOutcomeTerminal, recorded.Outcome)
}

func TestHandleWebhook_VerifiedNeverReturnsToSubmitted(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acct_1", enum.AccountStateSubmitted)

	_, err := h.deliver(t, accountEventPayload(t, "e1", "acct_1", true, true, ""))
	require.NoError(t, err)
	require.Equal(t, enum.AccountStateVerified, h.state(t, "acct_1"))

	for i, p := range [][]byte{
		accountEventPayload(t, "e2", "acct_1", false, true, ""),
		accountEventPayload(t, "e3", "acct_1", false, false, ""),
		accountEventPayload(t, "e4", "acct_1", false, true, "rejected.fraud"),
	} {
		_, err = h.deliver(t, p)
		require.NoError(t, err, "delivery %d", i)
		assert.Equal(t, enum.AccountStateVerified, h.state(t, "acct_1"))
	}
	for _, c := range h.notifier.stateChanges() {
		assert.NotEqual(t, enum.AccountStateSubmitted, c.To)
	}
}

func TestHandleWebhook_Rejection(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acct_1", enum.AccountStateSubmitted)

	res, err := h.deliver(t, accountEventPayload(t, "e1", "acct_1", false, true, "rejected.terms_of_service"))
	require.NoError(t, err)
	assert.Equal(t, enum.AccountStateRejected, res.State)

	notified := h.notifier.notified()
	require.Len(t, notified, 1)
	assert.Equal(t, enum.AccountStateRejected, notified[0].Kind)
}

func TestHandleWebhook_SingleEventChainsToVerified(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acct_1", enum.AccountStateLinkIssued)

	res, err := h.deliver(t, accountEventPayload(t, "e1", "acct_1", true, true, ""))
	require.NoError(t, err)
	assert.Equal(t, enum.AccountStateVerified, res.State)
	assert.Len(t, h.notifier.stateChanges(), 2)
	assert.Len(t, h.notifier.notified(), 1)
}

func TestHandleWebhook_NoopLeavesAccountUntouched(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acct_1", enum.AccountStateLinkIssued)

	res, err := h.deliver(t, accountEventPayload(t, "e1", "acct_1", false, false, ""))
	require.NoError(t, err)
	assert.Equal(t, enum.EventOutcomeNoop, res.Outcome)
	assert.Zero(t, h.accounts.updates)
	assert.Empty(t, h.notifier.stateChanges())
}

func TestHandleWebhook_ConcurrentDuplicatesNotifyOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acct_1", enum.AccountStateSubmitted)
	payload := accountEventPayload(t, "e_dup", "acct_1", true, true, "")
	header := webhook.SignHeader(payload, testSecret, time.Now())

	const n = 50
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		mu    sync.Mutex
		seen  = map[enum.EventOutcome]int{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := h.svc.HandleWebhook(context.Background(), payload, header)
			if assert.NoError(t, err) {
				mu.Lock()
				seen[res.Outcome]++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, seen[enum.EventOutcomeApplied])
	assert.Equal(t, n-1, seen[enum.EventOutcomeDuplicate])
	assert.Len(t, h.notifier.notified(), 1)
	assert.Equal(t, 1, h.accounts.updates)
}

func TestHandleWebhook_DistinctEventsSameAccountSerialize(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acct_1", enum.AccountStateSubmitted)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.deliver(t, accountEventPayload(t, id, "acct_1", true, true, ""))
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, enum.AccountStateVerified, h.state(t, "acct_1"))
	assert.Len(t, h.notifier.notified(), 1)
}

func TestHandleWebhook_InternalFailureReleasesClaim(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acct_1", enum.AccountStateLinkIssued)
	h.events.failNext = errors.New("connection reset")
	payload := accountEventPayload(t, "e1", "acct_1", false, true, "")

	_, err := h.deliver(t, payload)
	require.Error(t, err)
	assert.False(t, IsDropped(err))
	assert.Equal(t, enum.AccountStateLinkIssued, h.state(t, "acct_1"))

	res, err := h.deliver(t, payload)
	require.NoError(t, err)
	assert.Equal(t, enum.EventOutcomeApplied, res.Outcome)
	assert.Equal(t, enum.AccountStateSubmitted, h.state(t, "acct_1"))
}

func TestHandleWebhook_DedupFailureIsInternal(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acct_1", enum.AccountStateLinkIssued)
	h.svc.dedup = &flakyDedup{inner: h.dedup}
	payload := accountEventPayload(t, "e1", "acct_1", false, true, "")

	_, err := h.deliver(t, payload)
	require.Error(t, err)
	assert.False(t, IsDropped(err))
	assert.Equal(t, enum.AccountStateLinkIssued, h.state(t, "acct_1"))

	_, err = h.deliver(t, payload)
	require.NoError(t, err)
	assert.Equal(t, enum.AccountStateSubmitted, h.state(t, "acct_1"))
}

func TestHandleWebhook_ExpiredClaimStillDeduplicatedByAuditLog(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acct_1", enum.AccountStateLinkIssued)
	payload := accountEventPayload(t, "e1", "acct_1", false, true, "")

	_, err := h.deliver(t, payload)
	require.NoError(t, err)
	require.NoError(t, h.dedup.Release(context.Background(), "e1"))

	res, err := h.deliver(t, payload)
	require.NoError(t, err)
	assert.Equal(t, enum.EventOutcomeDuplicate, res.Outcome)
	assert.Equal(t, 1, h.accounts.updates)
}

func TestHandleWebhook_IgnoresOtherEventTypes(t *testing.T) {
	h := newHarness(t)
	payload := []byte(`{"id":"evt_pi","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`)

	res, err := h.deliver(t, payload)
	require.NoError(t, err)
	assert.Equal(t, enum.EventOutcomeIgnored, res.Outcome)
}

func TestHandleWebhook_MalformedAccountObject(t *testing.T) {
	h := newHarness(t)
	payload := []byte(`{"id":"evt_bad","object":"event","type":"account.updated","data":{"object":{"object":"account"}}}`)

	_, err := h.deliver(t, payload)
	assert.ErrorIs(t, err, webhook.ErrMalformedPayload)
}
