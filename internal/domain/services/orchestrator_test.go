package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nizardhr/askstan-sub000/internal/domain/billing"
	"github.com/nizardhr/askstan-sub000/internal/domain/models"
)

func newTestOrchestrator(t *testing.T) (*CheckoutOrchestrator, *fakeGateway, *memStore, *memState) {
	t.Helper()

	r, gw, store, _, state := newTestReconciler(t)
	o := NewCheckoutOrchestrator(r, state, testLogger())
	o.baseDelay = time.Millisecond
	return o, gw, store, state
}

func TestConfirmHappyPath(t *testing.T) {
	o, gw, _, state := newTestOrchestrator(t)

	start := time.Now()
	seedPaidSession(gw, "cs_1", "sub_1", 2900, start, start.Add(30*24*time.Hour))

	outcome, err := o.Confirm(context.Background(), 1, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StateEntitled, outcome.State)
	assert.Equal(t, 1, gw.retrieveSessionCalls)

	// The bypass must not survive the confirmation.
	assert.False(t, state.ReconcileInProgress(context.Background(), 1))
}

func TestConfirmRetriesProviderOutage(t *testing.T) {
	o, gw, _, _ := newTestOrchestrator(t)

	start := time.Now()
	seedPaidSession(gw, "cs_1", "sub_1", 2900, start, start.Add(30*24*time.Hour))
	gw.sessionOutages = 2

	outcome, err := o.Confirm(context.Background(), 1, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StateEntitled, outcome.State)
	assert.Equal(t, 3, gw.retrieveSessionCalls)
}

func TestConfirmGivesUpAfterMaxAttempts(t *testing.T) {
	o, gw, _, state := newTestOrchestrator(t)
	gw.sessionOutages = 10

	outcome, err := o.Confirm(context.Background(), 1, "cs_1")
	require.ErrorIs(t, err, billing.ErrProviderUnavailable)
	assert.Equal(t, billing.ReasonProviderUnavailable, outcome.Reason)
	assert.Equal(t, 3, gw.retrieveSessionCalls)

	// A retryable failure releases the session ref so a manual retry can
	// consume it again.
	first, err := state.ConsumeSession(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestConfirmReplayReturnsSnapshot(t *testing.T) {
	o, gw, _, _ := newTestOrchestrator(t)

	start := time.Now()
	seedPaidSession(gw, "cs_1", "sub_1", 2900, start, start.Add(30*24*time.Hour))

	_, err := o.Confirm(context.Background(), 1, "cs_1")
	require.NoError(t, err)

	outcome, err := o.Confirm(context.Background(), 1, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StateEntitled, outcome.State)
	assert.Equal(t, 1, gw.retrieveSessionCalls, "a replay must not hit the provider again")
}

func TestConfirmReplayWithoutEntitlement(t *testing.T) {
	o, gw, _, state := newTestOrchestrator(t)

	gw.sessions["cs_1"] = &CheckoutSessionInfo{
		SessionRef:    "cs_1",
		PaymentStatus: "unpaid",
		Metadata:      map[string]string{"account_id": "1"},
	}

	// Unpaid is retryable so the first attempt releases the ref; mark it
	// consumed again to simulate a concurrent second tab.
	_, err := o.Confirm(context.Background(), 1, "cs_1")
	require.ErrorIs(t, err, billing.ErrPaymentIncomplete)
	_, err = state.ConsumeSession(context.Background(), "cs_1")
	require.NoError(t, err)

	outcome, err := o.Confirm(context.Background(), 1, "cs_1")
	require.ErrorIs(t, err, billing.ErrPaymentIncomplete)
	assert.Equal(t, billing.StateFailed, outcome.State)
}

func TestConfirmRetriesAfterSubscriptionActivates(t *testing.T) {
	// The subscription is still activating when the redirect lands; the
	// manual retry with the same session ref must re-check the provider
	// rather than replay the failed snapshot.
	o, gw, _, _ := newTestOrchestrator(t)

	start := time.Now()
	seedPaidSession(gw, "cs_1", "sub_1", 2900, start, start.Add(30*24*time.Hour))
	gw.details["sub_1"].Status = models.StatusIncomplete

	outcome, err := o.Confirm(context.Background(), 1, "cs_1")
	require.Error(t, err)
	assert.Equal(t, billing.ReasonSubscriptionNotActive, outcome.Reason)

	gw.details["sub_1"].Status = models.StatusActive

	outcome, err = o.Confirm(context.Background(), 1, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StateEntitled, outcome.State)
	assert.Equal(t, 2, gw.retrieveSessionCalls)
}

func TestConfirmDoesNotRetryNonTransientFailures(t *testing.T) {
	o, gw, _, _ := newTestOrchestrator(t)

	gw.sessions["cs_1"] = &CheckoutSessionInfo{
		SessionRef:    "cs_1",
		PaymentStatus: "unpaid",
		Metadata:      map[string]string{"account_id": "1"},
	}

	_, err := o.Confirm(context.Background(), 1, "cs_1")
	require.ErrorIs(t, err, billing.ErrPaymentIncomplete)
	assert.Equal(t, 1, gw.retrieveSessionCalls)
}

func TestConfirmCancellation(t *testing.T) {
	o, gw, _, _ := newTestOrchestrator(t)
	gw.sessionOutages = 10

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Confirm(ctx, 1, "cs_1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, gw.retrieveSessionCalls)
}
