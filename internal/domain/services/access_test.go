package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nizardhr/askstan-sub000/internal/domain/models"
)

func seedSubscription(store *memStore, accountID int64, status models.SubscriptionStatus) {
	end := time.Now().Add(30 * 24 * time.Hour)
	start := time.Now()
	ref := "sub_1"
	store.subs[accountID] = &models.Subscription{
		AccountID:               accountID,
		Status:                  status,
		PlanType:                models.PlanMonthly,
		ProviderSubscriptionRef: &ref,
		CurrentPeriodStart:      &start,
		CurrentPeriodEnd:        &end,
		UpdatedAt:               time.Now(),
	}
}

func TestCanAccessByStatus(t *testing.T) {
	tests := []struct {
		status  models.SubscriptionStatus
		allowed bool
		reason  DenyReason
	}{
		{models.StatusActive, true, DenyNone},
		{models.StatusTrialing, true, DenyNone},
		{models.StatusPastDue, false, DenyPastDue},
		{models.StatusUnpaid, false, DenyPastDue},
		{models.StatusCanceled, false, DenyCanceled},
		{models.StatusIncompleteExpired, false, DenyCanceled},
		{models.StatusIncomplete, false, DenyNoActiveSubscription},
		{models.StatusInactive, false, DenyNoActiveSubscription},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			store := newMemStore()
			seedSubscription(store, 1, tt.status)
			gate := NewAccessGate(store, newMemState(), testLogger())

			decision := gate.CanAccess(context.Background(), 1, true)
			assert.Equal(t, tt.allowed, decision.Allowed)
			assert.Equal(t, tt.reason, decision.Reason)
		})
	}
}

func TestCanAccessNoSubscription(t *testing.T) {
	gate := NewAccessGate(newMemStore(), newMemState(), testLogger())

	decision := gate.CanAccess(context.Background(), 1, true)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyNoActiveSubscription, decision.Reason)
}

func TestCanAccessWithoutRequirement(t *testing.T) {
	gate := NewAccessGate(newMemStore(), newMemState(), testLogger())

	decision := gate.CanAccess(context.Background(), 1, false)
	assert.True(t, decision.Allowed)
	assert.False(t, decision.Provisional)
}

func TestCanAccessReconcileBypass(t *testing.T) {
	store := newMemStore()
	state := newMemState()
	gate := NewAccessGate(store, state, testLogger())

	assert.NoError(t, state.SetReconcileInProgress(context.Background(), 1))

	decision := gate.CanAccess(context.Background(), 1, true)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.Provisional)

	assert.NoError(t, state.ClearReconcileInProgress(context.Background(), 1))
	decision = gate.CanAccess(context.Background(), 1, true)
	assert.False(t, decision.Allowed)
}

func TestBypassDoesNotMaskDeniedStatus(t *testing.T) {
	// The bypass only helps accounts with no entitled row yet; an entitled
	// row always wins, and after the bypass clears the stored status rules.
	store := newMemStore()
	seedSubscription(store, 1, models.StatusPastDue)
	state := newMemState()
	gate := NewAccessGate(store, state, testLogger())

	assert.NoError(t, state.SetReconcileInProgress(context.Background(), 1))
	decision := gate.CanAccess(context.Background(), 1, true)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.Provisional)

	assert.NoError(t, state.ClearReconcileInProgress(context.Background(), 1))
	decision = gate.CanAccess(context.Background(), 1, true)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyPastDue, decision.Reason)
}
