// Package billing holds the error taxonomy and outcome vocabulary shared by
// the reconciliation engine, the gateway adapter, and the HTTP layer. Raw
// provider errors never cross a component boundary; they are mapped onto
// these categories at the adapter.
package billing

import (
	"errors"
	"fmt"

	"github.com/nizardhr/askstan-sub000/internal/domain/models"
)

var (
	// ErrProviderUnavailable marks transient provider outages. Callers may
	// retry with backoff.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrInvalidSignature rejects a webhook whose signature does not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrPaymentIncomplete: the session exists but payment has not settled.
	// The user may retry checkout, or re-check after a delay.
	ErrPaymentIncomplete = errors.New("payment incomplete")

	// ErrSubscriptionMissing: a paid session carries no subscription and is
	// not a free grant. Indicates a data inconsistency upstream.
	ErrSubscriptionMissing = errors.New("subscription missing from checkout session")

	// ErrSessionNotFound: the provider does not know the session ref.
	ErrSessionNotFound = errors.New("checkout session not found")

	// ErrInvalidPlan: the requested price ref is not one we sell.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrPersistenceFailed: the entitlement upsert did not commit. Success
	// must never be reported past this error.
	ErrPersistenceFailed = errors.New("entitlement write failed")

	// ErrStaleEvent: the event is older than the stored record and was
	// discarded. Logged at debug, acknowledged to the provider.
	ErrStaleEvent = errors.New("stale event discarded")
)

// SubscriptionNotActiveError carries the provider status so the UI can show
// it without exposing raw provider payloads.
type SubscriptionNotActiveError struct {
	Status models.SubscriptionStatus
}

func (e *SubscriptionNotActiveError) Error() string {
	return fmt.Sprintf("subscription not active: %s", e.Status)
}
