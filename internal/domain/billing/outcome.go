package billing

import (
	"errors"

	"github.com/nizardhr/askstan-sub000/internal/domain/models"
)

// State of a checkout attempt as it moves through reconciliation.
// Entitled and Failed are terminal.
type State string

const (
	StatePending         State = "pending"
	StatePaidUnconfirmed State = "paid_unconfirmed"
	StateFreeGrant       State = "free_grant"
	StateEntitled        State = "entitled"
	StateFailed          State = "failed"
)

// FailureReason is the stable, user-mappable category behind a failed
// reconciliation.
type FailureReason string

const (
	ReasonNone                  FailureReason = ""
	ReasonPaymentIncomplete     FailureReason = "payment_incomplete"
	ReasonSubscriptionMissing   FailureReason = "subscription_missing"
	ReasonSubscriptionNotActive FailureReason = "subscription_not_active"
	ReasonProviderUnavailable   FailureReason = "provider_unavailable"
	ReasonPersistenceFailed     FailureReason = "persistence_failed"
)

// Retryable reports whether a new attempt may change the result without a
// new checkout.
func (r FailureReason) Retryable() bool {
	return r == ReasonProviderUnavailable || r == ReasonPaymentIncomplete
}

// Outcome is the terminal result of one reconciliation invocation.
type Outcome struct {
	State          State
	Reason         FailureReason
	ProviderStatus models.SubscriptionStatus
	Subscription   *models.Subscription
}

func Entitled(sub *models.Subscription) *Outcome {
	return &Outcome{State: StateEntitled, Subscription: sub}
}

func Failed(reason FailureReason) *Outcome {
	return &Outcome{State: StateFailed, Reason: reason}
}

// ReasonForError maps taxonomy errors onto failure reasons for outward
// reporting.
func ReasonForError(err error) FailureReason {
	var notActive *SubscriptionNotActiveError
	switch {
	case errors.Is(err, ErrPaymentIncomplete):
		return ReasonPaymentIncomplete
	case errors.Is(err, ErrSubscriptionMissing), errors.Is(err, ErrSessionNotFound):
		return ReasonSubscriptionMissing
	case errors.Is(err, ErrProviderUnavailable):
		return ReasonProviderUnavailable
	case errors.Is(err, ErrPersistenceFailed):
		return ReasonPersistenceFailed
	case errors.As(err, &notActive):
		return ReasonSubscriptionNotActive
	}
	return ReasonProviderUnavailable
}
