package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nizardhr/askstan-sub000/internal/domain/billing"
)

// CheckoutOrchestrator drives redirect-path reconciliation after the user
// lands back from the hosted payment page. It guarantees one invocation per
// session ref, keeps the access bypass alive for the duration, and retries
// transient provider failures with bounded backoff before handing the user
// a manual retry affordance.
type CheckoutOrchestrator struct {
	reconciler *Reconciler
	state      CheckoutState
	logger     *slog.Logger

	maxAttempts int
	baseDelay   time.Duration
}

func NewCheckoutOrchestrator(reconciler *Reconciler, state CheckoutState, logger *slog.Logger) *CheckoutOrchestrator {
	return &CheckoutOrchestrator{
		reconciler:  reconciler,
		state:       state,
		logger:      logger,
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
	}
}

// Confirm reconciles one checkout redirect. A replayed session ref (page
// refresh, bookmark) does not re-drive the flow: it reads the stored
// entitlement instead, which is safe because reconciliation is idempotent
// and the first invocation already converged the row.
func (o *CheckoutOrchestrator) Confirm(ctx context.Context, accountID int64, sessionRef string) (*billing.Outcome, error) {
	first, err := o.state.ConsumeSession(ctx, sessionRef)
	if err != nil {
		o.logger.Warn("session consumption check failed, proceeding",
			"session_ref", sessionRef, "error", err)
		first = true
	}
	if !first {
		return o.snapshotOutcome(ctx, accountID)
	}

	if err := o.state.SetReconcileInProgress(ctx, accountID); err != nil {
		o.logger.Warn("failed to set reconcile bypass", "account_id", accountID, "error", err)
	}
	defer func() {
		if err := o.state.ClearReconcileInProgress(context.WithoutCancel(ctx), accountID); err != nil {
			o.logger.Warn("failed to clear reconcile bypass", "account_id", accountID, "error", err)
		}
	}()

	var outcome *billing.Outcome
	var recErr error
	delay := o.baseDelay

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		outcome, recErr = o.reconciler.ReconcileCheckout(ctx, accountID, sessionRef)
		if recErr == nil || !errors.Is(recErr, billing.ErrProviderUnavailable) {
			break
		}

		o.logger.Warn("reconciliation hit provider outage",
			"account_id", accountID, "session_ref", sessionRef, "attempt", attempt)

		if attempt == o.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return outcome, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	if outcome != nil && outcome.State == billing.StateFailed {
		// Leave the session ref available for the manual retry control.
		// Provider-side state can change after any failure (payment
		// confirmation lag, a subscription still activating), and a
		// re-drive is idempotent.
		if err := o.state.ReleaseSession(context.WithoutCancel(ctx), sessionRef); err != nil {
			o.logger.Warn("failed to release session for retry",
				"session_ref", sessionRef, "error", err)
		}
	}

	return outcome, recErr
}

func (o *CheckoutOrchestrator) snapshotOutcome(ctx context.Context, accountID int64) (*billing.Outcome, error) {
	sub, err := o.reconciler.store.GetByAccountID(ctx, accountID)
	if err != nil {
		return billing.Failed(billing.ReasonPersistenceFailed), err
	}
	if sub != nil && sub.Status.Entitled() {
		return billing.Entitled(sub), nil
	}
	return billing.Failed(billing.ReasonPaymentIncomplete), billing.ErrPaymentIncomplete
}
