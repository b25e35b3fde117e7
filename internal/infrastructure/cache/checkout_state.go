package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nizardhr/askstan-sub000/internal/domain/models"
)

const (
	// DedupWindow bounds how long a checkout attempt is remembered. After it
	// expires a replayed session ref falls through to the store's unique
	// indexes, which remain the durable guard.
	DedupWindow = 24 * time.Hour

	// BypassTTL caps the provisional access granted while a reconciliation
	// is in flight. It expires even if the reconciliation never completes.
	BypassTTL = 60 * time.Second
)

// CheckoutStateStore keeps the ephemeral coordination state around checkout
// attempts: the pending intent recorded at session creation, the
// once-per-session consumption marker, the reconcile-in-progress bypass
// flag, and dedup keys for the append-only ledgers.
type CheckoutStateStore struct {
	rdb *RedisClient
}

func NewCheckoutStateStore(rdb *RedisClient) *CheckoutStateStore {
	return &CheckoutStateStore{rdb: rdb}
}

func intentKey(sessionRef string) string  { return "checkout:intent:" + sessionRef }
func consumeKey(sessionRef string) string { return "checkout:consumed:" + sessionRef }
func bypassKey(accountID int64) string    { return fmt.Sprintf("checkout:reconciling:%d", accountID) }
func ledgerKey(kind, sessionRef string) string {
	return fmt.Sprintf("checkout:ledger:%s:%s", kind, sessionRef)
}

// SaveIntent records what the account was buying when the checkout session
// was created, so both reconciliation paths see the same plan and promo.
func (s *CheckoutStateStore) SaveIntent(ctx context.Context, sessionRef string, intent *models.CheckoutIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to encode checkout intent: %w", err)
	}

	if err := s.rdb.Set(ctx, intentKey(sessionRef), payload, DedupWindow).Err(); err != nil {
		return fmt.Errorf("failed to save checkout intent: %w", err)
	}
	return nil
}

// GetIntent returns nil without error when no intent is known, e.g. after
// the dedup window or for sessions created by another deployment.
func (s *CheckoutStateStore) GetIntent(ctx context.Context, sessionRef string) (*models.CheckoutIntent, error) {
	payload, err := s.rdb.Get(ctx, intentKey(sessionRef)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkout intent: %w", err)
	}

	var intent models.CheckoutIntent
	if err := json.Unmarshal(payload, &intent); err != nil {
		return nil, fmt.Errorf("failed to decode checkout intent: %w", err)
	}
	return &intent, nil
}

// ConsumeSession marks a session ref as reconciled. Returns true for the
// first caller only; replays see false and must not re-drive the flow.
func (s *CheckoutStateStore) ConsumeSession(ctx context.Context, sessionRef string) (bool, error) {
	first, err := s.rdb.SetNX(ctx, consumeKey(sessionRef), time.Now().Unix(), DedupWindow).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark session consumed: %w", err)
	}
	return first, nil
}

// ReleaseSession undoes ConsumeSession so a failed attempt can be retried
// with the same session ref.
func (s *CheckoutStateStore) ReleaseSession(ctx context.Context, sessionRef string) error {
	return s.rdb.Del(ctx, consumeKey(sessionRef)).Err()
}

// SetReconcileInProgress grants the short-lived access bypass so the user
// is not bounced to the paywall while their payment is being confirmed.
// The TTL is the hard cap.
func (s *CheckoutStateStore) SetReconcileInProgress(ctx context.Context, accountID int64) error {
	return s.rdb.Set(ctx, bypassKey(accountID), 1, BypassTTL).Err()
}

func (s *CheckoutStateStore) ClearReconcileInProgress(ctx context.Context, accountID int64) error {
	return s.rdb.Del(ctx, bypassKey(accountID)).Err()
}

func (s *CheckoutStateStore) ReconcileInProgress(ctx context.Context, accountID int64) bool {
	n, err := s.rdb.Exists(ctx, bypassKey(accountID)).Result()
	return err == nil && n > 0
}

// MarkLedgerWrite dedups the best-effort append ops (billing history, promo
// usage) per session ref. First caller gets true.
func (s *CheckoutStateStore) MarkLedgerWrite(ctx context.Context, kind, sessionRef string) (bool, error) {
	first, err := s.rdb.SetNX(ctx, ledgerKey(kind, sessionRef), 1, DedupWindow).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark ledger write: %w", err)
	}
	return first, nil
}
