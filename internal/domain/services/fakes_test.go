package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nizardhr/askstan-sub000/internal/domain/billing"
	"github.com/nizardhr/askstan-sub000/internal/domain/models"
	"github.com/nizardhr/askstan-sub000/internal/domain/repositories"
)

// memStore is an in-memory entitlement store with the same upsert and
// staleness semantics as the Postgres implementation.
type memStore struct {
	mu         sync.Mutex
	subs       map[int64]*models.Subscription
	billing    []*models.BillingHistoryEntry
	promos     []*models.PromoUsage
	failUpsert bool
}

func newMemStore() *memStore {
	return &memStore{subs: make(map[int64]*models.Subscription)}
}

func (s *memStore) Upsert(_ context.Context, sub *models.Subscription) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failUpsert {
		return nil, fmt.Errorf("connection refused")
	}

	stored := *sub
	if existing, ok := s.subs[sub.AccountID]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		if stored.ID == uuid.Nil {
			stored.ID = uuid.New()
		}
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = time.Now()
	s.subs[sub.AccountID] = &stored

	out := stored
	return &out, nil
}

func (s *memStore) GetByAccountID(_ context.Context, accountID int64) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[accountID]
	if !ok {
		return nil, nil
	}
	out := *sub
	return &out, nil
}

func (s *memStore) GetByProviderSubscriptionRef(_ context.Context, ref string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if sub.ProviderSubscriptionRef != nil && *sub.ProviderSubscriptionRef == ref {
			out := *sub
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memStore) UpdateFromEvent(_ context.Context, ref string, fields repositories.EventFields, eventTime time.Time) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if sub.ProviderSubscriptionRef == nil || *sub.ProviderSubscriptionRef != ref {
			continue
		}
		if sub.UpdatedAt.After(eventTime) {
			return nil, billing.ErrStaleEvent
		}
		sub.Status = fields.Status
		if fields.CurrentPeriodStart != nil {
			sub.CurrentPeriodStart = fields.CurrentPeriodStart
		}
		if fields.CurrentPeriodEnd != nil {
			sub.CurrentPeriodEnd = fields.CurrentPeriodEnd
		}
		if fields.CancelAtPeriodEnd != nil {
			sub.CancelAtPeriodEnd = *fields.CancelAtPeriodEnd
		}
		if fields.CanceledAt != nil {
			sub.CanceledAt = fields.CanceledAt
		}
		sub.UpdatedAt = time.Now()
		out := *sub
		return &out, nil
	}
	return nil, fmt.Errorf("no subscription for provider ref %s", ref)
}

func (s *memStore) AppendBillingHistory(_ context.Context, entry *models.BillingHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.billing {
		if e.ProviderSessionRef == entry.ProviderSessionRef {
			return nil
		}
	}
	s.billing = append(s.billing, entry)
	return nil
}

func (s *memStore) AppendPromoUsage(_ context.Context, usage *models.PromoUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.promos = append(s.promos, usage)
	return nil
}

type memAccounts struct {
	mu        sync.Mutex
	accounts  map[int64]*models.Account
	onboarded map[int64]bool
	failMark  bool
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		accounts:  make(map[int64]*models.Account),
		onboarded: make(map[int64]bool),
	}
}

func (a *memAccounts) GetByID(_ context.Context, id int64) (*models.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, ok := a.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account with id %d not found", id)
	}
	return acc, nil
}

func (a *memAccounts) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, acc := range a.accounts {
		if acc.Email == email {
			return acc, nil
		}
	}
	return nil, fmt.Errorf("account with email %s not found", email)
}

func (a *memAccounts) MarkOnboardingCompleted(_ context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.failMark {
		return fmt.Errorf("connection refused")
	}
	a.onboarded[id] = true
	return nil
}

// memState is an in-memory CheckoutState.
type memState struct {
	mu       sync.Mutex
	intents  map[string]*models.CheckoutIntent
	consumed map[string]bool
	bypass   map[int64]bool
	ledger   map[string]bool
}

func newMemState() *memState {
	return &memState{
		intents:  make(map[string]*models.CheckoutIntent),
		consumed: make(map[string]bool),
		bypass:   make(map[int64]bool),
		ledger:   make(map[string]bool),
	}
}

func (s *memState) SaveIntent(_ context.Context, ref string, intent *models.CheckoutIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[ref] = intent
	return nil
}

func (s *memState) GetIntent(_ context.Context, ref string) (*models.CheckoutIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intents[ref], nil
}

func (s *memState) ConsumeSession(_ context.Context, ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed[ref] {
		return false, nil
	}
	s.consumed[ref] = true
	return true, nil
}

func (s *memState) ReleaseSession(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.consumed, ref)
	return nil
}

func (s *memState) SetReconcileInProgress(_ context.Context, accountID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bypass[accountID] = true
	return nil
}

func (s *memState) ClearReconcileInProgress(_ context.Context, accountID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bypass, accountID)
	return nil
}

func (s *memState) ReconcileInProgress(_ context.Context, accountID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bypass[accountID]
}

func (s *memState) MarkLedgerWrite(_ context.Context, kind, ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := kind + ":" + ref
	if s.ledger[key] {
		return false, nil
	}
	s.ledger[key] = true
	return true, nil
}

// fakeGateway scripts provider responses per session/subscription ref.
type fakeGateway struct {
	mu sync.Mutex

	sessions map[string]*CheckoutSessionInfo
	details  map[string]*SubscriptionDetail
	promos   map[string]*PromoValidation

	sessionErr error
	detailErr  error

	// sessionOutages fails RetrieveSession with ErrProviderUnavailable this
	// many times before serving normally.
	sessionOutages int

	retrieveSessionCalls int
	retrieveDetailCalls  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		sessions: make(map[string]*CheckoutSessionInfo),
		details:  make(map[string]*SubscriptionDetail),
		promos:   make(map[string]*PromoValidation),
	}
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req *CheckoutSessionRequest) (string, string, error) {
	ref := "cs_" + req.PriceRef
	return "https://pay.example.com/" + ref, ref, nil
}

func (g *fakeGateway) RetrieveSession(_ context.Context, ref string) (*CheckoutSessionInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.retrieveSessionCalls++
	if g.sessionOutages > 0 {
		g.sessionOutages--
		return nil, billing.ErrProviderUnavailable
	}
	if g.sessionErr != nil {
		return nil, g.sessionErr
	}
	sess, ok := g.sessions[ref]
	if !ok {
		return nil, billing.ErrSessionNotFound
	}
	return sess, nil
}

func (g *fakeGateway) RetrieveSubscriptionDetail(_ context.Context, ref string) (*SubscriptionDetail, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.retrieveDetailCalls++
	if g.detailErr != nil {
		return nil, g.detailErr
	}
	detail, ok := g.details[ref]
	if !ok {
		return nil, billing.ErrSubscriptionMissing
	}
	return detail, nil
}

func (g *fakeGateway) ValidatePromotionCode(_ context.Context, code string) (*PromoValidation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if promo, ok := g.promos[code]; ok {
		return promo, nil
	}
	return &PromoValidation{Valid: false, Reason: "not_found", Code: code}, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, ref string, atPeriodEnd bool) (*SubscriptionDetail, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	detail, ok := g.details[ref]
	if !ok {
		return nil, billing.ErrSubscriptionMissing
	}
	out := *detail
	if atPeriodEnd {
		out.CancelAtPeriodEnd = true
	} else {
		out.Status = models.StatusCanceled
		now := time.Now()
		out.CanceledAt = &now
	}
	return &out, nil
}

func (g *fakeGateway) VerifyWebhookSignature(_ []byte, _ string) (*models.WebhookEvent, error) {
	return nil, billing.ErrInvalidSignature
}
