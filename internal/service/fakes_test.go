package service

import (
	"context"
	"fmt"
	"sync"

	"app/internal/model"
)

// In-memory doubles for the store-backed repositories.

type fakeBillingRepo struct {
	mu        sync.Mutex
	events    map[string]*model.BillingEvent
	balances  map[string]int64
	plans     map[string]model.BillingPlan
	deleted   []string
	recordErr error
	plansErr  error
	addErr    error
}

func newFakeBillingRepo() *fakeBillingRepo {
	return &fakeBillingRepo{
		events:   make(map[string]*model.BillingEvent),
		balances: make(map[string]int64),
		plans:    make(map[string]model.BillingPlan),
	}
}

func (f *fakeBillingRepo) RecordBillingEvent(_ context.Context, ev *model.BillingEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return false, f.recordErr
	}
	if _, ok := f.events[ev.EventID]; ok {
		return false, nil
	}
	f.events[ev.EventID] = ev
	return true, nil
}

func (f *fakeBillingRepo) DeleteBillingEvent(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.events, eventID)
	f.deleted = append(f.deleted, eventID)
	return nil
}

func (f *fakeBillingRepo) GetPlansByPriceIDs(_ context.Context, priceIDs []string) ([]model.BillingPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.plansErr != nil {
		return nil, f.plansErr
	}
	var out []model.BillingPlan
	for _, id := range priceIDs {
		if p, ok := f.plans[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeBillingRepo) AddCredits(_ context.Context, userID string, credits int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.balances[userID] += credits
	return nil
}

func (f *fakeBillingRepo) GetBalance(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID], nil
}

type fakeGrantRepo struct {
	mu     sync.Mutex
	grants map[string]*model.CreditGrant
	err    error
}

func newFakeGrantRepo() *fakeGrantRepo {
	return &fakeGrantRepo{grants: make(map[string]*model.CreditGrant)}
}

func grantKey(userID, source, sourceID string) string {
	return fmt.Sprintf("%s|%s|%s", userID, source, sourceID)
}

func (f *fakeGrantRepo) UpsertCreditGrant(_ context.Context, g *model.CreditGrant) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	key := grantKey(g.UserID, g.Source, g.SourceID)
	if _, ok := f.grants[key]; ok {
		return false, nil
	}
	f.grants[key] = g
	return true, nil
}

func (f *fakeGrantRepo) GetGrant(_ context.Context, userID, source, sourceID string) (*model.CreditGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.grants[grantKey(userID, source, sourceID)], nil
}

func (f *fakeGrantRepo) ListGrants(_ context.Context, userID string, source *string, limit, offset int) ([]model.CreditGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CreditGrant
	for _, g := range f.grants {
		if g.UserID != userID {
			continue
		}
		if source != nil && g.Source != *source {
			continue
		}
		out = append(out, *g)
	}
	return out, nil
}

type fakeUserRepo struct {
	profiles map[string]*model.UserProfile
	err      error
}

func (f *fakeUserRepo) GetProfile(_ context.Context, userID string) (*model.UserProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.profiles[userID], nil
}

type fakeIdentity struct {
	users map[string]*model.IdentityUser
	err   error
	calls int
}

func (f *fakeIdentity) GetUser(_ context.Context, userID string) (*model.IdentityUser, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.users[userID], nil
}

type fakeSalesRepo struct {
	mu          sync.Mutex
	rows        map[string]string // user|idemKey -> request_id
	inserts     int
	lastRequest *model.SalesContactRequest
	err         error
}

func newFakeSalesRepo() *fakeSalesRepo {
	return &fakeSalesRepo{rows: make(map[string]string)}
}

func (f *fakeSalesRepo) InsertContactRequest(_ context.Context, req *model.SalesContactRequest) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", false, f.err
	}
	f.lastRequest = req
	key := req.UserID + "|"
	if req.IdempotencyKey != nil {
		key += *req.IdempotencyKey
	} else {
		key += req.RequestID
	}
	if existing, ok := f.rows[key]; ok {
		return existing, true, nil
	}
	f.rows[key] = req.RequestID
	f.inserts++
	return req.RequestID, false, nil
}
