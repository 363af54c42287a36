package faketokenrepo

import (
	"context"
	"sync"
	"time"

	"github.com/kpmdev/kpm-registry/token"
)

var _ token.Repo = (*FakeTokenRepo)(nil)

type FakeTokenRepo struct {
	lock        sync.RWMutex
	tokens      map[string]*token.AccessToken
	insertCalls int
}

func NewFakeTokenRepo() *FakeTokenRepo {
	return &FakeTokenRepo{tokens: make(map[string]*token.AccessToken)}
}

func (r *FakeTokenRepo) Insert(_ context.Context, t *token.AccessToken) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.insertCalls++
	if _, ok := r.tokens[t.Token]; ok {
		return token.ErrDuplicateToken
	}
	cp := *t
	r.tokens[cp.Token] = &cp
	return nil
}

func (r *FakeTokenRepo) Get(_ context.Context, tokenValue string) (*token.AccessToken, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	t, ok := r.tokens[tokenValue]
	if !ok {
		return nil, token.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *FakeTokenRepo) Delete(_ context.Context, tokenValue string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.tokens, tokenValue)
	return nil
}

func (r *FakeTokenRepo) LatestValid(_ context.Context, principalID string, now time.Time) (*token.AccessToken, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	var latest *token.AccessToken
	for _, t := range r.tokens {
		if t.PrincipalID != principalID || t.Expired(now) {
			continue
		}
		if latest == nil || t.ExpiresAt.After(latest.ExpiresAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, token.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

// InsertCalls reports how many times Insert ran, for churn assertions.
func (r *FakeTokenRepo) InsertCalls() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.insertCalls
}

// Contains reports whether a row for the value is still present, bypassing
// expiry logic. Used to assert lazy eviction removed the row.
func (r *FakeTokenRepo) Contains(tokenValue string) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	_, ok := r.tokens[tokenValue]
	return ok
}
