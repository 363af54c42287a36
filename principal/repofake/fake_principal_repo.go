package fakeprincipalrepo

import (
	"context"
	"sync"

	"github.com/kpmdev/kpm-registry/principal"
)

var _ principal.Repo = (*FakePrincipalRepo)(nil)

type FakePrincipalRepo struct {
	lock       sync.RWMutex
	byGithubID map[string]*principal.Principal
	byID       map[string]*principal.Principal
}

func NewFakePrincipalRepo() *FakePrincipalRepo {
	return &FakePrincipalRepo{
		byGithubID: make(map[string]*principal.Principal),
		byID:       make(map[string]*principal.Principal),
	}
}

func (r *FakePrincipalRepo) Create(_ context.Context, p *principal.Principal) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.byGithubID[p.GithubID]; ok {
		return principal.ErrDuplicateGithubID
	}
	cp := *p
	r.byGithubID[cp.GithubID] = &cp
	r.byID[cp.ID] = &cp
	return nil
}

func (r *FakePrincipalRepo) Update(_ context.Context, githubID, username, email string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	p, ok := r.byGithubID[githubID]
	if !ok {
		return principal.ErrNotFound
	}
	p.Username = username
	p.Email = email
	return nil
}

func (r *FakePrincipalRepo) GetByGithubID(_ context.Context, githubID string) (*principal.Principal, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	p, ok := r.byGithubID[githubID]
	if !ok {
		return nil, principal.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *FakePrincipalRepo) GetByID(_ context.Context, id string) (*principal.Principal, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, principal.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// Count reports how many principals exist, for uniqueness assertions.
func (r *FakePrincipalRepo) Count() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.byGithubID)
}
