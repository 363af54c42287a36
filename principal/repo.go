package principal

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by lookups that match no principal.
	ErrNotFound = errors.New("principal not found")
	// ErrDuplicateGithubID is returned by Create when the unique constraint
	// on the upstream id is violated. The storage layer is the final
	// arbiter of concurrent create races.
	ErrDuplicateGithubID = errors.New("duplicate github id")
)

type Repo interface {
	Create(ctx context.Context, p *Principal) error
	Update(ctx context.Context, githubID, username, email string) error
	GetByGithubID(ctx context.Context, githubID string) (*Principal, error)
	GetByID(ctx context.Context, id string) (*Principal, error)
}
