package token

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by lookups that match no token row.
	ErrNotFound = errors.New("access token not found")
	// ErrDuplicateToken is returned by Insert when the unique constraint on
	// the token value is violated.
	ErrDuplicateToken = errors.New("duplicate access token")
)

type Repo interface {
	Insert(ctx context.Context, t *AccessToken) error
	Get(ctx context.Context, tokenValue string) (*AccessToken, error)
	Delete(ctx context.Context, tokenValue string) error
	// LatestValid returns the most recently expiring token for a principal
	// whose expiry is strictly after now.
	LatestValid(ctx context.Context, principalID string, now time.Time) (*AccessToken, error)
}
