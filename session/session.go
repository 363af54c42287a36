// Package session ties an HTTP client to a reconstructed principal across
// requests. Records move through the codec only; handlers never touch the
// backing store's raw representation.
package session

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Load when no live session exists for the id.
	ErrNotFound = errors.New("session not found")
	// ErrMalformedSession means a stored record is missing required fields
	// or carries an unparsable timestamp. Callers treat this as "no valid
	// session" and force re-authentication; it is never fatal.
	ErrMalformedSession = errors.New("malformed session record")
)

// Record is the storable snapshot of a principal. CreatedAt is carried as
// an RFC 3339 string so the record survives any backing store that only
// handles portable text.
type Record struct {
	ID        string `json:"id"`
	GithubID  string `json:"github_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

// Store persists session records keyed by a store-assigned session id.
// Implementations apply a sliding expiry window: Load on a live session
// extends it, Load on an expired one fails with ErrNotFound. Destroy on an
// unknown id is a no-op.
type Store interface {
	Save(ctx context.Context, sessionID string, rec Record) error
	Load(ctx context.Context, sessionID string) (Record, error)
	Destroy(ctx context.Context, sessionID string) error
}
