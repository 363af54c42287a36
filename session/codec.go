package session

import (
	"time"

	"github.com/pkg/errors"

	"github.com/kpmdev/kpm-registry/principal"
)

// Serialize converts a principal into a storable record. The creation time
// round-trips through RFC 3339, which carries whole seconds: sub-second
// precision is deliberately lost on the way through a session.
func Serialize(p principal.Principal) Record {
	return Record{
		ID:        p.ID,
		GithubID:  p.GithubID,
		Username:  p.Username,
		Email:     p.Email,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Deserialize reconstructs the principal from a stored record. It fails
// with ErrMalformedSession when required fields are missing or the
// timestamp does not parse.
func Deserialize(rec Record) (principal.Principal, error) {
	if rec.ID == "" || rec.GithubID == "" || rec.Username == "" {
		return principal.Principal{}, errors.Wrap(ErrMalformedSession, "[session.Deserialize] missing required field")
	}
	createdAt, err := time.Parse(time.RFC3339, rec.CreatedAt)
	if err != nil {
		return principal.Principal{}, errors.Wrap(ErrMalformedSession, "[session.Deserialize] unparsable created_at")
	}
	return principal.Principal{
		ID:        rec.ID,
		GithubID:  rec.GithubID,
		Username:  rec.Username,
		Email:     rec.Email,
		CreatedAt: createdAt,
	}, nil
}
