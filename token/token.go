// Package token manages the lifecycle of bearer access tokens: issuance,
// validity checks with lazy eviction of expired rows, and reuse lookups.
package token

import "time"

// Generator tags identify where a token value came from.
const (
	GeneratorGithub = "GitHub" // raw upstream access token stored as-is
	GeneratorLocal  = "local"  // locally minted random secret
)

// AccessToken is a bearer credential usable for API authorization,
// decoupled from the session cookie. The stored value IS the value
// presented by clients; validity is an existence lookup plus an expiry
// comparison.
type AccessToken struct {
	Token       string    `json:"token"`
	PrincipalID string    `json:"principal_id"`
	Generator   string    `json:"generator"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the token is no longer valid at the given time.
func (t AccessToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
