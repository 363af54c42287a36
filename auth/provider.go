package auth

import (
	"context"

	"github.com/kpmdev/kpm-registry/principal"
)

// IdentityProvider is the single upstream OAuth identity source. Exchange
// trades an authorization grant for the upstream access token and the
// profile it belongs to. Implementations carry their own bounded call
// timeout and retry budget, and report failures through
// ErrUpstreamExchangeFailed or ErrUpstreamTimeout so callers can
// distinguish a rejected grant from an unreachable provider.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, grant string) (upstreamToken string, identity principal.Identity, err error)
}
