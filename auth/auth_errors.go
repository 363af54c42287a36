package auth

import "errors"

var (
	// ErrRedirectRejected means a continuation target failed the origin
	// allow-list. The handshake terminates; there is no fallback
	// destination, which would reintroduce the open-redirect risk.
	ErrRedirectRejected = errors.New("untrusted continuation target")
	// ErrUpstreamExchangeFailed means the provider rejected or failed the
	// grant exchange.
	ErrUpstreamExchangeFailed = errors.New("upstream exchange failed")
	// ErrUpstreamTimeout means the provider was unreachable or exceeded the
	// bounded call timeout, after the retry budget was spent.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrNoUsableToken means the handshake could neither reuse nor issue a
	// bearer token for the resolved principal.
	ErrNoUsableToken = errors.New("no usable access token")
)
