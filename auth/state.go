package auth

import (
	"encoding/base64"

	"github.com/pkg/errors"
)

// The validated continuation URL travels through the provider round trip
// inside the opaque state parameter. Encoding is not trust: the URL is
// re-validated by the guard when the state comes back.

func encodeState(continueURL string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(continueURL))
}

func decodeState(state string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return "", errors.Wrap(ErrRedirectRejected, "[decodeState] undecodable state")
	}
	return string(raw), nil
}
