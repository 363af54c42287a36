package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const secretLength = 32

// ErrTokenCollision means issuance hit the storage-level unique constraint
// on the token value. Practically unreachable given token entropy, but it
// is reported distinctly rather than silently overwriting the existing row.
var ErrTokenCollision = errors.New("access token collision")

// Store provides the lifecycle operations for bearer tokens. All state
// lives in the repo; the store itself holds no mutable state and is safe
// for concurrent use.
type Store struct {
	repo    Repo
	nowTime func() time.Time
}

type StoreOption func(*Store)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

func NewStore(repo Repo, options ...StoreOption) (*Store, error) {
	if repo == nil {
		return nil, errors.New("[NewStore] repo is required")
	}
	s := &Store{repo: repo, nowTime: time.Now}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Issue inserts a new token row expiring ttl from now. There is no
// uniqueness pre-check; a constraint violation surfaces as
// ErrTokenCollision.
func (s *Store) Issue(ctx context.Context, principalID, tokenValue, generator string, ttl time.Duration) (*AccessToken, error) {
	if ttl <= 0 {
		return nil, errors.Errorf("[Store.Issue] ttl must be positive, got %s", ttl)
	}
	now := s.nowTime()
	t := &AccessToken{
		Token:       tokenValue,
		PrincipalID: principalID,
		Generator:   generator,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	if err := s.repo.Insert(ctx, t); err != nil {
		if errors.Is(err, ErrDuplicateToken) {
			return nil, errors.Wrap(ErrTokenCollision, "[Store.Issue] insert")
		}
		return nil, errors.Wrap(err, "[Store.Issue] insert")
	}
	return t, nil
}

// Check reports whether a presented bearer value is currently valid.
func (s *Store) Check(ctx context.Context, tokenValue string) (bool, error) {
	t, err := s.Resolve(ctx, tokenValue)
	if err != nil {
		return false, err
	}
	return t != nil, nil
}

// Resolve returns the token row for a presented bearer value, or nil when
// the value is unknown or expired. An expired row is deleted on first
// access (lazy eviction) so no background sweeper is needed.
func (s *Store) Resolve(ctx context.Context, tokenValue string) (*AccessToken, error) {
	t, err := s.repo.Get(ctx, tokenValue)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Store.Resolve] get")
	}
	if t.Expired(s.nowTime()) {
		if err := s.repo.Delete(ctx, tokenValue); err != nil {
			log.Err(err).Msg("failed to evict expired access token")
		}
		return nil, nil
	}
	return t, nil
}

// LatestValid returns the most recently expiring unexpired token for a
// principal, or nil when none exists. The handshake uses this to bound
// token churn to once per TTL window rather than once per login.
func (s *Store) LatestValid(ctx context.Context, principalID string) (*AccessToken, error) {
	t, err := s.repo.LatestValid(ctx, principalID, s.nowTime())
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Store.LatestValid] lookup")
	}
	return t, nil
}

// NewSecret mints a random base64url token value for local-mode issuance.
func NewSecret() (string, error) {
	bytes := make([]byte, secretLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", errors.Wrap(err, "[NewSecret] rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
