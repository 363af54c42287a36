package principal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrIdentityIncomplete means the upstream profile is missing a username or
// a usable email address and cannot be reconciled into a local account.
var ErrIdentityIncomplete = errors.New("upstream identity incomplete")

// Directory performs the idempotent create-or-update of principals keyed by
// the upstream GitHub id.
type Directory struct {
	repo    Repo
	nowTime func() time.Time
}

type DirectoryOption func(*Directory)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) DirectoryOption {
	return func(d *Directory) {
		d.nowTime = nowFunc
	}
}

func NewDirectory(repo Repo, options ...DirectoryOption) (*Directory, error) {
	if repo == nil {
		return nil, errors.New("[NewDirectory] repo is required")
	}
	d := &Directory{repo: repo, nowTime: time.Now}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

// Reconcile upserts the local principal for an upstream identity. An absent
// record is created; an existing one has its username and email overwritten
// and is then re-read so the caller always observes the committed row rather
// than an in-memory echo of the update payload.
//
// Two concurrent first logins for the same identity may both take the create
// path; the loser of the storage-level unique constraint retries once as an
// update instead of surfacing the violation.
func (d *Directory) Reconcile(ctx context.Context, identity Identity) (*Principal, error) {
	if identity.ID == "" {
		return nil, errors.Wrap(ErrIdentityIncomplete, "[Directory.Reconcile] missing upstream id")
	}
	if identity.Username == "" {
		log.Error().Str("github_id", identity.ID).Msg("upstream profile is missing a username")
		return nil, errors.Wrap(ErrIdentityIncomplete, "[Directory.Reconcile] missing username")
	}
	email := identity.PreferredEmail()
	if email == "" {
		log.Error().Str("github_id", identity.ID).Msg("upstream profile is missing a usable email address")
		return nil, errors.Wrap(ErrIdentityIncomplete, "[Directory.Reconcile] missing email")
	}

	_, err := d.repo.GetByGithubID(ctx, identity.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		log.Info().Str("username", identity.Username).Str("email", email).Msg("creating new principal")
		created := &Principal{
			ID:        uuid.New().String(),
			GithubID:  identity.ID,
			Username:  identity.Username,
			Email:     email,
			CreatedAt: d.nowTime(),
		}
		if err := d.repo.Create(ctx, created); err != nil {
			if errors.Is(err, ErrDuplicateGithubID) {
				// Lost a create race; the row now exists, sync it instead.
				return d.syncExisting(ctx, identity.ID, identity.Username, email)
			}
			return nil, errors.Wrap(err, "[Directory.Reconcile] create")
		}
		return created, nil
	case err != nil:
		return nil, errors.Wrap(err, "[Directory.Reconcile] lookup")
	}

	log.Info().Str("username", identity.Username).Str("email", email).Msg("syncing existing principal")
	return d.syncExisting(ctx, identity.ID, identity.Username, email)
}

func (d *Directory) syncExisting(ctx context.Context, githubID, username, email string) (*Principal, error) {
	if err := d.repo.Update(ctx, githubID, username, email); err != nil {
		return nil, errors.Wrap(err, "[Directory.syncExisting] update")
	}
	p, err := d.repo.GetByGithubID(ctx, githubID)
	if err != nil {
		return nil, errors.Wrap(err, "[Directory.syncExisting] re-read")
	}
	return p, nil
}
