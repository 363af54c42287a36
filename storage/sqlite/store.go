// Package sqlite is the durable storage backend: one SQLite handle serving
// the principal repo, the access-token repo and the relational session
// store. Uniqueness is enforced by the schema, which makes the database the
// final arbiter of concurrent reconcile and issuance races.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	_ "embed"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/kpmdev/kpm-registry/principal"
	"github.com/kpmdev/kpm-registry/session"
	"github.com/kpmdev/kpm-registry/token"
)

//go:embed schema.sql
var schemaSQL string

var (
	_ principal.Repo = (*Store)(nil)
	_ token.Repo     = (*Store)(nil)
	_ session.Store  = (*Store)(nil)
)

type Store struct {
	sqlDB      *sql.DB
	sessionTTL time.Duration
	nowTime    func() time.Time
}

type StoreOption func(*Store)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// Open opens the SQLite database at path and applies the schema.
// sessionTTL is the sliding expiry window for stored sessions.
func Open(path string, sessionTTL time.Duration, options ...StoreOption) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("[sqlite.Open] storage path is required")
	}
	if sessionTTL <= 0 {
		return nil, errors.Errorf("[sqlite.Open] session ttl must be positive, got %s", sessionTTL)
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "[sqlite.Open] open db")
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "[sqlite.Open] ping db")
	}
	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "[sqlite.Open] apply schema")
	}
	s := &Store{sqlDB: sqlDB, sessionTTL: sessionTTL, nowTime: time.Now}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// Principal repo.

func (s *Store) Create(ctx context.Context, p *principal.Principal) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO principals (id, github_id, username, email, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.GithubID, p.Username, p.Email, toMillis(p.CreatedAt),
	)
	if isUniqueViolation(err) {
		return principal.ErrDuplicateGithubID
	}
	if err != nil {
		return errors.Wrap(err, "[Store.Create] insert principal")
	}
	return nil
}

func (s *Store) Update(ctx context.Context, githubID, username, email string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE principals SET username = ?, email = ? WHERE github_id = ?`,
		username, email, githubID,
	)
	if err != nil {
		return errors.Wrap(err, "[Store.Update] update principal")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "[Store.Update] rows affected")
	}
	if affected == 0 {
		return principal.ErrNotFound
	}
	return nil
}

func (s *Store) GetByGithubID(ctx context.Context, githubID string) (*principal.Principal, error) {
	return s.scanPrincipal(s.sqlDB.QueryRowContext(ctx,
		`SELECT id, github_id, username, email, created_at FROM principals WHERE github_id = ?`, githubID))
}

func (s *Store) GetByID(ctx context.Context, id string) (*principal.Principal, error) {
	return s.scanPrincipal(s.sqlDB.QueryRowContext(ctx,
		`SELECT id, github_id, username, email, created_at FROM principals WHERE id = ?`, id))
}

func (s *Store) scanPrincipal(row *sql.Row) (*principal.Principal, error) {
	var p principal.Principal
	var createdAt int64
	err := row.Scan(&p.ID, &p.GithubID, &p.Username, &p.Email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, principal.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Store.scanPrincipal] scan")
	}
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}

// Access-token repo.

func (s *Store) Insert(ctx context.Context, t *token.AccessToken) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO access_tokens (token, principal_id, generator, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.Token, t.PrincipalID, t.Generator, toMillis(t.ExpiresAt), toMillis(t.CreatedAt),
	)
	if isUniqueViolation(err) {
		return token.ErrDuplicateToken
	}
	if err != nil {
		return errors.Wrap(err, "[Store.Insert] insert token")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tokenValue string) (*token.AccessToken, error) {
	return s.scanToken(s.sqlDB.QueryRowContext(ctx,
		`SELECT token, principal_id, generator, expires_at, created_at FROM access_tokens WHERE token = ?`, tokenValue))
}

func (s *Store) Delete(ctx context.Context, tokenValue string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM access_tokens WHERE token = ?`, tokenValue); err != nil {
		return errors.Wrap(err, "[Store.Delete] delete token")
	}
	return nil
}

func (s *Store) LatestValid(ctx context.Context, principalID string, now time.Time) (*token.AccessToken, error) {
	return s.scanToken(s.sqlDB.QueryRowContext(ctx,
		`SELECT token, principal_id, generator, expires_at, created_at
		   FROM access_tokens
		  WHERE principal_id = ? AND expires_at > ?
		  ORDER BY expires_at DESC
		  LIMIT 1`, principalID, toMillis(now)))
}

func (s *Store) scanToken(row *sql.Row) (*token.AccessToken, error) {
	var t token.AccessToken
	var expiresAt, createdAt int64
	err := row.Scan(&t.Token, &t.PrincipalID, &t.Generator, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, token.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Store.scanToken] scan")
	}
	t.ExpiresAt = fromMillis(expiresAt)
	t.CreatedAt = fromMillis(createdAt)
	return &t, nil
}

// Session store. Records travel as opaque JSON blobs; the sliding expiry
// window is extended on every successful load.

func (s *Store) Save(ctx context.Context, sessionID string, rec session.Record) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "[Store.Save] marshal record")
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO sessions (id, record, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET record = excluded.record, expires_at = excluded.expires_at`,
		sessionID, blob, toMillis(s.nowTime().Add(s.sessionTTL)),
	)
	if err != nil {
		return errors.Wrap(err, "[Store.Save] upsert session")
	}
	return nil
}

func (s *Store) Load(ctx context.Context, sessionID string) (session.Record, error) {
	var blob []byte
	var expiresAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT record, expires_at FROM sessions WHERE id = ?`, sessionID).Scan(&blob, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Record{}, session.ErrNotFound
	}
	if err != nil {
		return session.Record{}, errors.Wrap(err, "[Store.Load] scan session")
	}

	now := s.nowTime()
	if now.After(fromMillis(expiresAt)) {
		_, _ = s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
		return session.Record{}, session.ErrNotFound
	}

	var rec session.Record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return session.Record{}, errors.Wrap(session.ErrMalformedSession, "[Store.Load] unmarshal record")
	}

	if _, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ? WHERE id = ?`,
		toMillis(now.Add(s.sessionTTL)), sessionID,
	); err != nil {
		return session.Record{}, errors.Wrap(err, "[Store.Load] extend session")
	}
	return rec, nil
}

func (s *Store) Destroy(ctx context.Context, sessionID string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return errors.Wrap(err, "[Store.Destroy] delete session")
	}
	return nil
}
