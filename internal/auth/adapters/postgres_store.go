package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"devconsole/internal/auth/domain"
	"devconsole/internal/auth/ports"
)

// Schema creates the auth tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS auth_users (
    id           TEXT PRIMARY KEY,
    email        TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL,
    avatar_url   TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS auth_users_email_idx ON auth_users (lower(email)) WHERE email <> '';

CREATE TABLE IF NOT EXISTS auth_user_identities (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL REFERENCES auth_users (id) ON DELETE CASCADE,
    provider     TEXT NOT NULL,
    provider_uid TEXT NOT NULL,
    access_token TEXT NOT NULL DEFAULT '',
    expires_at   TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL,
    UNIQUE (provider, provider_uid)
);

CREATE TABLE IF NOT EXISTS auth_sessions (
    id                        TEXT PRIMARY KEY,
    user_id                   TEXT NOT NULL REFERENCES auth_users (id) ON DELETE CASCADE,
    refresh_token_hash        TEXT NOT NULL,
    refresh_token_fingerprint TEXT NOT NULL,
    user_agent                TEXT NOT NULL DEFAULT '',
    ip_address                TEXT NOT NULL DEFAULT '',
    created_at                TIMESTAMPTZ NOT NULL,
    expires_at                TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS auth_sessions_fingerprint_idx ON auth_sessions (refresh_token_fingerprint);

CREATE TABLE IF NOT EXISTS auth_states (
    state      TEXT PRIMARY KEY,
    provider   TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
`

// pool is the subset of *pgxpool.Pool the stores use.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresUserRepo struct {
	pool pool
}

type PostgresIdentityRepo struct {
	pool pool
}

type PostgresSessionRepo struct {
	pool     pool
	verifier func(string, string) (bool, error)
}

type PostgresStateStore struct {
	pool pool
	now  func() time.Time
}

var (
	_ ports.UserRepository        = (*PostgresUserRepo)(nil)
	_ ports.IdentityRepository    = (*PostgresIdentityRepo)(nil)
	_ ports.SessionRepository     = (*PostgresSessionRepo)(nil)
	_ ports.StateStoreWithCleanup = (*PostgresStateStore)(nil)
)

// NewPostgresStores creates repositories sharing db. Call EnsureSchema once
// before use.
func NewPostgresStores(db pool) (*PostgresUserRepo, *PostgresIdentityRepo, *PostgresSessionRepo, *PostgresStateStore) {
	sessions := &PostgresSessionRepo{pool: db, verifier: func(string, string) (bool, error) {
		return false, fmt.Errorf("refresh token verifier not configured")
	}}
	return &PostgresUserRepo{pool: db}, &PostgresIdentityRepo{pool: db}, sessions, &PostgresStateStore{pool: db, now: time.Now}
}

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db pool) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply auth schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const userColumns = `id, email, display_name, avatar_url, status, created_at, updated_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.AvatarURL,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	query := `
INSERT INTO auth_users (id, email, display_name, avatar_url, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
RETURNING ` + userColumns
	created, err := scanUser(r.pool.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		user.AvatarURL,
		string(user.Status),
		user.CreatedAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, domain.ErrUserExists
		}
		return domain.User{}, err
	}
	return created, nil
}

func (r *PostgresUserRepo) Update(ctx context.Context, user domain.User) (domain.User, error) {
	query := `
UPDATE auth_users
SET email = $2,
    display_name = $3,
    avatar_url = $4,
    status = $5,
    updated_at = $6
WHERE id = $1
RETURNING ` + userColumns
	updated, err := scanUser(r.pool.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		user.AvatarURL,
		string(user.Status),
		user.UpdatedAt,
	))
	if err != nil && isUniqueViolation(err) {
		return domain.User{}, domain.ErrUserExists
	}
	return updated, err
}

func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return domain.User{}, domain.ErrUserNotFound
	}
	query := `SELECT ` + userColumns + ` FROM auth_users WHERE lower(email) = $1 AND email <> ''`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM auth_users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

const identityColumns = `id, user_id, provider, provider_uid, access_token, expires_at, created_at, updated_at`

func scanIdentity(row pgx.Row) (domain.Identity, error) {
	var identity domain.Identity
	var expiry pgtype.Timestamptz
	err := row.Scan(
		&identity.ID,
		&identity.UserID,
		&identity.Provider,
		&identity.ProviderID,
		&identity.Tokens.AccessToken,
		&expiry,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Identity{}, domain.ErrIdentityNotFound
		}
		return domain.Identity{}, err
	}
	if expiry.Valid {
		identity.Tokens.Expiry = expiry.Time
	}
	return identity, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (r *PostgresIdentityRepo) Create(ctx context.Context, identity domain.Identity) (domain.Identity, error) {
	query := `
INSERT INTO auth_user_identities (id, user_id, provider, provider_uid, access_token, expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
RETURNING ` + identityColumns
	created, err := scanIdentity(r.pool.QueryRow(ctx, query,
		identity.ID,
		identity.UserID,
		string(identity.Provider),
		identity.ProviderID,
		identity.Tokens.AccessToken,
		nullableTime(identity.Tokens.Expiry),
		identity.CreatedAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Identity{}, fmt.Errorf("identity already exists: %w", err)
		}
		return domain.Identity{}, err
	}
	return created, nil
}

func (r *PostgresIdentityRepo) Update(ctx context.Context, identity domain.Identity) (domain.Identity, error) {
	query := `
UPDATE auth_user_identities
SET access_token = $2,
    expires_at = $3,
    updated_at = $4
WHERE id = $1
RETURNING ` + identityColumns
	return scanIdentity(r.pool.QueryRow(ctx, query,
		identity.ID,
		identity.Tokens.AccessToken,
		nullableTime(identity.Tokens.Expiry),
		identity.UpdatedAt,
	))
}

func (r *PostgresIdentityRepo) FindByProvider(ctx context.Context, provider domain.ProviderType, providerID string) (domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM auth_user_identities WHERE provider = $1 AND provider_uid = $2`
	return scanIdentity(r.pool.QueryRow(ctx, query, string(provider), providerID))
}

// SetVerifier configures the refresh token verification callback.
func (r *PostgresSessionRepo) SetVerifier(verifier func(string, string) (bool, error)) {
	if verifier == nil {
		return
	}
	r.verifier = verifier
}

const sessionColumns = `id, user_id, refresh_token_hash, refresh_token_fingerprint, user_agent, ip_address, created_at, expires_at`

func scanSession(row pgx.Row) (domain.Session, error) {
	var session domain.Session
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.RefreshTokenHash,
		&session.RefreshTokenFingerprint,
		&session.UserAgent,
		&session.IP,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return domain.Session{}, err
	}
	return session, nil
}

func (r *PostgresSessionRepo) Create(ctx context.Context, session domain.Session) (domain.Session, error) {
	now := session.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	query := `
INSERT INTO auth_sessions (id, user_id, refresh_token_hash, refresh_token_fingerprint, user_agent, ip_address, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + sessionColumns
	return scanSession(r.pool.QueryRow(ctx, query,
		session.ID,
		session.UserID,
		session.RefreshTokenHash,
		session.RefreshTokenFingerprint,
		session.UserAgent,
		session.IP,
		now,
		session.ExpiresAt,
	))
}

func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE id = $1`, id)
	return err
}

func (r *PostgresSessionRepo) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE user_id = $1`, userID)
	return err
}

func (r *PostgresSessionRepo) FindByRefreshToken(ctx context.Context, refreshToken string) (domain.Session, error) {
	query := `
SELECT ` + sessionColumns + `
FROM auth_sessions
WHERE refresh_token_fingerprint = $1
ORDER BY created_at DESC
LIMIT 1`
	session, err := scanSession(r.pool.QueryRow(ctx, query, domain.FingerprintRefreshToken(refreshToken)))
	if err != nil {
		return domain.Session{}, err
	}
	match, err := r.verifier(refreshToken, session.RefreshTokenHash)
	if err != nil {
		return domain.Session{}, err
	}
	if !match {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *PostgresStateStore) Save(ctx context.Context, state string, provider domain.ProviderType, expiresAt time.Time) error {
	query := `
INSERT INTO auth_states (state, provider, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (state) DO UPDATE SET provider = EXCLUDED.provider, expires_at = EXCLUDED.expires_at`
	_, err := s.pool.Exec(ctx, query, state, string(provider), expiresAt)
	return err
}

// Consume deletes the state whatever its age, so a state is usable once.
func (s *PostgresStateStore) Consume(ctx context.Context, state string, provider domain.ProviderType) error {
	query := `DELETE FROM auth_states WHERE state = $1 AND provider = $2 RETURNING expires_at`
	var expiresAt time.Time
	if err := s.pool.QueryRow(ctx, query, state, string(provider)).Scan(&expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrInvalidState
		}
		return err
	}
	if s.now().After(expiresAt) {
		return domain.ErrInvalidState
	}
	return nil
}

func (s *PostgresStateStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM auth_states WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
