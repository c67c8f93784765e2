package adapters

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"devconsole/internal/auth/domain"
	"devconsole/internal/auth/ports"
)

// NewMemoryStores creates repositories backed by in-memory maps.
func NewMemoryStores() (*MemoryUserRepo, *MemoryIdentityRepo, *MemorySessionRepo, *MemoryStateStore) {
	users := &MemoryUserRepo{users: map[string]domain.User{}, emailIdx: map[string]string{}}
	identities := &MemoryIdentityRepo{identities: map[string]domain.Identity{}, providerIdx: map[string]string{}}
	sessions := &MemorySessionRepo{sessions: map[string]domain.Session{}, fingerprintIdx: map[string]string{}, verifier: func(string, string) (bool, error) {
		return false, fmt.Errorf("refresh token verifier not configured")
	}}
	states := &MemoryStateStore{states: map[string]stateRecord{}, now: time.Now}
	return users, identities, sessions, states
}

// MemoryUserRepo stores users in memory. Users without an email are not
// indexed by email, so several of them can coexist.
type MemoryUserRepo struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	emailIdx map[string]string
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func (r *MemoryUserRepo) Create(_ context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[user.ID]; exists {
		return domain.User{}, domain.ErrUserExists
	}
	email := normalizeEmail(user.Email)
	if email != "" {
		if _, exists := r.emailIdx[email]; exists {
			return domain.User{}, domain.ErrUserExists
		}
		r.emailIdx[email] = user.ID
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *MemoryUserRepo) Update(_ context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, exists := r.users[user.ID]
	if !exists {
		return domain.User{}, domain.ErrUserNotFound
	}
	if old := normalizeEmail(previous.Email); old != "" {
		delete(r.emailIdx, old)
	}
	if email := normalizeEmail(user.Email); email != "" {
		r.emailIdx[email] = user.ID
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = normalizeEmail(email)
	if email == "" {
		return domain.User{}, domain.ErrUserNotFound
	}
	if id, ok := r.emailIdx[email]; ok {
		return r.users[id], nil
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if user, ok := r.users[id]; ok {
		return user, nil
	}
	return domain.User{}, domain.ErrUserNotFound
}

// MemoryIdentityRepo stores provider identity links in memory.
type MemoryIdentityRepo struct {
	mu          sync.RWMutex
	identities  map[string]domain.Identity
	providerIdx map[string]string
}

func key(provider domain.ProviderType, providerID string) string {
	return string(provider) + ":" + providerID
}

func (r *MemoryIdentityRepo) Create(_ context.Context, identity domain.Identity) (domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identities[identity.ID] = identity
	r.providerIdx[key(identity.Provider, identity.ProviderID)] = identity.ID
	return identity, nil
}

func (r *MemoryIdentityRepo) Update(_ context.Context, identity domain.Identity) (domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.identities[identity.ID]; !ok {
		return domain.Identity{}, domain.ErrIdentityNotFound
	}
	r.identities[identity.ID] = identity
	r.providerIdx[key(identity.Provider, identity.ProviderID)] = identity.ID
	return identity, nil
}

func (r *MemoryIdentityRepo) FindByProvider(_ context.Context, provider domain.ProviderType, providerID string) (domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.providerIdx[key(provider, providerID)]; ok {
		return r.identities[id], nil
	}
	return domain.Identity{}, domain.ErrIdentityNotFound
}

// MemorySessionRepo stores sessions indexed by refresh token fingerprint.
type MemorySessionRepo struct {
	mu             sync.RWMutex
	sessions       map[string]domain.Session
	fingerprintIdx map[string]string
	verifier       func(string, string) (bool, error)
}

// SetVerifier configures the refresh token verification callback.
func (r *MemorySessionRepo) SetVerifier(verifier func(string, string) (bool, error)) {
	if verifier == nil {
		return
	}
	r.mu.Lock()
	r.verifier = verifier
	r.mu.Unlock()
}

func (r *MemorySessionRepo) Create(_ context.Context, session domain.Session) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	if session.RefreshTokenFingerprint != "" {
		r.fingerprintIdx[session.RefreshTokenFingerprint] = session.ID
	}
	return session, nil
}

func (r *MemorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[id]; ok && session.RefreshTokenFingerprint != "" {
		delete(r.fingerprintIdx, session.RefreshTokenFingerprint)
	}
	delete(r.sessions, id)
	return nil
}

func (r *MemorySessionRepo) DeleteByUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, session := range r.sessions {
		if session.UserID != userID {
			continue
		}
		if session.RefreshTokenFingerprint != "" {
			delete(r.fingerprintIdx, session.RefreshTokenFingerprint)
		}
		delete(r.sessions, id)
	}
	return nil
}

func (r *MemorySessionRepo) FindByRefreshToken(_ context.Context, refreshToken string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.fingerprintIdx[domain.FingerprintRefreshToken(refreshToken)]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	session := r.sessions[id]
	match, err := r.verifier(refreshToken, session.RefreshTokenHash)
	if err != nil {
		return domain.Session{}, err
	}
	if !match {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

// MemoryStateStore keeps OAuth state nonces until consumed or expired.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]stateRecord
	now    func() time.Time
}

type stateRecord struct {
	provider domain.ProviderType
	expires  time.Time
}

// WithNow allows tests to control the clock.
func (s *MemoryStateStore) WithNow(now func() time.Time) {
	if now != nil {
		s.mu.Lock()
		s.now = now
		s.mu.Unlock()
	}
}

func (s *MemoryStateStore) Save(_ context.Context, state string, provider domain.ProviderType, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = stateRecord{provider: provider, expires: expiresAt}
	return nil
}

// Consume removes the state. It fails when the state is unknown, was issued
// for another provider or has expired.
func (s *MemoryStateStore) Consume(_ context.Context, state string, provider domain.ProviderType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.states[state]
	if !ok || record.provider != provider {
		return domain.ErrInvalidState
	}
	delete(s.states, state)
	if !record.expires.IsZero() && s.now().After(record.expires) {
		return domain.ErrInvalidState
	}
	return nil
}

// PurgeExpired drops states that expired before the given time.
func (s *MemoryStateStore) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for state, record := range s.states {
		if !record.expires.IsZero() && record.expires.Before(before) {
			delete(s.states, state)
			purged++
		}
	}
	return purged, nil
}

var (
	_ ports.UserRepository        = (*MemoryUserRepo)(nil)
	_ ports.IdentityRepository    = (*MemoryIdentityRepo)(nil)
	_ ports.SessionRepository     = (*MemorySessionRepo)(nil)
	_ ports.StateStoreWithCleanup = (*MemoryStateStore)(nil)
)
