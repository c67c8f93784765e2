package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"devconsole/internal/auth/domain"
	"devconsole/internal/auth/ports"
	"devconsole/internal/logging"
)

// Config controls token expirations and OAuth behaviour.
type Config struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	StateTTL        time.Duration
}

// Service orchestrates authentication workflows.
type Service struct {
	users      ports.UserRepository
	identities ports.IdentityRepository
	sessions   ports.SessionRepository
	tokens     ports.TokenManager
	states     ports.StateStore
	providers  map[domain.ProviderType]ports.OAuthProvider
	config     Config
	logger     logging.Logger
	now        func() time.Time
}

// NewService constructs a Service instance.
func NewService(users ports.UserRepository, identities ports.IdentityRepository, sessions ports.SessionRepository, tokens ports.TokenManager, states ports.StateStore, providers []ports.OAuthProvider, cfg Config, logger logging.Logger) *Service {
	providerMap := map[domain.ProviderType]ports.OAuthProvider{}
	for _, p := range providers {
		if p == nil {
			continue
		}
		providerMap[p.Provider()] = p
	}
	if sessions != nil && tokens != nil {
		type refreshVerifier interface {
			SetVerifier(func(string, string) (bool, error))
		}
		if verifier, ok := sessions.(refreshVerifier); ok {
			verifier.SetVerifier(tokens.VerifyRefreshToken)
		}
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	return &Service{
		users:      users,
		identities: identities,
		sessions:   sessions,
		tokens:     tokens,
		states:     states,
		providers:  providerMap,
		config:     cfg,
		logger:     logging.OrNop(logger),
		now:        time.Now,
	}
}

// WithNow allows tests to control the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Providers lists the configured providers in a stable order.
func (s *Service) Providers() []domain.ProviderType {
	out := make([]domain.ProviderType, 0, len(s.providers))
	for provider := range s.providers {
		out = append(out, provider)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StartOAuth begins the OAuth flow returning an authorization URL and the state nonce.
func (s *Service) StartOAuth(ctx context.Context, provider domain.ProviderType) (string, string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", "", domain.ErrProviderNotConfigured
	}
	state, err := randomState()
	if err != nil {
		return "", "", err
	}
	if err := s.states.Save(ctx, state, provider, s.now().Add(s.config.StateTTL)); err != nil {
		return "", "", err
	}
	url, err := p.BuildAuthURL(state)
	if err != nil {
		return "", "", err
	}
	return url, state, nil
}

// CompleteOAuth finalizes the OAuth flow with the returned code/state.
func (s *Service) CompleteOAuth(ctx context.Context, provider domain.ProviderType, code, state, userAgent, ip string) (domain.TokenPair, error) {
	p, ok := s.providers[provider]
	if !ok {
		return domain.TokenPair{}, domain.ErrProviderNotConfigured
	}
	if err := s.states.Consume(ctx, state, provider); err != nil {
		return domain.TokenPair{}, err
	}
	info, err := p.Exchange(ctx, code)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if strings.TrimSpace(info.ProviderID) == "" {
		return domain.TokenPair{}, fmt.Errorf("%s: provider returned empty user id", provider)
	}

	user, err := s.resolveUser(ctx, provider, info)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if user.Status != domain.UserStatusActive {
		return domain.TokenPair{}, domain.ErrUserDisabled
	}
	s.logger.Info("oauth login completed: provider=%s user=%s", provider, user.ID)
	return s.issueSession(ctx, user, userAgent, ip)
}

// resolveUser finds the user linked to the provider identity, falling back to
// a non-empty email for account linking, and creates one otherwise.
func (s *Service) resolveUser(ctx context.Context, provider domain.ProviderType, info ports.OAuthUserInfo) (domain.User, error) {
	now := s.now()
	tokens := oauthTokens(info)

	identity, err := s.identities.FindByProvider(ctx, provider, info.ProviderID)
	if err == nil {
		user, err := s.users.FindByID(ctx, identity.UserID)
		if err != nil {
			return domain.User{}, err
		}
		identity.Tokens = tokens
		identity.UpdatedAt = now
		if _, err := s.identities.Update(ctx, identity); err != nil {
			return domain.User{}, err
		}
		return s.refreshProfile(ctx, user, info)
	}
	if !errors.Is(err, domain.ErrIdentityNotFound) {
		return domain.User{}, err
	}

	var user domain.User
	email := strings.TrimSpace(strings.ToLower(info.Email))
	if email != "" {
		user, err = s.users.FindByEmail(ctx, email)
		if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
			return domain.User{}, err
		}
	}
	if user.ID == "" {
		user, err = s.users.Create(ctx, domain.User{
			ID:          uuid.NewString(),
			Email:       email,
			DisplayName: info.DisplayName,
			AvatarURL:   info.AvatarURL,
			Status:      domain.UserStatusActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return domain.User{}, err
		}
	}

	if _, err := s.identities.Create(ctx, domain.Identity{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		Provider:   provider,
		ProviderID: info.ProviderID,
		Tokens:     tokens,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// refreshProfile copies changed display fields from the provider profile.
func (s *Service) refreshProfile(ctx context.Context, user domain.User, info ports.OAuthUserInfo) (domain.User, error) {
	changed := false
	if info.DisplayName != "" && info.DisplayName != user.DisplayName {
		user.DisplayName = info.DisplayName
		changed = true
	}
	if info.AvatarURL != "" && info.AvatarURL != user.AvatarURL {
		user.AvatarURL = info.AvatarURL
		changed = true
	}
	if !changed {
		return user, nil
	}
	user.UpdatedAt = s.now()
	return s.users.Update(ctx, user)
}

func oauthTokens(info ports.OAuthUserInfo) domain.OAuthTokens {
	if info.Token == nil {
		return domain.OAuthTokens{}
	}
	return domain.OAuthTokens{AccessToken: info.Token.AccessToken, Expiry: info.Token.Expiry}
}

func (s *Service) issueSession(ctx context.Context, user domain.User, userAgent, ip string) (domain.TokenPair, error) {
	plainRefresh, hashedRefresh, err := s.tokens.GenerateRefreshToken(ctx)
	if err != nil {
		return domain.TokenPair{}, err
	}
	now := s.now()
	session := domain.Session{
		ID:                      uuid.NewString(),
		UserID:                  user.ID,
		RefreshTokenHash:        hashedRefresh,
		RefreshTokenFingerprint: domain.FingerprintRefreshToken(plainRefresh),
		UserAgent:               userAgent,
		IP:                      ip,
		CreatedAt:               now,
		ExpiresAt:               now.Add(s.config.RefreshTokenTTL),
	}
	if _, err := s.sessions.Create(ctx, session); err != nil {
		return domain.TokenPair{}, err
	}
	accessToken, expiresAt, err := s.tokens.GenerateAccessToken(ctx, user, session.ID)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{
		AccessToken:   accessToken,
		AccessExpiry:  expiresAt,
		RefreshToken:  plainRefresh,
		RefreshExpiry: session.ExpiresAt,
	}, nil
}

// RefreshAccessToken rotates refresh tokens and issues a new access token.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken, userAgent, ip string) (domain.TokenPair, error) {
	session, err := s.sessions.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if session.ExpiresAt.Before(s.now()) {
		_ = s.sessions.DeleteByID(ctx, session.ID)
		return domain.TokenPair{}, domain.ErrSessionExpired
	}
	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if user.Status != domain.UserStatusActive {
		return domain.TokenPair{}, domain.ErrUserDisabled
	}
	if err := s.sessions.DeleteByID(ctx, session.ID); err != nil {
		return domain.TokenPair{}, err
	}
	return s.issueSession(ctx, user, userAgent, ip)
}

// Logout invalidates the refresh token session.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	session, err := s.sessions.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}
	return s.sessions.DeleteByID(ctx, session.ID)
}

// ParseAccessToken validates an access token and returns its claims.
func (s *Service) ParseAccessToken(ctx context.Context, token string) (domain.Claims, error) {
	return s.tokens.ParseAccessToken(ctx, token)
}

// GetUser fetches a user by ID.
func (s *Service) GetUser(ctx context.Context, id string) (domain.User, error) {
	return s.users.FindByID(ctx, id)
}

// PurgeExpiredStates drops abandoned OAuth states when the store supports it.
func (s *Service) PurgeExpiredStates(ctx context.Context) (int64, error) {
	cleaner, ok := s.states.(ports.StateStoreWithCleanup)
	if !ok {
		return 0, nil
	}
	purged, err := cleaner.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Debug("purged %d expired oauth states", purged)
	}
	return purged, nil
}

func randomState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
