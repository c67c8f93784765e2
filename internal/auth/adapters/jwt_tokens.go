package adapters

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"devconsole/internal/auth/crypto"
	"devconsole/internal/auth/domain"
	"devconsole/internal/auth/ports"
)

// JWTTokenManager issues HS256 access tokens and hashes refresh tokens using Argon2id.
type JWTTokenManager struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	params    crypto.Params
	now       func() time.Time
}

// NewJWTTokenManager creates a new token manager.
func NewJWTTokenManager(secret, issuer string, accessTTL time.Duration) *JWTTokenManager {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &JWTTokenManager{
		secret:    []byte(secret),
		issuer:    issuer,
		accessTTL: accessTTL,
		params:    crypto.DefaultParams,
		now:       time.Now,
	}
}

// WithHashParams overrides the Argon2id cost, mainly to keep tests fast.
func (m *JWTTokenManager) WithHashParams(params crypto.Params) *JWTTokenManager {
	m.params = params
	return m
}

// GenerateAccessToken implements ports.TokenManager.
func (m *JWTTokenManager) GenerateAccessToken(_ context.Context, user domain.User, sessionID string) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	expiresAt := m.now().Add(m.accessTTL)
	claims := jwt.MapClaims{
		"sub":        user.ID,
		"email":      user.Email,
		"name":       user.DisplayName,
		"session_id": sessionID,
		"iat":        m.now().Unix(),
		"exp":        expiresAt.Unix(),
		"iss":        m.issuer,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// GenerateRefreshToken returns a random token and its Argon2id hash.
func (m *JWTTokenManager) GenerateRefreshToken(context.Context) (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	plain := base64.RawURLEncoding.EncodeToString(buf)
	hash, err := m.HashRefreshToken(plain)
	if err != nil {
		return "", "", err
	}
	return plain, hash, nil
}

// HashRefreshToken implements ports.TokenManager.
func (m *JWTTokenManager) HashRefreshToken(token string) (string, error) {
	return crypto.Hash(token, m.params)
}

// VerifyRefreshToken implements ports.TokenManager.
func (m *JWTTokenManager) VerifyRefreshToken(token, encodedHash string) (bool, error) {
	return crypto.Verify(token, encodedHash)
}

// ParseAccessToken validates signature, issuer and expiry.
func (m *JWTTokenManager) ParseAccessToken(_ context.Context, token string) (domain.Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return domain.Claims{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return domain.Claims{}, domain.ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return domain.Claims{}, fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}
	email, _ := claims["email"].(string)
	sessionID, _ := claims["session_id"].(string)
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return domain.Claims{}, fmt.Errorf("%w: missing expiry", domain.ErrInvalidToken)
	}
	return domain.Claims{Subject: sub, Email: email, SessionID: sessionID, ExpiresAt: exp.Time}, nil
}

var _ ports.TokenManager = (*JWTTokenManager)(nil)
