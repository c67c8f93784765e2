package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devconsole/internal/auth/crypto"
	"devconsole/internal/auth/domain"
)

func fastManager(secret, issuer string) *JWTTokenManager {
	return NewJWTTokenManager(secret, issuer, time.Minute).
		WithHashParams(crypto.Params{Time: 1, Memory: 8 * 1024, Threads: 1})
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := fastManager("secret", "devconsole")
	ctx := context.Background()
	user := domain.User{ID: "u-1", Email: "", DisplayName: "Zhang San"}

	token, expiresAt, err := m.GenerateAccessToken(ctx, user, "s-1")
	require.NoError(t, err)

	claims, err := m.ParseAccessToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "s-1", claims.SessionID)
	assert.Equal(t, expiresAt.Unix(), claims.ExpiresAt.Unix())
}

func TestParseAccessTokenRejectsForeignTokens(t *testing.T) {
	ctx := context.Background()
	user := domain.User{ID: "u-1"}

	other, _, err := fastManager("other-secret", "devconsole").GenerateAccessToken(ctx, user, "s")
	require.NoError(t, err)
	_, err = fastManager("secret", "devconsole").ParseAccessToken(ctx, other)
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	wrongIssuer, _, err := fastManager("secret", "elsewhere").GenerateAccessToken(ctx, user, "s")
	require.NoError(t, err)
	_, err = fastManager("secret", "devconsole").ParseAccessToken(ctx, wrongIssuer)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	m := fastManager("secret", "devconsole")
	ctx := context.Background()
	token, _, err := m.GenerateAccessToken(ctx, domain.User{ID: "u"}, "s")
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = m.ParseAccessToken(ctx, token)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestGenerateAccessTokenRequiresSecret(t *testing.T) {
	_, _, err := NewJWTTokenManager("", "devconsole", 0).GenerateAccessToken(context.Background(), domain.User{ID: "u"}, "s")
	require.Error(t, err)
}

func TestRefreshTokenHashing(t *testing.T) {
	m := fastManager("secret", "devconsole")
	plain, hashed, err := m.GenerateRefreshToken(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, plain, hashed)

	ok, err := m.VerifyRefreshToken(plain, hashed)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.VerifyRefreshToken(plain+"x", hashed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStateStoreConsumesOnce(t *testing.T) {
	_, _, _, states := NewMemoryStores()
	ctx := context.Background()
	require.NoError(t, states.Save(ctx, "abc", domain.ProviderWeChatWork, time.Now().Add(time.Minute)))

	require.ErrorIs(t, states.Consume(ctx, "abc", domain.ProviderType("other")), domain.ErrInvalidState)
	require.NoError(t, states.Consume(ctx, "abc", domain.ProviderWeChatWork))
	require.ErrorIs(t, states.Consume(ctx, "abc", domain.ProviderWeChatWork), domain.ErrInvalidState)
}
