package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/autovault-auth/pkg/domain"
	"github.com/tendant/autovault-auth/pkg/store"
)

func newSessionEnv(t *testing.T) (*SessionService, *fakeClock, *domain.Account) {
	t.Helper()
	clock := &fakeClock{t: time.Now().Truncate(time.Second)}
	mem := store.NewMemory()
	svc := NewSessionService(SessionConfig{JWTSecret: []byte("test-secret"), Issuer: "autovault"}, mem)
	svc.now = clock.Now
	account := &domain.Account{
		ID:       [16]byte{0xa1},
		Username: "alice",
		Email:    "alice@example.com",
		Role:     domain.RoleNormal,
	}
	return svc, clock, account
}

func TestSessionService_IssueAndVerify(t *testing.T) {
	svc, clock, account := newSessionEnv(t)

	token, expiresAt, err := svc.Issue(account)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(DefaultSessionTTL), expiresAt)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, account.ID.String(), claims.AccountID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, domain.RoleNormal, claims.Role)
	id, err := claims.AccountUUID()
	require.NoError(t, err)
	assert.Equal(t, account.ID, id)

	clock.Advance(DefaultSessionTTL + time.Second)
	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestSessionService_VerifyRejects(t *testing.T) {
	svc, clock, account := newSessionEnv(t)
	token, _, err := svc.Issue(account)
	require.NoError(t, err)

	other := NewSessionService(SessionConfig{JWTSecret: []byte("other-secret"), Issuer: "autovault"}, store.NewMemory())
	other.now = clock.Now
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken, "wrong key")

	wrongIssuer := NewSessionService(SessionConfig{JWTSecret: []byte("test-secret"), Issuer: "elsewhere"}, store.NewMemory())
	wrongIssuer.now = clock.Now
	_, err = wrongIssuer.Verify(token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken, "wrong issuer")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{AccountID: account.ID.String()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Verify(unsigned)
	assert.ErrorIs(t, err, domain.ErrInvalidToken, "alg none")

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{AccountID: account.ID.String()})
	signed512, err := hs512.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.Verify(signed512)
	assert.ErrorIs(t, err, domain.ErrInvalidToken, "unexpected algorithm")

	for _, s := range []string{"", "garbage", token + "x"} {
		_, err = svc.Verify(s)
		assert.ErrorIs(t, err, domain.ErrInvalidToken, s)
	}
}

func TestSessionService_Revoke(t *testing.T) {
	svc, _, account := newSessionEnv(t)
	ctx := context.Background()

	token, _, err := svc.Issue(account)
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, token)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, token))
	_, err = svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, domain.ErrSessionRevoked)
	assert.True(t, IsAuthError(err))

	// A fresh token for the same account is unaffected.
	fresh, _, err := svc.Issue(account)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, fresh)
	assert.NoError(t, err)
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{"header only", "Bearer abc", "", "abc"},
		{"cookie only", "", "xyz", "xyz"},
		{"header wins over cookie", "Bearer abc", "xyz", "abc"},
		{"lowercase scheme", "bearer abc", "", "abc"},
		{"undefined header falls back to cookie", "Bearer undefined", "xyz", "xyz"},
		{"null header", "Bearer null", "", ""},
		{"basic auth ignored", "Basic dXNlcjpwYXNz", "", ""},
		{"null cookie", "", "null", ""},
		{"nothing", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: TokenCookieName, Value: tt.cookie})
			}
			assert.Equal(t, tt.want, ExtractToken(r))
		})
	}
}
