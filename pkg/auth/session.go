package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/autovault-auth/pkg/domain"
	"github.com/tendant/autovault-auth/pkg/store"
)

const (
	// DefaultSessionTTL is the lifetime of a session token.
	DefaultSessionTTL = 7 * 24 * time.Hour

	// TokenCookieName is the cookie carrying the session token.
	TokenCookieName = "token"

	denylistPrefix = "denylist:"
)

// SessionConfig holds session configuration.
type SessionConfig struct {
	TTL       time.Duration
	JWTSecret []byte
	Issuer    string
}

// Claims are the contents of a session token. No secrets are embedded.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string      `json:"id"`
	Email     string      `json:"email"`
	Username  string      `json:"username"`
	Role      domain.Role `json:"role"`
}

// AccountUUID parses the id claim.
func (c *Claims) AccountUUID() (uuid.UUID, error) {
	return uuid.Parse(c.AccountID)
}

// SessionService issues, verifies and revokes session tokens.
type SessionService struct {
	config   SessionConfig
	denylist store.Counter
	now      func() time.Time
}

// NewSessionService creates a new session service.
func NewSessionService(config SessionConfig, denylist store.Counter) *SessionService {
	if config.TTL == 0 {
		config.TTL = DefaultSessionTTL
	}
	return &SessionService{
		config:   config,
		denylist: denylist,
		now:      time.Now,
	}
}

// TTL returns the session lifetime.
func (s *SessionService) TTL() time.Duration {
	return s.config.TTL
}

// Issue signs a new session token for the account.
func (s *SessionService) Issue(account *domain.Account) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.config.TTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    s.config.Issuer,
			ID:        uuid.NewString(),
		},
		AccountID: account.ID.String(),
		Email:     account.Email,
		Username:  account.Username,
		Role:      account.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.config.JWTSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, algorithm and expiry. Every failure is
// domain.ErrInvalidToken.
func (s *SessionService) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, domain.ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.config.JWTSecret, nil
	}, opts...)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.AccountID == "" {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

// Authenticate verifies the token and rejects revoked ones.
func (s *SessionService) Authenticate(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	revoked, err := s.IsRevoked(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, domain.ErrSessionRevoked
	}
	return claims, nil
}

// Revoke denylists the token for the rest of its validity, falling back
// to the full session TTL when the token cannot be parsed.
func (s *SessionService) Revoke(ctx context.Context, tokenString string) error {
	if tokenString == "" {
		return nil
	}
	ttl := s.config.TTL
	if claims, err := s.Verify(tokenString); err == nil && claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return nil
		}
	}
	if _, err := s.denylist.Increment(ctx, denylistPrefix+HashToken(tokenString), ttl); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether the token is on the denylist.
func (s *SessionService) IsRevoked(ctx context.Context, tokenString string) (bool, error) {
	n, err := s.denylist.Get(ctx, denylistPrefix+HashToken(tokenString))
	if err != nil {
		return false, fmt.Errorf("failed to check denylist: %w", err)
	}
	return n > 0, nil
}

// ExtractToken reads the bearer header first, then the session cookie.
// The literal values "undefined" and "null" sent by some clients are ignored.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if t := strings.TrimSpace(parts[1]); usableToken(t) {
				return t
			}
		}
	}
	if c, err := r.Cookie(TokenCookieName); err == nil && usableToken(c.Value) {
		return c.Value
	}
	return ""
}

func usableToken(t string) bool {
	return t != "" && t != "undefined" && t != "null"
}

// IsAuthError reports whether err is a token problem rather than an outage.
func IsAuthError(err error) bool {
	return errors.Is(err, domain.ErrInvalidToken) || errors.Is(err, domain.ErrSessionRevoked)
}
