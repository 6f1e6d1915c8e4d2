package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tendant/autovault-auth/internal/httputil"
	"github.com/tendant/autovault-auth/pkg/auth"
	"github.com/tendant/autovault-auth/pkg/domain"
)

type contextKey string

const (
	// AccountKey is the context key for the authenticated account.
	AccountKey contextKey = "account"
	// ClaimsKey is the context key for the token claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for the raw session token.
	TokenKey contextKey = "token"
)

// AccountLoader loads the account named by a session token.
type AccountLoader interface {
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
}

// Identify resolves the caller's session when a token is presented and
// stores the account, claims and token in the request context. Missing,
// invalid and revoked tokens leave the request anonymous; RequireAuth
// rejects those where a session is mandatory. Store outages fail the request.
func Identify(sessions *auth.SessionService, accounts AccountLoader, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.ExtractToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := sessions.Authenticate(r.Context(), token)
			if err != nil {
				if auth.IsAuthError(err) {
					next.ServeHTTP(w, r)
					return
				}
				logger.Error("failed to authenticate session", "error", err)
				httputil.Error(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			accountID, err := claims.AccountUUID()
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			account, err := accounts.GetAccount(r.Context(), accountID)
			if err != nil {
				if errors.Is(err, domain.ErrAccountNotFound) {
					next.ServeHTTP(w, r)
					return
				}
				logger.Error("failed to load session account", "error", err, "account_id", accountID)
				httputil.Error(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			ctx := context.WithValue(r.Context(), AccountKey, account)
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			ctx = context.WithValue(ctx, TokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests without an identified, active account.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := GetAccount(r.Context())
		if !ok {
			if auth.ExtractToken(r) == "" {
				httputil.Error(w, http.StatusUnauthorized, "Not authorized, no token")
				return
			}
			httputil.Error(w, http.StatusUnauthorized, "Not authorized, token failed")
			return
		}
		if !account.IsActive() {
			httputil.Error(w, http.StatusForbidden, fmt.Sprintf("Account is %s. Please contact support.", account.Status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := GetAccount(r.Context())
		if !ok || !account.IsAdmin() {
			httputil.Error(w, http.StatusForbidden, "Not authorized as an admin")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetAccount extracts the authenticated account from the request context.
func GetAccount(ctx context.Context) (*domain.Account, bool) {
	account, ok := ctx.Value(AccountKey).(*domain.Account)
	return account, ok
}

// GetClaims extracts the token claims from the request context.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}

// GetToken extracts the raw session token from the request context.
func GetToken(ctx context.Context) string {
	token, _ := ctx.Value(TokenKey).(string)
	return token
}

// WithAccount stores an account in ctx. Handlers use it after login so
// later middleware in the same request sees the new identity.
func WithAccount(ctx context.Context, account *domain.Account) context.Context {
	return context.WithValue(ctx, AccountKey, account)
}
