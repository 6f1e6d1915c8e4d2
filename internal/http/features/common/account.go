// Package common holds the pieces shared by the account and MFA handlers.
package common

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/autovault-auth/pkg/domain"
)

// Mailer sends the account lifecycle mails. *notification.Mailer implements it.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, username, token string, ttl time.Duration) error
	SendWelcomeEmail(ctx context.Context, to, username string) error
	SendPasswordResetEmail(ctx context.Context, to, username, token string, ttl time.Duration) error
	SendNewDeviceAlert(ctx context.Context, to, username, ip, userAgent string, at time.Time) error
}

// AccountView is the public shape of an account. Credentials, history, OTP
// state and lockout counters never leave the server.
type AccountView struct {
	ID            uuid.UUID            `json:"id"`
	Username      string               `json:"username"`
	Email         string               `json:"email"`
	Role          domain.Role          `json:"role"`
	Status        domain.AccountStatus `json:"status"`
	EmailVerified bool                 `json:"emailVerified"`
	MFAEnabled    bool                 `json:"mfaEnabled"`
	MFAMethod     domain.MFAMethod     `json:"mfaMethod"`
	LastLoginAt   *time.Time           `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
}

func NewAccountView(a *domain.Account) AccountView {
	return AccountView{
		ID:            a.ID,
		Username:      a.Username,
		Email:         a.Email,
		Role:          a.Role,
		Status:        a.Status,
		EmailVerified: a.EmailVerified,
		MFAEnabled:    a.MFAEnabled,
		MFAMethod:     a.MFAMethod,
		LastLoginAt:   a.LastLoginAt,
		CreatedAt:     a.CreatedAt,
	}
}

// Actor returns the audit actor fields for an account, or zero values for nil.
func Actor(a *domain.Account) (*uuid.UUID, string) {
	if a == nil {
		return nil, ""
	}
	id := a.ID
	return &id, a.Username
}
