package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/autovault-auth/pkg/domain"
)

// AccountStore persists accounts. Every mutator is a single conditional
// update so concurrent requests for the same account cannot lose writes.
type AccountStore interface {
	Create(ctx context.Context, a *domain.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	FindByIdentity(ctx context.Context, emailOrUsername string) (*domain.Account, error)
	ExistsByIdentity(ctx context.Context, username, email string) (bool, error)

	// RecordFailedAttempt increments the counter, restarting at 1 when a
	// previous lock has already expired, and locks for lockFor once the
	// counter reaches maxAttempts.
	RecordFailedAttempt(ctx context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration) (*domain.LockoutState, error)
	ClearFailures(ctx context.Context, id uuid.UUID) error
	// RecordMFAFailure increments the MFA failure counter. Reaching
	// maxAttempts locks the account for lockFor and resets the counter.
	RecordMFAFailure(ctx context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration) (*domain.LockoutState, error)
	// RecordSuccess clears both failure counters and stamps the login.
	RecordSuccess(ctx context.Context, id uuid.UUID, ip string) error
	LockUntil(ctx context.Context, id uuid.UUID, until time.Time) error

	UpdatePassword(ctx context.Context, id uuid.UUID, hash string, history []string) error
	SetMFA(ctx context.Context, id uuid.UUID, enabled bool, method domain.MFAMethod) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error

	SetEmailOTP(ctx context.Context, id uuid.UUID, codeHash string, expiresAt time.Time) error
	// RecordOTPFailure increments the OTP attempt counter and clears the code
	// once attempts reach maxAttempts. It returns the new attempt count.
	RecordOTPFailure(ctx context.Context, id uuid.UUID, maxAttempts int) (int, error)
	ClearEmailOTP(ctx context.Context, id uuid.UUID) error
}

// MFAStore persists TOTP secrets and backup codes.
type MFAStore interface {
	// ReplaceSecret drops any prior secret and codes and stores s in one transaction.
	ReplaceSecret(ctx context.Context, s *domain.MFASecret) error
	// GetSecret returns domain.ErrMFASetupNotStarted when no record exists.
	GetSecret(ctx context.Context, accountID uuid.UUID) (*domain.MFASecret, error)
	TouchSecret(ctx context.Context, secretID uuid.UUID) error
	// ConsumeBackupCode marks the code used only if it is still unused and
	// reports whether this call consumed it.
	ConsumeBackupCode(ctx context.Context, codeID uuid.UUID) (bool, error)
	ReplaceBackupCodes(ctx context.Context, secretID uuid.UUID, codes []domain.BackupCode) error
	// DisableMFA deletes the secret and codes and clears the account's MFA
	// flags in one transaction.
	DisableMFA(ctx context.Context, accountID uuid.UUID) error
}

// TokenStore persists single-use verification tokens.
type TokenStore interface {
	// Create revokes the account's existing tokens of the same kind first.
	Create(ctx context.Context, t *domain.VerificationToken) error
	// Get returns a live token without consuming it.
	Get(ctx context.Context, tokenHash string, kind domain.VerificationTokenKind) (*domain.VerificationToken, error)
	// Consume deletes the token and returns it. Expired tokens are deleted
	// and reported as domain.ErrVerificationTokenExpired.
	Consume(ctx context.Context, tokenHash string, kind domain.VerificationTokenKind) (*domain.VerificationToken, error)
}
