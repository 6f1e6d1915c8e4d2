package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/autovault-auth/pkg/domain"
)

const accountColumns = `
	id, username, email, role, status, password_hash, password_changed_at, password_history,
	failed_login_attempts, locked_until, mfa_failed_attempts, mfa_enabled, mfa_method,
	otp_code_hash, otp_expires_at, otp_attempts,
	email_verified, last_login_at, last_login_ip, created_at, updated_at`

// AccountsRepository handles account persistence.
type AccountsRepository struct {
	db *sql.DB
}

// NewAccountsRepository creates a new accounts repository.
func NewAccountsRepository(db *sql.DB) *AccountsRepository {
	return &AccountsRepository{db: db}
}

// Create inserts an account. Unique violations map to domain.ErrDuplicateIdentity.
func (r *AccountsRepository) Create(ctx context.Context, a *domain.Account) error {
	query := `
		INSERT INTO accounts (id, username, email, role, status, password_hash, password_changed_at,
		                      password_history, mfa_enabled, mfa_method, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Username, a.Email, a.Role, a.Status, a.PasswordHash, a.PasswordChangedAt,
		pq.Array(a.PasswordHistory), a.MFAEnabled, a.MFAMethod, a.EmailVerified, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateIdentity
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

// FindByIdentity retrieves an account by email or username, case-insensitively.
func (r *AccountsRepository) FindByIdentity(ctx context.Context, identifier string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1) OR LOWER(username) = LOWER($1) LIMIT 1`
	return scanAccount(r.db.QueryRowContext(ctx, query, identifier))
}

// ExistsByIdentity reports whether the username or email is taken.
func (r *AccountsRepository) ExistsByIdentity(ctx context.Context, username, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM accounts WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($2))`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, username, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check identity: %w", err)
	}
	return exists, nil
}

// RecordFailedAttempt applies one failure in a single statement. An expired
// lock restarts the counter at 1.
func (r *AccountsRepository) RecordFailedAttempt(ctx context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration) (*domain.LockoutState, error) {
	query := `
		UPDATE accounts
		SET failed_login_attempts = CASE
		        WHEN locked_until IS NOT NULL AND locked_until <= NOW() THEN 1
		        ELSE failed_login_attempts + 1
		    END,
		    locked_until = CASE
		        WHEN locked_until IS NOT NULL AND locked_until <= NOW() THEN
		            CASE WHEN 1 >= $2 THEN NOW() + $3 * INTERVAL '1 second' ELSE NULL END
		        WHEN failed_login_attempts + 1 >= $2 THEN NOW() + $3 * INTERVAL '1 second'
		        ELSE locked_until
		    END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts, locked_until
	`
	state := &domain.LockoutState{}
	err := r.db.QueryRowContext(ctx, query, id, maxAttempts, int64(lockFor/time.Second)).
		Scan(&state.FailedLoginAttempts, &state.LockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record failed attempt: %w", err)
	}
	return state, nil
}

// ClearFailures resets the counter and lock.
func (r *AccountsRepository) ClearFailures(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE accounts
		SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id)
}

// RecordMFAFailure counts a wrong second-factor code. The limit locks the
// account and resets the counter in the same statement.
func (r *AccountsRepository) RecordMFAFailure(ctx context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration) (*domain.LockoutState, error) {
	query := `
		UPDATE accounts
		SET mfa_failed_attempts = CASE
		        WHEN mfa_failed_attempts + 1 >= $2 THEN 0
		        ELSE mfa_failed_attempts + 1
		    END,
		    locked_until = CASE
		        WHEN mfa_failed_attempts + 1 >= $2 THEN NOW() + $3 * INTERVAL '1 second'
		        ELSE locked_until
		    END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts, mfa_failed_attempts, locked_until
	`
	state := &domain.LockoutState{}
	err := r.db.QueryRowContext(ctx, query, id, maxAttempts, int64(lockFor/time.Second)).
		Scan(&state.FailedLoginAttempts, &state.MFAFailedAttempts, &state.LockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record MFA failure: %w", err)
	}
	return state, nil
}

// RecordSuccess clears the failure state and stamps the login.
func (r *AccountsRepository) RecordSuccess(ctx context.Context, id uuid.UUID, ip string) error {
	query := `
		UPDATE accounts
		SET failed_login_attempts = 0, mfa_failed_attempts = 0, locked_until = NULL,
		    last_login_at = NOW(), last_login_ip = $2, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, ip)
}

// LockUntil force-locks the account and counts the event as a failure.
func (r *AccountsRepository) LockUntil(ctx context.Context, id uuid.UUID, until time.Time) error {
	query := `
		UPDATE accounts
		SET locked_until = $2, failed_login_attempts = failed_login_attempts + 1, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, until)
}

// UpdatePassword stores a new hash and the trimmed history.
func (r *AccountsRepository) UpdatePassword(ctx context.Context, id uuid.UUID, hash string, history []string) error {
	query := `
		UPDATE accounts
		SET password_hash = $2, password_history = $3, password_changed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, hash, pq.Array(history))
}

// SetMFA updates the MFA flags. The table CHECK rejects enabled with 'none'.
func (r *AccountsRepository) SetMFA(ctx context.Context, id uuid.UUID, enabled bool, method domain.MFAMethod) error {
	query := `UPDATE accounts SET mfa_enabled = $2, mfa_method = $3, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, query, id, enabled, method)
}

// MarkEmailVerified sets email_verified.
func (r *AccountsRepository) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE accounts SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, query, id)
}

// SetEmailOTP stores a new code hash and resets its attempt counter.
func (r *AccountsRepository) SetEmailOTP(ctx context.Context, id uuid.UUID, codeHash string, expiresAt time.Time) error {
	query := `
		UPDATE accounts
		SET otp_code_hash = $2, otp_expires_at = $3, otp_attempts = 0, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, codeHash, expiresAt)
}

// RecordOTPFailure counts a wrong code, clearing it at the limit.
func (r *AccountsRepository) RecordOTPFailure(ctx context.Context, id uuid.UUID, maxAttempts int) (int, error) {
	query := `
		UPDATE accounts
		SET otp_attempts = otp_attempts + 1,
		    otp_code_hash = CASE WHEN otp_attempts + 1 >= $2 THEN NULL ELSE otp_code_hash END,
		    otp_expires_at = CASE WHEN otp_attempts + 1 >= $2 THEN NULL ELSE otp_expires_at END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING otp_attempts
	`
	var attempts int
	err := r.db.QueryRowContext(ctx, query, id, maxAttempts).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record OTP failure: %w", err)
	}
	return attempts, nil
}

// ClearEmailOTP removes any pending code.
func (r *AccountsRepository) ClearEmailOTP(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE accounts
		SET otp_code_hash = NULL, otp_expires_at = NULL, otp_attempts = 0, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id)
}

func (r *AccountsRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	a := &domain.Account{}
	var history pq.StringArray
	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.Role, &a.Status, &a.PasswordHash, &a.PasswordChangedAt, &history,
		&a.FailedLoginAttempts, &a.LockedUntil, &a.MFAFailedAttempts, &a.MFAEnabled, &a.MFAMethod,
		&a.OTPCodeHash, &a.OTPExpiresAt, &a.OTPAttempts,
		&a.EmailVerified, &a.LastLoginAt, &a.LastLoginIP, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.PasswordHistory = []string(history)
	return a, nil
}
