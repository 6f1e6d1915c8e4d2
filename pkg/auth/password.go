package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/autovault-auth/pkg/domain"
)

// Lockout defaults.
const (
	DefaultMaxFailedAttempts  = 5
	DefaultLockoutDuration    = 60 * time.Minute
	DefaultMFAFailureLimit    = 5
	DefaultMFALockoutDuration = 30 * time.Minute
)

// LockoutPolicy bounds the credential and MFA failure ladders.
type LockoutPolicy struct {
	MaxFailedAttempts  int
	LockoutDuration    time.Duration
	MFAFailureLimit    int
	MFALockoutDuration time.Duration
}

func (p *LockoutPolicy) applyDefaults() {
	if p.MaxFailedAttempts <= 0 {
		p.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	if p.LockoutDuration <= 0 {
		p.LockoutDuration = DefaultLockoutDuration
	}
	if p.MFAFailureLimit <= 0 {
		p.MFAFailureLimit = DefaultMFAFailureLimit
	}
	if p.MFALockoutDuration <= 0 {
		p.MFALockoutDuration = DefaultMFALockoutDuration
	}
}

// PasswordService handles registration, password login and password changes.
type PasswordService struct {
	accounts AccountStore
	policy   *PasswordPolicy
	hasher   PasswordHasher
	lockout  LockoutPolicy
	now      func() time.Time
}

// NewPasswordService creates a new password service.
func NewPasswordService(accounts AccountStore, policy *PasswordPolicy, hasher PasswordHasher, lockout LockoutPolicy) *PasswordService {
	lockout.applyDefaults()
	return &PasswordService{
		accounts: accounts,
		policy:   policy,
		hasher:   hasher,
		lockout:  lockout,
		now:      time.Now,
	}
}

// Lockout returns the effective lockout policy.
func (s *PasswordService) Lockout() LockoutPolicy {
	return s.lockout
}

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     domain.Role
}

// Register creates an account. Only password strength is checked here;
// personal-info and history rules apply once an account exists.
func (s *PasswordService) Register(ctx context.Context, in RegisterInput) (*domain.Account, error) {
	username := strings.TrimSpace(in.Username)
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(in.Email); err != nil {
		return nil, err
	}
	email := NormalizeEmail(in.Email)

	if err := s.policy.Validate(in.Password, nil).Err(); err != nil {
		return nil, err
	}

	role := in.Role
	if role == "" {
		role = domain.RoleNormal
	}
	if !role.Valid() {
		return nil, domain.ErrInvalidRole
	}

	exists, err := s.accounts.ExistsByIdentity(ctx, username, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrDuplicateIdentity
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	account := &domain.Account{
		ID:                uuid.New(),
		Username:          username,
		Email:             email,
		Role:              role,
		Status:            domain.StatusActive,
		PasswordHash:      hash,
		PasswordChangedAt: now,
		PasswordHistory:   []string{hash},
		MFAMethod:         domain.MFAMethodNone,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := account.Validate(); err != nil {
		return nil, err
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Authenticate checks an identifier (email or username) and password.
//
// Unknown identities and wrong passwords both yield
// domain.ErrInvalidCredentials, and so does a disabled or suspended account
// unless the password is right. A locked account yields *domain.LockedError,
// including on the attempt that triggers the lock. The failure counter is
// cleared on success but the login is not recorded until CompleteLogin.
func (s *PasswordService) Authenticate(ctx context.Context, identifier, password string) (*domain.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}
	if IsEmail(identifier) {
		identifier = NormalizeEmail(identifier)
	}

	account, err := s.accounts.FindByIdentity(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	now := s.now()
	if account.IsLocked(now) {
		return account, &domain.LockedError{Until: *account.LockedUntil}
	}

	if !s.hasher.Compare(password, account.PasswordHash) {
		state, err := s.accounts.RecordFailedAttempt(ctx, account.ID, s.lockout.MaxFailedAttempts, s.lockout.LockoutDuration)
		if err != nil {
			return nil, fmt.Errorf("failed to record failed attempt: %w", err)
		}
		account.FailedLoginAttempts = state.FailedLoginAttempts
		account.LockedUntil = state.LockedUntil
		if state.Locked(now) {
			return account, &domain.LockedError{Until: *state.LockedUntil}
		}
		return account, domain.ErrInvalidCredentials
	}
	// Status is only revealed to a caller who knows the password.
	if !account.IsActive() {
		return account, domain.ErrAccountInactive
	}

	if account.FailedLoginAttempts > 0 || account.LockedUntil != nil {
		if err := s.accounts.ClearFailures(ctx, account.ID); err != nil {
			return nil, fmt.Errorf("failed to reset failed attempts: %w", err)
		}
		account.FailedLoginAttempts = 0
		account.LockedUntil = nil
	}
	return account, nil
}

// CompleteLogin records a finished login and reports whether it came from
// an IP different from the previous login.
func (s *PasswordService) CompleteLogin(ctx context.Context, account *domain.Account, ip string) (newDevice bool, err error) {
	newDevice = account.LastLoginIP != nil && *account.LastLoginIP != "" && *account.LastLoginIP != ip
	if err := s.accounts.RecordSuccess(ctx, account.ID, ip); err != nil {
		return false, fmt.Errorf("failed to record login: %w", err)
	}
	now := s.now()
	account.LastLoginAt = &now
	account.LastLoginIP = &ip
	account.FailedLoginAttempts = 0
	account.MFAFailedAttempts = 0
	account.LockedUntil = nil
	return newDevice, nil
}

// RecordMFAFailure applies the MFA failure ladder. It returns
// *domain.LockedError when this failure locks the account.
//
// The ladder has its own counter: Authenticate clears password failures
// only, so signing in again does not buy more guesses at the second factor.
func (s *PasswordService) RecordMFAFailure(ctx context.Context, accountID uuid.UUID) error {
	state, err := s.accounts.RecordMFAFailure(ctx, accountID, s.lockout.MFAFailureLimit, s.lockout.MFALockoutDuration)
	if err != nil {
		return fmt.Errorf("failed to record MFA failure: %w", err)
	}
	if state.Locked(s.now()) {
		return &domain.LockedError{Until: *state.LockedUntil}
	}
	return nil
}

// LockFor force-locks an account, used by the abuse guard.
func (s *PasswordService) LockFor(ctx context.Context, accountID uuid.UUID, d time.Duration) (time.Time, error) {
	until := s.now().Add(d)
	if err := s.accounts.LockUntil(ctx, accountID, until); err != nil {
		return time.Time{}, err
	}
	return until, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *PasswordService) ChangePassword(ctx context.Context, accountID uuid.UUID, currentPassword, newPassword string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !s.hasher.Compare(currentPassword, account.PasswordHash) {
		return domain.ErrIncorrectPassword
	}
	return s.setPassword(ctx, account, newPassword)
}

// ResetPassword replaces the password of an account proven by a reset token.
func (s *PasswordService) ResetPassword(ctx context.Context, accountID uuid.UUID, newPassword string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	return s.setPassword(ctx, account, newPassword)
}

// CheckNewPassword runs the full policy against the account without
// changing anything.
func (s *PasswordService) CheckNewPassword(ctx context.Context, accountID uuid.UUID, newPassword string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	return s.policy.Validate(newPassword, &PasswordSubject{
		Username: account.Username,
		Email:    account.Email,
		History:  account.PasswordHistory,
	}).Err()
}

func (s *PasswordService) setPassword(ctx context.Context, account *domain.Account, newPassword string) error {
	result := s.policy.Validate(newPassword, &PasswordSubject{
		Username: account.Username,
		Email:    account.Email,
		History:  account.PasswordHistory,
	})
	if err := result.Err(); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	history := s.policy.AppendHistory(account.PasswordHistory, hash)
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash, history); err != nil {
		return err
	}
	account.PasswordHash = hash
	account.PasswordHistory = history
	account.PasswordChangedAt = s.now()
	return nil
}

// VerifyPassword re-checks the password of a signed-in account, used to
// confirm sensitive MFA changes.
func (s *PasswordService) VerifyPassword(ctx context.Context, accountID uuid.UUID, password string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !s.hasher.Compare(password, account.PasswordHash) {
		return domain.ErrIncorrectPassword
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (s *PasswordService) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.accounts.GetByID(ctx, accountID)
}

// FindAccount looks an account up by email or username.
func (s *PasswordService) FindAccount(ctx context.Context, identifier string) (*domain.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if IsEmail(identifier) {
		identifier = NormalizeEmail(identifier)
	}
	return s.accounts.FindByIdentity(ctx, identifier)
}

// SetMFA updates the account's MFA flags.
func (s *PasswordService) SetMFA(ctx context.Context, accountID uuid.UUID, enabled bool, method domain.MFAMethod) error {
	if enabled && (method == "" || method == domain.MFAMethodNone) {
		return domain.ErrInvalidMFAState
	}
	if !enabled {
		method = domain.MFAMethodNone
	}
	return s.accounts.SetMFA(ctx, accountID, enabled, method)
}

// MarkEmailVerified flags the account email as verified.
func (s *PasswordService) MarkEmailVerified(ctx context.Context, accountID uuid.UUID) error {
	return s.accounts.MarkEmailVerified(ctx, accountID)
}
