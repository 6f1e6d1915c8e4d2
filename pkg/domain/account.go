package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role distinguishes administrators from regular renters.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleNormal Role = "normal"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleNormal
}

// AccountStatus gates every authenticated operation.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusDisabled  AccountStatus = "disabled"
	StatusSuspended AccountStatus = "suspended"
)

// PasswordHistoryLimit is the number of prior hashes kept to block reuse.
const PasswordHistoryLimit = 5

// Account represents a platform user together with its security state.
type Account struct {
	ID       uuid.UUID
	Username string
	Email    string
	Role     Role
	Status   AccountStatus

	PasswordHash      string
	PasswordChangedAt time.Time
	PasswordHistory   []string // most recent last, current hash included

	FailedLoginAttempts int
	LockedUntil         *time.Time

	// MFAFailedAttempts counts wrong second-factor codes at login. A correct
	// password does not reset it.
	MFAFailedAttempts int

	MFAEnabled bool
	MFAMethod  MFAMethod

	OTPCodeHash  *string
	OTPExpiresAt *time.Time
	OTPAttempts  int

	EmailVerified bool
	LastLoginAt   *time.Time
	LastLoginIP   *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLocked returns true if the lock expiry lies after now.
func (a *Account) IsLocked(now time.Time) bool {
	if a.LockedUntil == nil {
		return false
	}
	return now.Before(*a.LockedUntil)
}

// LockRemaining returns the time left on an active lock, or zero.
func (a *Account) LockRemaining(now time.Time) time.Duration {
	if !a.IsLocked(now) {
		return 0
	}
	return a.LockedUntil.Sub(now)
}

// IsActive returns true if the account may authenticate.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// RequiresMFA returns true if login must be completed with a second factor.
func (a *Account) RequiresMFA() bool {
	return a.MFAEnabled && a.MFAMethod != MFAMethodNone
}

// IsAdmin reports whether the account holds the admin role.
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Validate checks the invariants that storage must never violate.
func (a *Account) Validate() error {
	if !a.Role.Valid() {
		return ErrInvalidRole
	}
	if a.MFAEnabled && (a.MFAMethod == MFAMethodNone || a.MFAMethod == "") {
		return ErrInvalidMFAState
	}
	if a.FailedLoginAttempts < 0 {
		a.FailedLoginAttempts = 0
	}
	return nil
}

// LockoutState is the result of an atomic failed-attempt update.
type LockoutState struct {
	FailedLoginAttempts int
	MFAFailedAttempts   int
	LockedUntil         *time.Time
}

// Locked reports whether the update left the account locked at now.
func (s *LockoutState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}
