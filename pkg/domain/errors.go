package domain

import (
	"errors"
	"strings"
	"time"
)

// Authentication errors
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrDuplicateIdentity    = errors.New("user already exists")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountLocked        = errors.New("account is temporarily locked")
	ErrAccountInactive      = errors.New("account is not active")
	ErrInvalidToken         = errors.New("invalid token")
	ErrSessionRevoked       = errors.New("session revoked")
	ErrMissingCredentials   = errors.New("missing authorization")
	ErrForbidden            = errors.New("insufficient privileges")
	ErrIncorrectPassword    = errors.New("incorrect password")
	ErrEmailAlreadyVerified = errors.New("email is already verified")
)

// Verification token errors
var (
	ErrVerificationTokenNotFound = errors.New("verification token not found")
	ErrVerificationTokenExpired  = errors.New("verification token expired")
	ErrVerificationTokenInvalid  = errors.New("invalid verification token")
)

// Validation errors
var (
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrInvalidUsername = errors.New("invalid username format")
	ErrInvalidRole     = errors.New("invalid role")
	ErrWeakPassword    = errors.New("password does not meet requirements")
	ErrInvalidMFAState = errors.New("mfa enabled requires a method other than none")
)

// MFA errors
var (
	ErrMFANotEnabled       = errors.New("MFA is not enabled for this account")
	ErrMFAAlreadyEnabled   = errors.New("MFA is already enabled")
	ErrMFASetupNotStarted  = errors.New("MFA setup has not been initiated")
	ErrInvalidMFACode      = errors.New("invalid MFA code")
	ErrInvalidRecoveryCode = errors.New("invalid or already used backup code")
	ErrMFAChallengeExpired = errors.New("MFA challenge expired")
	ErrOTPNotIssued        = errors.New("no verification code has been issued")
	ErrOTPExpired          = errors.New("verification code has expired")
	ErrOTPMismatch         = errors.New("invalid verification code")
	ErrOTPDelivery         = errors.New("failed to send verification code")
)

// ValidationError carries every policy message produced for a rejected input.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return ErrWeakPassword.Error()
	}
	return strings.Join(e.Errors, "; ")
}

// Unwrap lets callers match password policy failures with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrWeakPassword
}

// LockedError reports a time-boxed lock together with its expiry.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return ErrAccountLocked.Error()
}

func (e *LockedError) Unwrap() error {
	return ErrAccountLocked
}

// RemainingMinutes returns the whole minutes left at now, rounded up.
func (e *LockedError) RemainingMinutes(now time.Time) int {
	d := e.Until.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}
