package domain

import (
	"time"

	"github.com/google/uuid"
)

type VerificationTokenKind string

const (
	TokenKindEmailVerification VerificationTokenKind = "email_verification"
	TokenKindPasswordReset     VerificationTokenKind = "password_reset"
	TokenKindMFAChallenge      VerificationTokenKind = "mfa_challenge"
)

// VerificationToken is single use: it is deleted when consumed or found expired.
type VerificationToken struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	TokenHash string
	Kind      VerificationTokenKind
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (t *VerificationToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
