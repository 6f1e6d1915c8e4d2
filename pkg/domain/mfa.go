package domain

import (
	"time"

	"github.com/google/uuid"
)

// MFAMethod represents the second factor configured for an account.
type MFAMethod string

const (
	MFAMethodNone  MFAMethod = "none"
	MFAMethodEmail MFAMethod = "email"
	MFAMethodTOTP  MFAMethod = "totp"
)

// MFASecret is the encrypted TOTP seed plus its backup codes.
type MFASecret struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	SecretEncrypted string // base64(nonce || AES-256-GCM ciphertext)
	BackupCodes     []BackupCode
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}

// BackupCode is a single-use fallback credential.
type BackupCode struct {
	ID            uuid.UUID
	Position      int
	CodeEncrypted string
	UsedAt        *time.Time
}

// Used returns true if the code has been consumed.
func (c *BackupCode) Used() bool {
	return c.UsedAt != nil
}

// UnusedBackupCodes counts codes that can still be redeemed.
func (s *MFASecret) UnusedBackupCodes() int {
	n := 0
	for i := range s.BackupCodes {
		if !s.BackupCodes[i].Used() {
			n++
		}
	}
	return n
}

// MFASetup is returned once, when TOTP enrollment begins.
type MFASetup struct {
	Secret      string   // base32, for manual entry
	QRCode      string   // data:image/png;base64,...
	BackupCodes []string // plain text, shown once
}

// MFACodeKind tells which factor satisfied a verification.
type MFACodeKind string

const (
	MFACodeTOTP   MFACodeKind = "totp"
	MFACodeBackup MFACodeKind = "backup"
	MFACodeEmail  MFACodeKind = "email"
)

// MFAVerification is the typed result of checking a login code.
type MFAVerification struct {
	Valid                bool
	Kind                 MFACodeKind
	RemainingBackupCodes int
}

// MFAStatus summarises an account's second factor.
type MFAStatus struct {
	Enabled              bool      `json:"enabled"`
	Method               MFAMethod `json:"method"`
	RemainingBackupCodes int       `json:"remainingBackupCodes"`
}
