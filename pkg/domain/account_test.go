package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAccount_IsLocked(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name        string
		lockedUntil *time.Time
		want        bool
	}{
		{name: "not locked (nil)", lockedUntil: nil, want: false},
		{name: "locked (future time)", lockedUntil: &future, want: true},
		{name: "not locked (past time)", lockedUntil: &past, want: false},
		{name: "expires exactly now", lockedUntil: &now, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Account{ID: uuid.New(), Email: "test@example.com", LockedUntil: tt.lockedUntil}
			if got := a.IsLocked(now); got != tt.want {
				t.Errorf("IsLocked() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAccount_LockRemaining(t *testing.T) {
	now := time.Now()
	until := now.Add(20 * time.Minute)
	a := &Account{LockedUntil: &until}

	if got := a.LockRemaining(now); got != 20*time.Minute {
		t.Errorf("LockRemaining() = %v, want 20m", got)
	}
	if got := a.LockRemaining(until.Add(time.Second)); got != 0 {
		t.Errorf("LockRemaining() after expiry = %v, want 0", got)
	}
}

func TestAccount_Validate(t *testing.T) {
	tests := []struct {
		name    string
		account Account
		wantErr error
	}{
		{
			name:    "valid normal account",
			account: Account{Role: RoleNormal, MFAMethod: MFAMethodNone},
		},
		{
			name:    "unknown role",
			account: Account{Role: "owner", MFAMethod: MFAMethodNone},
			wantErr: ErrInvalidRole,
		},
		{
			name:    "mfa enabled without method",
			account: Account{Role: RoleAdmin, MFAEnabled: true, MFAMethod: MFAMethodNone},
			wantErr: ErrInvalidMFAState,
		},
		{
			name:    "mfa enabled with totp",
			account: Account{Role: RoleAdmin, MFAEnabled: true, MFAMethod: MFAMethodTOTP},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.account.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAccount_Validate_ClampsNegativeAttempts(t *testing.T) {
	a := Account{Role: RoleNormal, FailedLoginAttempts: -2}
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if a.FailedLoginAttempts != 0 {
		t.Errorf("FailedLoginAttempts = %d, want 0", a.FailedLoginAttempts)
	}
}

func TestAccount_RequiresMFA(t *testing.T) {
	a := &Account{MFAEnabled: true, MFAMethod: MFAMethodEmail}
	if !a.RequiresMFA() {
		t.Error("RequiresMFA() = false, want true")
	}
	a.MFAEnabled = false
	if a.RequiresMFA() {
		t.Error("RequiresMFA() = true, want false")
	}
}

func TestMFASecret_UnusedBackupCodes(t *testing.T) {
	used := time.Now()
	s := &MFASecret{BackupCodes: []BackupCode{{}, {UsedAt: &used}, {}}}
	if got := s.UnusedBackupCodes(); got != 2 {
		t.Errorf("UnusedBackupCodes() = %d, want 2", got)
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Errors: []string{"too short", "needs a digit"}}
	if !errors.Is(err, ErrWeakPassword) {
		t.Error("ValidationError should match ErrWeakPassword")
	}
	if err.Error() != "too short; needs a digit" {
		t.Errorf("Error() = %q", err.Error())
	}
}
