package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
	"github.com/tendant/autovault-auth/pkg/domain"
)

const (
	// TOTP parameters
	totpDigits = otp.DigitsSix
	totpPeriod = 30
	totpSkew   = 2 // ±2 steps of clock drift

	// Backup code parameters
	backupCodeLength = 8
	backupCodeCount  = 8
	backupCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // No ambiguous chars

	qrCodeSize = 256
)

// MFAConfig contains configuration for the MFA service
type MFAConfig struct {
	Issuer string // shown in authenticator apps
}

// MFAService drives the TOTP lifecycle: Unset, PendingSetup, Enabled and
// back to Unset on Disable.
type MFAService struct {
	config   MFAConfig
	secrets  MFAStore
	accounts AccountStore
	box      *SecretBox
	now      func() time.Time
}

// NewMFAService creates a new MFA service
func NewMFAService(config MFAConfig, secrets MFAStore, accounts AccountStore, box *SecretBox) *MFAService {
	if config.Issuer == "" {
		config.Issuer = "AutoVault"
	}
	return &MFAService{
		config:   config,
		secrets:  secrets,
		accounts: accounts,
		box:      box,
		now:      time.Now,
	}
}

// BeginSetup generates a fresh seed and backup codes, replacing any pending
// setup. The account stays MFA-disabled until VerifyAndEnable succeeds.
func (s *MFAService) BeginSetup(ctx context.Context, accountID uuid.UUID) (*domain.MFASetup, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.MFAEnabled {
		return nil, domain.ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.config.Issuer,
		AccountName: account.Email,
		Period:      totpPeriod,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	encryptedSecret, err := s.box.Encrypt(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt TOTP secret: %w", err)
	}
	plain, codes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}

	secret := &domain.MFASecret{
		ID:              uuid.New(),
		AccountID:       accountID,
		SecretEncrypted: encryptedSecret,
		BackupCodes:     codes,
		CreatedAt:       s.now(),
	}
	if err := s.secrets.ReplaceSecret(ctx, secret); err != nil {
		return nil, fmt.Errorf("failed to store MFA secret: %w", err)
	}

	return &domain.MFASetup{
		Secret:      key.Secret(),
		QRCode:      "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		BackupCodes: plain,
	}, nil
}

// VerifyAndEnable checks a code against the pending secret and turns TOTP on.
func (s *MFAService) VerifyAndEnable(ctx context.Context, accountID uuid.UUID, code string) error {
	secret, err := s.secrets.GetSecret(ctx, accountID)
	if err != nil {
		return err
	}
	ok, err := s.checkTOTP(secret, code)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidMFACode
	}

	if err := s.accounts.SetMFA(ctx, accountID, true, domain.MFAMethodTOTP); err != nil {
		return fmt.Errorf("failed to enable MFA: %w", err)
	}
	if err := s.secrets.TouchSecret(ctx, secret.ID); err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}
	return nil
}

// VerifyLogin tries the code as TOTP and then as a backup code. A wrong code
// is reported as Valid=false with a nil error; the caller owns lockout.
func (s *MFAService) VerifyLogin(ctx context.Context, accountID uuid.UUID, code string) (*domain.MFAVerification, error) {
	secret, err := s.secrets.GetSecret(ctx, accountID)
	if err != nil {
		return nil, err
	}

	ok, err := s.checkTOTP(secret, code)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := s.secrets.TouchSecret(ctx, secret.ID); err != nil {
			return nil, fmt.Errorf("failed to update last used: %w", err)
		}
		return &domain.MFAVerification{Valid: true, Kind: domain.MFACodeTOTP}, nil
	}

	candidate := NormalizeBackupCode(code)
	if len(candidate) != backupCodeLength {
		return &domain.MFAVerification{Valid: false}, nil
	}

	remaining := secret.UnusedBackupCodes()
	for i := range secret.BackupCodes {
		bc := &secret.BackupCodes[i]
		if bc.Used() {
			continue
		}
		stored, err := s.box.Decrypt(bc.CodeEncrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt backup code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) != 1 {
			continue
		}
		consumed, err := s.secrets.ConsumeBackupCode(ctx, bc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to consume backup code: %w", err)
		}
		if !consumed {
			// Lost a race with a concurrent request for the same code.
			return &domain.MFAVerification{Valid: false}, nil
		}
		return &domain.MFAVerification{
			Valid:                true,
			Kind:                 domain.MFACodeBackup,
			RemainingBackupCodes: remaining - 1,
		}, nil
	}
	return &domain.MFAVerification{Valid: false}, nil
}

// RegenerateBackupCodes replaces every backup code with a fresh unused set.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	secret, err := s.secrets.GetSecret(ctx, accountID)
	if err != nil {
		return nil, err
	}
	plain, codes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.secrets.ReplaceBackupCodes(ctx, secret.ID, codes); err != nil {
		return nil, fmt.Errorf("failed to replace backup codes: %w", err)
	}
	return plain, nil
}

// Disable turns MFA off: the secret, its backup codes and the account flags
// go together or not at all.
func (s *MFAService) Disable(ctx context.Context, accountID uuid.UUID) error {
	if err := s.secrets.DisableMFA(ctx, accountID); err != nil {
		return fmt.Errorf("failed to disable MFA: %w", err)
	}
	return nil
}

// Status reports whether MFA is on, which method, and how many backup codes remain.
func (s *MFAService) Status(ctx context.Context, accountID uuid.UUID) (*domain.MFAStatus, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	status := &domain.MFAStatus{Enabled: account.MFAEnabled, Method: account.MFAMethod}
	if status.Method == "" {
		status.Method = domain.MFAMethodNone
	}
	if account.MFAEnabled && account.MFAMethod == domain.MFAMethodTOTP {
		secret, err := s.secrets.GetSecret(ctx, accountID)
		if err != nil {
			return nil, err
		}
		status.RemainingBackupCodes = secret.UnusedBackupCodes()
	}
	return status, nil
}

func (s *MFAService) checkTOTP(secret *domain.MFASecret, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != int(totpDigits) || strings.IndexFunc(code, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0 {
		return false, nil
	}
	seed, err := s.box.Decrypt(secret.SecretEncrypted)
	if err != nil {
		return false, fmt.Errorf("failed to decrypt TOTP secret: %w", err)
	}
	valid, err := totp.ValidateCustom(code, seed, s.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, nil
	}
	return valid, nil
}

// newBackupCodes returns the display form (XXXX-XXXX) and the encrypted
// records of a fresh set of codes.
func (s *MFAService) newBackupCodes() ([]string, []domain.BackupCode, error) {
	plain := make([]string, backupCodeCount)
	codes := make([]domain.BackupCode, backupCodeCount)
	for i := range plain {
		raw, err := randomString(backupCodeLength, backupCodeChars)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		enc, err := s.box.Encrypt(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encrypt backup code: %w", err)
		}
		plain[i] = raw[:4] + "-" + raw[4:]
		codes[i] = domain.BackupCode{ID: uuid.New(), Position: i, CodeEncrypted: enc}
	}
	return plain, codes, nil
}

// NormalizeBackupCode uppercases and strips everything but letters and digits.
func NormalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return unicode.ToUpper(r)
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			return r
		}
		return -1
	}, code)
}
