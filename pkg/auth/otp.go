package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/autovault-auth/pkg/domain"
)

const (
	DefaultOTPTTL         = 10 * time.Minute
	DefaultOTPMaxAttempts = 5
)

// OTPSender delivers a login code by email.
type OTPSender interface {
	SendLoginCode(ctx context.Context, to, username, code string, ttl time.Duration) error
}

// OTPService issues and checks six digit email codes.
type OTPService struct {
	accounts    AccountStore
	sender      OTPSender
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewOTPService(accounts AccountStore, sender OTPSender, ttl time.Duration, maxAttempts int) *OTPService {
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultOTPMaxAttempts
	}
	return &OTPService{
		accounts:    accounts,
		sender:      sender,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Issue stores a new code, replacing any previous one, and mails it.
// A delivery failure is returned as domain.ErrOTPDelivery.
func (s *OTPService) Issue(ctx context.Context, account *domain.Account) error {
	code, err := generateOTP()
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(s.ttl)
	if err := s.accounts.SetEmailOTP(ctx, account.ID, otpDigest(account.ID, code), expiresAt); err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}
	if err := s.sender.SendLoginCode(ctx, account.Email, account.Username, code, s.ttl); err != nil {
		_ = s.accounts.ClearEmailOTP(ctx, account.ID)
		return fmt.Errorf("%w: %v", domain.ErrOTPDelivery, err)
	}
	return nil
}

// Verify checks the code against the account's pending OTP. Success clears
// the code. A mismatch counts an attempt and the code is cleared once the
// attempt limit is reached.
func (s *OTPService) Verify(ctx context.Context, accountID uuid.UUID, code string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.OTPCodeHash == nil || account.OTPExpiresAt == nil {
		return domain.ErrOTPNotIssued
	}
	if !s.now().Before(*account.OTPExpiresAt) {
		_ = s.accounts.ClearEmailOTP(ctx, accountID)
		return domain.ErrOTPExpired
	}

	candidate := otpDigest(accountID, strings.TrimSpace(code))
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(*account.OTPCodeHash)) != 1 {
		if _, err := s.accounts.RecordOTPFailure(ctx, accountID, s.maxAttempts); err != nil {
			return fmt.Errorf("failed to record OTP failure: %w", err)
		}
		return domain.ErrOTPMismatch
	}
	return s.accounts.ClearEmailOTP(ctx, accountID)
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func otpDigest(accountID uuid.UUID, code string) string {
	return HashToken(accountID.String() + ":" + code)
}
