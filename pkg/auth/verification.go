package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/autovault-auth/pkg/domain"
)

const tokenBytes = 32

type VerificationConfig struct {
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
	MFAChallengeTTL      time.Duration
}

// VerificationService issues the single-use tokens behind email
// verification, password reset and the MFA login step.
type VerificationService struct {
	config VerificationConfig
	tokens TokenStore
	now    func() time.Time
}

func NewVerificationService(config VerificationConfig, tokens TokenStore) *VerificationService {
	if config.EmailVerificationTTL == 0 {
		config.EmailVerificationTTL = 24 * time.Hour
	}
	if config.PasswordResetTTL == 0 {
		config.PasswordResetTTL = time.Hour
	}
	if config.MFAChallengeTTL == 0 {
		config.MFAChallengeTTL = 5 * time.Minute
	}
	return &VerificationService{config: config, tokens: tokens, now: time.Now}
}

// Config returns the effective token lifetimes.
func (s *VerificationService) Config() VerificationConfig {
	return s.config
}

func (s *VerificationService) CreateEmailVerificationToken(ctx context.Context, accountID uuid.UUID) (string, error) {
	return s.create(ctx, accountID, domain.TokenKindEmailVerification, s.config.EmailVerificationTTL)
}

func (s *VerificationService) CreatePasswordResetToken(ctx context.Context, accountID uuid.UUID) (string, error) {
	return s.create(ctx, accountID, domain.TokenKindPasswordReset, s.config.PasswordResetTTL)
}

// CreateMFAChallenge is issued after a correct password when a second
// factor is still required.
func (s *VerificationService) CreateMFAChallenge(ctx context.Context, accountID uuid.UUID) (string, error) {
	return s.create(ctx, accountID, domain.TokenKindMFAChallenge, s.config.MFAChallengeTTL)
}

// ConsumeEmailVerificationToken deletes the token and returns its account.
func (s *VerificationService) ConsumeEmailVerificationToken(ctx context.Context, raw string) (uuid.UUID, error) {
	return s.consume(ctx, raw, domain.TokenKindEmailVerification)
}

func (s *VerificationService) ConsumePasswordResetToken(ctx context.Context, raw string) (uuid.UUID, error) {
	return s.consume(ctx, raw, domain.TokenKindPasswordReset)
}

// PeekPasswordResetToken resolves a reset token without consuming it, so
// a rejected new password does not burn the link.
func (s *VerificationService) PeekPasswordResetToken(ctx context.Context, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, domain.ErrVerificationTokenInvalid
	}
	t, err := s.tokens.Get(ctx, HashToken(raw), domain.TokenKindPasswordReset)
	if err != nil {
		if errors.Is(err, domain.ErrVerificationTokenNotFound) {
			return uuid.Nil, domain.ErrVerificationTokenInvalid
		}
		return uuid.Nil, err
	}
	return t.AccountID, nil
}

// PeekMFAChallenge resolves a challenge without consuming it so a mistyped
// code can be retried.
func (s *VerificationService) PeekMFAChallenge(ctx context.Context, raw string) (uuid.UUID, error) {
	t, err := s.tokens.Get(ctx, HashToken(raw), domain.TokenKindMFAChallenge)
	if err != nil {
		return uuid.Nil, challengeErr(err)
	}
	return t.AccountID, nil
}

func (s *VerificationService) ConsumeMFAChallenge(ctx context.Context, raw string) (uuid.UUID, error) {
	id, err := s.consume(ctx, raw, domain.TokenKindMFAChallenge)
	if err != nil {
		return uuid.Nil, challengeErr(err)
	}
	return id, nil
}

func (s *VerificationService) create(ctx context.Context, accountID uuid.UUID, kind domain.VerificationTokenKind, ttl time.Duration) (string, error) {
	raw, err := GenerateToken(tokenBytes)
	if err != nil {
		return "", err
	}
	now := s.now()
	token := &domain.VerificationToken{
		ID:        uuid.New(),
		AccountID: accountID,
		TokenHash: HashToken(raw),
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return "", fmt.Errorf("failed to create %s token: %w", kind, err)
	}
	return raw, nil
}

func (s *VerificationService) consume(ctx context.Context, raw string, kind domain.VerificationTokenKind) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, domain.ErrVerificationTokenInvalid
	}
	t, err := s.tokens.Consume(ctx, HashToken(raw), kind)
	if err != nil {
		if errors.Is(err, domain.ErrVerificationTokenNotFound) {
			return uuid.Nil, domain.ErrVerificationTokenInvalid
		}
		return uuid.Nil, err
	}
	return t.AccountID, nil
}

func challengeErr(err error) error {
	if errors.Is(err, domain.ErrVerificationTokenNotFound) ||
		errors.Is(err, domain.ErrVerificationTokenExpired) ||
		errors.Is(err, domain.ErrVerificationTokenInvalid) {
		return domain.ErrMFAChallengeExpired
	}
	return err
}
