package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tendant/autovault-auth/pkg/domain"
)

// VerificationTokensRepository handles verification token persistence.
type VerificationTokensRepository struct {
	db *sql.DB
}

// NewVerificationTokensRepository creates a new verification tokens repository.
func NewVerificationTokensRepository(db *sql.DB) *VerificationTokensRepository {
	return &VerificationTokensRepository{db: db}
}

// Create replaces the account's tokens of the same kind with t.
func (r *VerificationTokensRepository) Create(ctx context.Context, t *domain.VerificationToken) error {
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM verification_tokens WHERE account_id = $1 AND kind = $2`, t.AccountID, t.Kind); err != nil {
			return fmt.Errorf("failed to revoke active tokens: %w", err)
		}
		query := `
			INSERT INTO verification_tokens (id, account_id, token_hash, kind, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		if _, err := tx.ExecContext(ctx, query, t.ID, t.AccountID, t.TokenHash, t.Kind, t.CreatedAt, t.ExpiresAt); err != nil {
			return fmt.Errorf("failed to create token: %w", err)
		}
		return nil
	})
}

// Get returns a live token. An expired token is deleted on sight.
func (r *VerificationTokensRepository) Get(ctx context.Context, tokenHash string, kind domain.VerificationTokenKind) (*domain.VerificationToken, error) {
	query := `
		SELECT id, account_id, token_hash, kind, created_at, expires_at
		FROM verification_tokens
		WHERE token_hash = $1 AND kind = $2
	`
	t := &domain.VerificationToken{}
	err := r.db.QueryRowContext(ctx, query, tokenHash, kind).Scan(
		&t.ID, &t.AccountID, &t.TokenHash, &t.Kind, &t.CreatedAt, &t.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrVerificationTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.Expired(nowUTC()) {
		_, _ = r.db.ExecContext(ctx, `DELETE FROM verification_tokens WHERE id = $1`, t.ID)
		return nil, domain.ErrVerificationTokenExpired
	}
	return t, nil
}

// Consume deletes the token in the same statement that reads it, so two
// concurrent consumers cannot both succeed.
func (r *VerificationTokensRepository) Consume(ctx context.Context, tokenHash string, kind domain.VerificationTokenKind) (*domain.VerificationToken, error) {
	query := `
		DELETE FROM verification_tokens
		WHERE token_hash = $1 AND kind = $2
		RETURNING id, account_id, token_hash, kind, created_at, expires_at
	`
	t := &domain.VerificationToken{}
	err := r.db.QueryRowContext(ctx, query, tokenHash, kind).Scan(
		&t.ID, &t.AccountID, &t.TokenHash, &t.Kind, &t.CreatedAt, &t.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrVerificationTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.Expired(nowUTC()) {
		return nil, domain.ErrVerificationTokenExpired
	}
	return t, nil
}

// DeleteExpired removes every expired token and returns how many went.
func (r *VerificationTokensRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM verification_tokens WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
