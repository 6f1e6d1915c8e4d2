package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tendant/autovault-auth/pkg/domain"
)

// MFARepository stores TOTP secrets and their backup codes.
type MFARepository struct {
	db *sql.DB
}

// NewMFARepository creates a new MFA repository
func NewMFARepository(db *sql.DB) *MFARepository {
	return &MFARepository{db: db}
}

// ReplaceSecret deletes any prior secret (codes cascade) and inserts s with its codes.
func (r *MFARepository) ReplaceSecret(ctx context.Context, s *domain.MFASecret) error {
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_secrets WHERE account_id = $1`, s.AccountID); err != nil {
			return fmt.Errorf("failed to delete existing MFA secret: %w", err)
		}
		query := `
			INSERT INTO mfa_secrets (id, account_id, secret_encrypted, created_at)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := tx.ExecContext(ctx, query, s.ID, s.AccountID, s.SecretEncrypted, s.CreatedAt); err != nil {
			return fmt.Errorf("failed to create MFA secret: %w", err)
		}
		return insertBackupCodes(ctx, tx, s.ID, s.BackupCodes)
	})
}

// GetSecret loads the secret and its codes ordered by position.
func (r *MFARepository) GetSecret(ctx context.Context, accountID uuid.UUID) (*domain.MFASecret, error) {
	query := `
		SELECT id, account_id, secret_encrypted, created_at, last_used_at
		FROM mfa_secrets
		WHERE account_id = $1
	`
	s := &domain.MFASecret{}
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&s.ID, &s.AccountID, &s.SecretEncrypted, &s.CreatedAt, &s.LastUsedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMFASetupNotStarted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get MFA secret: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, position, code_encrypted, used_at
		FROM mfa_backup_codes
		WHERE secret_id = $1
		ORDER BY position
	`, s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get backup codes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.BackupCode
		if err := rows.Scan(&c.ID, &c.Position, &c.CodeEncrypted, &c.UsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backup code: %w", err)
		}
		s.BackupCodes = append(s.BackupCodes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// TouchSecret updates last_used_at.
func (r *MFARepository) TouchSecret(ctx context.Context, secretID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE mfa_secrets SET last_used_at = NOW() WHERE id = $1`, secretID)
	return err
}

// ConsumeBackupCode marks the code used if nobody else has.
func (r *MFARepository) ConsumeBackupCode(ctx context.Context, codeID uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE mfa_backup_codes SET used_at = NOW() WHERE id = $1 AND used_at IS NULL`, codeID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReplaceBackupCodes swaps the whole code list in one transaction.
func (r *MFARepository) ReplaceBackupCodes(ctx context.Context, secretID uuid.UUID, codes []domain.BackupCode) error {
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE secret_id = $1`, secretID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		return insertBackupCodes(ctx, tx, secretID, codes)
	})
}

// DisableMFA removes the secret (codes cascade) and resets the account's
// MFA flags in one transaction.
func (r *MFARepository) DisableMFA(ctx context.Context, accountID uuid.UUID) error {
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_secrets WHERE account_id = $1`, accountID); err != nil {
			return fmt.Errorf("failed to delete MFA secret: %w", err)
		}
		query := `UPDATE accounts SET mfa_enabled = FALSE, mfa_method = 'none', updated_at = NOW() WHERE id = $1`
		result, err := tx.ExecContext(ctx, query, accountID)
		if err != nil {
			return fmt.Errorf("failed to clear MFA flags: %w", err)
		}
		if rows, err := result.RowsAffected(); err == nil && rows == 0 {
			return domain.ErrAccountNotFound
		}
		return nil
	})
}

func insertBackupCodes(ctx context.Context, tx *sql.Tx, secretID uuid.UUID, codes []domain.BackupCode) error {
	query := `
		INSERT INTO mfa_backup_codes (id, secret_id, position, code_encrypted, used_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, c := range codes {
		if _, err := tx.ExecContext(ctx, query, c.ID, secretID, c.Position, c.CodeEncrypted, c.UsedAt); err != nil {
			return fmt.Errorf("failed to insert backup code: %w", err)
		}
	}
	return nil
}
