package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/autovault-auth/pkg/domain"
)

func TestMFARepository_ConsumeBackupCode(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "unused code is consumed", affected: 1, want: true},
		{name: "used code is rejected", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewMFARepository(db)
			id := uuid.New()

			mock.ExpectExec(`UPDATE mfa_backup_codes SET used_at = NOW\(\) WHERE id = \$1 AND used_at IS NULL`).
				WithArgs(id).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := repo.ConsumeBackupCode(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMFARepository_ReplaceSecret(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMFARepository(db)
	s := &domain.MFASecret{
		ID:              uuid.New(),
		AccountID:       uuid.New(),
		SecretEncrypted: "enc",
		CreatedAt:       time.Now(),
		BackupCodes: []domain.BackupCode{
			{ID: uuid.New(), Position: 0, CodeEncrypted: "c0"},
			{ID: uuid.New(), Position: 1, CodeEncrypted: "c1"},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM mfa_secrets WHERE account_id = \$1`).
		WithArgs(s.AccountID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO mfa_secrets`).
		WithArgs(s.ID, s.AccountID, "enc", s.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for _, c := range s.BackupCodes {
		mock.ExpectExec(`INSERT INTO mfa_backup_codes`).
			WithArgs(c.ID, s.ID, c.Position, c.CodeEncrypted, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceSecret(context.Background(), s))
}

func TestMFARepository_GetSecret_NotStarted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMFARepository(db)
	accountID := uuid.New()

	mock.ExpectQuery(`FROM mfa_secrets`).
		WithArgs(accountID).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetSecret(context.Background(), accountID)
	assert.ErrorIs(t, err, domain.ErrMFASetupNotStarted)
}

func TestVerificationTokensRepository_Consume(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewVerificationTokensRepository(db)
	id, accountID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(`(?s)DELETE FROM verification_tokens\s+WHERE token_hash = \$1 AND kind = \$2\s+RETURNING`).
		WithArgs("h", domain.TokenKindPasswordReset).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "token_hash", "kind", "created_at", "expires_at"}).
			AddRow(id, accountID, "h", domain.TokenKindPasswordReset, now, now.Add(time.Hour)))

	tok, err := repo.Consume(context.Background(), "h", domain.TokenKindPasswordReset)
	require.NoError(t, err)
	assert.Equal(t, accountID, tok.AccountID)
}

func TestVerificationTokensRepository_Consume_Expired(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewVerificationTokensRepository(db)
	now := time.Now()

	mock.ExpectQuery(`DELETE FROM verification_tokens`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "token_hash", "kind", "created_at", "expires_at"}).
			AddRow(uuid.New(), uuid.New(), "h", domain.TokenKindPasswordReset, now.Add(-2*time.Hour), now.Add(-time.Hour)))

	_, err := repo.Consume(context.Background(), "h", domain.TokenKindPasswordReset)
	assert.ErrorIs(t, err, domain.ErrVerificationTokenExpired)
}

func TestMFARepository_DisableMFA(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMFARepository(db)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM mfa_secrets WHERE account_id = \$1`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE accounts SET mfa_enabled = FALSE, mfa_method = 'none'`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.DisableMFA(context.Background(), id))
}

func TestMFARepository_DisableMFA_RollsBackSecretDelete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMFARepository(db)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM mfa_secrets WHERE account_id = \$1`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE accounts SET mfa_enabled = FALSE`).
		WithArgs(id).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.DisableMFA(context.Background(), id)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
