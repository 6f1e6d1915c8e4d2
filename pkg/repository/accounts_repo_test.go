package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/autovault-auth/pkg/domain"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func testAccount() *domain.Account {
	now := time.Now()
	return &domain.Account{
		ID:                uuid.New(),
		Username:          "alice",
		Email:             "a@x.com",
		Role:              domain.RoleNormal,
		Status:            domain.StatusActive,
		PasswordHash:      "hash",
		PasswordChangedAt: now,
		PasswordHistory:   []string{"hash"},
		MFAMethod:         domain.MFAMethodNone,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestAccountsRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountsRepository(db)
	a := testAccount()

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+accounts`).
		WithArgs(a.ID, "alice", "a@x.com", a.Role, a.Status, "hash", a.PasswordChangedAt,
			pq.Array(a.PasswordHistory), false, a.MFAMethod, false, a.CreatedAt, a.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), a))
}

func TestAccountsRepository_Create_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountsRepository(db)

	mock.ExpectExec(`INSERT\s+INTO\s+accounts`).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), testAccount())
	assert.ErrorIs(t, err, domain.ErrDuplicateIdentity)
}

func TestAccountsRepository_FindByIdentity_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountsRepository(db)

	mock.ExpectQuery(`FROM accounts WHERE LOWER\(email\) = LOWER\(\$1\) OR LOWER\(username\) = LOWER\(\$1\)`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByIdentity(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAccountsRepository_RecordFailedAttempt(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountsRepository(db)
	id := uuid.New()
	until := time.Now().Add(time.Hour)

	mock.ExpectQuery(`(?s)UPDATE accounts.*failed_login_attempts \+ 1.*INTERVAL '1 second'.*RETURNING failed_login_attempts, locked_until`).
		WithArgs(id, 5, int64(3600)).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "locked_until"}).AddRow(5, until))

	state, err := repo.RecordFailedAttempt(context.Background(), id, 5, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 5, state.FailedLoginAttempts)
	require.NotNil(t, state.LockedUntil)
	assert.True(t, state.Locked(time.Now()))
}

func TestAccountsRepository_RecordFailedAttempt_DBError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountsRepository(db)

	mock.ExpectQuery(`UPDATE accounts`).WillReturnError(errors.New("db down"))

	_, err := repo.RecordFailedAttempt(context.Background(), uuid.New(), 5, time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestAccountsRepository_RecordMFAFailure(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountsRepository(db)
	id := uuid.New()
	until := time.Now().Add(30 * time.Minute)

	mock.ExpectQuery(`(?s)UPDATE accounts.*mfa_failed_attempts \+ 1 >= \$2 THEN 0.*RETURNING failed_login_attempts, mfa_failed_attempts, locked_until`).
		WithArgs(id, 5, int64(1800)).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "mfa_failed_attempts", "locked_until"}).AddRow(0, 0, until))

	state, err := repo.RecordMFAFailure(context.Background(), id, 5, 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, state.MFAFailedAttempts)
	assert.True(t, state.Locked(time.Now()))
}

func TestAccountsRepository_ClearFailuresKeepsMFACounter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountsRepository(db)
	id := uuid.New()

	mock.ExpectExec(`SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW\(\)\s+WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ClearFailures(context.Background(), id))
}

func TestAccountsRepository_SetMFA_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountsRepository(db)
	id := uuid.New()

	mock.ExpectExec(`UPDATE accounts SET mfa_enabled = \$2, mfa_method = \$3`).
		WithArgs(id, true, domain.MFAMethodTOTP).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetMFA(context.Background(), id, true, domain.MFAMethodTOTP)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAccountsRepository_RecordOTPFailure(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountsRepository(db)
	id := uuid.New()

	mock.ExpectQuery(`(?s)UPDATE accounts.*otp_attempts = otp_attempts \+ 1.*RETURNING otp_attempts`).
		WithArgs(id, 5).
		WillReturnRows(sqlmock.NewRows([]string{"otp_attempts"}).AddRow(2))

	n, err := repo.RecordOTPFailure(context.Background(), id, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
