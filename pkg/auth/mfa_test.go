package auth

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/autovault-auth/pkg/domain"
	"github.com/tendant/autovault-auth/pkg/repository"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestBox(t *testing.T) *SecretBox {
	t.Helper()
	box, err := NewSecretBox(testKey)
	require.NoError(t, err)
	return box
}

type mfaEnv struct {
	mfa     *MFAService
	pw      *PasswordService
	store   *repository.MemoryStore
	clock   *fakeClock
	account *domain.Account
}

func newMFAEnv(t *testing.T) *mfaEnv {
	t.Helper()
	pw, store, clock := newPasswordEnv(t)
	// Mid-step so ±n*30s lands cleanly inside neighbouring steps.
	clock.t = time.Date(2026, 5, 1, 9, 0, 15, 0, time.UTC)
	svc := NewMFAService(MFAConfig{}, store, store, newTestBox(t))
	svc.now = clock.Now
	return &mfaEnv{mfa: svc, pw: pw, store: store, clock: clock, account: registerAlice(t, pw)}
}

func totpAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func (e *mfaEnv) enable(t *testing.T) *domain.MFASetup {
	t.Helper()
	ctx := context.Background()
	setup, err := e.mfa.BeginSetup(ctx, e.account.ID)
	require.NoError(t, err)
	require.NoError(t, e.mfa.VerifyAndEnable(ctx, e.account.ID, totpAt(t, setup.Secret, e.clock.Now())))
	return setup
}

func TestMFAService_BeginSetup(t *testing.T) {
	env := newMFAEnv(t)
	ctx := context.Background()

	setup, err := env.mfa.BeginSetup(ctx, env.account.ID)
	require.NoError(t, err)

	assert.NotEmpty(t, setup.Secret)
	assert.True(t, strings.HasPrefix(setup.QRCode, "data:image/png;base64,"))
	require.Len(t, setup.BackupCodes, backupCodeCount)
	for _, code := range setup.BackupCodes {
		assert.Regexp(t, `^[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}$`, code)
	}

	stored, err := env.store.GetSecret(ctx, env.account.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.SecretEncrypted, setup.Secret)
	for i, bc := range stored.BackupCodes {
		assert.NotEqual(t, strings.ReplaceAll(setup.BackupCodes[i], "-", ""), bc.CodeEncrypted)
	}

	// Pending setup does not turn MFA on.
	account, err := env.pw.GetAccount(ctx, env.account.ID)
	require.NoError(t, err)
	assert.False(t, account.MFAEnabled)
}

func TestMFAService_VerifyAndEnable(t *testing.T) {
	env := newMFAEnv(t)
	ctx := context.Background()

	err := env.mfa.VerifyAndEnable(ctx, env.account.ID, "123456")
	assert.ErrorIs(t, err, domain.ErrMFASetupNotStarted)

	setup, err := env.mfa.BeginSetup(ctx, env.account.ID)
	require.NoError(t, err)

	err = env.mfa.VerifyAndEnable(ctx, env.account.ID, "12345")
	assert.ErrorIs(t, err, domain.ErrInvalidMFACode)

	require.NoError(t, env.mfa.VerifyAndEnable(ctx, env.account.ID, totpAt(t, setup.Secret, env.clock.Now())))

	status, err := env.mfa.Status(ctx, env.account.ID)
	require.NoError(t, err)
	assert.Equal(t, &domain.MFAStatus{Enabled: true, Method: domain.MFAMethodTOTP, RemainingBackupCodes: backupCodeCount}, status)

	_, err = env.mfa.BeginSetup(ctx, env.account.ID)
	assert.ErrorIs(t, err, domain.ErrMFAAlreadyEnabled)
}

func TestMFAService_TOTPClockSkew(t *testing.T) {
	env := newMFAEnv(t)
	setup := env.enable(t)
	now := env.clock.Now()

	tests := []struct {
		steps int
		valid bool
	}{
		{-3, false},
		{-2, true},
		{-1, true},
		{0, true},
		{1, true},
		{2, true},
		{3, false},
	}
	for _, tt := range tests {
		code := totpAt(t, setup.Secret, now.Add(time.Duration(tt.steps)*totpPeriod*time.Second))
		got, err := env.mfa.VerifyLogin(context.Background(), env.account.ID, code)
		require.NoError(t, err)
		assert.Equal(t, tt.valid, got.Valid, "step offset %d", tt.steps)
		if tt.valid {
			assert.Equal(t, domain.MFACodeTOTP, got.Kind)
		}
	}
}

func TestMFAService_BackupCodeSingleUse(t *testing.T) {
	env := newMFAEnv(t)
	setup := env.enable(t)
	ctx := context.Background()

	// Lowercase and without the dash still matches.
	code := strings.ToLower(strings.ReplaceAll(setup.BackupCodes[3], "-", ""))
	got, err := env.mfa.VerifyLogin(ctx, env.account.ID, code)
	require.NoError(t, err)
	assert.True(t, got.Valid)
	assert.Equal(t, domain.MFACodeBackup, got.Kind)
	assert.Equal(t, backupCodeCount-1, got.RemainingBackupCodes)

	got, err = env.mfa.VerifyLogin(ctx, env.account.ID, setup.BackupCodes[3])
	require.NoError(t, err)
	assert.False(t, got.Valid, "a used backup code must not verify twice")

	status, err := env.mfa.Status(ctx, env.account.ID)
	require.NoError(t, err)
	assert.Equal(t, backupCodeCount-1, status.RemainingBackupCodes)
}

func TestMFAService_BackupCodeConcurrentUse(t *testing.T) {
	env := newMFAEnv(t)
	setup := env.enable(t)

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := env.mfa.VerifyLogin(context.Background(), env.account.ID, setup.BackupCodes[0])
			if err == nil && got.Valid {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMFAService_InvalidCodes(t *testing.T) {
	env := newMFAEnv(t)
	env.enable(t)

	for _, code := range []string{"", "abcdef", "ZZZZ-ZZZZ", "1234567"} {
		got, err := env.mfa.VerifyLogin(context.Background(), env.account.ID, code)
		require.NoError(t, err, code)
		assert.False(t, got.Valid, code)
	}
}

func TestMFAService_RegenerateBackupCodes(t *testing.T) {
	env := newMFAEnv(t)
	setup := env.enable(t)
	ctx := context.Background()

	_, err := env.mfa.VerifyLogin(ctx, env.account.ID, setup.BackupCodes[0])
	require.NoError(t, err)

	fresh, err := env.mfa.RegenerateBackupCodes(ctx, env.account.ID)
	require.NoError(t, err)
	require.Len(t, fresh, backupCodeCount)

	status, err := env.mfa.Status(ctx, env.account.ID)
	require.NoError(t, err)
	assert.Equal(t, backupCodeCount, status.RemainingBackupCodes)

	got, err := env.mfa.VerifyLogin(ctx, env.account.ID, setup.BackupCodes[1])
	require.NoError(t, err)
	assert.False(t, got.Valid, "old codes are replaced")

	got, err = env.mfa.VerifyLogin(ctx, env.account.ID, fresh[1])
	require.NoError(t, err)
	assert.True(t, got.Valid)
}

func TestMFAService_Disable(t *testing.T) {
	env := newMFAEnv(t)
	env.enable(t)
	ctx := context.Background()

	require.NoError(t, env.mfa.Disable(ctx, env.account.ID))

	_, err := env.mfa.VerifyLogin(ctx, env.account.ID, "123456")
	assert.ErrorIs(t, err, domain.ErrMFASetupNotStarted)

	status, err := env.mfa.Status(ctx, env.account.ID)
	require.NoError(t, err)
	assert.Equal(t, &domain.MFAStatus{Enabled: false, Method: domain.MFAMethodNone}, status)
}

func TestNormalizeBackupCode(t *testing.T) {
	assert.Equal(t, "ABCD2345", NormalizeBackupCode(" abcd-2345 "))
	assert.Equal(t, "", NormalizeBackupCode("--"))
}

func TestSecretBox(t *testing.T) {
	box := newTestBox(t)

	sealed, err := box.Encrypt("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "JBSWY3DPEHPK3PXP")

	again, err := box.Encrypt("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per call")

	plain, err := box.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", plain)

	other, err := NewSecretBoxHex(strings.Repeat("ab", 32))
	require.NoError(t, err)
	_, err = other.Decrypt(sealed)
	assert.Error(t, err)

	_, err = NewSecretBox([]byte("short"))
	assert.ErrorIs(t, err, ErrEncryptionKey)
	_, err = NewSecretBoxHex("zz")
	assert.ErrorIs(t, err, ErrEncryptionKey)
}
