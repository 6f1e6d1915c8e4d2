package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const testMFAKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-key")
	t.Setenv("MFA_ENCRYPTION_KEY", testMFAKey)
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	// Clear any other env vars that might interfere
	envVars := []string{"SERVER_ADDR", "SERVER_PORT", "DB_HOST", "DB_PORT", "STORAGE", "STORE_BACKEND", "SESSION_TTL", "APP_ENV", "GUARD_SECRET", "CONFIG_FILE"}
	for _, v := range envVars {
		t.Setenv(v, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr = %q, want %q", cfg.Addr(), "0.0.0.0:8080")
	}
	if cfg.Storage != "postgres" {
		t.Errorf("Storage = %q, want postgres", cfg.Storage)
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("StoreBackend = %q, want memory", cfg.StoreBackend)
	}
	if cfg.SessionTTL != 7*24*time.Hour {
		t.Errorf("SessionTTL = %v, want %v", cfg.SessionTTL, 7*24*time.Hour)
	}
	if cfg.Lockout.MaxFailedAttempts != 5 || cfg.Lockout.LockoutDuration != time.Hour {
		t.Errorf("Lockout = %+v, want 5 attempts / 1h", cfg.Lockout)
	}
	if cfg.Lockout.MFALockoutDuration != 30*time.Minute {
		t.Errorf("MFALockoutDuration = %v, want 30m", cfg.Lockout.MFALockoutDuration)
	}
	if cfg.Guard.AuthenticatedThreshold != 3 || cfg.Guard.AnonymousThreshold != 5 || cfg.Guard.BlockDuration != 20*time.Minute {
		t.Errorf("Guard = %+v", cfg.Guard)
	}
	if cfg.PasswordPolicy.MinLength != 8 || cfg.PasswordPolicy.MaxLength != 32 || cfg.PasswordPolicy.HistorySize != 5 {
		t.Errorf("PasswordPolicy = %+v", cfg.PasswordPolicy)
	}
	if cfg.RateLimit.RegisterRequests != 3 || cfg.RateLimit.RegisterWindow != time.Hour {
		t.Errorf("RateLimit register = %d/%v", cfg.RateLimit.RegisterRequests, cfg.RateLimit.RegisterWindow)
	}
	if cfg.Audit.Retention != 90*24*time.Hour {
		t.Errorf("Audit.Retention = %v", cfg.Audit.Retention)
	}
	if cfg.GuardSecret != "test-secret-key" {
		t.Errorf("GuardSecret should default to JWT_SECRET, got %q", cfg.GuardSecret)
	}
	if cfg.SecurityHeaders.HSTSMaxAge != 0 {
		t.Errorf("HSTS should be off outside production, got %d", cfg.SecurityHeaders.HSTSMaxAge)
	}
	if cfg.SMTP.Enabled() {
		t.Error("SMTP should be disabled without a host")
	}
}

func TestLoad_RequiredSecrets(t *testing.T) {
	tests := []struct {
		name   string
		jwt    string
		mfaKey string
	}{
		{"missing jwt secret", "", testMFAKey},
		{"missing mfa key", "secret", ""},
		{"short mfa key", "secret", "abcd"},
		{"mfa key not hex", "secret", strings.Repeat("zz", 32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			t.Setenv("JWT_SECRET", tt.jwt)
			t.Setenv("MFA_ENCRYPTION_KEY", tt.mfaKey)
			if _, err := Load(); err == nil {
				t.Error("Load should fail")
			}
		})
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequired(t)
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("LOCKOUT_DURATION", "30m")
	t.Setenv("PASSWORD_REQUIRE_SPECIAL", "true")
	t.Setenv("GUARD_SECRET", "guard-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerPort != 9090 {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, 9090)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction should be true")
	}
	if cfg.SecurityHeaders.HSTSMaxAge != 31536000 {
		t.Errorf("HSTSMaxAge = %d, want 31536000", cfg.SecurityHeaders.HSTSMaxAge)
	}
	if cfg.StoreBackend != "redis" {
		t.Errorf("StoreBackend = %q, want redis", cfg.StoreBackend)
	}
	if cfg.Lockout.LockoutDuration != 30*time.Minute {
		t.Errorf("LockoutDuration = %v, want 30m", cfg.Lockout.LockoutDuration)
	}
	if !cfg.PasswordPolicy.RequireSpecial {
		t.Error("RequireSpecial should be true")
	}
	if cfg.GuardSecret != "guard-key" {
		t.Errorf("GuardSecret = %q, want guard-key", cfg.GuardSecret)
	}
}

func TestLoad_Recaptcha(t *testing.T) {
	tests := []struct {
		name       string
		env        string
		enabled    string
		secret     string
		wantErr    bool
		wantBypass string
	}{
		{"disabled by default", "development", "", "", false, "dev-bypass-token"},
		{"enabled without secret", "development", "true", "", true, ""},
		{"bypass only in development", "production", "true", "s3cret", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv("CONFIG_FILE", "")
			t.Setenv("APP_ENV", tt.env)
			t.Setenv("RECAPTCHA_ENABLED", tt.enabled)
			t.Setenv("RECAPTCHA_SECRET_KEY", tt.secret)
			t.Setenv("RECAPTCHA_BYPASS_TOKEN", "")

			cfg, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Load should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Recaptcha.BypassToken != tt.wantBypass {
				t.Errorf("BypassToken = %q, want %q", cfg.Recaptcha.BypassToken, tt.wantBypass)
			}
			if !cfg.SanitizeInput {
				t.Error("SanitizeInput should default to true")
			}
		})
	}
}

func TestLoad_InvalidBackends(t *testing.T) {
	setRequired(t)
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORAGE", "mongo")
	if _, err := Load(); err == nil {
		t.Error("Load should reject unknown STORAGE")
	}

	t.Setenv("STORAGE", "memory")
	t.Setenv("STORE_BACKEND", "memcached")
	if _, err := Load(); err == nil {
		t.Error("Load should reject unknown STORE_BACKEND")
	}
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.env")
	content := "JWT_SECRET=from-file\nMFA_ENCRYPTION_KEY=" + testMFAKey + "\nSERVER_PORT=7000\nDB_NAME=filedb\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JWT_SECRET", "")
	t.Setenv("MFA_ENCRYPTION_KEY", "")
	t.Setenv("SERVER_PORT", "7100")
	t.Setenv("DB_NAME", "")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.JWTSecret != "from-file" {
		t.Errorf("JWTSecret = %q, want from-file", cfg.JWTSecret)
	}
	if cfg.ServerPort != 7100 {
		t.Errorf("ServerPort = %d, want env override 7100", cfg.ServerPort)
	}
	if cfg.DBName != "filedb" {
		t.Errorf("DBName = %q, want filedb", cfg.DBName)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.env")); err == nil {
		t.Error("LoadFile should fail for a missing file")
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{DBHost: "db", DBPort: 5432, DBUser: "app", DBPassword: "p@ss", DBName: "autovault", DBSSLMode: "disable"}
	want := "postgres://app:p%40ss@db:5432/autovault?sslmode=disable"
	if got := cfg.DatabaseURL(); got != want {
		t.Errorf("DatabaseURL = %q, want %q", got, want)
	}
}

func newEnvLoader(t *testing.T) loader {
	t.Helper()
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		t.Fatal(err)
	}
	return loader{k: k}
}

func TestGetInt_InvalidValue(t *testing.T) {
	t.Setenv("TEST_INT", "not-a-number")

	l := newEnvLoader(t)
	if got := l.getInt("TEST_INT", 42); got != 42 {
		t.Errorf("getInt should return default for invalid value, got %d", got)
	}
}

func TestGetDuration_InvalidValue(t *testing.T) {
	t.Setenv("TEST_DURATION", "invalid")

	l := newEnvLoader(t)
	if got := l.getDuration("TEST_DURATION", 5*time.Minute); got != 5*time.Minute {
		t.Errorf("getDuration should return default for invalid value, got %v", got)
	}
}
