package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration.
type Config struct {
	Environment string

	// Server
	ServerAddr   string
	ServerPort   int
	AppBaseURL   string
	MaxBodyBytes int64

	// Storage: "postgres" or "memory"
	Storage    string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Counter store for the token denylist and abuse counters: "memory" or "redis"
	StoreBackend string
	Redis        RedisConfig

	// Sessions
	JWTSecret  string
	JWTIssuer  string
	SessionTTL time.Duration

	// MFA
	MFAEncryptionKey string // 64 hex chars
	MFAIssuer        string
	OTPTTL           time.Duration

	// Verification tokens
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
	MFAChallengeTTL      time.Duration
	// RequireEmailVerification refuses password login until the email is verified.
	RequireEmailVerification bool

	GuardSecret string
	// SanitizeInput HTML-escapes request strings after the payload guard.
	SanitizeInput bool

	PasswordPolicy  PasswordPolicyConfig
	Lockout         LockoutConfig
	Guard           GuardConfig
	Audit           AuditConfig
	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
	SMTP            SMTPConfig
	Recaptcha       RecaptchaConfig
}

// PasswordPolicyConfig holds password complexity requirements.
type PasswordPolicyConfig struct {
	MinLength        int
	MaxLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
	HistorySize      int
}

// LockoutConfig bounds the credential and MFA failure ladders.
type LockoutConfig struct {
	MaxFailedAttempts  int
	LockoutDuration    time.Duration
	MFAFailureLimit    int
	MFALockoutDuration time.Duration
}

// GuardConfig tunes the malicious payload ladder.
type GuardConfig struct {
	Enabled                bool
	AuthenticatedThreshold int
	AnonymousThreshold     int
	BlockDuration          time.Duration
	ViolationWindow        time.Duration
}

type AuditConfig struct {
	Retention     time.Duration
	SweepInterval time.Duration
	BufferSize    int
	DropIfFull    bool
}

// RateLimitConfig holds per-IP limits for each endpoint group.
type RateLimitConfig struct {
	Enabled bool

	RegisterRequests int
	RegisterWindow   time.Duration
	LoginRequests    int
	LoginWindow      time.Duration
	MFARequests      int
	MFAWindow        time.Duration
	GeneralRequests  int
	GeneralWindow    time.Duration
}

// SecurityHeadersConfig holds the response security headers.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	XSSProtection      string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether outgoing mail is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// RecaptchaConfig gates registration behind a reCAPTCHA check.
type RecaptchaConfig struct {
	Enabled   bool
	SecretKey string
	VerifyURL string
	// BypassToken is accepted without a remote check, development only.
	BypassToken string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Load reads configuration from the environment. When CONFIG_FILE is set the
// dotenv file it names is loaded first and the environment overrides it.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile is Load with an explicit dotenv file; an empty path skips the file.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), dotenv.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	// Empty variables do not mask values from the file.
	envProvider := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if strings.TrimSpace(value) == "" {
			return "", nil
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	l := loader{k: k}

	cfg := &Config{
		Environment: l.getString("APP_ENV", "development"),

		// Server defaults
		ServerAddr:   l.getString("SERVER_ADDR", "0.0.0.0"),
		ServerPort:   l.getInt("SERVER_PORT", 8080),
		AppBaseURL:   strings.TrimRight(l.getString("APP_BASE_URL", "http://localhost:5173"), "/"),
		MaxBodyBytes: int64(l.getInt("MAX_BODY_BYTES", 1<<20)),

		Storage:    l.getString("STORAGE", "postgres"),
		DBHost:     l.getString("DB_HOST", "localhost"),
		DBPort:     l.getInt("DB_PORT", 5432),
		DBUser:     l.getString("DB_USER", "postgres"),
		DBPassword: l.getString("DB_PASSWORD", "postgres"),
		DBName:     l.getString("DB_NAME", "autovault"),
		DBSSLMode:  l.getString("DB_SSLMODE", "disable"),

		StoreBackend: l.getString("STORE_BACKEND", "memory"),
		Redis: RedisConfig{
			Addr:     l.getString("REDIS_ADDR", "localhost:6379"),
			Password: l.getString("REDIS_PASSWORD", ""),
			DB:       l.getInt("REDIS_DB", 0),
			Prefix:   l.getString("REDIS_PREFIX", "autovault:"),
		},

		JWTSecret:  l.getString("JWT_SECRET", ""),
		JWTIssuer:  l.getString("JWT_ISSUER", "autovault"),
		SessionTTL: l.getDuration("SESSION_TTL", 7*24*time.Hour),

		MFAEncryptionKey: l.getString("MFA_ENCRYPTION_KEY", ""),
		MFAIssuer:        l.getString("MFA_ISSUER", "AutoVault"),
		OTPTTL:           l.getDuration("OTP_TTL", 10*time.Minute),

		EmailVerificationTTL: l.getDuration("EMAIL_VERIFICATION_TTL", 24*time.Hour),
		PasswordResetTTL:     l.getDuration("PASSWORD_RESET_TTL", time.Hour),
		MFAChallengeTTL:      l.getDuration("MFA_CHALLENGE_TTL", 5*time.Minute),

		RequireEmailVerification: l.getBool("REQUIRE_EMAIL_VERIFICATION", false),
		SanitizeInput:            l.getBool("SANITIZE_INPUT", true),

		PasswordPolicy: PasswordPolicyConfig{
			MinLength:        l.getInt("PASSWORD_MIN_LENGTH", 8),
			MaxLength:        l.getInt("PASSWORD_MAX_LENGTH", 32),
			RequireUppercase: l.getBool("PASSWORD_REQUIRE_UPPERCASE", true),
			RequireLowercase: l.getBool("PASSWORD_REQUIRE_LOWERCASE", true),
			RequireNumber:    l.getBool("PASSWORD_REQUIRE_NUMBER", true),
			RequireSpecial:   l.getBool("PASSWORD_REQUIRE_SPECIAL", false),
			HistorySize:      l.getInt("PASSWORD_HISTORY_SIZE", 5),
		},

		Lockout: LockoutConfig{
			MaxFailedAttempts:  l.getInt("LOCKOUT_MAX_ATTEMPTS", 5),
			LockoutDuration:    l.getDuration("LOCKOUT_DURATION", 60*time.Minute),
			MFAFailureLimit:    l.getInt("MFA_LOCKOUT_MAX_ATTEMPTS", 5),
			MFALockoutDuration: l.getDuration("MFA_LOCKOUT_DURATION", 30*time.Minute),
		},

		Guard: GuardConfig{
			Enabled:                l.getBool("GUARD_ENABLED", true),
			AuthenticatedThreshold: l.getInt("GUARD_AUTH_THRESHOLD", 3),
			AnonymousThreshold:     l.getInt("GUARD_ANON_THRESHOLD", 5),
			BlockDuration:          l.getDuration("GUARD_BLOCK_DURATION", 20*time.Minute),
			ViolationWindow:        l.getDuration("GUARD_VIOLATION_WINDOW", 24*time.Hour),
		},

		Audit: AuditConfig{
			Retention:     l.getDuration("AUDIT_RETENTION", 90*24*time.Hour),
			SweepInterval: l.getDuration("AUDIT_SWEEP_INTERVAL", time.Hour),
			BufferSize:    l.getInt("AUDIT_BUFFER_SIZE", 1024),
			DropIfFull:    l.getBool("AUDIT_DROP_IF_FULL", true),
		},

		RateLimit: RateLimitConfig{
			Enabled:          l.getBool("RATE_LIMIT_ENABLED", true),
			RegisterRequests: l.getInt("RATE_LIMIT_REGISTER_REQUESTS", 3),
			RegisterWindow:   l.getDuration("RATE_LIMIT_REGISTER_WINDOW", time.Hour),
			LoginRequests:    l.getInt("RATE_LIMIT_LOGIN_REQUESTS", 10),
			LoginWindow:      l.getDuration("RATE_LIMIT_LOGIN_WINDOW", 10*time.Minute),
			MFARequests:      l.getInt("RATE_LIMIT_MFA_REQUESTS", 5),
			MFAWindow:        l.getDuration("RATE_LIMIT_MFA_WINDOW", time.Hour),
			GeneralRequests:  l.getInt("RATE_LIMIT_GENERAL_REQUESTS", 100),
			GeneralWindow:    l.getDuration("RATE_LIMIT_GENERAL_WINDOW", 15*time.Minute),
		},

		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            l.getBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                l.getString("SECURITY_CSP", "default-src 'self'; frame-ancestors 'none'"),
			FrameOptions:       l.getString("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: "nosniff",
			XSSProtection:      "0",
			ReferrerPolicy:     l.getString("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin"),
			PermissionsPolicy:  l.getString("SECURITY_PERMISSIONS_POLICY", "camera=(), microphone=(), geolocation=()"),
		},

		SMTP: SMTPConfig{
			Host:     l.getString("SMTP_HOST", ""),
			Port:     l.getInt("SMTP_PORT", 587),
			Username: l.getString("SMTP_USERNAME", ""),
			Password: l.getString("SMTP_PASSWORD", ""),
			From:     l.getString("SMTP_FROM", ""),
		},

		Recaptcha: RecaptchaConfig{
			Enabled:   l.getBool("RECAPTCHA_ENABLED", false),
			SecretKey: l.getString("RECAPTCHA_SECRET_KEY", ""),
			VerifyURL: l.getString("RECAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
		},
	}
	if strings.EqualFold(cfg.Environment, "development") {
		cfg.Recaptcha.BypassToken = l.getString("RECAPTCHA_BYPASS_TOKEN", "dev-bypass-token")
	}
	if cfg.IsProduction() {
		cfg.SecurityHeaders.HSTSMaxAge = l.getInt("SECURITY_HSTS_MAX_AGE", 31536000)
	}
	cfg.GuardSecret = l.getString("GUARD_SECRET", cfg.JWTSecret)

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.MFAEncryptionKey == "" {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY is required")
	}
	if key, err := hex.DecodeString(cfg.MFAEncryptionKey); err != nil || len(key) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be 64 hex characters")
	}
	if cfg.Recaptcha.Enabled && cfg.Recaptcha.SecretKey == "" {
		return nil, fmt.Errorf("RECAPTCHA_SECRET_KEY is required when RECAPTCHA_ENABLED is set")
	}
	switch cfg.Storage {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("STORAGE must be postgres or memory, got %q", cfg.Storage)
	}
	switch cfg.StoreBackend {
	case "redis", "memory":
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be redis or memory, got %q", cfg.StoreBackend)
	}

	return cfg, nil
}

// IsProduction reports whether cookies must be Secure and HSTS sent.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// DatabaseURL builds the lib/pq connection string.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ServerAddr, c.ServerPort)
}

type loader struct {
	k *koanf.Koanf
}

func (l loader) getString(key, defaultValue string) string {
	if value := strings.TrimSpace(l.k.String(key)); value != "" {
		return value
	}
	return defaultValue
}

func (l loader) getInt(key string, defaultValue int) int {
	if value := l.getString(key, ""); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func (l loader) getBool(key string, defaultValue bool) bool {
	if value := l.getString(key, ""); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func (l loader) getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := l.getString(key, ""); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
