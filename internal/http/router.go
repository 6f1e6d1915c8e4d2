package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/autovault-auth/internal/background"
	"github.com/tendant/autovault-auth/internal/config"
	"github.com/tendant/autovault-auth/internal/http/features/account"
	"github.com/tendant/autovault-auth/internal/http/features/auditlog"
	"github.com/tendant/autovault-auth/internal/http/features/common"
	"github.com/tendant/autovault-auth/internal/http/features/mfa"
	"github.com/tendant/autovault-auth/internal/http/middleware"
	"github.com/tendant/autovault-auth/internal/httputil"
	"github.com/tendant/autovault-auth/pkg/audit"
	"github.com/tendant/autovault-auth/pkg/auth"
	"github.com/tendant/autovault-auth/pkg/guard"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger              *slog.Logger
	PasswordService     *auth.PasswordService
	SessionService      *auth.SessionService
	VerificationService *auth.VerificationService
	MFAService          *auth.MFAService
	OTPService          *auth.OTPService
	Mailer              common.Mailer
	Audit               *audit.Recorder
	Tasks               *background.Runner

	Guard        *guard.Guard
	Markers      *guard.MarkerSigner
	GuardEnabled bool

	// SanitizeInput HTML-escapes request strings once the guard has seen them.
	SanitizeInput bool
	// Captcha gates registration when set.
	Captcha auth.CaptchaVerifier

	Cookies                  httputil.CookieConfig
	RateLimitConfig          config.RateLimitConfig
	SecurityHeaders          config.SecurityHeadersConfig
	MaxBodyBytes             int64
	RequireEmailVerification bool
}

// guardAllowPaths stay reachable for a locked account so it can sign out,
// or sign back in once the lock lapses.
var guardAllowPaths = []string{"/api/auth/login", "/api/auth/logout"}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)

	// Apply global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.MaxBodyBytes))
	r.Use(rateLimiters[middleware.LimiterGeneral])
	r.Use(middleware.Identify(cfg.SessionService, cfg.PasswordService, cfg.Logger))
	r.Use(middleware.PayloadGuard(middleware.PayloadGuardConfig{
		ScanEnabled: cfg.GuardEnabled,
		Guard:       cfg.Guard,
		Scanner:     guard.NewScanner(),
		Markers:     cfg.Markers,
		Audit:       cfg.Audit,
		Cookies:     cfg.Cookies,
		AllowPaths:  guardAllowPaths,
		Logger:      cfg.Logger,
	}))
	if cfg.SanitizeInput {
		r.Use(middleware.SanitizeInput())
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	finisher := &common.LoginFinisher{
		Logger:    cfg.Logger,
		Passwords: cfg.PasswordService,
		Sessions:  cfg.SessionService,
		Mailer:    cfg.Mailer,
		Audit:     cfg.Audit,
		Tasks:     cfg.Tasks,
		Cookies:   cfg.Cookies,
	}

	accountHandler := account.NewHandler(account.Deps{
		Logger:                   cfg.Logger,
		Passwords:                cfg.PasswordService,
		Sessions:                 cfg.SessionService,
		Verifications:            cfg.VerificationService,
		OTP:                      cfg.OTPService,
		Mailer:                   cfg.Mailer,
		Audit:                    cfg.Audit,
		Tasks:                    cfg.Tasks,
		Finisher:                 finisher,
		Cookies:                  cfg.Cookies,
		Captcha:                  cfg.Captcha,
		RequireEmailVerification: cfg.RequireEmailVerification,
	})
	accountHandler.RegisterRoutes(r, account.Limiters{
		Register: rateLimiters[middleware.LimiterRegister],
		Login:    rateLimiters[middleware.LimiterLogin],
	})

	mfaHandler := mfa.NewHandler(
		cfg.Logger,
		cfg.MFAService,
		cfg.OTPService,
		cfg.PasswordService,
		cfg.VerificationService,
		cfg.Audit,
		finisher,
	)
	mfaHandler.RegisterRoutes(r, rateLimiters[middleware.LimiterMFA])

	auditlog.NewHandler(cfg.Logger, cfg.Audit).RegisterRoutes(r)

	return r
}
