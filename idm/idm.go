// Package idm assembles the AutoVault authentication core: credential
// store, password policy, MFA, sessions, the abuse guard and the audit
// trail, behind one HTTP handler.
//
// Setup:
//
//  1. Load configuration with config.Load
//  2. Open Postgres with repository.NewDB and run repository.Migrate, or
//     leave DB nil to keep everything in memory
//  3. Create the IDM instance, start its background loops and serve Handler
//
// Basic usage:
//
//	cfg, _ := config.Load()
//	db, _ := repository.NewDB(ctx, cfg.DatabaseURL())
//
//	auth, err := idm.New(idm.Options{Config: cfg, DB: db})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go auth.Run(ctx)
//	defer auth.Close(context.Background())
//
//	http.ListenAndServe(cfg.Addr(), auth.Handler())
package idm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/autovault-auth/internal/background"
	"github.com/tendant/autovault-auth/internal/config"
	httpserver "github.com/tendant/autovault-auth/internal/http"
	"github.com/tendant/autovault-auth/internal/http/middleware"
	"github.com/tendant/autovault-auth/internal/httputil"
	"github.com/tendant/autovault-auth/internal/notification"
	"github.com/tendant/autovault-auth/pkg/audit"
	"github.com/tendant/autovault-auth/pkg/auth"
	"github.com/tendant/autovault-auth/pkg/domain"
	"github.com/tendant/autovault-auth/pkg/guard"
	"github.com/tendant/autovault-auth/pkg/repository"
	"github.com/tendant/autovault-auth/pkg/store"
)

const (
	tokenSweepInterval   = time.Hour
	counterSweepInterval = time.Minute
)

// Options holds the dependencies of an IDM instance.
type Options struct {
	// Config is required.
	Config *config.Config

	// DB selects the Postgres repositories. Nil keeps accounts, tokens and
	// audit events in memory.
	DB *sql.DB

	// Counters backs the token denylist and abuse counters. Nil uses an
	// in-process store.
	Counters store.Counter

	// Sender delivers mail. Nil logs messages instead of sending them.
	Sender notification.Sender

	// Logger is the structured logger (default: slog.Default()).
	Logger *slog.Logger
}

type tokenSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// IDM is the assembled authentication core.
type IDM struct {
	cfg    *config.Config
	logger *slog.Logger

	passwords *auth.PasswordService
	sessions  *auth.SessionService

	auditStore audit.Store
	dispatcher *audit.Dispatcher
	recorder   *audit.Recorder
	tasks      *background.Runner
	tokens     tokenSweeper
	memCounter *store.Memory

	handler http.Handler
}

// New wires every service and the HTTP router.
func New(opts Options) (*IDM, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		accounts   auth.AccountStore
		secrets    auth.MFAStore
		tokens     auth.TokenStore
		sweeper    tokenSweeper
		auditStore audit.Store
	)
	if opts.DB != nil {
		tokensRepo := repository.NewVerificationTokensRepository(opts.DB)
		accounts = repository.NewAccountsRepository(opts.DB)
		secrets = repository.NewMFARepository(opts.DB)
		tokens, sweeper = tokensRepo, tokensRepo
		auditStore = repository.NewAuditRepository(opts.DB)
	} else {
		mem := repository.NewMemoryStore()
		memTokens := mem.Tokens()
		accounts, secrets, auditStore = mem, mem, mem
		tokens, sweeper = memTokens, memTokens
	}

	counters := opts.Counters
	var memCounter *store.Memory
	if counters == nil {
		memCounter = store.NewMemory()
		counters = memCounter
	}

	sender := opts.Sender
	if sender == nil {
		sender = notification.NewLogSender(logger)
	}
	mailer := notification.NewMailer(sender, cfg.AppBaseURL)

	box, err := auth.NewSecretBoxHex(cfg.MFAEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid MFA encryption key: %w", err)
	}

	hasher := auth.NewArgon2Hasher()
	passwords := auth.NewPasswordService(
		accounts,
		auth.NewPasswordPolicy(cfg.PasswordPolicy, hasher),
		hasher,
		auth.LockoutPolicy{
			MaxFailedAttempts:  cfg.Lockout.MaxFailedAttempts,
			LockoutDuration:    cfg.Lockout.LockoutDuration,
			MFAFailureLimit:    cfg.Lockout.MFAFailureLimit,
			MFALockoutDuration: cfg.Lockout.MFALockoutDuration,
		},
	)
	sessions := auth.NewSessionService(auth.SessionConfig{
		TTL:       cfg.SessionTTL,
		JWTSecret: []byte(cfg.JWTSecret),
		Issuer:    cfg.JWTIssuer,
	}, counters)
	verifications := auth.NewVerificationService(auth.VerificationConfig{
		EmailVerificationTTL: cfg.EmailVerificationTTL,
		PasswordResetTTL:     cfg.PasswordResetTTL,
		MFAChallengeTTL:      cfg.MFAChallengeTTL,
	}, tokens)
	mfaService := auth.NewMFAService(auth.MFAConfig{Issuer: cfg.MFAIssuer}, secrets, accounts, box)
	otpService := auth.NewOTPService(accounts, mailer, cfg.OTPTTL, 0)

	dispatcher := audit.NewDispatcher(audit.DispatcherConfig{
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, audit.MultiSink{
		audit.NewStoreSink(auditStore, logger),
		audit.NewLogSink(logger.With("component", "audit")),
	})
	recorder := audit.NewRecorder(dispatcher, auditStore)
	tasks := background.NewRunner(logger, 0)

	abuse := guard.New(guard.Config{
		AuthenticatedThreshold: cfg.Guard.AuthenticatedThreshold,
		AnonymousThreshold:     cfg.Guard.AnonymousThreshold,
		BlockDuration:          cfg.Guard.BlockDuration,
		ViolationWindow:        cfg.Guard.ViolationWindow,
	}, counters, passwords, sessions)

	var captcha auth.CaptchaVerifier
	if cfg.Recaptcha.Enabled {
		captcha = auth.NewRecaptchaVerifier(auth.RecaptchaConfig{
			SecretKey:   cfg.Recaptcha.SecretKey,
			VerifyURL:   cfg.Recaptcha.VerifyURL,
			BypassToken: cfg.Recaptcha.BypassToken,
		})
	}

	handler := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:                   logger,
		PasswordService:          passwords,
		SessionService:           sessions,
		VerificationService:      verifications,
		MFAService:               mfaService,
		OTPService:               otpService,
		Mailer:                   mailer,
		Audit:                    recorder,
		Tasks:                    tasks,
		Guard:                    abuse,
		Markers:                  guard.NewMarkerSigner([]byte(cfg.GuardSecret)),
		GuardEnabled:             cfg.Guard.Enabled,
		SanitizeInput:            cfg.SanitizeInput,
		Captcha:                  captcha,
		Cookies:                  httputil.DefaultCookieConfig(cfg.IsProduction()),
		RateLimitConfig:          cfg.RateLimit,
		SecurityHeaders:          cfg.SecurityHeaders,
		MaxBodyBytes:             cfg.MaxBodyBytes,
		RequireEmailVerification: cfg.RequireEmailVerification,
	})

	return &IDM{
		cfg:        cfg,
		logger:     logger,
		passwords:  passwords,
		sessions:   sessions,
		auditStore: auditStore,
		dispatcher: dispatcher,
		recorder:   recorder,
		tasks:      tasks,
		tokens:     sweeper,
		memCounter: memCounter,
		handler:    handler,
	}, nil
}

// Handler returns the HTTP handler serving every route.
func (i *IDM) Handler() http.Handler {
	return i.handler
}

// Run drives the periodic maintenance loops until ctx is done: audit
// retention, expired token cleanup and, for the in-process counter store,
// expiry sweeping.
func (i *IDM) Run(ctx context.Context) {
	if i.memCounter != nil {
		i.memCounter.StartSweeper(ctx, counterSweepInterval)
	}

	retention := &audit.Retention{
		Store:    i.auditStore,
		MaxAge:   i.cfg.Audit.Retention,
		Interval: i.cfg.Audit.SweepInterval,
		Logger:   i.logger,
	}
	go retention.Run(ctx)

	ticker := time.NewTicker(tokenSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := i.tokens.DeleteExpired(ctx)
			if err != nil && ctx.Err() == nil {
				i.logger.Error("failed to delete expired tokens", "error", err)
			} else if n > 0 {
				i.logger.Info("deleted expired tokens", "count", n)
			}
		}
	}
}

// Close waits for detached mail tasks and flushes queued audit events.
func (i *IDM) Close(ctx context.Context) error {
	err := i.tasks.Wait(ctx)
	i.dispatcher.Close()
	if dropped := i.dispatcher.Dropped(); dropped > 0 {
		i.logger.Warn("audit events dropped", "count", dropped)
	}
	if direct := i.dispatcher.WrittenThrough(); direct > 0 {
		i.logger.Info("audit events written outside the queue", "count", direct)
	}
	return err
}

// SessionService returns the session service for advanced usage.
func (i *IDM) SessionService() *auth.SessionService {
	return i.sessions
}

// Recorder returns the audit recorder so host applications can record
// their own events on the same trail.
func (i *IDM) Recorder() *audit.Recorder {
	return i.recorder
}

// AuthMiddleware resolves the caller and rejects anonymous requests.
// Use this to protect your own routes:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(auth.AuthMiddleware())
//	    r.Get("/bookings", handler)
//	})
func (i *IDM) AuthMiddleware() func(http.Handler) http.Handler {
	identify := middleware.Identify(i.sessions, i.passwords, i.logger)
	return func(next http.Handler) http.Handler {
		return identify(middleware.RequireAuth(next))
	}
}

// AdminMiddleware is AuthMiddleware restricted to administrators.
func (i *IDM) AdminMiddleware() func(http.Handler) http.Handler {
	authn := i.AuthMiddleware()
	return func(next http.Handler) http.Handler {
		return authn(middleware.RequireAdmin(next))
	}
}

// GetAccountID extracts the signed-in account id from a request.
// Use after AuthMiddleware:
//
//	id, ok := idm.GetAccountID(r)
func GetAccountID(r *http.Request) (uuid.UUID, bool) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	return account.ID, true
}

// GetAccount returns the signed-in account stored by AuthMiddleware.
func GetAccount(ctx context.Context) (*domain.Account, bool) {
	return middleware.GetAccount(ctx)
}

// HealthHandler returns a simple health check handler.
func (i *IDM) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
