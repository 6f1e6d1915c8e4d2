package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/tendant/autovault-auth/internal/config"
	"github.com/tendant/autovault-auth/internal/httputil"
)

// Rate limiter names returned by CreateRateLimiters.
const (
	LimiterRegister = "register"
	LimiterLogin    = "login"
	LimiterMFA      = "mfa"
	LimiterGeneral  = "general"
)

// RateLimitConfig holds rate limiting configuration for a specific endpoint type.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Message  string
	Logger   *slog.Logger
}

// RateLimit creates an IP-based rate limiter middleware with logging.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	message := cfg.Message
	if message == "" {
		message = "Too many requests, please try again later."
	}
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limit exceeded",
					"ip", httputil.ClientIP(r),
					"path", r.URL.Path,
					"method", r.Method,
					"user_agent", r.UserAgent(),
				)
			}
			httputil.Error(w, http.StatusTooManyRequests, message)
		}),
	)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// CreateRateLimiters creates rate limiting middleware functions based on configuration.
func CreateRateLimiters(cfg config.RateLimitConfig, logger *slog.Logger) map[string]func(http.Handler) http.Handler {
	if !cfg.Enabled {
		noOp := NoRateLimit()
		return map[string]func(http.Handler) http.Handler{
			LimiterRegister: noOp,
			LimiterLogin:    noOp,
			LimiterMFA:      noOp,
			LimiterGeneral:  noOp,
		}
	}

	return map[string]func(http.Handler) http.Handler{
		LimiterRegister: RateLimit(RateLimitConfig{
			Requests: cfg.RegisterRequests,
			Window:   cfg.RegisterWindow,
			Message:  "Too many accounts created from this IP, please try again after an hour.",
			Logger:   logger,
		}),
		LimiterLogin: RateLimit(RateLimitConfig{
			Requests: cfg.LoginRequests,
			Window:   cfg.LoginWindow,
			Message:  "Too many login attempts from this IP, please try again later.",
			Logger:   logger,
		}),
		LimiterMFA: RateLimit(RateLimitConfig{
			Requests: cfg.MFARequests,
			Window:   cfg.MFAWindow,
			Message:  "Too many verification attempts, please try again later.",
			Logger:   logger,
		}),
		LimiterGeneral: RateLimit(RateLimitConfig{
			Requests: cfg.GeneralRequests,
			Window:   cfg.GeneralWindow,
			Logger:   logger,
		}),
	}
}
