// Package account serves registration, password login, logout, the
// profile and the password and email recovery flows.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tendant/autovault-auth/internal/background"
	"github.com/tendant/autovault-auth/internal/http/features/common"
	"github.com/tendant/autovault-auth/internal/http/middleware"
	"github.com/tendant/autovault-auth/internal/httputil"
	"github.com/tendant/autovault-auth/pkg/audit"
	"github.com/tendant/autovault-auth/pkg/auth"
	"github.com/tendant/autovault-auth/pkg/domain"
)

// Deps are the collaborators of the account handler.
type Deps struct {
	Logger        *slog.Logger
	Passwords     *auth.PasswordService
	Sessions      *auth.SessionService
	Verifications *auth.VerificationService
	OTP           *auth.OTPService
	Mailer        common.Mailer
	Audit         *audit.Recorder
	Tasks         *background.Runner
	Finisher      *common.LoginFinisher
	Cookies       httputil.CookieConfig
	// Captcha, when set, must accept the registration's recaptchaToken.
	Captcha auth.CaptchaVerifier
	// RequireEmailVerification refuses login for unverified emails.
	RequireEmailVerification bool
}

// Handler handles account endpoints.
type Handler struct {
	Deps
	now func() time.Time
}

// NewHandler creates a new account handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps, now: time.Now}
}

// RegisterRequest represents a registration request.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`

	RecaptchaToken string `json:"recaptchaToken,omitempty"`
}

type registerResponse struct {
	Success              bool               `json:"success"`
	Message              string             `json:"message"`
	Data                 common.AccountView `json:"data"`
	RequiresVerification bool               `json:"requiresVerification"`
}

// LoginRequest accepts the identifier as email, username or identifier.
type LoginRequest struct {
	Email      string `json:"email,omitempty"`
	Username   string `json:"username,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Password   string `json:"password"`
}

func (r LoginRequest) identity() string {
	for _, v := range []string{r.Email, r.Username, r.Identifier} {
		if v != "" {
			return v
		}
	}
	return ""
}

// MFARequiredResponse tells the client to continue at /api/mfa/verify-login.
type MFARequiredResponse struct {
	Success           bool             `json:"success"`
	RequiresTwoFactor bool             `json:"requiresTwoFactor"`
	MFAMethod         domain.MFAMethod `json:"mfaMethod"`
	Message           string           `json:"message"`
	ChallengeToken    string           `json:"challengeToken"`
}

// ChangePasswordRequest represents an authenticated password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// Register handles account creation.
// POST /api/auth/register
//
// Only an authenticated admin may create another admin.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !h.checkCaptcha(w, r, req.RecaptchaToken) {
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		httputil.Error(w, http.StatusBadRequest, "All fields are required")
		return
	}

	role := domain.RoleNormal
	if req.Role != "" {
		role = domain.Role(req.Role)
		if role == domain.RoleAdmin {
			caller, ok := middleware.GetAccount(r.Context())
			if !ok || !caller.IsAdmin() {
				httputil.Error(w, http.StatusForbidden, "Only administrators can create admin accounts")
				return
			}
		}
	}

	account, err := h.Passwords.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     role,
	})
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			httputil.ValidationErrors(w, firstOr(verr.Errors, "Password validation failed"), verr.Errors)
		case errors.Is(err, domain.ErrDuplicateIdentity):
			httputil.Error(w, http.StatusBadRequest, "User already exists")
		case errors.Is(err, domain.ErrInvalidEmail),
			errors.Is(err, domain.ErrInvalidUsername),
			errors.Is(err, domain.ErrInvalidRole):
			httputil.Error(w, http.StatusBadRequest, err.Error())
		default:
			h.Logger.Error("registration failed", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "Server error")
		}
		return
	}

	actorID, actorName := common.Actor(account)
	h.Audit.Record(r.Context(), audit.Entry{
		Action:    audit.ActionUserRegistered,
		ActorID:   actorID,
		ActorName: actorName,
		Details:   map[string]any{"username": account.Username, "email": account.Email, "role": account.Role},
		Request:   httputil.AuditRequest(r),
	})
	h.sendVerification(account)

	httputil.JSON(w, http.StatusCreated, registerResponse{
		Success:              true,
		Message:              "Registration successful! Please check your email to verify your account.",
		Data:                 common.NewAccountView(account),
		RequiresVerification: h.RequireEmailVerification,
	})
}

// checkCaptcha writes the failure response and reports false when the
// captcha gate refuses the request.
func (h *Handler) checkCaptcha(w http.ResponseWriter, r *http.Request, token string) bool {
	if h.Captcha == nil {
		return true
	}
	err := h.Captcha.Verify(r.Context(), token, httputil.ClientIP(r))
	if err == nil {
		return true
	}
	var rejected *auth.CaptchaRejectedError
	switch {
	case errors.Is(err, auth.ErrCaptchaMissing):
		httputil.Error(w, http.StatusBadRequest, "reCAPTCHA verification required")
	case errors.As(err, &rejected):
		h.Logger.Warn("captcha rejected", "codes", rejected.Codes)
		httputil.ValidationErrors(w, "reCAPTCHA verification failed. Please try again.", rejected.Codes)
	default:
		h.Logger.Error("captcha verification failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "Error verifying reCAPTCHA. Please try again.")
	}
	return false
}

// Login handles password login.
// POST /api/auth/login
//
// Unknown identities and wrong passwords share one response. When a second
// factor is enabled the response carries a single-use challenge token
// instead of a session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	identity := req.identity()
	if identity == "" || req.Password == "" {
		httputil.Error(w, http.StatusBadRequest, "Missing fields")
		return
	}

	ctx := r.Context()
	info := httputil.AuditRequest(r)
	account, err := h.Passwords.Authenticate(ctx, identity, req.Password)
	if err != nil {
		actorID, actorName := common.Actor(account)
		var locked *domain.LockedError
		switch {
		case errors.As(err, &locked):
			mins := locked.RemainingMinutes(h.now())
			h.Audit.Record(ctx, audit.Entry{
				Action: audit.ActionLoginLocked, ActorID: actorID, ActorName: actorName,
				Status:  audit.StatusFailure,
				Details: map[string]any{"lockedUntil": locked.Until, "failedAttempts": failedAttempts(account)},
				Request: info,
			})
			httputil.SecurityError(w, http.StatusForbidden,
				fmt.Sprintf("ACCOUNT LOCKED: Your account is temporarily locked due to multiple failed attempts or security violations. Try again in %d minutes.", mins),
				"BLOCKED")
		case errors.Is(err, domain.ErrAccountInactive):
			h.Audit.Record(ctx, audit.Entry{
				Action: audit.ActionLoginFailed, ActorID: actorID, ActorName: actorName,
				Status:  audit.StatusFailure,
				Details: map[string]any{"reason": "account " + string(account.Status)},
				Request: info,
			})
			httputil.Error(w, http.StatusForbidden, fmt.Sprintf("Account is %s. Please contact support.", account.Status))
		case errors.Is(err, domain.ErrInvalidCredentials):
			h.Audit.Record(ctx, audit.Entry{
				Action: audit.ActionLoginFailed, ActorID: actorID, ActorName: actorName,
				Status:  audit.StatusFailure,
				Details: map[string]any{"identifier": identity, "failedAttempts": failedAttempts(account)},
				Request: info,
			})
			httputil.Error(w, http.StatusUnauthorized, "Invalid credentials")
		default:
			h.Logger.Error("login failed", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "Server error")
		}
		return
	}

	if h.RequireEmailVerification && !account.EmailVerified {
		httputil.Error(w, http.StatusForbidden, "Please verify your email before logging in. Check your inbox for the verification link.")
		return
	}

	if account.RequiresMFA() {
		h.beginMFA(w, r, account)
		return
	}

	h.Finisher.Finish(w, r, account, common.LoginResult{Action: audit.ActionLoginSuccess})
}

func (h *Handler) beginMFA(w http.ResponseWriter, r *http.Request, account *domain.Account) {
	ctx := r.Context()
	challenge, err := h.Verifications.CreateMFAChallenge(ctx, account.ID)
	if err != nil {
		h.Logger.Error("failed to create MFA challenge", "error", err, "account_id", account.ID)
		httputil.Error(w, http.StatusInternalServerError, "Server error")
		return
	}

	message := "Please enter your authenticator code"
	if account.MFAMethod == domain.MFAMethodEmail {
		if err := h.OTP.Issue(ctx, account); err != nil {
			h.Logger.Error("failed to send login code", "error", err, "account_id", account.ID)
			httputil.Error(w, http.StatusInternalServerError, "Failed to send verification code. Please try again.")
			return
		}
		actorID, actorName := common.Actor(account)
		h.Audit.Record(ctx, audit.Entry{
			Action: audit.ActionMFAOTPSent, ActorID: actorID, ActorName: actorName,
			Details: map[string]any{"method": account.MFAMethod},
			Request: httputil.AuditRequest(r),
		})
		message = "Verification code sent to your email"
	}

	httputil.JSON(w, http.StatusOK, MFARequiredResponse{
		Success:           true,
		RequiresTwoFactor: true,
		MFAMethod:         account.MFAMethod,
		Message:           message,
		ChallengeToken:    challenge,
	})
}

// Logout denylists the presented token and clears the cookie.
// POST /api/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := middleware.GetToken(ctx)
	if token == "" {
		token = auth.ExtractToken(r)
	}
	if err := h.Sessions.Revoke(ctx, token); err != nil {
		h.Logger.Error("failed to revoke session", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "Server error")
		return
	}
	httputil.ClearTokenCookie(w, h.Cookies)

	account, _ := middleware.GetAccount(ctx)
	actorID, actorName := common.Actor(account)
	h.Audit.Record(ctx, audit.Entry{
		Action: audit.ActionLogout, ActorID: actorID, ActorName: actorName,
		Request: httputil.AuditRequest(r),
	})
	httputil.OK(w, http.StatusOK, "Logged out successfully", nil)
}

// Me returns the signed-in account.
// GET /api/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "Not authorized")
		return
	}
	httputil.OK(w, http.StatusOK, "", common.NewAccountView(account))
}

// ChangePassword replaces the password of the signed-in account.
// POST /api/auth/change-password
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "Not authorized")
		return
	}
	var req ChangePasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		httputil.Error(w, http.StatusBadRequest, "Current password and new password are required")
		return
	}

	err := h.Passwords.ChangePassword(r.Context(), account.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			httputil.ValidationErrors(w, firstOr(verr.Errors, "Password validation failed"), verr.Errors)
		case errors.Is(err, domain.ErrIncorrectPassword):
			httputil.Error(w, http.StatusBadRequest, "Current password is incorrect")
		default:
			h.Logger.Error("password change failed", "error", err, "account_id", account.ID)
			httputil.Error(w, http.StatusInternalServerError, "Server error")
		}
		return
	}

	actorID, actorName := common.Actor(account)
	h.Audit.Record(r.Context(), audit.Entry{
		Action: audit.ActionPasswordChanged, ActorID: actorID, ActorName: actorName,
		Request: httputil.AuditRequest(r),
	})
	httputil.OK(w, http.StatusOK, "Password changed successfully", nil)
}

// sendVerification mails a fresh verification link after the response.
func (h *Handler) sendVerification(account *domain.Account) {
	if h.Mailer == nil || h.Tasks == nil {
		return
	}
	id, email, username := account.ID, account.Email, account.Username
	ttl := h.Verifications.Config().EmailVerificationTTL
	h.Tasks.Go("verification-email", func(ctx context.Context) error {
		token, err := h.Verifications.CreateEmailVerificationToken(ctx, id)
		if err != nil {
			return err
		}
		return h.Mailer.SendVerificationEmail(ctx, email, username, token, ttl)
	})
}

func failedAttempts(a *domain.Account) int {
	if a == nil {
		return 0
	}
	return a.FailedLoginAttempts
}

func firstOr(errs []string, fallback string) string {
	if len(errs) > 0 {
		return errs[0]
	}
	return fallback
}
