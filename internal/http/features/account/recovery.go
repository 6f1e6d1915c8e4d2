package account

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/autovault-auth/internal/http/features/common"
	"github.com/tendant/autovault-auth/internal/httputil"
	"github.com/tendant/autovault-auth/pkg/audit"
	"github.com/tendant/autovault-auth/pkg/domain"
)

const (
	resendMessage = "If an account with this email exists and is unverified, a verification email has been sent."
	forgotMessage = "If an account with that email exists, a password reset link has been sent."
)

// EmailRequest carries a single email address.
type EmailRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest completes a password reset.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// VerifyEmail consumes an email verification link.
// GET /api/auth/verify-email/{token}
//
// Verification does not sign the user in; a session still needs the
// password and, when enabled, the second factor.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := h.Verifications.ConsumeEmailVerificationToken(ctx, chi.URLParam(r, "token"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrVerificationTokenExpired):
			httputil.Error(w, http.StatusBadRequest, "Verification link has expired. Please request a new one.")
		case errors.Is(err, domain.ErrVerificationTokenInvalid):
			httputil.Error(w, http.StatusBadRequest, "Invalid verification link")
		default:
			h.Logger.Error("failed to consume verification token", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "Server error")
		}
		return
	}

	account, err := h.Passwords.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			httputil.Error(w, http.StatusNotFound, "User not found")
			return
		}
		h.Logger.Error("failed to load account", "error", err, "account_id", accountID)
		httputil.Error(w, http.StatusInternalServerError, "Server error")
		return
	}
	if account.EmailVerified {
		httputil.OK(w, http.StatusOK, "Email is already verified. You can now log in.", nil)
		return
	}

	if err := h.Passwords.MarkEmailVerified(ctx, account.ID); err != nil {
		h.Logger.Error("failed to mark email verified", "error", err, "account_id", account.ID)
		httputil.Error(w, http.StatusInternalServerError, "Server error")
		return
	}
	account.EmailVerified = true

	actorID, actorName := common.Actor(account)
	h.Audit.Record(ctx, audit.Entry{
		Action: audit.ActionEmailVerified, ActorID: actorID, ActorName: actorName,
		Details: map[string]any{"email": account.Email},
		Request: httputil.AuditRequest(r),
	})
	if h.Mailer != nil && h.Tasks != nil {
		email, username := account.Email, account.Username
		h.Tasks.Go("welcome-email", func(ctx context.Context) error {
			return h.Mailer.SendWelcomeEmail(ctx, email, username)
		})
	}

	httputil.OK(w, http.StatusOK, "Email verified successfully! You can now log in.", common.NewAccountView(account))
}

// ResendVerification mails a new verification link. The response never
// reveals whether the address belongs to an account.
// POST /api/auth/resend-verification
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Email == "" {
		httputil.Error(w, http.StatusBadRequest, "Email is required")
		return
	}

	account, ok := h.lookup(w, r, req.Email)
	if !ok {
		return
	}
	if account != nil && !account.EmailVerified && account.IsActive() {
		h.sendVerification(account)
		actorID, actorName := common.Actor(account)
		h.Audit.Record(r.Context(), audit.Entry{
			Action: audit.ActionVerificationResent, ActorID: actorID, ActorName: actorName,
			Request: httputil.AuditRequest(r),
		})
	}
	httputil.OK(w, http.StatusOK, resendMessage, nil)
}

// ForgotPassword mails a reset link when the address is known.
// POST /api/auth/forgot-password
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Email == "" {
		httputil.Error(w, http.StatusBadRequest, "Email is required")
		return
	}

	account, ok := h.lookup(w, r, req.Email)
	if !ok {
		return
	}
	if account != nil && account.IsActive() {
		actorID, actorName := common.Actor(account)
		h.Audit.Record(r.Context(), audit.Entry{
			Action: audit.ActionPasswordResetRequested, ActorID: actorID, ActorName: actorName,
			Request: httputil.AuditRequest(r),
		})
		if h.Mailer != nil && h.Tasks != nil {
			id, email, username := account.ID, account.Email, account.Username
			ttl := h.Verifications.Config().PasswordResetTTL
			h.Tasks.Go("password-reset-email", func(ctx context.Context) error {
				token, err := h.Verifications.CreatePasswordResetToken(ctx, id)
				if err != nil {
					return err
				}
				return h.Mailer.SendPasswordResetEmail(ctx, email, username, token, ttl)
			})
		}
	}
	httputil.OK(w, http.StatusOK, forgotMessage, nil)
}

// ResetPassword sets a new password using a reset link. The link is only
// consumed once the new password passes the full policy.
// POST /api/auth/reset-password
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		httputil.Error(w, http.StatusBadRequest, "Token and new password are required")
		return
	}

	ctx := r.Context()
	accountID, err := h.Verifications.PeekPasswordResetToken(ctx, req.Token)
	if err != nil {
		h.writeResetTokenError(w, err)
		return
	}
	if err := h.Passwords.CheckNewPassword(ctx, accountID, req.NewPassword); err != nil {
		h.writeResetError(w, err)
		return
	}
	if _, err := h.Verifications.ConsumePasswordResetToken(ctx, req.Token); err != nil {
		h.writeResetTokenError(w, err)
		return
	}
	if err := h.Passwords.ResetPassword(ctx, accountID, req.NewPassword); err != nil {
		h.writeResetError(w, err)
		return
	}

	account, err := h.Passwords.GetAccount(ctx, accountID)
	if err != nil {
		h.Logger.Warn("password reset for missing account", "error", err, "account_id", accountID)
	}
	actorID, actorName := common.Actor(account)
	h.Audit.Record(ctx, audit.Entry{
		Action: audit.ActionPasswordReset, ActorID: actorID, ActorName: actorName,
		Request: httputil.AuditRequest(r),
	})
	httputil.OK(w, http.StatusOK, "Password has been reset successfully. You can now log in.", nil)
}

// lookup finds an account by email. A nil account with ok=true means unknown.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request, email string) (*domain.Account, bool) {
	account, err := h.Passwords.FindAccount(r.Context(), email)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, true
		}
		h.Logger.Error("failed to look up account", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "Server error")
		return nil, false
	}
	return account, true
}

func (h *Handler) writeResetTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrVerificationTokenExpired):
		httputil.Error(w, http.StatusBadRequest, "Reset link has expired. Please request a new one.")
	case errors.Is(err, domain.ErrVerificationTokenInvalid):
		httputil.Error(w, http.StatusBadRequest, "Invalid or expired reset link")
	default:
		h.Logger.Error("failed to resolve reset token", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "Server error")
	}
}

func (h *Handler) writeResetError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.ValidationErrors(w, firstOr(verr.Errors, "Password validation failed"), verr.Errors)
	case errors.Is(err, domain.ErrAccountNotFound):
		httputil.Error(w, http.StatusBadRequest, "Invalid or expired reset link")
	default:
		h.Logger.Error("password reset failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "Server error")
	}
}
