// Package mfa serves second factor enrollment and the second login step.
package mfa

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tendant/autovault-auth/internal/http/features/common"
	"github.com/tendant/autovault-auth/internal/http/middleware"
	"github.com/tendant/autovault-auth/internal/httputil"
	"github.com/tendant/autovault-auth/pkg/audit"
	"github.com/tendant/autovault-auth/pkg/auth"
	"github.com/tendant/autovault-auth/pkg/domain"
)

// Handler handles MFA endpoints.
type Handler struct {
	logger        *slog.Logger
	mfaService    *auth.MFAService
	otpService    *auth.OTPService
	passwords     *auth.PasswordService
	verifications *auth.VerificationService
	audit         *audit.Recorder
	finisher      *common.LoginFinisher
	now           func() time.Time
}

// NewHandler creates a new MFA handler.
func NewHandler(
	logger *slog.Logger,
	mfaService *auth.MFAService,
	otpService *auth.OTPService,
	passwords *auth.PasswordService,
	verifications *auth.VerificationService,
	recorder *audit.Recorder,
	finisher *common.LoginFinisher,
) *Handler {
	return &Handler{
		logger:        logger,
		mfaService:    mfaService,
		otpService:    otpService,
		passwords:     passwords,
		verifications: verifications,
		audit:         recorder,
		finisher:      finisher,
		now:           time.Now,
	}
}

// VerifyLoginRequest completes a login that needs a second factor.
type VerifyLoginRequest struct {
	ChallengeToken string `json:"challengeToken"`
	Code           string `json:"code"`
}

// CodeRequest carries a TOTP code.
type CodeRequest struct {
	Code string `json:"code"`
}

// PasswordRequest re-confirms the password for sensitive changes.
type PasswordRequest struct {
	Password string `json:"password"`
}

// SetupResponse is shown once, when TOTP enrollment starts.
type SetupResponse struct {
	QRCode            string   `json:"qrCode"`
	BackupCodes       []string `json:"backupCodes"`
	ManualEntrySecret string   `json:"manualEntrySecret"`
}

type backupCodesResponse struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	BackupCodes []string `json:"backupCodes"`
}

// VerifyLogin checks the second factor for a pending login.
// POST /api/mfa/verify-login
//
// The challenge survives a wrong code so the user can retry; it is consumed
// on success or when the failure ladder locks the account.
func (h *Handler) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req VerifyLoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ChallengeToken == "" || req.Code == "" {
		httputil.Error(w, http.StatusBadRequest, "Challenge token and verification code are required")
		return
	}

	ctx := r.Context()
	accountID, err := h.verifications.PeekMFAChallenge(ctx, req.ChallengeToken)
	if err != nil {
		if errors.Is(err, domain.ErrMFAChallengeExpired) {
			httputil.Error(w, http.StatusUnauthorized, "Login session expired. Please log in again.")
			return
		}
		h.logger.Error("failed to resolve MFA challenge", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "Failed to verify MFA code")
		return
	}

	account, err := h.passwords.GetAccount(ctx, accountID)
	if err != nil {
		h.logger.Error("failed to load account", "error", err, "account_id", accountID)
		httputil.Error(w, http.StatusInternalServerError, "Failed to verify MFA code")
		return
	}
	if !account.IsActive() {
		httputil.Error(w, http.StatusForbidden, fmt.Sprintf("Account is %s. Please contact support.", account.Status))
		return
	}
	if account.IsLocked(h.now()) {
		httputil.SecurityError(w, http.StatusForbidden, "Account temporarily locked due to too many failed MFA attempts.", "BLOCKED")
		return
	}

	var (
		kind      domain.MFACodeKind
		remaining int
		failMsg   string
	)
	switch account.MFAMethod {
	case domain.MFAMethodTOTP:
		v, err := h.mfaService.VerifyLogin(ctx, account.ID, req.Code)
		if err != nil {
			h.logger.Error("failed to verify MFA code", "error", err, "account_id", account.ID)
			httputil.Error(w, http.StatusInternalServerError, "Failed to verify MFA code")
			return
		}
		if v.Valid {
			kind, remaining = v.Kind, v.RemainingBackupCodes
		} else {
			failMsg = "Invalid verification code"
		}
	case domain.MFAMethodEmail:
		err := h.otpService.Verify(ctx, account.ID, req.Code)
		switch {
		case err == nil:
			kind = domain.MFACodeEmail
		case errors.Is(err, domain.ErrOTPMismatch):
			failMsg = "Invalid verification code"
		case errors.Is(err, domain.ErrOTPExpired):
			failMsg = "Verification code has expired. Please log in again."
		case errors.Is(err, domain.ErrOTPNotIssued):
			failMsg = "No verification code is pending. Please log in again."
		default:
			h.logger.Error("failed to verify login code", "error", err, "account_id", account.ID)
			httputil.Error(w, http.StatusInternalServerError, "Failed to verify MFA code")
			return
		}
	default:
		httputil.Error(w, http.StatusBadRequest, "Invalid MFA method")
		return
	}

	if failMsg != "" {
		h.mfaFailed(w, r, account, req.ChallengeToken, failMsg)
		return
	}

	if _, err := h.verifications.ConsumeMFAChallenge(ctx, req.ChallengeToken); err != nil {
		// Another request completed this challenge first.
		httputil.Error(w, http.StatusUnauthorized, "Login session expired. Please log in again.")
		return
	}

	result := common.LoginResult{
		Action:      audit.ActionMFALoginSuccess,
		Details:     map[string]any{"mfaType": kind},
		MFAVerified: true,
	}
	if kind == domain.MFACodeBackup {
		result.Warning = fmt.Sprintf("Backup code used. %d backup codes remaining.", remaining)
	}
	h.finisher.Finish(w, r, account, result)
}

func (h *Handler) mfaFailed(w http.ResponseWriter, r *http.Request, account *domain.Account, challenge, message string) {
	ctx := r.Context()
	actorID, actorName := common.Actor(account)
	info := httputil.AuditRequest(r)

	h.audit.Record(ctx, audit.Entry{
		Action: audit.ActionMFALoginFailed, ActorID: actorID, ActorName: actorName,
		Status:  audit.StatusFailure,
		Details: map[string]any{"method": account.MFAMethod},
		Request: info,
	})

	err := h.passwords.RecordMFAFailure(ctx, account.ID)
	var locked *domain.LockedError
	switch {
	case err == nil:
		httputil.Error(w, http.StatusBadRequest, message)
	case errors.As(err, &locked):
		if _, cerr := h.verifications.ConsumeMFAChallenge(ctx, challenge); cerr != nil {
			h.logger.Warn("failed to drop MFA challenge", "error", cerr, "account_id", account.ID)
		}
		h.audit.Record(ctx, audit.Entry{
			Action: audit.ActionMFALoginLocked, ActorID: actorID, ActorName: actorName,
			Status:  audit.StatusFailure,
			Details: map[string]any{"reason": "Too many failed MFA attempts", "lockedUntil": locked.Until},
			Request: info,
		})
		httputil.SecurityError(w, http.StatusForbidden, "Account temporarily locked due to too many failed MFA attempts.", "BLOCKED")
	default:
		h.logger.Error("failed to record MFA failure", "error", err, "account_id", account.ID)
		httputil.Error(w, http.StatusInternalServerError, "Failed to verify MFA code")
	}
}

// Status reports the caller's MFA configuration.
// GET /api/mfa/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "Not authorized")
		return
	}
	status, err := h.mfaService.Status(r.Context(), account.ID)
	if err != nil {
		h.logger.Error("failed to get MFA status", "error", err, "account_id", account.ID)
		httputil.Error(w, http.StatusInternalServerError, "Failed to get MFA status")
		return
	}
	httputil.OK(w, http.StatusOK, "", status)
}

// Setup starts TOTP enrollment.
// POST /api/mfa/setup
func (h *Handler) Setup(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	setup, err := h.mfaService.BeginSetup(r.Context(), account.ID)
	if err != nil {
		if errors.Is(err, domain.ErrMFAAlreadyEnabled) {
			httputil.Error(w, http.StatusBadRequest, "MFA is already enabled. Disable it before setting up again.")
			return
		}
		h.logger.Error("failed to set up MFA", "error", err, "account_id", account.ID)
		httputil.Error(w, http.StatusInternalServerError, "Failed to set up MFA")
		return
	}

	h.record(r, account, audit.ActionMFASetupInitiated, map[string]any{"mfaMethod": domain.MFAMethodTOTP})
	httputil.OK(w, http.StatusOK, "MFA setup initiated. Please scan the QR code with Google Authenticator.", SetupResponse{
		QRCode:            setup.QRCode,
		BackupCodes:       setup.BackupCodes,
		ManualEntrySecret: setup.Secret,
	})
}

// VerifySetup confirms enrollment with a first TOTP code.
// POST /api/mfa/verify-setup
func (h *Handler) VerifySetup(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "Not authorized")
		return
	}
	var req CodeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Code == "" {
		httputil.Error(w, http.StatusBadRequest, "Verification code is required")
		return
	}

	if err := h.mfaService.VerifyAndEnable(r.Context(), account.ID, req.Code); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidMFACode):
			httputil.Error(w, http.StatusBadRequest, "Invalid verification code. Please try again.")
		case errors.Is(err, domain.ErrMFASetupNotStarted):
			httputil.Error(w, http.StatusBadRequest, "MFA setup has not been initiated")
		default:
			h.logger.Error("failed to enable MFA", "error", err, "account_id", account.ID)
			httputil.Error(w, http.StatusInternalServerError, "Failed to verify MFA")
		}
		return
	}

	h.record(r, account, audit.ActionMFAEnabled, map[string]any{"mfaMethod": domain.MFAMethodTOTP})
	httputil.OK(w, http.StatusOK, "Two-factor authentication enabled successfully!", nil)
}

// EnableEmail turns on email codes as the second factor.
// POST /api/mfa/email/enable
func (h *Handler) EnableEmail(w http.ResponseWriter, r *http.Request) {
	account, ok := h.confirmPassword(w, r)
	if !ok {
		return
	}
	if account.MFAEnabled {
		httputil.Error(w, http.StatusBadRequest, "MFA is already enabled")
		return
	}
	if err := h.passwords.SetMFA(r.Context(), account.ID, true, domain.MFAMethodEmail); err != nil {
		h.logger.Error("failed to enable email MFA", "error", err, "account_id", account.ID)
		httputil.Error(w, http.StatusInternalServerError, "Failed to enable MFA")
		return
	}

	h.record(r, account, audit.ActionMFAEnabled, map[string]any{"mfaMethod": domain.MFAMethodEmail})
	httputil.OK(w, http.StatusOK, "Email verification codes enabled for sign in", nil)
}

// Disable turns MFA off and drops the TOTP secret and backup codes.
// POST /api/mfa/disable
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	account, ok := h.confirmPassword(w, r)
	if !ok {
		return
	}
	if !account.MFAEnabled {
		httputil.Error(w, http.StatusBadRequest, "MFA is not enabled for this account")
		return
	}

	if err := h.mfaService.Disable(r.Context(), account.ID); err != nil {
		h.logger.Error("failed to disable MFA", "error", err, "account_id", account.ID)
		httputil.Error(w, http.StatusInternalServerError, "Failed to disable MFA")
		return
	}

	h.record(r, account, audit.ActionMFADisabled, map[string]any{"mfaMethod": account.MFAMethod})
	httputil.OK(w, http.StatusOK, "Two-factor authentication has been disabled", nil)
}

// RegenerateBackupCodes replaces the caller's backup codes.
// POST /api/mfa/backup-codes
func (h *Handler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	account, ok := h.confirmPassword(w, r)
	if !ok {
		return
	}
	if !account.MFAEnabled || account.MFAMethod != domain.MFAMethodTOTP {
		httputil.Error(w, http.StatusBadRequest, "TOTP-based MFA is not enabled")
		return
	}

	codes, err := h.mfaService.RegenerateBackupCodes(r.Context(), account.ID)
	if err != nil {
		h.logger.Error("failed to regenerate backup codes", "error", err, "account_id", account.ID)
		httputil.Error(w, http.StatusInternalServerError, "Failed to regenerate backup codes")
		return
	}

	h.record(r, account, audit.ActionMFABackupCodesRegenerated, nil)
	httputil.JSON(w, http.StatusOK, backupCodesResponse{
		Success:     true,
		Message:     "New backup codes generated successfully",
		BackupCodes: codes,
	})
}

// confirmPassword decodes {password} and checks it against the caller.
func (h *Handler) confirmPassword(w http.ResponseWriter, r *http.Request) (*domain.Account, bool) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "Not authorized")
		return nil, false
	}
	var req PasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Password == "" {
		httputil.Error(w, http.StatusBadRequest, "Password is required")
		return nil, false
	}
	if err := h.passwords.VerifyPassword(r.Context(), account.ID, req.Password); err != nil {
		if errors.Is(err, domain.ErrIncorrectPassword) {
			httputil.Error(w, http.StatusUnauthorized, "Incorrect password")
			return nil, false
		}
		h.logger.Error("failed to verify password", "error", err, "account_id", account.ID)
		httputil.Error(w, http.StatusInternalServerError, "Server error")
		return nil, false
	}
	return account, true
}

func (h *Handler) record(r *http.Request, account *domain.Account, action string, details map[string]any) {
	actorID, actorName := common.Actor(account)
	h.audit.Record(r.Context(), audit.Entry{
		Action:    action,
		ActorID:   actorID,
		ActorName: actorName,
		Details:   details,
		Request:   httputil.AuditRequest(r),
	})
}
