package common

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tendant/autovault-auth/internal/background"
	"github.com/tendant/autovault-auth/internal/httputil"
	"github.com/tendant/autovault-auth/pkg/audit"
	"github.com/tendant/autovault-auth/pkg/auth"
	"github.com/tendant/autovault-auth/pkg/domain"
)

// LoginResponse is returned once a login is complete.
type LoginResponse struct {
	Success     bool        `json:"success"`
	Message     string      `json:"message"`
	Data        AccountView `json:"data"`
	Token       string      `json:"token"`
	ExpiresAt   time.Time   `json:"expiresAt"`
	MFAVerified bool        `json:"mfaVerified,omitempty"`
	Warning     string      `json:"warning,omitempty"`
}

// LoginFinisher issues the session once every factor has been checked.
type LoginFinisher struct {
	Logger    *slog.Logger
	Passwords *auth.PasswordService
	Sessions  *auth.SessionService
	Mailer    Mailer
	Audit     *audit.Recorder
	Tasks     *background.Runner
	Cookies   httputil.CookieConfig
}

// LoginResult customises the success response and audit entry.
type LoginResult struct {
	Action      string
	Details     map[string]any
	MFAVerified bool
	Warning     string
}

// Finish mints the token, sets the cookie, records the login and, when the
// login comes from a new IP, mails a notice after the response.
func (f *LoginFinisher) Finish(w http.ResponseWriter, r *http.Request, account *domain.Account, res LoginResult) {
	ctx := r.Context()
	ip := httputil.ClientIP(r)

	token, expiresAt, err := f.Sessions.Issue(account)
	if err != nil {
		f.Logger.Error("failed to issue session", "error", err, "account_id", account.ID)
		httputil.Error(w, http.StatusInternalServerError, "Server error")
		return
	}
	newDevice, err := f.Passwords.CompleteLogin(ctx, account, ip)
	if err != nil {
		f.Logger.Error("failed to record login", "error", err, "account_id", account.ID)
		httputil.Error(w, http.StatusInternalServerError, "Server error")
		return
	}

	httputil.SetTokenCookie(w, token, f.Sessions.TTL(), f.Cookies)

	details := map[string]any{"newDevice": newDevice}
	for k, v := range res.Details {
		details[k] = v
	}
	actorID, actorName := Actor(account)
	f.Audit.Record(ctx, audit.Entry{
		Action:    res.Action,
		ActorID:   actorID,
		ActorName: actorName,
		Details:   details,
		Request:   httputil.AuditRequest(r),
	})

	if newDevice && f.Mailer != nil && f.Tasks != nil {
		email, username, ua := account.Email, account.Username, r.UserAgent()
		at := time.Now().UTC()
		f.Tasks.Go("new-device-alert", func(ctx context.Context) error {
			return f.Mailer.SendNewDeviceAlert(ctx, email, username, ip, ua, at)
		})
	}

	httputil.JSON(w, http.StatusOK, LoginResponse{
		Success:     true,
		Message:     "Login successful",
		Data:        NewAccountView(account),
		Token:       token,
		ExpiresAt:   expiresAt,
		MFAVerified: res.MFAVerified,
		Warning:     res.Warning,
	})
}
