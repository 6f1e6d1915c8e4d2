package mfa

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/autovault-auth/internal/http/middleware"
)

// RegisterRoutes mounts the MFA endpoints under /api/mfa. verifyLimit
// applies to the unauthenticated login step.
func (h *Handler) RegisterRoutes(r chi.Router, verifyLimit func(http.Handler) http.Handler) {
	r.Route("/api/mfa", func(r chi.Router) {
		r.With(verifyLimit).Post("/verify-login", h.VerifyLogin)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Get("/status", h.Status)
			r.Post("/setup", h.Setup)
			r.Post("/verify-setup", h.VerifySetup)
			r.Post("/email/enable", h.EnableEmail)
			r.Post("/disable", h.Disable)
			r.Post("/backup-codes", h.RegenerateBackupCodes)
		})
	})
}
