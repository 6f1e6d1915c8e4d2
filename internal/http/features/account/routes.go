package account

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/autovault-auth/internal/http/middleware"
)

// Limiters names the rate limits applied to the account routes.
type Limiters struct {
	Register func(http.Handler) http.Handler
	Login    func(http.Handler) http.Handler
}

// RegisterRoutes mounts the account endpoints under /api/auth.
func (h *Handler) RegisterRoutes(r chi.Router, limits Limiters) {
	r.Route("/api/auth", func(r chi.Router) {
		r.With(limits.Register).Post("/register", h.Register)
		r.With(limits.Login).Post("/login", h.Login)

		r.Get("/verify-email/{token}", h.VerifyEmail)
		r.With(limits.Login).Post("/resend-verification", h.ResendVerification)
		r.With(limits.Login).Post("/forgot-password", h.ForgotPassword)
		r.With(limits.Login).Post("/reset-password", h.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Post("/logout", h.Logout)
			r.Get("/me", h.Me)
			r.Post("/change-password", h.ChangePassword)
		})
	})
}
