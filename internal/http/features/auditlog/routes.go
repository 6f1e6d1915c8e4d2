package auditlog

import (
	"github.com/go-chi/chi/v5"
	"github.com/tendant/autovault-auth/internal/http/middleware"
)

// RegisterRoutes mounts the admin-only audit endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/admin/audit", func(r chi.Router) {
		r.Use(middleware.RequireAuth, middleware.RequireAdmin)
		r.Get("/logs", h.Logs)
		r.Get("/stats", h.Stats)
	})
}
