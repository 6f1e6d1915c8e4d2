// Package auditlog exposes the audit trail to administrators.
package auditlog

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/autovault-auth/internal/httputil"
	"github.com/tendant/autovault-auth/pkg/audit"
)

// Handler serves audit queries.
type Handler struct {
	logger   *slog.Logger
	recorder *audit.Recorder
}

// NewHandler creates a new audit log handler.
func NewHandler(logger *slog.Logger, recorder *audit.Recorder) *Handler {
	return &Handler{logger: logger, recorder: recorder}
}

type logsResponse struct {
	Success bool `json:"success"`
	*audit.Page
}

// Logs returns one page of events, newest first.
// GET /api/admin/audit/logs
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.recorder.Query(r.Context(), f)
	if err != nil {
		h.logger.Error("failed to query audit logs", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "Failed to retrieve audit logs")
		return
	}
	httputil.JSON(w, http.StatusOK, logsResponse{Success: true, Page: page})
}

// Stats summarises today's activity.
// GET /api/admin/audit/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.recorder.TodayStats(r.Context())
	if err != nil {
		h.logger.Error("failed to compute audit stats", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "Failed to retrieve audit statistics")
		return
	}
	httputil.OK(w, http.StatusOK, "", stats)
}

type filterError string

func (e filterError) Error() string { return string(e) }

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	var f audit.Filter

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, filterError("Invalid page")
		}
		f.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, filterError("Invalid limit")
		}
		f.Limit = n
	}

	f.Action = strings.ToUpper(strings.TrimSpace(q.Get("action")))
	f.Search = strings.TrimSpace(q.Get("search"))

	if v := q.Get("status"); v != "" {
		switch s := audit.Status(strings.ToLower(v)); s {
		case audit.StatusSuccess, audit.StatusFailure, audit.StatusWarning:
			f.Status = s
		default:
			return f, filterError("Invalid status")
		}
	}
	if v := q.Get("userId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, filterError("Invalid userId")
		}
		f.ActorID = &id
	}
	if v := q.Get("startDate"); v != "" {
		t, err := parseDate(v, false)
		if err != nil {
			return f, filterError("Invalid startDate")
		}
		f.From = &t
	}
	if v := q.Get("endDate"); v != "" {
		t, err := parseDate(v, true)
		if err != nil {
			return f, filterError("Invalid endDate")
		}
		f.To = &t
	}
	return f, nil
}

// parseDate accepts RFC 3339 or a bare date. A bare end date covers the
// whole day.
func parseDate(v string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
