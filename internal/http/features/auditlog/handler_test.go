package auditlog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/autovault-auth/pkg/audit"
	"github.com/tendant/autovault-auth/pkg/repository"
)

func newHandler(t *testing.T) (*Handler, *audit.Recorder) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()
	recorder := audit.NewRecorder(audit.NewStoreSink(store, logger), store)
	return NewHandler(logger, recorder), recorder
}

type pageBody struct {
	Success    bool          `json:"success"`
	Count      int           `json:"count"`
	Total      int           `json:"total"`
	TotalPages int           `json:"totalPages"`
	Data       []audit.Event `json:"data"`
}

func TestLogs_FiltersAndPages(t *testing.T) {
	h, rec := newHandler(t)
	ctx := context.Background()
	alice := uuid.New()

	for i := 0; i < 3; i++ {
		rec.Record(ctx, audit.Entry{Action: audit.ActionLoginFailed, ActorID: &alice, ActorName: "alice", Status: audit.StatusFailure})
	}
	rec.Record(ctx, audit.Entry{Action: audit.ActionLoginSuccess, ActorID: &alice, ActorName: "alice"})
	rec.Record(ctx, audit.Entry{Action: audit.ActionUserRegistered, ActorName: "bob"})

	tests := []struct {
		name      string
		query     string
		wantCount int
		wantTotal int
		wantPages int
	}{
		{"all", "", 5, 5, 1},
		{"by action", "?action=login_failed", 3, 3, 1},
		{"by status", "?status=failure", 3, 3, 1},
		{"by user", "?userId=" + alice.String(), 4, 4, 1},
		{"search", "?search=BOB", 1, 1, 1},
		{"paged", "?limit=2&page=3", 1, 5, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/audit/logs"+tt.query, nil)
			w := httptest.NewRecorder()
			h.Logs(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("Status code = %d, want %d", w.Code, http.StatusOK)
			}
			var body pageBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !body.Success {
				t.Error("success = false")
			}
			if body.Count != tt.wantCount || body.Total != tt.wantTotal || body.TotalPages != tt.wantPages {
				t.Errorf("count/total/pages = %d/%d/%d, want %d/%d/%d",
					body.Count, body.Total, body.TotalPages, tt.wantCount, tt.wantTotal, tt.wantPages)
			}
		})
	}
}

func TestLogs_RejectsBadParams(t *testing.T) {
	h, _ := newHandler(t)

	for _, q := range []string{"?page=x", "?userId=nope", "?status=maybe", "?startDate=yesterday"} {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/audit/logs"+q, nil)
		w := httptest.NewRecorder()
		h.Logs(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", q, w.Code, http.StatusBadRequest)
		}
	}
}

func TestStats(t *testing.T) {
	h, rec := newHandler(t)
	ctx := context.Background()
	rec.Record(ctx, audit.Entry{Action: audit.ActionLoginFailed, Status: audit.StatusFailure})
	rec.Record(ctx, audit.Entry{Action: audit.ActionLoginFailed, Status: audit.StatusFailure})
	rec.Record(ctx, audit.Entry{Action: audit.ActionLoginSuccess})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/audit/stats", nil)
	w := httptest.NewRecorder()
	h.Stats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status code = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Success bool        `json:"success"`
		Data    audit.Stats `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.TotalToday != 3 || body.Data.FailuresToday != 2 || body.Data.SuccessToday != 1 {
		t.Errorf("stats = %+v", body.Data)
	}
	if len(body.Data.TopActions) == 0 || body.Data.TopActions[0].Action != audit.ActionLoginFailed {
		t.Errorf("top actions = %+v", body.Data.TopActions)
	}
}

func TestParseDate_EndOfDay(t *testing.T) {
	start, err := parseDate("2026-03-01", false)
	if err != nil {
		t.Fatal(err)
	}
	end, err := parseDate("2026-03-01", true)
	if err != nil {
		t.Fatal(err)
	}
	if end.Sub(start) < 23*time.Hour {
		t.Errorf("end of day not extended: %v .. %v", start, end)
	}
}
