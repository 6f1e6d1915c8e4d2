package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/autovault-auth/internal/httputil"
	"github.com/tendant/autovault-auth/pkg/audit"
	"github.com/tendant/autovault-auth/pkg/domain"
	"github.com/tendant/autovault-auth/pkg/guard"
)

// PayloadGuardConfig wires the malicious payload guard.
type PayloadGuardConfig struct {
	// ScanEnabled turns signature scanning on. The lock check runs regardless.
	ScanEnabled bool
	Guard       *guard.Guard
	Scanner     *guard.Scanner
	Markers     *guard.MarkerSigner
	Audit       *audit.Recorder
	Cookies     httputil.CookieConfig
	// AllowPaths are still scanned and counted but never refused for an
	// existing lock or block, so a locked user can log in or out.
	AllowPaths []string
	Logger     *slog.Logger
	Now        func() time.Time
}

type payload struct {
	Body   any
	Query  map[string]any
	Params []string
}

// PayloadGuard refuses locked accounts and blocked clients, then scans the
// body, query string and path for injection signatures. Each hit is
// audited and escalates the caller's violation ladder. It must run after
// Identify.
func PayloadGuard(cfg PayloadGuardConfig) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	allow := make(map[string]struct{}, len(cfg.AllowPaths))
	for _, p := range cfg.AllowPaths {
		allow[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			_, allowed := allow[r.URL.Path]
			account, authenticated := GetAccount(ctx)

			if authenticated && account.IsLocked(cfg.Now()) && !allowed {
				mins := (&domain.LockedError{Until: *account.LockedUntil}).RemainingMinutes(cfg.Now())
				httputil.SecurityError(w, http.StatusForbidden, guard.LockedMessage(mins), string(guard.StatusBlocked))
				return
			}

			markerID := ""
			if !authenticated {
				if value, ok := httputil.GetMarkerFromCookie(r); ok {
					if id, err := cfg.Markers.Verify(value); err == nil {
						markerID = id
					}
				}
				if markerID != "" && !allowed {
					blocked, err := cfg.Guard.MarkerBlocked(ctx, markerID)
					if err != nil {
						cfg.Logger.Error("failed to check guard block", "error", err)
						httputil.Error(w, http.StatusInternalServerError, "Internal server error")
						return
					}
					if blocked {
						httputil.SecurityError(w, http.StatusForbidden, cfg.Guard.AnonymousBlockedMessage(), string(guard.StatusBlocked))
						return
					}
				}
			}

			if !cfg.ScanEnabled {
				next.ServeHTTP(w, r)
				return
			}

			p, err := collectPayload(r)
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					httputil.Error(w, http.StatusRequestEntityTooLarge, "Request body too large")
					return
				}
				httputil.Error(w, http.StatusBadRequest, "Invalid request body")
				return
			}
			if !cfg.Scanner.Scan(p.Body) && !cfg.Scanner.Scan(p.Query) && !cfg.Scanner.Scan(p.Params) {
				next.ServeHTTP(w, r)
				return
			}

			var decision *guard.Decision
			entry := audit.Entry{
				Action:  audit.ActionMaliciousPayloadDetected,
				Request: httputil.AuditRequest(r),
			}
			if authenticated {
				entry.ActorID = &account.ID
				entry.ActorName = account.Username
				decision, err = cfg.Guard.AccountViolation(ctx, account.ID, GetToken(ctx))
			} else {
				if markerID == "" {
					value, mErr := cfg.Markers.New()
					if mErr != nil {
						cfg.Logger.Error("failed to issue guard marker", "error", mErr)
						httputil.Error(w, http.StatusInternalServerError, "Internal server error")
						return
					}
					markerID, _ = cfg.Markers.Verify(value)
					httputil.SetMarkerCookie(w, value, cfg.Guard.Config().ViolationWindow, cfg.Cookies)
				}
				decision, err = cfg.Guard.AnonymousViolation(ctx, markerID)
			}
			if err != nil {
				cfg.Logger.Error("failed to record payload violation", "error", err, "path", r.URL.Path)
				httputil.Error(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			entry.Status = audit.StatusWarning
			if decision.Blocked() {
				entry.Status = audit.StatusFailure
			}
			entry.Details = map[string]any{
				"payload": map[string]any{
					"body":   p.Body,
					"query":  p.Query,
					"params": p.Params,
				},
				"securityStatus": string(decision.Status),
				"violations":     decision.Count,
				"limit":          decision.Limit,
				"authenticated":  authenticated,
			}
			cfg.Audit.Record(ctx, entry)

			if decision.Blocked() && authenticated {
				cfg.Audit.Record(ctx, audit.Entry{
					Action:    audit.ActionAccountBlocked,
					ActorID:   &account.ID,
					ActorName: account.Username,
					Status:    audit.StatusFailure,
					Details:   map[string]any{"lockedUntil": decision.Until},
					Request:   entry.Request,
				})
			}

			cfg.Logger.Warn("malicious payload detected",
				"path", r.URL.Path,
				"security_status", decision.Status,
				"count", decision.Count,
				"authenticated", authenticated,
			)

			status := http.StatusBadRequest
			if decision.Blocked() {
				status = http.StatusForbidden
			}
			httputil.SecurityError(w, status, decision.Message, string(decision.Status))
		})
	}
}

// collectPayload reads what the scanner inspects. The body is buffered and
// restored so handlers can decode it again.
func collectPayload(r *http.Request) (*payload, error) {
	p := &payload{
		Query:  queryValues(r.URL.Query()),
		Params: pathSegments(r.URL.EscapedPath()),
	}
	if r.Body == nil || r.Body == http.NoBody {
		return p, nil
	}

	raw, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if len(raw) == 0 {
		return p, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if form, err := url.ParseQuery(string(raw)); err == nil {
			p.Body = queryValues(form)
			return p, nil
		}
	default:
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			p.Body = decoded
			return p, nil
		}
	}
	p.Body = string(raw)
	return p, nil
}

func queryValues(v url.Values) map[string]any {
	if len(v) == 0 {
		return nil
	}
	out := make(map[string]any, len(v))
	for k, vals := range v {
		if len(vals) == 1 {
			out[k] = vals[0]
			continue
		}
		items := make([]any, len(vals))
		for i, s := range vals {
			items[i] = s
		}
		out[k] = items
	}
	return out
}

func pathSegments(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s == "" {
			continue
		}
		if u, err := url.PathUnescape(s); err == nil {
			s = u
		}
		segs = append(segs, s)
	}
	return segs
}
