package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/tendant/autovault-auth/internal/httputil"
	"github.com/tendant/autovault-auth/pkg/audit"
	"github.com/tendant/autovault-auth/pkg/guard"
)

// keepRaw reports fields that must reach handlers unchanged: secrets are
// compared or hashed byte for byte and emails are validated on their own.
func keepRaw(key string) bool {
	return audit.IsSensitiveKey(key) || strings.Contains(strings.ToLower(key), "email")
}

// SanitizeInput HTML-escapes string values in JSON bodies and query strings.
// It runs after PayloadGuard so the guard and the audit trail see what the
// client actually sent.
func SanitizeInput() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sanitizeQuery(r)

			mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if mediaType != "application/json" || r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			raw, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					httputil.Error(w, http.StatusRequestEntityTooLarge, "Request body too large")
					return
				}
				httputil.Error(w, http.StatusBadRequest, "Invalid request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))

			if clean, ok := sanitizeJSON(raw); ok {
				r.Body = io.NopCloser(bytes.NewReader(clean))
				r.ContentLength = int64(len(clean))
				r.Header.Del("Content-Length")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sanitizeQuery(r *http.Request) {
	if r.URL.RawQuery == "" {
		return
	}
	q := r.URL.Query()
	changed := false
	for k, vals := range q {
		if keepRaw(k) {
			continue
		}
		for i, v := range vals {
			if s := guard.SanitizeString(v); s != v {
				vals[i] = s
				changed = true
			}
		}
	}
	if changed {
		r.URL.RawQuery = q.Encode()
	}
}

// sanitizeJSON re-encodes a JSON document with sanitized strings. Bodies
// that do not parse are left for the handler to reject.
func sanitizeJSON(raw []byte) ([]byte, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, false
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(guard.Sanitize(doc, keepRaw)); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
