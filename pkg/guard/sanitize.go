package guard

import (
	"html"
	"strings"
	"unicode"
)

// SanitizeString removes control characters other than newline, carriage
// return and tab, then escapes HTML.
func SanitizeString(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return html.EscapeString(cleaned)
}

// Sanitize returns a copy of v with every string sanitized. Values under a
// map key for which keep returns true are copied untouched, so secrets such
// as passwords reach the handler byte for byte.
func Sanitize(v any, keep func(key string) bool) any {
	switch t := v.(type) {
	case string:
		return SanitizeString(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Sanitize(item, keep)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			if keep != nil && keep(k) {
				out[k] = item
				continue
			}
			out[k] = Sanitize(item, keep)
		}
		return out
	default:
		return v
	}
}
