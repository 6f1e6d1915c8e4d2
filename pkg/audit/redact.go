package audit

import "strings"

// RedactedValue replaces the value of every sensitive key.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = []string{"password", "token", "secret", "authorization", "cookie"}

// IsSensitiveKey reports whether a detail key must never be stored in clear.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Redact returns a deep copy of details with sensitive keys masked at any depth.
func Redact(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if IsSensitiveKey(k) {
			out[k] = RedactedValue
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Redact(t)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			if IsSensitiveKey(k) {
				m[k] = RedactedValue
			} else {
				m[k] = s
			}
		}
		return m
	case map[string][]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			if IsSensitiveKey(k) {
				m[k] = RedactedValue
			} else {
				m[k] = append([]string(nil), s...)
			}
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = redactValue(t[i])
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = Redact(t[i])
		}
		return out
	default:
		return v
	}
}
