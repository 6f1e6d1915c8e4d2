// Package guard detects script-injection payloads and escalates repeat
// offenders from a warning to a time-boxed block.
package guard

import "regexp"

var signatures = []string{
	`<script.*?>`,
	`javascript:`,
	`onerror\s*=`,
	`onload\s*=`,
	`onclick\s*=`,
	`onmouseover\s*=`,
	`eval\(.*?\)`,
	`base64\s*,`,
	`alert\(.*?\)`,
	`prompt\(.*?\)`,
	`confirm\(.*?\)`,
	`document\.cookie`,
	`document\.location`,
	`window\.location`,
	`iframe.*src`,
	`svg.*?onload`,
}

// Scanner matches values against the injection signatures.
type Scanner struct {
	patterns []*regexp.Regexp
}

func NewScanner() *Scanner {
	patterns := make([]*regexp.Regexp, len(signatures))
	for i, sig := range signatures {
		patterns[i] = regexp.MustCompile(`(?i)` + sig)
	}
	return &Scanner{patterns: patterns}
}

// MatchString reports whether s contains any signature.
func (s *Scanner) MatchString(v string) bool {
	for _, p := range s.patterns {
		if p.MatchString(v) {
			return true
		}
	}
	return false
}

// Scan walks maps and slices and reports whether any string inside matches.
// Map keys are not scanned.
func (s *Scanner) Scan(v any) bool {
	switch t := v.(type) {
	case string:
		return s.MatchString(t)
	case []string:
		for _, item := range t {
			if s.MatchString(item) {
				return true
			}
		}
	case []any:
		for _, item := range t {
			if s.Scan(item) {
				return true
			}
		}
	case map[string]any:
		for _, item := range t {
			if s.Scan(item) {
				return true
			}
		}
	case map[string]string:
		for _, item := range t {
			if s.MatchString(item) {
				return true
			}
		}
	case map[string][]string:
		for _, items := range t {
			if s.Scan(items) {
				return true
			}
		}
	}
	return false
}
