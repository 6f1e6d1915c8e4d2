package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tendant/autovault-auth/internal/config"
	"github.com/tendant/autovault-auth/pkg/domain"
)

const (
	msgPersonalInfo = "Password must not contain your username or email"
	msgReused       = "Password has been used recently. Please choose a different password"
)

// PasswordPolicy defines password complexity requirements.
type PasswordPolicy struct {
	MinLength        int
	MaxLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
	HistorySize      int

	hasher PasswordHasher
}

// DefaultPasswordPolicy is 8-32 characters with upper, lower and a digit,
// and a reuse window of five.
func DefaultPasswordPolicy(hasher PasswordHasher) *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:        8,
		MaxLength:        32,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireNumber:    true,
		HistorySize:      domain.PasswordHistoryLimit,
		hasher:           hasher,
	}
}

// NewPasswordPolicy creates a PasswordPolicy from config.
func NewPasswordPolicy(cfg config.PasswordPolicyConfig, hasher PasswordHasher) *PasswordPolicy {
	p := &PasswordPolicy{
		MinLength:        cfg.MinLength,
		MaxLength:        cfg.MaxLength,
		RequireUppercase: cfg.RequireUppercase,
		RequireLowercase: cfg.RequireLowercase,
		RequireNumber:    cfg.RequireNumber,
		RequireSpecial:   cfg.RequireSpecial,
		HistorySize:      cfg.HistorySize,
		hasher:           hasher,
	}
	if p.HistorySize <= 0 {
		p.HistorySize = domain.PasswordHistoryLimit
	}
	return p
}

// PasswordSubject is the account context needed for personal-info and
// history checks. A nil subject means only strength is checked.
type PasswordSubject struct {
	Username string
	Email    string
	History  []string
}

// ValidationResult collects every failed rule, not just the first.
type ValidationResult struct {
	IsValid bool
	Errors  []string
}

// Err returns a *domain.ValidationError, or nil when valid.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	return &domain.ValidationError{Errors: r.Errors}
}

// ValidateStrength returns one message per unmet rule.
func (p *PasswordPolicy) ValidateStrength(password string) []string {
	var errs []string

	n := utf8.RuneCountInString(password)
	if (p.MinLength > 0 && n < p.MinLength) || (p.MaxLength > 0 && n > p.MaxLength) {
		switch {
		case p.MaxLength > 0:
			errs = append(errs, fmt.Sprintf("Password must be between %d and %d characters", p.MinLength, p.MaxLength))
		default:
			errs = append(errs, fmt.Sprintf("Password must be at least %d characters long", p.MinLength))
		}
	}
	if p.RequireUppercase && !containsFunc(password, unicode.IsUpper) {
		errs = append(errs, "Password must contain at least one uppercase letter")
	}
	if p.RequireLowercase && !containsFunc(password, unicode.IsLower) {
		errs = append(errs, "Password must contain at least one lowercase letter")
	}
	if p.RequireNumber && !containsFunc(password, unicode.IsDigit) {
		errs = append(errs, "Password must contain at least one number")
	}
	if p.RequireSpecial && !containsFunc(password, isSpecial) {
		errs = append(errs, "Password must contain at least one special character")
	}
	return errs
}

// ContainsPersonalInfo reports whether the password and the username, or the
// password and the email local part, contain one another (case-insensitive).
func ContainsPersonalInfo(password, username, email string) bool {
	pw := strings.ToLower(password)
	if pw == "" {
		return false
	}
	for _, v := range []string{username, emailLocalPart(email)} {
		v = strings.ToLower(v)
		if v == "" {
			continue
		}
		if strings.Contains(pw, v) || strings.Contains(v, pw) {
			return true
		}
	}
	return false
}

// CheckHistoryReuse reports whether password matches any of the most recent
// HistorySize hashes.
func (p *PasswordPolicy) CheckHistoryReuse(password string, history []string) bool {
	if p.hasher == nil {
		return false
	}
	for _, digest := range recent(history, p.HistorySize) {
		if p.hasher.Compare(password, digest) {
			return true
		}
	}
	return false
}

// Validate composes strength, personal-info and history checks.
func (p *PasswordPolicy) Validate(password string, subject *PasswordSubject) ValidationResult {
	errs := p.ValidateStrength(password)
	if subject != nil {
		if ContainsPersonalInfo(password, subject.Username, subject.Email) {
			errs = append(errs, msgPersonalInfo)
		}
		if p.CheckHistoryReuse(password, subject.History) {
			errs = append(errs, msgReused)
		}
	}
	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

// AppendHistory adds hash and keeps the last HistorySize entries.
func (p *PasswordPolicy) AppendHistory(history []string, hash string) []string {
	out := make([]string, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, hash)
	return recent(out, p.HistorySize)
}

// Requirements returns a human-readable description of the policy.
func (p *PasswordPolicy) Requirements() string {
	var reqs []string
	if p.MaxLength > 0 {
		reqs = append(reqs, fmt.Sprintf("%d-%d characters", p.MinLength, p.MaxLength))
	} else if p.MinLength > 0 {
		reqs = append(reqs, fmt.Sprintf("at least %d characters", p.MinLength))
	}
	if p.RequireUppercase {
		reqs = append(reqs, "one uppercase letter")
	}
	if p.RequireLowercase {
		reqs = append(reqs, "one lowercase letter")
	}
	if p.RequireNumber {
		reqs = append(reqs, "one number")
	}
	if p.RequireSpecial {
		reqs = append(reqs, "one special character")
	}
	if len(reqs) == 0 {
		return "No password requirements"
	}
	return "Password must contain " + strings.Join(reqs, ", ")
}

func recent(history []string, n int) []string {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func containsFunc(s string, f func(rune) bool) bool {
	return strings.IndexFunc(s, f) >= 0
}

func isSpecial(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
}
