// Package audit records security-relevant events. Events are redacted,
// handed to an asynchronous dispatcher and written by one or more sinks.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of an audited operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusWarning Status = "warning"
)

// Actions
const (
	ActionUserRegistered            = "USER_REGISTERED"
	ActionLoginSuccess              = "LOGIN_SUCCESS"
	ActionLoginFailed               = "LOGIN_FAILED"
	ActionLoginLocked               = "LOGIN_LOCKED"
	ActionLogout                    = "LOGOUT"
	ActionEmailVerified             = "EMAIL_VERIFIED"
	ActionVerificationResent        = "VERIFICATION_RESENT"
	ActionPasswordChanged           = "PASSWORD_CHANGED"
	ActionPasswordResetRequested    = "PASSWORD_RESET_REQUESTED"
	ActionPasswordReset             = "PASSWORD_RESET"
	ActionMFASetupInitiated         = "MFA_SETUP_INITIATED"
	ActionMFAEnabled                = "MFA_ENABLED"
	ActionMFADisabled               = "MFA_DISABLED"
	ActionMFABackupCodesRegenerated = "MFA_BACKUP_CODES_REGENERATED"
	ActionMFAOTPSent                = "MFA_OTP_SENT"
	ActionMFALoginSuccess           = "MFA_LOGIN_SUCCESS"
	ActionMFALoginFailed            = "MFA_LOGIN_FAILED"
	ActionMFALoginLocked            = "MFA_LOGIN_LOCKED"
	ActionMaliciousPayloadDetected  = "MALICIOUS_PAYLOAD_DETECTED"
	ActionAccountBlocked            = "ACCOUNT_BLOCKED"
)

// Event is one append-only audit record.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Action    string         `json:"action"`
	ActorID   *uuid.UUID     `json:"userId,omitempty"`
	ActorName string         `json:"userName,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	IP        string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Method    string         `json:"method,omitempty"`
	Endpoint  string         `json:"endpoint,omitempty"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
}

// RequestInfo is the transport context attached to an event.
type RequestInfo struct {
	IP        string
	UserAgent string
	Method    string
	Endpoint  string
}

// Filter selects events for Query. Zero values match everything.
type Filter struct {
	Action  string
	ActorID *uuid.UUID
	Status  Status
	From    *time.Time
	To      *time.Time
	Search  string // case-insensitive, against actor name or action
	Page    int
	Limit   int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Normalize clamps paging to sane bounds.
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
}

// Offset is the number of rows to skip for the current page.
func (f *Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Page is one page of query results.
type Page struct {
	Count       int     `json:"count"`
	Total       int     `json:"total"`
	TotalPages  int     `json:"totalPages"`
	CurrentPage int     `json:"currentPage"`
	Data        []Event `json:"data"`
}

// ActionCount is one row of the top-actions aggregation.
type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// Stats summarises activity since a cut-off.
type Stats struct {
	TotalToday    int           `json:"totalToday"`
	SuccessToday  int           `json:"successToday"`
	FailuresToday int           `json:"failuresToday"`
	TopActions    []ActionCount `json:"topActions"`
}

// Store persists and queries events.
type Store interface {
	Insert(ctx context.Context, e *Event) error
	Query(ctx context.Context, f Filter) ([]Event, int, error)
	Stats(ctx context.Context, since time.Time, top int) (*Stats, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StartOfDayUTC returns midnight UTC of the day containing t.
func StartOfDayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewPage builds the paged response for a result set.
func NewPage(events []Event, total int, f Filter) *Page {
	if events == nil {
		events = []Event{}
	}
	pages := 0
	if f.Limit > 0 {
		pages = (total + f.Limit - 1) / f.Limit
	}
	return &Page{
		Count:       len(events),
		Total:       total,
		TotalPages:  pages,
		CurrentPage: f.Page,
		Data:        events,
	}
}
