package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/tendant/autovault-auth/pkg/audit"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message,omitempty"`
	Data           any      `json:"data,omitempty"`
	Errors         []string `json:"errors,omitempty"`
	SecurityStatus string   `json:"securityStatus,omitempty"`
}

// JSON writes v as the response body.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// OK writes a success envelope.
func OK(w http.ResponseWriter, status int, message string, data any) {
	JSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// Error writes {success:false, message}.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, Envelope{Success: false, Message: message})
}

// ValidationErrors writes every policy message under errors.
func ValidationErrors(w http.ResponseWriter, message string, errs []string) {
	JSON(w, http.StatusBadRequest, Envelope{Success: false, Message: message, Errors: errs})
}

// SecurityError writes a guard or lockout response carrying securityStatus.
func SecurityError(w http.ResponseWriter, status int, message, securityStatus string) {
	JSON(w, status, Envelope{Success: false, Message: message, SecurityStatus: securityStatus})
}

var ErrInvalidBody = errors.New("invalid request body")

// DecodeJSON decodes the body into v, mapping body-size overruns and syntax
// errors to ErrInvalidBody.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return ErrInvalidBody
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrInvalidBody
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: body too large", ErrInvalidBody)
		}
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return nil
}

// ClientIP returns the host part of the connection's remote address.
// Forwarding headers are not trusted here; run chi's RealIP in front when
// a trusted proxy sets them.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AuditRequest captures the transport fields of an audit event.
func AuditRequest(r *http.Request) audit.RequestInfo {
	return audit.RequestInfo{
		IP:        ClientIP(r),
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		Endpoint:  r.URL.Path,
	}
}
