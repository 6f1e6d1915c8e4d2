package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const recaptchaVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

var (
	ErrCaptchaMissing = errors.New("captcha token is required")
	// ErrCaptchaUnavailable means the verification endpoint could not be
	// reached or answered garbage; it says nothing about the caller.
	ErrCaptchaUnavailable = errors.New("captcha verification unavailable")
)

// CaptchaRejectedError carries the error codes returned by the verifier.
type CaptchaRejectedError struct {
	Codes []string
}

func (e *CaptchaRejectedError) Error() string {
	if len(e.Codes) == 0 {
		return "captcha rejected"
	}
	return "captcha rejected: " + strings.Join(e.Codes, ", ")
}

// CaptchaVerifier proves a human filled in a form.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// RecaptchaConfig holds reCAPTCHA v2 settings.
type RecaptchaConfig struct {
	SecretKey string
	VerifyURL string
	// BypassToken, when set, is accepted without calling Google.
	BypassToken string
}

// RecaptchaVerifier checks tokens against Google's siteverify endpoint.
type RecaptchaVerifier struct {
	config     RecaptchaConfig
	httpClient *http.Client
}

// NewRecaptchaVerifier creates a verifier with a 10s HTTP timeout.
func NewRecaptchaVerifier(config RecaptchaConfig) *RecaptchaVerifier {
	if config.VerifyURL == "" {
		config.VerifyURL = recaptchaVerifyURL
	}
	return &RecaptchaVerifier{
		config:     config,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify returns nil for a valid token, ErrCaptchaMissing for an empty one,
// *CaptchaRejectedError when Google refuses it and ErrCaptchaUnavailable
// when the check itself failed.
func (v *RecaptchaVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	if token == "" {
		return ErrCaptchaMissing
	}
	if v.config.BypassToken != "" && token == v.config.BypassToken {
		return nil
	}

	data := url.Values{
		"secret":   {v.config.SecretKey},
		"response": {token},
	}
	if remoteIP != "" {
		data.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.config.VerifyURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrCaptchaUnavailable, resp.StatusCode, body)
	}
	var out siteVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	if !out.Success {
		return &CaptchaRejectedError{Codes: out.ErrorCodes}
	}
	return nil
}
