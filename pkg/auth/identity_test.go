package auth

import (
	"errors"
	"testing"

	"github.com/tendant/autovault-auth/pkg/domain"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{name: "valid alphanumeric", username: "alice123", wantErr: false},
		{name: "valid with underscore", username: "user_name", wantErr: false},
		{name: "valid with hyphen", username: "user-name", wantErr: false},
		{name: "minimum length", username: "abc", wantErr: false},
		{name: "maximum length", username: "abcdefghij1234567890abcdefghij", wantErr: false},
		{name: "starts with number", username: "1ab", wantErr: false},
		{name: "empty", username: "", wantErr: true},
		{name: "too short", username: "ab", wantErr: true},
		{name: "too long", username: "abcdefghij1234567890abcdefghijk", wantErr: true},
		{name: "starts with underscore", username: "_username", wantErr: true},
		{name: "contains space", username: "user name", wantErr: true},
		{name: "contains @", username: "user@name", wantErr: true},
		{name: "contains dot", username: "user.name", wantErr: true},
		{name: "non-ascii", username: "usér123", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername(%q) error = %v, wantErr %v", tt.username, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidUsername) {
				t.Errorf("ValidateUsername(%q) error = %v, want %v", tt.username, err, domain.ErrInvalidUsername)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{name: "valid email", email: "a@x.com", wantErr: false},
		{name: "subdomain", email: "test@mail.example.com", wantErr: false},
		{name: "plus tag", email: "test+tag@example.com", wantErr: false},
		{name: "mixed case and spaces", email: "  Alice@Example.COM ", wantErr: false},
		{name: "empty", email: "", wantErr: true},
		{name: "no @", email: "testexample.com", wantErr: true},
		{name: "no domain dot", email: "test@localhost", wantErr: true},
		{name: "display name form", email: "Alice <a@x.com>", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail(%q) error = %v, wantErr %v", tt.email, err, tt.wantErr)
			}
		})
	}
}

func TestIsEmail(t *testing.T) {
	tests := []struct {
		identifier string
		want       bool
	}{
		{identifier: "user@example.com", want: true},
		{identifier: "username", want: false},
		{identifier: "", want: false},
		{identifier: "username@", want: true},
	}

	for _, tt := range tests {
		if got := IsEmail(tt.identifier); got != tt.want {
			t.Errorf("IsEmail(%q) = %v, want %v", tt.identifier, got, tt.want)
		}
	}
}
