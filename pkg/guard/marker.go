package guard

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// MarkerCookieName identifies anonymous clients without keying on their IP.
const MarkerCookieName = "av_guard"

var ErrInvalidMarker = errors.New("invalid guard marker")

// MarkerSigner issues and verifies HMAC-SHA256 signed client markers of the
// form <id>.<signature>.
type MarkerSigner struct {
	key []byte
}

func NewMarkerSigner(key []byte) *MarkerSigner {
	return &MarkerSigner{key: key}
}

// New returns a fresh signed marker.
func (m *MarkerSigner) New() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	id := base64.RawURLEncoding.EncodeToString(b)
	return id + "." + m.sign(id), nil
}

// Verify returns the marker id when the signature is valid.
func (m *MarkerSigner) Verify(value string) (string, error) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" || sig == "" {
		return "", ErrInvalidMarker
	}
	if !hmac.Equal([]byte(sig), []byte(m.sign(id))) {
		return "", ErrInvalidMarker
	}
	return id, nil
}

func (m *MarkerSigner) sign(id string) string {
	mac := hmac.New(sha256.New, m.key)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
