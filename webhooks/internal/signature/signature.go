// Package signature authenticates Guesty webhook deliveries with HMAC-SHA256.
package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Prefix is the optional algorithm tag in front of the hex digest.
const Prefix = "sha256="

// SecretBytes is the entropy of generated webhook secrets.
const SecretBytes = 32

var (
	ErrNotConfigured      = errors.New("webhook secret not configured")
	ErrMissingSignature   = errors.New("signature header missing")
	ErrMalformedSignature = errors.New("signature is not a hex sha256 digest")
	ErrInvalidSignature   = errors.New("signature mismatch")
)

// Sign returns "sha256=<hex>" for body under secret.
func Sign(body []byte, secret string) string {
	return Prefix + hex.EncodeToString(digest(body, secret))
}

// Verify checks header against the HMAC of the exact raw body. The header may
// carry the sha256= prefix or be bare hex.
func Verify(body []byte, header, secret string) error {
	if secret == "" {
		return ErrNotConfigured
	}

	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	if len(header) >= len(Prefix) && strings.EqualFold(header[:len(Prefix)], Prefix) {
		header = header[len(Prefix):]
	}

	received, err := hex.DecodeString(header)
	if err != nil || len(received) != sha256.Size {
		return ErrMalformedSignature
	}

	if !hmac.Equal(received, digest(body, secret)) {
		return ErrInvalidSignature
	}
	return nil
}

// Reason maps a Verify error to the short code recorded on rejected events.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrMissingSignature):
		return "missing_signature"
	case errors.Is(err, ErrMalformedSignature):
		return "malformed_signature"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "verification_error"
	}
}

// GenerateSecret returns a new random webhook secret, hex encoded.
func GenerateSecret() (string, error) {
	buf := make([]byte, SecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func digest(body []byte, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return h.Sum(nil)
}
