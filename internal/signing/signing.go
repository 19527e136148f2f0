// Package signing produces the payload/checksum pair the hosted payment form
// validates: canonical JSON, base64 encoded, authenticated with HMAC-SHA512.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// LiveSecretPrefix marks production secret keys.
	LiveSecretPrefix = "sk_live_"
	// TestSecretPrefix marks sandbox secret keys.
	TestSecretPrefix = "sk_test_"
)

// ErrEmptySecret is returned when a payload is signed without key material.
var ErrEmptySecret = errors.New("signing: secret key is empty")

// Signed is the wire pair handed to the embedded form.
type Signed struct {
	Payload  string
	Checksum string
}

// Canonicalize serialises v as JSON without HTML, unicode or slash escaping.
// The checksum covers these exact bytes, so the output must not change for
// identical input.
func Canonicalize(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("signing: encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign returns base64(HMAC-SHA512(data, key)) over the raw digest.
func Sign(data []byte, secretKeyValue string) string {
	mac := hmac.New(sha512.New, []byte(secretKeyValue))
	mac.Write(data)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// StripKeyPrefix drops a leading sk_live_/sk_test_ marker. Unrecognised
// formats pass through unchanged.
func StripKeyPrefix(secretKey string) string {
	switch {
	case strings.HasPrefix(secretKey, LiveSecretPrefix):
		return secretKey[len(LiveSecretPrefix):]
	case strings.HasPrefix(secretKey, TestSecretPrefix):
		return secretKey[len(TestSecretPrefix):]
	default:
		return secretKey
	}
}

// Encode canonicalises payload and signs it with the prefix-stripped secret.
func Encode(payload any, secretKey string) (Signed, error) {
	if strings.TrimSpace(secretKey) == "" {
		return Signed{}, ErrEmptySecret
	}
	raw, err := Canonicalize(payload)
	if err != nil {
		return Signed{}, err
	}
	return Signed{
		Payload:  base64.StdEncoding.EncodeToString(raw),
		Checksum: Sign(raw, StripKeyPrefix(secretKey)),
	}, nil
}

// Verify recomputes the checksum of a base64 payload and compares it in
// constant time.
func Verify(payload, checksum, secretKey string) (bool, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return false, fmt.Errorf("signing: decode payload: %w", err)
	}
	expected := Sign(raw, StripKeyPrefix(secretKey))
	return hmac.Equal([]byte(expected), []byte(checksum)), nil
}
