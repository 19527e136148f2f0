package common

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sha256Hex digests parts joined with a NUL separator, so ("ab","c") and
// ("a","bc") never collide.
func Sha256Hex(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// DigestBytes returns the lowercase hex SHA-256 of raw.
func DigestBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
