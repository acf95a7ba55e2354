// Package shared holds helpers for secrets: opaque random tokens and
// wiping password bytes.
package shared

import (
	"crypto/rand"
	"encoding/hex"
)

// RandomHex returns size random bytes hex encoded, so the result is
// 2*size characters long. Refresh tokens are made this way.
func RandomHex(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	clear(b)
}
