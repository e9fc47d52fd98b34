// Package shared holds helpers for secret material: random tokens and
// zeroing buffers once a key or share is no longer needed.
package shared

import (
	"crypto/rand"
	"encoding/hex"
)

// MakeRandHexString returns size random bytes, hex encoded (2*size chars).
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// WipeByteArray zeroes b in place. Callers must not share b with code that
// still needs the value, e.g. a slice handed to a JSON encoder.
func WipeByteArray(b []byte) {
	clear(b)
}

