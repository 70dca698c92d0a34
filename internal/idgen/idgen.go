// Package idgen mints random identifiers for trades, messages and requests.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func randBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// The system entropy source is gone; nothing sensible to return.
		panic("idgen: " + err.Error())
	}
	return b
}

// New returns a UUID-shaped random ID,
// xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx.
func New() string {
	b := randBytes(16)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// WithPrefix returns prefix followed by 24 random hex chars, for typed IDs
// like "esc_..." and "msg_...".
func WithPrefix(prefix string) string {
	return prefix + hex.EncodeToString(randBytes(12))
}

// Hex returns n random bytes hex-encoded (2n chars).
func Hex(n int) string {
	return hex.EncodeToString(randBytes(n))
}
