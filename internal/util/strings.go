package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/rs/zerolog/log"
)

// ContainsString reports whether slice contains s.
func ContainsString(slice []string, s string) bool {
	for _, a := range slice {
		if a == s {
			return true
		}
	}

	return false
}

// GenerateRandomHexString returns a hex encoded string of n random bytes.
// It panics if the system's secure random source fails.
func GenerateRandomHexString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Panic().Err(err).Msg("Failed to generate random bytes")
	}

	return hex.EncodeToString(b)
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
