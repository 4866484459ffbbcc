// Package keyhash turns passphrases into key strings and produces
// loggable key fingerprints.
package keyhash

import (
	"crypto/sha256"
	"encoding/hex"
)

// FingerprintLength is the number of hex characters in a fingerprint
const FingerprintLength = 12

// Derive returns the lowercase hex SHA-256 digest of text. The result
// is an ordinary key string; the codec does not require this form.
func Derive(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Fingerprint identifies key in logs and history without revealing it
func Fingerprint(key string) string {
	return Derive(key)[:FingerprintLength]
}
