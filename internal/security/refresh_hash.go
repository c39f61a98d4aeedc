package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// TokenFingerprint returns the hex SHA-256 of a token. Sessions store the
// fingerprint of their refresh token instead of the token itself.
func TokenFingerprint(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// FingerprintMatches reports, in constant time, whether token hashes to stored.
// An empty stored fingerprint never matches.
func FingerprintMatches(token, stored string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(TokenFingerprint(token)), []byte(stored)) == 1
}
