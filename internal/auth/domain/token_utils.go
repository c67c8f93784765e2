package domain

import (
	"crypto/sha256"
	"encoding/base64"
)

// FingerprintRefreshToken returns a deterministic, indexable fingerprint for a
// refresh token without revealing the token itself.
func FingerprintRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
