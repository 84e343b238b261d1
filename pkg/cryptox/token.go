package cryptox

import (
	"crypto/sha256"
	"encoding/base64"
)

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token.
// Fingerprints are what the client logs and uses as cache keys so raw bearer
// credentials never leave the token store.
//
// The fingerprint is returned as a base64url-encoded string (43 chars).
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ShortFingerprint is the first 8 characters of FingerprintToken, enough to
// tell tokens apart in logs.
func ShortFingerprint(token string) string {
	if token == "" {
		return ""
	}
	return FingerprintToken(token)[:8]
}
