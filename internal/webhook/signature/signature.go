// Package signature implements the HMAC scheme carried in the
// X-Signature header of webhook notifications.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const Header = "X-Signature"

// Sign returns the lowercase hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided matches the expected signature for
// body, comparing in constant time.
func Verify(body []byte, secret, provided string) bool {
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(provided))
}
