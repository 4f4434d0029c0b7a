// Package seal computes the keyed seal that makes a ledger entry
// self-authenticating: an HMAC with a SHA-256 inner hash over the entry's
// canonical bytes, rendered as 64 lowercase hex characters. The secret key is
// held in process memory only; it is never logged and never persisted
// alongside entries.
package seal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Size is the length in characters of a rendered seal.
const Size = sha256.Size * 2

// Compute returns the HMAC-SHA256 of canonicalBytes under secret as a
// 64-character lowercase hex string.
func Compute(secret, canonicalBytes []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(canonicalBytes)
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal reports whether two rendered seals match, using a constant-time
// comparison so verification does not leak prefix information.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
