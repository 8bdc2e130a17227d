package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// LookupIndex computes deterministic, secret-keyed digests of device tokens.
//
// The digest is stored as an indexed column so a device can be found by its
// token in O(1) without persisting plaintext or scanning argon2 hashes. It
// answers "which device"; VerifyDeviceToken independently confirms "is this
// the real token", so a leaked lookup secret alone does not bypass
// verification.
type LookupIndex struct {
	secret []byte
}

// NewLookupIndex creates a lookup index keyed by the process-wide secret.
// The secret is established once at startup and never mutated; see
// config.Config.EffectiveLookupSecret.
func NewLookupIndex(secret []byte) *LookupIndex {
	return &LookupIndex{secret: secret}
}

// Key returns the lookup key for a token: HMAC-SHA256 over the token,
// hex-encoded to 64 lowercase characters. Identical input always yields
// an identical key for the same secret.
func (l *LookupIndex) Key(token string) string {
	mac := hmac.New(sha256.New, l.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
