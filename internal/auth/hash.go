package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters following OWASP recommendations. The derived key is
// deliberately long (64 bytes) since the stored form doubles as the only
// verifier for a device credential.
const (
	argonMemory  = 64 * 1024 // 64 MB
	argonTime    = 3         // 3 iterations
	argonThreads = 4         // 4 parallel lanes
	argonKeyLen  = 64        // 64-byte derived key
	argonSaltLen = 16        // 16-byte random salt
)

// HashDeviceToken hashes a device token with argon2id and a fresh random
// salt, returning "<salt_hex>.<derived_hex>" (32 + 128 hex characters).
func HashDeviceToken(token string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return hex.EncodeToString(salt) + "." + hex.EncodeToString(key), nil
}

// VerifyDeviceToken checks a token against a stored salt.derived hash.
//
// It returns only a boolean: a wrong token and a malformed stored record
// are indistinguishable to the caller. Internal failures (bad hex, wrong
// lengths) are swallowed, never raised, so the verification path leaks
// nothing about why a credential was rejected.
func VerifyDeviceToken(token, stored string) bool {
	saltHex, keyHex, ok := strings.Cut(stored, ".")
	if !ok || saltHex == "" || keyHex == "" {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) != argonSaltLen {
		return false
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != argonKeyLen {
		return false
	}

	candidate := argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(key, candidate) == 1
}
