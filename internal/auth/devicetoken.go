// Package auth provides device credential generation, hashing, indexed
// lookup keys, tenant-scoped window tokens, and operator session JWTs.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// deviceTokenBytes is the entropy drawn per device token. 48 bits keeps the
// token short enough to read over the phone; collision risk is accepted and
// uniqueness is enforced by the device store, not here.
const deviceTokenBytes = 6

// NewDeviceToken generates a device credential of the form xxxx-yyyy-zzzz
// (12 lowercase hex characters). The plaintext exists only transiently: the
// caller hashes it for storage and shows it to the operator once.
func NewDeviceToken() (string, error) {
	raw := make([]byte, deviceTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate device token: %w", err)
	}

	h := hex.EncodeToString(raw)
	return h[0:4] + "-" + h[4:8] + "-" + h[8:12], nil
}
