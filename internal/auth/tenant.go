package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTenantName is returned when a tenant name fails validation.
var ErrInvalidTenantName = errors.New("invalid tenant name")

// tenantNameRe matches lowercase alphanumeric segments joined by single
// hyphens: no leading/trailing hyphen, no empty segments.
var tenantNameRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidTenantName reports whether name is a well-formed tenant name.
func ValidTenantName(name string) bool {
	return tenantNameRe.MatchString(name)
}

// TenantIssuer issues and verifies short-lived tenant tokens without any
// persisted session state.
//
// A token is derived deterministically from (tenantName, current 60-second
// window) with a keyed transform, so verification is a recomputation, not a
// lookup. Tokens are valid only while the wall clock remains inside the
// window they were issued in; there is no grace period on the previous
// window.
type TenantIssuer struct {
	secret    []byte
	windowSec int64

	// now is the clock, overridable in tests.
	now func() time.Time
}

// NewTenantIssuer creates an issuer with the given HMAC secret and window
// size (60 seconds in the recognized configuration). Window numbers are
// counted in whole seconds; windows shorter than one second are rounded
// up to one second. Config validation rejects them before an issuer is
// built.
func NewTenantIssuer(secret []byte, window time.Duration) *TenantIssuer {
	windowSec := int64(window / time.Second)
	if windowSec < 1 {
		windowSec = 1
	}
	return &TenantIssuer{
		secret:    secret,
		windowSec: windowSec,
		now:       time.Now,
	}
}

// Issue derives a token for the tenant, valid for the current window.
// The token has the form "<derived-number>:<window-number>".
func (ti *TenantIssuer) Issue(tenantName string) (string, error) {
	if !ValidTenantName(tenantName) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenantName, tenantName)
	}
	return ti.tokenFor(tenantName, ti.currentWindow()), nil
}

// Verify reports whether token is the valid tenant token for the current
// window. Malformed tokens (wrong segment count, wrong character class)
// and invalid tenant names are rejected without raising. The comparison is
// constant-time; a wrong token and a malformed one are indistinguishable.
func (ti *TenantIssuer) Verify(tenantName, token string) bool {
	if !ValidTenantName(tenantName) {
		return false
	}
	if !wellFormedTenantToken(token) {
		return false
	}

	expected := ti.tokenFor(tenantName, ti.currentWindow())
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}

// currentWindow returns the current window number: floor(unixSeconds / window).
func (ti *TenantIssuer) currentWindow() int64 {
	return ti.now().Unix() / ti.windowSec
}

// tokenFor derives the token for a tenant and window number.
func (ti *TenantIssuer) tokenFor(tenantName string, window int64) string {
	mac := hmac.New(sha256.New, ti.secret)
	mac.Write([]byte(tenantName))
	mac.Write([]byte{0})
	mac.Write(binary.BigEndian.AppendUint64(nil, uint64(window)))

	derived := binary.BigEndian.Uint64(mac.Sum(nil)[:8])
	return strconv.FormatUint(derived, 10) + ":" + strconv.FormatInt(window, 10)
}

// wellFormedTenantToken checks the "<digits>:<digits>" shape.
func wellFormedTenantToken(token string) bool {
	left, right, ok := strings.Cut(token, ":")
	if !ok || left == "" || right == "" {
		return false
	}
	return allDigits(left) && allDigits(right)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
