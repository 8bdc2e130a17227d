package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSessionRoundTrip(t *testing.T) {
	svc := NewSessionService([]byte("session-secret"), time.Hour)

	token, expiresAt, err := svc.Issue("alice", "acme", "admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("expected expiry in the future")
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Operator() != "alice" {
		t.Errorf("expected operator alice, got %q", claims.Operator())
	}
	if claims.Tenant != "acme" {
		t.Errorf("expected tenant acme, got %q", claims.Tenant)
	}
	if claims.Role != "admin" {
		t.Errorf("expected role admin, got %q", claims.Role)
	}
	if claims.Issuer != "floodgate" {
		t.Errorf("expected issuer floodgate, got %q", claims.Issuer)
	}
}

func TestSessionRejectsForeignIssuer(t *testing.T) {
	secret := []byte("session-secret")
	svc := NewSessionService(secret, time.Hour)

	// A token signed with the right secret but minted elsewhere (wrong
	// or missing issuer) must not pass verification.
	for _, issuer := range []string{"", "other-service"} {
		claims := SessionClaims{
			Role: "admin",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				Subject:   "alice",
				IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
				ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := svc.Verify(token); err == nil {
			t.Errorf("expected verification to fail for issuer %q", issuer)
		}
	}
}

func TestSessionRequiresExpiry(t *testing.T) {
	secret := []byte("session-secret")
	svc := NewSessionService(secret, time.Hour)

	claims := SessionClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   "floodgate",
			Subject:  "alice",
			IssuedAt: jwt.NewNumericDate(time.Now().UTC()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Verify(token); err == nil {
		t.Error("expected verification to fail for a token without an expiry")
	}
}

func TestSessionWrongSecret(t *testing.T) {
	svc := NewSessionService([]byte("session-secret"), time.Hour)
	token, _, err := svc.Issue("alice", "", "viewer")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other := NewSessionService([]byte("different-secret"), time.Hour)
	if _, err := other.Verify(token); err == nil {
		t.Error("expected verification to fail with a different secret")
	}
}

func TestSessionExpired(t *testing.T) {
	svc := NewSessionService([]byte("session-secret"), -time.Minute)
	token, _, err := svc.Issue("alice", "", "viewer")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Verify(token); err == nil {
		t.Error("expected expired session to fail verification")
	}
}

func TestSessionIssueRejectsBadTenant(t *testing.T) {
	svc := NewSessionService([]byte("session-secret"), time.Hour)
	if _, _, err := svc.Issue("alice", "Bad--Tenant", "admin"); err == nil {
		t.Error("expected error for invalid tenant name")
	}
}
