package security

import (
	"strings"
	"testing"
	"time"
)

func TestJWTManagerRoundTrip(t *testing.T) {
	m := NewJWTManager("channelpulse", "api", "abcdefghijklmnopqrstuvwxyz123456")

	token, err := m.SignAccessToken(42, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := m.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "42" {
		t.Fatalf("expected subject 42, got %q", claims.Subject)
	}
	if claims.TokenType != "access" {
		t.Fatalf("expected access token type, got %q", claims.TokenType)
	}

	id, err := SubjectUserID(claims.Subject)
	if err != nil || id != 42 {
		t.Fatalf("expected user 42, got %d err=%v", id, err)
	}
}

func TestJWTManagerRejectsExpiredToken(t *testing.T) {
	m := NewJWTManager("channelpulse", "api", "abcdefghijklmnopqrstuvwxyz123456")

	token, err := m.SignAccessToken(42, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ParseAccessToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestJWTManagerRejectsForeignIssuerAndAudience(t *testing.T) {
	secret := "abcdefghijklmnopqrstuvwxyz123456"
	m := NewJWTManager("channelpulse", "api", secret)

	otherIssuer := NewJWTManager("someone-else", "api", secret)
	token, err := otherIssuer.SignAccessToken(42, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ParseAccessToken(token); err == nil {
		t.Fatal("expected foreign issuer to be rejected")
	}

	otherAudience := NewJWTManager("channelpulse", "admin", secret)
	token, err = otherAudience.SignAccessToken(42, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ParseAccessToken(token); err == nil {
		t.Fatal("expected foreign audience to be rejected")
	}
}

func TestJWTManagerRejectsWrongSecret(t *testing.T) {
	m := NewJWTManager("channelpulse", "api", "abcdefghijklmnopqrstuvwxyz123456")
	forger := NewJWTManager("channelpulse", "api", "00000000000000000000000000000000")

	token, err := forger.SignAccessToken(42, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ParseAccessToken(token); err == nil {
		t.Fatal("expected forged signature to be rejected")
	}
}

func TestJWTManagerRejectsGarbage(t *testing.T) {
	m := NewJWTManager("channelpulse", "api", "abcdefghijklmnopqrstuvwxyz123456")

	for _, raw := range []string{"", "not-a-jwt", strings.Repeat("a.", 3)} {
		if _, err := m.ParseAccessToken(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}
