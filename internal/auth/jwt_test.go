package auth

import (
	"testing"
	"time"
)

func TestSignAndParse(t *testing.T) {
	secret := []byte("test-secret")
	token, err := SignJWT("user-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := ParseJWT(token, secret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("expected user-1, got %s", claims.UserID)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := SignJWT("user-1", []byte("secret-a"), time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseJWT(token, []byte("secret-b")); err == nil {
		t.Fatal("expected verification failure")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	secret := []byte("test-secret")
	token, err := SignJWT("user-1", secret, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseJWT(token, secret); err == nil {
		t.Fatal("expected expiry failure")
	}
}

func TestParseRejectsEmptyToken(t *testing.T) {
	if _, err := ParseJWT("", []byte("secret")); err == nil {
		t.Fatal("expected error for empty token")
	}
}
