package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("test-secret")

func TestIssueAndParseToken(t *testing.T) {
	claims := Claims{
		Sub:  "u1",
		Name: "Avery",
		Role: "specialist",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	}

	token, err := IssueToken(testSecret, claims)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	parsed, err := ParseToken(testSecret, token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if parsed.Sub != "u1" || parsed.Role != "specialist" || parsed.JTI != "jti-1" {
		t.Errorf("unexpected claims: %+v", parsed)
	}
	if parsed.Iat == 0 {
		t.Error("expected Iat to be defaulted")
	}
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := IssueToken(testSecret, Claims{Sub: "u1", JTI: "j", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if _, err := ParseToken([]byte("other-secret"), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenExpired(t *testing.T) {
	token, err := IssueToken(testSecret, Claims{Sub: "u1", JTI: "j", Exp: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if _, err := ParseToken(testSecret, token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenTampered(t *testing.T) {
	token, err := IssueToken(testSecret, Claims{Sub: "u1", JTI: "j", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	payload, sig, _ := strings.Cut(token, ".")
	tampered := payload + "x." + sig
	if _, err := ParseToken(testSecret, tampered); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenMalformed(t *testing.T) {
	for _, token := range []string{"", "no-dot", "a.b.c"} {
		if _, err := ParseToken(testSecret, token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestHashTokenStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("hash must be deterministic")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("distinct values must hash differently")
	}
}
