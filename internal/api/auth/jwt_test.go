package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewJWTService([]byte("test-secret-at-least-32-bytes-long"), 15*time.Minute)

	token, err := svc.GenerateToken("chainctl")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.ClientName != "chainctl" {
		t.Errorf("client name = %q, want chainctl", claims.ClientName)
	}
	if claims.Subject != "chainctl" {
		t.Errorf("subject = %q, want chainctl", claims.Subject)
	}
	if claims.Issuer != "incidentchain" {
		t.Errorf("issuer = %q, want incidentchain", claims.Issuer)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := NewJWTService([]byte("test-secret-at-least-32-bytes-long"), -time.Minute)

	token, err := svc.GenerateToken("chainctl")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Error("expired token validated")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuing := NewJWTService([]byte("issuing-secret-issuing-secret-32"), 15*time.Minute)
	validating := NewJWTService([]byte("different-secret-different-secret"), 15*time.Minute)

	token, err := issuing.GenerateToken("chainctl")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := validating.ValidateToken(token); err == nil {
		t.Error("token with wrong signature validated")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := NewJWTService([]byte("test-secret-at-least-32-bytes-long"), 15*time.Minute)

	for _, token := range []string{"", "not.a.jwt", "aaaa.bbbb.cccc"} {
		if _, err := svc.ValidateToken(token); err == nil {
			t.Errorf("token %q validated", token)
		}
	}
}

func TestTTLSeconds(t *testing.T) {
	svc := NewJWTService([]byte("s"), 15*time.Minute)
	if svc.TTLSeconds() != 900 {
		t.Errorf("ttl seconds = %d, want 900", svc.TTLSeconds())
	}
}
