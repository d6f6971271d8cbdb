package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newAuthHandler(t *testing.T, apiKey string) *Handler {
	t.Helper()
	hash := ""
	if apiKey != "" {
		var err error
		hash, err = HashAPIKey(apiKey)
		if err != nil {
			t.Fatalf("hash api key: %v", err)
		}
	}
	svc := NewJWTService([]byte("test-secret-at-least-32-bytes-long"), 15*time.Minute)
	return NewHandler(svc, hash)
}

func postToken(t *testing.T, h *Handler, req TokenRequest) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader(b))
	w := httptest.NewRecorder()
	h.Token(w, r)
	return w
}

func TestTokenExchange(t *testing.T) {
	h := newAuthHandler(t, "super-secret-api-key")

	w := postToken(t, h, TokenRequest{APIKey: "super-secret-api-key", ClientName: "chainctl"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var envelope struct {
		Data TokenResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp := envelope.Data
	if resp.AccessToken == "" || resp.TokenType != "Bearer" || resp.ExpiresIn != 900 {
		t.Errorf("response = %+v", resp)
	}

	claims, err := h.jwtService.ValidateToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.ClientName != "chainctl" {
		t.Errorf("client name = %q, want chainctl", claims.ClientName)
	}
}

func TestTokenExchangeDefaultsClientName(t *testing.T) {
	h := newAuthHandler(t, "super-secret-api-key")

	w := postToken(t, h, TokenRequest{APIKey: "super-secret-api-key"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var envelope struct {
		Data TokenResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := h.jwtService.ValidateToken(envelope.Data.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.ClientName != "api-client" {
		t.Errorf("client name = %q, want api-client default", claims.ClientName)
	}
}

func TestTokenExchangeRejectsWrongKey(t *testing.T) {
	h := newAuthHandler(t, "super-secret-api-key")

	w := postToken(t, h, TokenRequest{APIKey: "wrong-key"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestTokenExchangeRejectsEmptyKey(t *testing.T) {
	h := newAuthHandler(t, "super-secret-api-key")

	w := postToken(t, h, TokenRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestTokenExchangeRejectsWhenUnconfigured(t *testing.T) {
	h := newAuthHandler(t, "")

	w := postToken(t, h, TokenRequest{APIKey: "anything"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 when no key hash configured", w.Code)
	}
}

func TestTokenExchangeMalformedBody(t *testing.T) {
	h := newAuthHandler(t, "super-secret-api-key")

	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader("{bad"))
	w := httptest.NewRecorder()
	h.Token(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHashAPIKeyRoundTrip(t *testing.T) {
	hash, err := HashAPIKey("some-long-api-key")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("hash = %q, want bcrypt format", hash)
	}
}
