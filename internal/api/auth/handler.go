package auth

import (
	"encoding/json"
	"log"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/good-yellow-bee/incidentchain/internal/metrics"
)

// Handler handles token issuance for API clients.
type Handler struct {
	jwtService *JWTService
	apiKeyHash []byte
}

// NewHandler creates a new auth handler. apiKeyHash is the bcrypt hash of
// the shared API key configured for the deployment.
func NewHandler(jwt *JWTService, apiKeyHash string) *Handler {
	return &Handler{
		jwtService: jwt,
		apiKeyHash: []byte(apiKeyHash),
	}
}

// Response helpers (local to avoid import cycle with api package)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type dataResponse struct {
	Data any `json:"data"`
}

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

// Error codes
const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeUnauthorized  = "UNAUTHORIZED"
	errCodeInternalError = "INTERNAL_ERROR"
)

// TokenRequest is the request body for token issuance.
type TokenRequest struct {
	APIKey     string `json:"api_key"`
	ClientName string `json:"client_name"`
}

// TokenResponse is returned when an API key is exchanged for a token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Token exchanges a valid API key for a short-lived JWT access token.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if req.APIKey == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "api_key required")
		return
	}

	if len(h.apiKeyHash) == 0 {
		log.Printf("token request rejected: no API key configured")
		jsonError(w, http.StatusUnauthorized, errCodeUnauthorized, "invalid API key")
		return
	}

	if err := bcrypt.CompareHashAndPassword(h.apiKeyHash, []byte(req.APIKey)); err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
		log.Printf("token request rejected for %s: invalid API key", r.RemoteAddr)
		jsonError(w, http.StatusUnauthorized, errCodeUnauthorized, "invalid API key")
		return
	}

	clientName := req.ClientName
	if clientName == "" {
		clientName = "api-client"
	}

	token, err := h.jwtService.GenerateToken(clientName)
	if err != nil {
		log.Printf("token generation failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to generate token")
		return
	}

	metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()

	jsonOK(w, TokenResponse{
		AccessToken: token,
		ExpiresIn:   h.jwtService.TTLSeconds(),
		TokenType:   "Bearer",
	})
}

// HashAPIKey produces a bcrypt hash suitable for the api_key_hash config value.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
