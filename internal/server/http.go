package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ivi39c/speaka-sub000/internal/core/auth"
)

const (
	mockTokenPrefix = "mock_access_token_"
	tokenLifetime   = 30 * 24 * 60 * 60 // seconds
)

type tokenRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// handleToken simulates the LINE code exchange. Any non-empty code succeeds.
func handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", ErrorDescription: "malformed body"})
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", ErrorDescription: "code is required"})
		return
	}

	writeJSON(w, http.StatusOK, auth.TokenResponse{
		AccessToken:  mockTokenPrefix + code,
		TokenType:    "Bearer",
		ExpiresIn:    tokenLifetime,
		RefreshToken: "mock_refresh_token_" + code,
		Scope:        "profile openid",
		IDToken:      "mock_id_token_" + code,
	})
}

// handleProfile returns the simulated profile bound to the bearer token.
func handleProfile(w http.ResponseWriter, r *http.Request) {
	token := bearerFromContext(r.Context())
	code := strings.TrimPrefix(token, mockTokenPrefix)
	writeJSON(w, http.StatusOK, auth.MockIdentity(code))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
