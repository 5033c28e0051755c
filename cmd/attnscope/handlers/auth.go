package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

type AuthMiddleware struct {
	APIKey string
}

func NewAuthMiddleware(apiKey string) *AuthMiddleware {
	return &AuthMiddleware{APIKey: apiKey}
}

// Authenticate passes every request through when no key is configured.
func (m *AuthMiddleware) Authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "API key required"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(m.APIKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid API key"})
			return
		}

		next.ServeHTTP(w, r)
	}
}

func extractAPIKey(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "ApiKey ") {
		return strings.TrimPrefix(authHeader, "ApiKey ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}
