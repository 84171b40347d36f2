package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ValidateAPIKey reports whether provided matches configured in constant time.
func ValidateAPIKey(provided, configured string) bool {
	if configured == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) == 1
}

// ExtractAPIKey reads the key from an "Authorization: Bearer <key>" header.
func ExtractAPIKey(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	key, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errors.New("invalid Authorization header format")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("missing API key")
	}
	return key, nil
}

// authMiddleware enforces the bearer key when one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		key, err := ExtractAPIKey(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
			return
		}
		if !ValidateAPIKey(key, s.config.APIKey) {
			s.writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
