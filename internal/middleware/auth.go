package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"verifai/internal/domain"
)

// BearerAuth requires "Authorization: Bearer <secret>". A missing or
// malformed header yields 401, a wrong token 403.
func BearerAuth(secret string) func(http.Handler) http.Handler {
	expected := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := checkBearer(r.Header.Get("Authorization"), expected); err != nil {
				status := http.StatusForbidden
				code := "forbidden"
				if errors.Is(err, domain.ErrMissingCredential) {
					status = http.StatusUnauthorized
					code = "unauthorized"
				}
				w.Header().Set("Content-Type", "application/json")
				if status == http.StatusUnauthorized {
					w.Header().Set("WWW-Authenticate", "Bearer")
				}
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":"` + code + `","message":"` + err.Error() + `"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func checkBearer(header string, expected []byte) error {
	token, ok := parseBearerToken(header)
	if !ok {
		return domain.ErrMissingCredential
	}
	if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
		return domain.ErrInvalidCredential
	}
	return nil
}

func parseBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
