// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const adminRole = "admin"

// AdminClaims is the JWT payload for operator tokens.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueAdminToken mints a signed operator token. Used by the bootstrap
// tooling and tests.
func IssueAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// verifyAdminToken parses and validates a bearer token, requiring the
// admin role.
func verifyAdminToken(secret, tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Role != adminRole {
		return nil, fmt.Errorf("token lacks admin role")
	}
	return claims, nil
}

// bearerToken extracts the token from the Authorization header, falling
// back to the token query parameter for EventSource clients, which
// cannot set request headers.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// requireAdmin wraps a handler with admin JWT authentication.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			sendError(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := verifyAdminToken(s.cfg.JWTSecret, token); err != nil {
			s.log.Warn("", requestID(r), "admin auth rejected", map[string]interface{}{
				"error": err.Error(),
			})
			sendError(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// requireCronOrAdmin admits the scheduler's API key or an admin token.
// The scheduler only advances runs; it cannot create or reset them.
func (s *Server) requireCronOrAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get("x-api-key"); key != "" && key == s.cfg.CronAPIKey {
			next(w, r)
			return
		}
		s.requireAdmin(next)(w, r)
	}
}
