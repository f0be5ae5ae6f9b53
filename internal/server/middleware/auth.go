// Package middleware provides HTTP middleware for authentication.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

// ownerIDKey is the context key for storing the authenticated owner ID.
const ownerIDKey ContextKey = "ownerID"

// TokenValidator is an interface for validating JWT tokens.
// This allows the middleware to work with any JWT service implementation.
type TokenValidator interface {
	ValidateToken(tokenString string) (OwnerIDGetter, error)
}

// OwnerIDGetter is an interface for extracting the owner ID from token claims.
type OwnerIDGetter interface {
	GetOwnerID() uuid.UUID
}

// AuthMiddleware creates middleware that validates JWT tokens and adds the
// owner ID to the request context.
func AuthMiddleware(jwtService TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Handle case-insensitive "Bearer" prefix
			parts := strings.Fields(authHeader)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ownerIDKey, claims.GetOwnerID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOwnerID extracts the authenticated owner ID from the request context.
func GetOwnerID(r *http.Request) (uuid.UUID, error) {
	ownerID, ok := r.Context().Value(ownerIDKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("owner ID not found in request context")
	}
	return ownerID, nil
}

// OwnerIDKey returns the context key for the owner ID (for testing purposes).
func OwnerIDKey() ContextKey {
	return ownerIDKey
}
