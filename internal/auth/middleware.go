package auth

import (
	"context"
	"net/http"
	"strings"
)

// Context keys for storing auth data in request context
type contextKey string

// KeyContextKey is the context key for the verified API key record.
const KeyContextKey contextKey = "auth_key"

// Middleware provides HTTP middleware for API-key authentication.
type Middleware struct {
	service *Service
	enabled bool
}

// NewMiddleware creates a new auth middleware. When enabled is false the
// middleware passes every request through untouched, so handlers can be
// wired identically whether or not the deployment requires keys.
func NewMiddleware(service *Service, enabled bool) *Middleware {
	return &Middleware{service: service, enabled: enabled}
}

// RequireKey is middleware that requires a valid API key. The key may be sent
// either as an X-API-Key header or as an Authorization bearer token; the same
// check guards WebSocket upgrade requests.
func (m *Middleware) RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		key, err := m.service.Verify(r.Context(), extractKey(r))
		if err != nil {
			writeAuthError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), KeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractKey pulls the presented API key out of a request.
func extractKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	// WebSocket clients in browsers cannot set headers on the upgrade
	// request, so accept the key as a query parameter there.
	return r.URL.Query().Get("api_key")
}

// KeyFromContext retrieves the verified API key from the request context.
// Returns nil if the request was not authenticated.
func KeyFromContext(ctx context.Context) *Key {
	key, ok := ctx.Value(KeyContextKey).(*Key)
	if !ok {
		return nil
	}
	return key
}

func writeAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	authErr, ok := err.(*AuthError)
	if !ok {
		authErr = &AuthError{Code: "AUTH_ERROR", Message: err.Error()}
	}

	status := http.StatusUnauthorized
	if authErr == ErrKeyRevoked {
		status = http.StatusForbidden
	}

	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + authErr.Code + `","message":"` + authErr.Message + `"}`))
}
