package auth

import (
	"context"
	"encoding/json"
	"net/http"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// Middleware enforces bearer-token authentication on protected paths.
type Middleware struct {
	provider      *Provider
	publicPaths   map[string]bool
	requiredRoles []string
}

// MiddlewareConfig holds middleware configuration.
type MiddlewareConfig struct {
	// PublicPaths bypass authentication entirely.
	PublicPaths []string

	// RequiredRoles must all protected requests carry (any-of).
	RequiredRoles []string
}

// NewMiddleware creates an auth middleware around the given provider.
func NewMiddleware(provider *Provider, cfg *MiddlewareConfig) *Middleware {
	if cfg == nil {
		cfg = &MiddlewareConfig{}
	}

	public := map[string]bool{
		"/health":  true,
		"/healthz": true,
		"/ready":   true,
		"/metrics": true,
	}
	for _, p := range cfg.PublicPaths {
		public[p] = true
	}

	return &Middleware{
		provider:      provider,
		publicPaths:   public,
		requiredRoles: cfg.RequiredRoles,
	}
}

// Handler wraps next with authentication.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.publicPaths[r.URL.Path] || m.provider == nil {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := BearerToken(r.Header.Get("Authorization"))
		if !ok {
			m.unauthorized(w, "missing or malformed authorization header")
			return
		}

		claims, err := m.provider.VerifyIDToken(r.Context(), token)
		if err != nil {
			// Opaque access tokens fail JWT verification; try userinfo.
			claims, err = m.provider.VerifyAccessToken(r.Context(), token)
			if err != nil {
				m.unauthorized(w, "invalid token")
				return
			}
		}

		if claims.Expired() {
			m.unauthorized(w, "token expired")
			return
		}

		if len(m.requiredRoles) > 0 {
			hasRole := false
			for _, role := range m.requiredRoles {
				if claims.HasRole(role) {
					hasRole = true
					break
				}
			}
			if !hasRole {
				m.forbidden(w, "insufficient permissions")
				return
			}
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims extracts verified claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="goalflow"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (m *Middleware) forbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
