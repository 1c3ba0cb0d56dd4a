// Package auth provides OAuth2/OIDC bearer-token authentication for the
// goalflow API.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Config holds OIDC provider configuration.
type Config struct {
	// Issuer is the OIDC provider URL (e.g. https://auth.example.com).
	Issuer string

	// ClientID is the OAuth2 client ID.
	ClientID string

	// ClientSecret is optional for public clients.
	ClientSecret string

	// Scopes to request; defaults to openid/profile/email.
	Scopes []string

	// SkipExpiryCheck disables expiry validation. Tests only.
	SkipExpiryCheck bool
}

// Provider verifies bearer tokens against an OIDC issuer.
type Provider struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth2   *oauth2.Config
}

// NewProvider creates a provider by fetching the issuer's discovery document.
func NewProvider(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil || cfg.Issuer == "" {
		return nil, fmt.Errorf("auth: issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("auth: client_id is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("auth: create oidc provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:        cfg.ClientID,
		SkipExpiryCheck: cfg.SkipExpiryCheck,
	})

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &Provider{
		provider: provider,
		verifier: verifier,
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
	}, nil
}

// VerifyIDToken verifies a JWT ID token and returns its claims.
func (p *Provider) VerifyIDToken(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := p.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("auth: verify token: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("auth: extract claims: %w", err)
	}
	claims.expiry = idToken.Expiry
	return &claims, nil
}

// VerifyAccessToken resolves an opaque access token through the userinfo
// endpoint. Fallback for tokens that are not JWTs.
func (p *Provider) VerifyAccessToken(ctx context.Context, accessToken string) (*Claims, error) {
	info, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
	}))
	if err != nil {
		return nil, fmt.Errorf("auth: userinfo: %w", err)
	}

	claims := &Claims{Subject: info.Subject, Email: info.Email}
	var extra map[string]any
	if err := info.Claims(&extra); err == nil {
		if name, ok := extra["name"].(string); ok {
			claims.Name = name
		}
		if groups, ok := extra["groups"].([]any); ok {
			for _, g := range groups {
				if gs, ok := g.(string); ok {
					claims.Groups = append(claims.Groups, gs)
				}
			}
		}
	}
	return claims, nil
}

// Claims are the OIDC claims goalflow cares about.
type Claims struct {
	Subject string   `json:"sub"`
	Name    string   `json:"name,omitempty"`
	Email   string   `json:"email,omitempty"`
	Groups  []string `json:"groups,omitempty"`
	Roles   []string `json:"roles,omitempty"`

	expiry time.Time
}

// HasRole reports whether the user carries the given role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasGroup reports whether the user is in the given group.
func (c *Claims) HasGroup(group string) bool {
	for _, g := range c.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Expired reports whether the token is past its expiry.
func (c *Claims) Expired() bool {
	return !c.expiry.IsZero() && time.Now().After(c.expiry)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", false
	}
	return token, true
}
