package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig describes the OpenID Connect provider trusted for bearer tokens.
type OIDCConfig struct {
	// Label is a display name for the provider.
	Label    string
	Issuer   *url.URL
	ClientID string
	// ClientSecret is empty for public clients.
	ClientSecret string
}

// TokenVerifier resolves a bearer token to the OIDC subject it was issued to.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// OIDCVerifier verifies tokens against a discovered OIDC provider. ID tokens
// are verified locally against the provider keys with the client ID as
// audience; any other token is treated as an access token and resolved
// through the userinfo endpoint.
type OIDCVerifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier runs issuer discovery. ctx must outlive the verifier since
// it also scopes later key set fetches.
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (*OIDCVerifier, error) {
	if cfg.Issuer == nil || cfg.Issuer.String() == "" {
		return nil, errors.New("issuer is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("client ID is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer.String())
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider %s: %w", cfg.Issuer, err)
	}

	return &OIDCVerifier{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: token is required", ErrUnauthenticated)
	}

	if idToken, err := v.verifier.Verify(ctx, token); err == nil {
		if idToken.Subject == "" {
			return "", fmt.Errorf("%w: ID token has no subject", ErrUnauthenticated)
		}
		return idToken.Subject, nil
	}

	info, err := v.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if info.Subject == "" {
		return "", fmt.Errorf("%w: userinfo has no subject", ErrUnauthenticated)
	}

	return info.Subject, nil
}
