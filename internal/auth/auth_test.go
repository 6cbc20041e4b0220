package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/drawbridge/internal/testutil"
)

type staticVerifier map[string]string

func (s staticVerifier) Verify(ctx context.Context, token string) (string, error) {
	subject, ok := s[token]
	if !ok {
		return "", ErrUnauthenticated
	}
	return subject, nil
}

func testCert() *x509.Certificate {
	return &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "reader"},
	}
}

func TestAuthorize(t *testing.T) {
	oidcOwner := &Identity{Subject: "sub-alice"}
	oidcOther := &Identity{Subject: "sub-bob"}
	certHolder := &Identity{Certificate: testCert()}

	tests := []struct {
		name      string
		id        *Identity
		wantRead  error
		wantWrite error
	}{
		{name: "anonymous", id: nil, wantRead: ErrUnauthenticated, wantWrite: ErrUnauthenticated},
		{name: "owner", id: oidcOwner, wantRead: nil, wantWrite: nil},
		{name: "other subject", id: oidcOther, wantRead: ErrForbidden, wantWrite: ErrForbidden},
		{name: "client certificate", id: certHolder, wantRead: nil, wantWrite: ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, AuthorizeRead(tt.id, "sub-alice"), tt.wantRead)
			require.ErrorIs(t, AuthorizeWrite(tt.id, "sub-alice"), tt.wantWrite)
		})
	}
}

func TestMiddleware(t *testing.T) {
	verifier := staticVerifier{"good": "sub-alice"}

	var got *Identity
	h := Middleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFromContext(r.Context())
	}))

	t.Run("valid bearer token", func(t *testing.T) {
		got = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, got)
		require.Equal(t, "sub-alice", got.Subject)
		require.False(t, got.ReadOnly())
	})

	t.Run("invalid bearer token does not fall back to certificate", func(t *testing.T) {
		got = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad")
		req.TLS = &tls.ConnectionState{VerifiedChains: [][]*x509.Certificate{{testCert()}}}
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Nil(t, got)
	})

	t.Run("verified client certificate", func(t *testing.T) {
		got = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.TLS = &tls.ConnectionState{VerifiedChains: [][]*x509.Certificate{{testCert()}}}
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, got)
		require.True(t, got.ReadOnly())
	})

	t.Run("unverified TLS connection", func(t *testing.T) {
		got = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.TLS = &tls.ConnectionState{}
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Nil(t, got)
	})

	t.Run("bearer token with extra whitespace", func(t *testing.T) {
		got = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "bearer   good ")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, got)
		require.Equal(t, "sub-alice", got.Subject)
	})

	t.Run("bearer scheme without token is rejected", func(t *testing.T) {
		for _, header := range []string{"Bearer", "Bearer    "} {
			got = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", header)
			req.TLS = &tls.ConnectionState{VerifiedChains: [][]*x509.Certificate{{testCert()}}}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code, header)
			require.Nil(t, got)
		}
	})

	t.Run("non bearer scheme is ignored", func(t *testing.T) {
		got = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Nil(t, got)
	})
}

func TestOIDCVerifier(t *testing.T) {
	ctx := context.Background()
	provider := testutil.NewOIDCProvider(t, map[string]string{"access-token": "sub-alice"})
	issuer, err := url.Parse(provider.URL)
	require.NoError(t, err)

	v, err := NewOIDCVerifier(ctx, OIDCConfig{Label: "Test", Issuer: issuer, ClientID: "drawbridge"})
	require.NoError(t, err)

	t.Run("access token resolved through userinfo", func(t *testing.T) {
		subject, err := v.Verify(ctx, "access-token")
		require.NoError(t, err)
		require.Equal(t, "sub-alice", subject)
	})

	t.Run("ID token", func(t *testing.T) {
		subject, err := v.Verify(ctx, provider.IDToken(t, "drawbridge", "sub-bob"))
		require.NoError(t, err)
		require.Equal(t, "sub-bob", subject)
	})

	t.Run("ID token without subject", func(t *testing.T) {
		_, err := v.Verify(ctx, provider.IDToken(t, "drawbridge", ""))
		require.ErrorIs(t, err, ErrUnauthenticated)
		require.Contains(t, err.Error(), "no subject")
	})

	t.Run("ID token for another client", func(t *testing.T) {
		_, err := v.Verify(ctx, provider.IDToken(t, "someone-else", "sub-bob"))
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := v.Verify(ctx, "nope")
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := v.Verify(ctx, "  ")
		require.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestNewOIDCVerifier_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing issuer", func(t *testing.T) {
		_, err := NewOIDCVerifier(ctx, OIDCConfig{ClientID: "x"})
		require.Error(t, err)
	})

	t.Run("missing client ID", func(t *testing.T) {
		issuer, _ := url.Parse("https://auth.example.com")
		_, err := NewOIDCVerifier(ctx, OIDCConfig{Issuer: issuer})
		require.Error(t, err)
	})

	t.Run("unreachable issuer", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		issuer, _ := url.Parse(srv.URL)
		srv.Close()

		_, err := NewOIDCVerifier(ctx, OIDCConfig{Issuer: issuer, ClientID: "x"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to discover OIDC provider")
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		provider := testutil.NewOIDCProvider(t, nil)
		issuer, _ := url.Parse(provider.URL + "/other")

		_, err := NewOIDCVerifier(ctx, OIDCConfig{Issuer: issuer, ClientID: "x"})
		require.Error(t, err)
		require.False(t, errors.Is(err, ErrUnauthenticated))
	})
}
