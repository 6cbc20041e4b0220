package auth

import (
	"crypto/x509"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Middleware resolves the caller identity of every request.
//
// A bearer token takes precedence: if present it must verify, otherwise the
// request is rejected with 401 rather than falling back to the client
// certificate. Requests with neither continue without an identity.
func Middleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := zerolog.Ctx(ctx)

			if token, ok := extractBearerToken(r); ok {
				subject, err := verifier.Verify(ctx, token)
				if err != nil {
					log.Debug().Err(err).Msg("Bearer token rejected")
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}

				log.Debug().Str("subject", subject).Msg("OIDC authenticated")
				ctx = WithIdentity(ctx, &Identity{Subject: subject})
			} else if cert := verifiedClientCertificate(r); cert != nil {
				log.Debug().
					Str("subject", cert.Subject.String()).
					Str("serial", cert.SerialNumber.Text(16)).
					Msg("Client certificate authenticated")
				ctx = WithIdentity(ctx, &Identity{Certificate: cert})
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearerToken reports whether the request uses the Bearer scheme and
// returns its token, which may be empty.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader == "" {
		return "", false
	}

	scheme, token, _ := strings.Cut(authHeader, " ")
	if !strings.EqualFold(scheme, "bearer") {
		return "", false
	}

	return strings.TrimSpace(token), true
}

// verifiedClientCertificate returns the leaf of the first verified chain.
// Chains are only present when the certificate verified against the client CA
// pool.
func verifiedClientCertificate(r *http.Request) *x509.Certificate {
	if r.TLS == nil || len(r.TLS.VerifiedChains) == 0 || len(r.TLS.VerifiedChains[0]) == 0 {
		return nil
	}
	return r.TLS.VerifiedChains[0][0]
}
