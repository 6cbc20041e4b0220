// Package app serves the drawbridge HTTPS API on individual accepted
// connections.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/drawbridge/internal/auth"
	"github.com/wolfeidau/drawbridge/internal/logger"
	"github.com/wolfeidau/drawbridge/internal/store"
	"golang.org/x/net/http2"
)

const handshakeTimeout = 10 * time.Second

// App owns the store, TLS config and token verifier. It is safe to share
// across connections.
type App struct {
	store    *store.Store
	tls      *tls.Config
	verifier auth.TokenVerifier
	oidc     auth.OIDCConfig
	handler  http.Handler
}

// New opens the store at storePath and discovers the OIDC provider. ctx must
// live as long as the App.
func New(ctx context.Context, storePath string, tlsConfig *tls.Config, oidcConfig auth.OIDCConfig) (*App, error) {
	if tlsConfig == nil {
		return nil, errors.New("TLS config is required")
	}

	st, err := store.Open(storePath)
	if err != nil {
		return nil, err
	}

	verifier, err := auth.NewOIDCVerifier(ctx, oidcConfig)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("store", storePath).
		Str("oidc_label", oidcConfig.Label).
		Str("oidc_issuer", oidcConfig.Issuer.String()).
		Bool("oidc_confidential", oidcConfig.ClientSecret != "").
		Msg("App initialized")

	return newApp(ctx, st, tlsConfig, verifier, oidcConfig), nil
}

func newApp(ctx context.Context, st *store.Store, tlsConfig *tls.Config, verifier auth.TokenVerifier, oidcConfig auth.OIDCConfig) *App {
	a := &App{
		store:    st,
		tls:      tlsConfig,
		verifier: verifier,
		oidc:     oidcConfig,
	}
	a.handler = logger.NewRequestLogger(*zerolog.Ctx(ctx)).Wrap(auth.Middleware(verifier)(a.routes()))
	return a
}

// Handle performs the TLS handshake on conn and serves HTTP requests on it
// until the client closes it or a timeout expires. HTTP/2 is used when
// negotiated through ALPN.
func (a *App) Handle(ctx context.Context, conn net.Conn) error {
	tlsConn := tls.Server(conn, a.tls)
	stop := context.AfterFunc(ctx, func() { _ = tlsConn.Close() })
	defer stop()

	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	err := tlsConn.HandshakeContext(hsCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("TLS handshake failed: %w", err)
	}

	state := tlsConn.ConnectionState()
	zerolog.Ctx(ctx).Debug().
		Str("alpn", state.NegotiatedProtocol).
		Int("verified_chains", len(state.VerifiedChains)).
		Msg("TLS handshake complete")

	srv := configureHTTPServer(ctx, a.handler)

	if state.NegotiatedProtocol == http2.NextProtoTLS {
		h2 := &http2.Server{IdleTimeout: srv.IdleTimeout}
		h2.ServeConn(tlsConn, &http2.ServeConnOpts{
			Context:    ctx,
			BaseConfig: srv,
			Handler:    srv.Handler,
		})
		return nil
	}

	return serveHTTP1(srv, tlsConn)
}

func configureHTTPServer(ctx context.Context, handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    8 * 1024, // 8KiB
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

// serveHTTP1 serves conn with srv and returns once the connection closed.
func serveHTTP1(srv *http.Server, conn net.Conn) error {
	ln := newConnListener(conn)
	srv.ConnState = func(c net.Conn, state http.ConnState) {
		if state == http.StateClosed || state == http.StateHijacked {
			_ = ln.Close()
		}
	}

	err := srv.Serve(ln)
	if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
