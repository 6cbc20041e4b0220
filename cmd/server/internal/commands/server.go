package commands

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/wolfeidau/drawbridge/internal/app"
	"github.com/wolfeidau/drawbridge/internal/auth"
	"github.com/wolfeidau/drawbridge/internal/certs"
	"github.com/wolfeidau/drawbridge/internal/logger"
	"github.com/wolfeidau/drawbridge/internal/server"
	"github.com/wolfeidau/drawbridge/internal/telemetry"
)

type ServerCmd struct {
	// Listener
	Addr SocketAddr `help:"Address to bind to." default:"0.0.0.0:8080" env:"DRAWBRIDGE_ADDR"`

	// Store
	Store string `help:"Path to the Drawbridge store." required:"" type:"path" env:"DRAWBRIDGE_STORE"`

	// TLS material
	Cert string `help:"Path to PEM-encoded server certificate." required:"" type:"path" env:"DRAWBRIDGE_CERT"`
	Key  string `help:"Path to PEM-encoded server certificate key." required:"" type:"path" env:"DRAWBRIDGE_KEY"`
	CA   string `name:"ca" help:"Path to PEM-encoded trusted CA certificate. Clients presenting a valid certificate signed by this CA get read-only access to all repositories in the store." required:"" type:"path" env:"DRAWBRIDGE_CA"`

	// OpenID Connect
	OIDCLabel  string   `name:"oidc-label" help:"OpenID Connect provider label." required:"" env:"DRAWBRIDGE_OIDC_LABEL"`
	OIDCIssuer *url.URL `name:"oidc-issuer" help:"OpenID Connect issuer URL." required:"" env:"DRAWBRIDGE_OIDC_ISSUER"`
	OIDCClient string   `name:"oidc-client" help:"OpenID Connect client ID." required:"" env:"DRAWBRIDGE_OIDC_CLIENT"`
	OIDCSecret string   `name:"oidc-secret" help:"OpenID Connect client secret." env:"DRAWBRIDGE_OIDC_SECRET"`

	// Operational
	Telemetry            bool    `help:"Export traces and metrics over OTLP, configured with the OTEL_* environment variables." default:"false" env:"DRAWBRIDGE_TELEMETRY"`
	TelemetrySampleRatio float64 `help:"Fraction of connections traced when telemetry is enabled." default:"1" env:"DRAWBRIDGE_TELEMETRY_SAMPLE_RATIO"`
}

func (c *ServerCmd) Validate() error {
	// Missing values are reported by kong as missing required flags.
	if c.OIDCIssuer == nil {
		return nil
	}
	if !c.OIDCIssuer.IsAbs() || c.OIDCIssuer.Host == "" {
		return fmt.Errorf("--oidc-issuer must be an absolute URL, got %q", c.OIDCIssuer.String())
	}
	return nil
}

// OIDCConfig returns the OpenID Connect settings for the app.
func (c *ServerCmd) OIDCConfig() auth.OIDCConfig {
	return auth.OIDCConfig{
		Label:        c.OIDCLabel,
		Issuer:       c.OIDCIssuer,
		ClientID:     c.OIDCClient,
		ClientSecret: c.OIDCSecret,
	}
}

func (c *ServerCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx = log.WithContext(ctx)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Telemetry {
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "drawbridge",
			Version:     globals.Version,
			SampleRatio: c.TelemetrySampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	files, err := certs.Open(c.Cert, c.Key, c.CA)
	if err != nil {
		return err
	}
	tlsConfig, err := files.TLSConfig()
	if cerr := files.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("Failed to close TLS material files")
	}
	if err != nil {
		return fmt.Errorf("failed to construct server TLS config: %w", err)
	}

	a, err := app.New(ctx, c.Store, tlsConfig, c.OIDCConfig())
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}

	ln, err := server.Listen(ctx, c.Addr.String())
	if err != nil {
		return err
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("Accepting connections")

	// Runs until the process is killed; there is no shutdown signal handling.
	return server.Serve(ctx, ln, a)
}
