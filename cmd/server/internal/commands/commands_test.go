package commands

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/drawbridge/internal/args"
)

type flagSet map[string]string

func (f flagSet) args() []string {
	out := make([]string, 0, len(f))
	for name, value := range f {
		out = append(out, "--"+name+"="+value)
	}
	return out
}

func requiredFlags(dir string) flagSet {
	return flagSet{
		"store":       filepath.Join(dir, "store"),
		"cert":        filepath.Join(dir, "server.crt"),
		"key":         filepath.Join(dir, "server.key"),
		"ca":          filepath.Join(dir, "ca.crt"),
		"oidc-label":  "Test Provider",
		"oidc-issuer": "https://auth.example.com/",
		"oidc-client": "drawbridge",
	}
}

func parse(t *testing.T, argv ...string) (*CLI, error) {
	t.Helper()
	var cli CLI
	parser := NewParser(&cli, "test")
	_, err := parser.Parse(argv)
	return &cli, err
}

func TestParse(t *testing.T) {
	dir := t.TempDir()

	t.Run("defaults", func(t *testing.T) {
		cli, err := parse(t, requiredFlags(dir).args()...)
		require.NoError(t, err)

		require.Equal(t, netip.MustParseAddrPort("0.0.0.0:8080"), cli.Server.Addr.AddrPort)
		require.Equal(t, filepath.Join(dir, "store"), cli.Server.Store)
		require.Equal(t, filepath.Join(dir, "ca.crt"), cli.Server.CA)
		require.Equal(t, "Test Provider", cli.Server.OIDCLabel)
		require.Equal(t, "https://auth.example.com/", cli.Server.OIDCIssuer.String())
		require.Equal(t, "drawbridge", cli.Server.OIDCClient)
		require.Empty(t, cli.Server.OIDCSecret)
		require.False(t, cli.Debug)
		require.False(t, cli.Server.Telemetry)
	})

	t.Run("separate flag values", func(t *testing.T) {
		argv := []string{"--addr", "127.0.0.1:9000", "--oidc-secret", "s3cret"}
		for name, value := range requiredFlags(dir) {
			argv = append(argv, "--"+name, value)
		}

		cli, err := parse(t, argv...)
		require.NoError(t, err)
		require.Equal(t, "127.0.0.1:9000", cli.Server.Addr.String())
		require.Equal(t, "s3cret", cli.Server.OIDCSecret)

		cfg := cli.Server.OIDCConfig()
		require.Equal(t, "Test Provider", cfg.Label)
		require.Equal(t, "drawbridge", cfg.ClientID)
		require.Equal(t, "s3cret", cfg.ClientSecret)
		require.Equal(t, "auth.example.com", cfg.Issuer.Host)
	})

	t.Run("ipv6 address", func(t *testing.T) {
		cli, err := parse(t, append(requiredFlags(dir).args(), "--addr=[::1]:8443")...)
		require.NoError(t, err)
		require.Equal(t, "[::1]:8443", cli.Server.Addr.String())
	})

	t.Run("later value wins", func(t *testing.T) {
		cli, err := parse(t, append(requiredFlags(dir).args(), "--addr=127.0.0.1:1", "--addr=127.0.0.1:2")...)
		require.NoError(t, err)
		require.Equal(t, uint16(2), cli.Server.Addr.Port())
	})

	t.Run("missing required flags", func(t *testing.T) {
		for name := range requiredFlags(dir) {
			t.Run(name, func(t *testing.T) {
				flags := requiredFlags(dir)
				delete(flags, name)

				_, err := parse(t, flags.args()...)
				require.Error(t, err)
				require.Contains(t, err.Error(), "--"+name)
			})
		}
	})

	t.Run("host name address rejected", func(t *testing.T) {
		_, err := parse(t, append(requiredFlags(dir).args(), "--addr=localhost:8080")...)
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid socket address")
	})

	t.Run("address without port rejected", func(t *testing.T) {
		_, err := parse(t, append(requiredFlags(dir).args(), "--addr=127.0.0.1")...)
		require.Error(t, err)
	})

	t.Run("relative issuer rejected", func(t *testing.T) {
		flags := requiredFlags(dir)
		flags["oidc-issuer"] = "auth.example.com"

		_, err := parse(t, flags.args()...)
		require.Error(t, err)
		require.Contains(t, err.Error(), "absolute URL")
	})

	t.Run("unknown flag rejected", func(t *testing.T) {
		_, err := parse(t, append(requiredFlags(dir).args(), "--bogus")...)
		require.Error(t, err)
	})
}

func TestParseEnv(t *testing.T) {
	dir := t.TempDir()

	for name, value := range requiredFlags(dir) {
		t.Setenv("DRAWBRIDGE_"+strings.ToUpper(strings.ReplaceAll(name, "-", "_")), value)
	}
	t.Setenv("DRAWBRIDGE_ADDR", "127.0.0.1:7000")

	t.Run("env satisfies required flags", func(t *testing.T) {
		cli, err := parse(t)
		require.NoError(t, err)
		require.Equal(t, "127.0.0.1:7000", cli.Server.Addr.String())
		require.Equal(t, filepath.Join(dir, "store"), cli.Server.Store)
		require.Equal(t, "drawbridge", cli.Server.OIDCClient)
	})

	t.Run("command line overrides env", func(t *testing.T) {
		cli, err := parse(t, "--addr=127.0.0.1:7001")
		require.NoError(t, err)
		require.Equal(t, "127.0.0.1:7001", cli.Server.Addr.String())
	})
}

func TestParseConfigFile(t *testing.T) {
	dir := t.TempDir()
	flags := requiredFlags(dir)

	var b strings.Builder
	for name, value := range flags {
		b.WriteString(name + ": " + value + "\n")
	}
	b.WriteString("addr: 127.0.0.1:9100\n")
	b.WriteString("debug: true\n")

	path := filepath.Join(dir, "drawbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))

	t.Run("values from file", func(t *testing.T) {
		cli, err := parse(t, "--config", path)
		require.NoError(t, err)
		require.Equal(t, "127.0.0.1:9100", cli.Server.Addr.String())
		require.Equal(t, flags["store"], cli.Server.Store)
		require.Equal(t, "Test Provider", cli.Server.OIDCLabel)
		require.True(t, cli.Debug)
	})

	t.Run("command line overrides file", func(t *testing.T) {
		cli, err := parse(t, "--config", path, "--addr=127.0.0.1:9200", "--oidc-label=Other")
		require.NoError(t, err)
		require.Equal(t, "127.0.0.1:9200", cli.Server.Addr.String())
		require.Equal(t, "Other", cli.Server.OIDCLabel)
		require.Equal(t, flags["cert"], cli.Server.Cert)
	})
}

func TestParseArgumentFile(t *testing.T) {
	dir := t.TempDir()
	flags := requiredFlags(dir)

	// One file uses separate key and value lines, the other key=value lines.
	first := filepath.Join(dir, "first.args")
	require.NoError(t, os.WriteFile(first, []byte(strings.Join([]string{
		"--store", flags["store"],
		"--cert", flags["cert"],
		"--key", flags["key"],
		"--ca", flags["ca"],
	}, "\n")+"\n"), 0o600))

	second := filepath.Join(dir, "second.args")
	require.NoError(t, os.WriteFile(second, []byte(strings.Join([]string{
		"--oidc-label=" + flags["oidc-label"],
		"--oidc-issuer=" + flags["oidc-issuer"],
		"--oidc-client=" + flags["oidc-client"],
		"--addr=127.0.0.1:9300",
	}, "\r\n")), 0o600))

	argv, err := args.Expand([]string{"@" + first, "@" + second, "--addr=127.0.0.1:9400"})
	require.NoError(t, err)

	cli, err := parse(t, argv...)
	require.NoError(t, err)
	require.Equal(t, flags["store"], cli.Server.Store)
	require.Equal(t, flags["ca"], cli.Server.CA)
	require.Equal(t, "drawbridge", cli.Server.OIDCClient)
	require.Equal(t, "127.0.0.1:9400", cli.Server.Addr.String())
}
