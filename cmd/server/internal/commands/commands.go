package commands

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/drawbridge/internal/config"
)

const description = `Server for hosting WebAssembly modules for use in Enarx keeps.

Any option may also be given in one or more configuration files, passed on the
command line as @my_file. Each line of such a file is one argument, so keys and
values go on separate lines or are joined with "=" as in --foo=bar.`

type Globals struct {
	Debug   bool
	Version string
}

// CLI is the complete command line of the server binary.
type CLI struct {
	Debug   bool             `help:"Enable debug mode." env:"DRAWBRIDGE_DEBUG"`
	Version kong.VersionFlag `help:"Print version and exit."`
	Config  kong.ConfigFlag  `help:"Load option values from a YAML file." placeholder:"FILE"`

	Server ServerCmd `embed:""`
}

func (c *CLI) Validate() error {
	return c.Server.Validate()
}

func (c *CLI) Run(ctx context.Context, globals *Globals) error {
	return c.Server.Run(ctx, globals)
}

// NewParser builds the kong parser for cli. Extra options are appended after
// the defaults.
func NewParser(cli *CLI, version string, options ...kong.Option) *kong.Kong {
	opts := []kong.Option{
		kong.Name("drawbridge"),
		kong.Description(description),
		kong.Vars{"version": version},
		kong.Configuration(config.YAML),
		kong.UsageOnError(),
	}
	return kong.Must(cli, append(opts, options...)...)
}
