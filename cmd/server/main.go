package main

import (
	"context"
	"os"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/drawbridge/cmd/server/internal/commands"
	"github.com/wolfeidau/drawbridge/internal/args"
)

var version = "dev"

func main() {
	ctx := context.Background()

	var cli commands.CLI
	parser := commands.NewParser(&cli, version, kong.BindTo(ctx, (*context.Context)(nil)))

	expanded, err := args.Expand(os.Args[1:])
	parser.FatalIfErrorf(err)

	cmd, err := parser.Parse(expanded)
	parser.FatalIfErrorf(err)

	err = cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
