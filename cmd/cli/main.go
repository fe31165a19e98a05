package main

import (
	"context"
	"os"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/deskpool/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Create  commands.CreateCmd  `cmd:"" help:"Create a desktop session, or return the owner's existing one"`
		Destroy commands.DestroyCmd `cmd:"" help:"Destroy a desktop session"`
		Get     commands.GetCmd     `cmd:"" help:"Show connection details for a session"`
		List    commands.ListCmd    `cmd:"" help:"List sessions"`
		Stats   commands.StatsCmd   `cmd:"" help:"Show host load and pool occupancy"`
		Health  commands.HealthCmd  `cmd:"" help:"Check server health"`
		Debug   bool                `help:"Enable debug mode."`
		Version kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("deskpool"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version, Out: os.Stdout})
	cmd.FatalIfErrorf(err)
}
