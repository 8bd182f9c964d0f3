package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/kochabx/vidchat/cmd/vidchat/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Config  string           `help:"Path to the configuration file." short:"c" type:"path"`
		Version kong.VersionFlag `help:"Print version and exit."`

		Serve        commands.ServeCmd        `cmd:"" default:"1" help:"Run the HTTP API, task worker and maintenance scheduler."`
		Maintenance  commands.MaintenanceCmd  `cmd:"" help:"Run one maintenance sweep and exit."`
		HashPassword commands.HashPasswordCmd `cmd:"" name:"hash-password" help:"Print a bcrypt hash for a user entry."`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("vidchat"),
		kong.Description("Redis-backed session, cache, queue and blob services for video chat."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{ConfigFile: cli.Config, Version: version})
	cmd.FatalIfErrorf(err)
}
