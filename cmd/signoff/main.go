package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/signoff/cmd/signoff/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug    bool `help:"Enable debug mode."`
		Version  kong.VersionFlag
		Server   commands.ServerCmd   `cmd:"" help:"Start the signing API server"`
		Inspect  commands.InspectCmd  `cmd:"" help:"Show the identity carried by a certificate"`
		Evaluate commands.EvaluateCmd `cmd:"" help:"Evaluate a certificate against the signing policy"`
		Registry commands.RegistryCmd `cmd:"" help:"Manage the local certificate revocation registry"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("signoff"),
		kong.Description("Certificate-based sign-off for authorization records."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
