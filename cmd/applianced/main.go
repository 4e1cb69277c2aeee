package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/applianced/cmd/applianced/commands"
	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser, err := kong.New(cli,
		kong.Name("applianced"),
		kong.Description("Appliance agent: versioned state migrations and health daemon supervision."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)
	if err != nil {
		panic(err)
	}
	ctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		parser.Errorf("%s", err)
		os.Exit(errors.ExitUsage)
	}

	global := &commands.Global{Out: os.Stdout}
	errors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(ctx.Run(global, cli))
}
