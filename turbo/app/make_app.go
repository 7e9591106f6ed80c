package app

import (
	cli2 "github.com/SipengXie/safecore/turbo/cli"
	"github.com/urfave/cli/v2"
)

// MakeApp builds the command line app. action runs when no subcommand is
// given.
func MakeApp(name string, action cli.ActionFunc, cliFlags []cli.Flag, commands ...*cli.Command) *cli.App {
	app := cli2.NewApp()
	app.Name = name
	app.Usage = "collect owner signatures for safe wallets and execute them"
	app.UsageText = app.Name + ` [command] [flags]`
	app.Flags = cliFlags
	app.Action = action
	app.Commands = commands
	return app
}
