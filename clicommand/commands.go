package clicommand

import (
	"io"
	"os"

	"github.com/buildkite/mask-enroller/version"
	"github.com/urfave/cli"
)

var MaskEnrollerCommands = []cli.Command{
	RunCommand,
	{
		Name:  "config",
		Usage: "Read or change the global mask-passwords configuration",
		Subcommands: []cli.Command{
			ConfigGetCommand,
			ConfigSetCommand,
			ConfigWatchCommand,
		},
	},
	{
		Name:  "job",
		Usage: "Manage jobs in the jobs directory",
		Subcommands: []cli.Command{
			JobCreateCommand,
			JobShowCommand,
			JobListCommand,
		},
	},
}

// NewApp returns the mask-enroller CLI. Builds read their console input from
// stdin, and commands write to stdout and stderr.
func NewApp(stdin io.Reader, stdout, stderr io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "mask-enroller"
	app.Usage = "Auto-enrolls CI jobs in mask-passwords"
	app.Version = version.FullVersion()
	app.Writer = stdout
	app.ErrWriter = stderr
	app.Metadata = map[string]any{"stdin": stdin}
	app.Commands = MaskEnrollerCommands
	app.CommandNotFound = func(c *cli.Context, command string) {
		cli.ShowAppHelp(c) //nolint:errcheck // best effort
		os.Exit(1)
	}
	return app
}
