package clicommand

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/buildkite/mask-enroller/internal/jobs"
	"github.com/buildkite/mask-enroller/logger"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"
)

const jobCreateHelpDescription = `Usage:

   mask-enroller job create <name> [options...]

Description:
   Creates a job with no capabilities in the jobs directory.

Example:

   $ mask-enroller job create deploy --display-name "Deploy to production"`

const jobShowHelpDescription = `Usage:

   mask-enroller job show <name> [options...]

Description:
   Prints a job's configuration as stored in the jobs directory.

Example:

   $ mask-enroller job show deploy
   name: deploy
   capabilities:
       - kind: mask-passwords
         config: {}`

const jobListHelpDescription = `Usage:

   mask-enroller job list [options...]

Description:
   Lists the jobs in the jobs directory, with when each was last saved.`

type JobCreateConfig struct {
	GlobalConfig
	JobStoreConfig

	DisplayName string `cli:"display-name"`
}

type JobShowConfig struct {
	GlobalConfig
	JobStoreConfig
}

type JobListConfig struct {
	GlobalConfig
	JobStoreConfig
}

var JobCreateCommand = cli.Command{
	Name:        "create",
	Usage:       "Creates a job",
	Description: jobCreateHelpDescription,
	Flags: append(globalFlags(),
		JobsDirFlag,
		cli.StringFlag{
			Name:  "display-name",
			Usage: "Human-friendly name of the job",
		},
	),
	Action: withConfig(jobCreateAction),
}

var JobShowCommand = cli.Command{
	Name:        "show",
	Usage:       "Prints a job's configuration",
	Description: jobShowHelpDescription,
	Flags:       append(globalFlags(), JobsDirFlag),
	Action:      withConfig(jobShowAction),
}

var JobListCommand = cli.Command{
	Name:        "list",
	Usage:       "Lists jobs",
	Description: jobListHelpDescription,
	Flags:       append(globalFlags(), JobsDirFlag),
	Action:      withConfig(jobListAction),
}

func jobNameArg(c *cli.Context, help string) (string, error) {
	if c.NArg() != 1 {
		fmt.Fprint(c.App.ErrWriter, help+"\n")
		return "", NewExitError(2, errors.New("expected exactly one job name"))
	}
	return c.Args().First(), nil
}

func jobCreateAction(ctx context.Context, c *cli.Context, l logger.Logger, cfg *JobCreateConfig) error {
	name, err := jobNameArg(c, jobCreateHelpDescription)
	if err != nil {
		return err
	}

	job, err := jobs.NewFileRegistry(cfg.JobsDir).Create(ctx, name, cfg.DisplayName)
	if err != nil {
		return NewExitError(1, err)
	}
	l.Notice("Created job %s", job.FullDisplayName())
	return nil
}

func jobShowAction(ctx context.Context, c *cli.Context, l logger.Logger, cfg *JobShowConfig) error {
	name, err := jobNameArg(c, jobShowHelpDescription)
	if err != nil {
		return err
	}

	job, err := jobs.NewFileRegistry(cfg.JobsDir).Job(ctx, name)
	if err != nil {
		return NewExitError(1, err)
	}
	data, err := jobs.Marshal(job)
	if err != nil {
		return NewExitError(1, err)
	}
	_, err = c.App.Writer.Write(data)
	return err
}

func jobListAction(ctx context.Context, c *cli.Context, l logger.Logger, cfg *JobListConfig) error {
	infos, err := jobs.NewFileRegistry(cfg.JobsDir).List(ctx)
	if err != nil {
		return NewExitError(1, err)
	}
	if len(infos) == 0 {
		l.Notice("No jobs in %q", cfg.JobsDir)
		return nil
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLAST SAVED")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\n", info.Name, humanize.Time(info.ModTime))
	}
	return tw.Flush()
}
