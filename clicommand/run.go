package clicommand

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/buildkite/mask-enroller/internal/enroll"
	"github.com/buildkite/mask-enroller/internal/globalconfig"
	"github.com/buildkite/mask-enroller/internal/jobs"
	"github.com/buildkite/mask-enroller/internal/pipeline"
	"github.com/buildkite/mask-enroller/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"
)

const runHelpDescription = `Usage:

   mask-enroller run --job <name> [options...]

Description:
   Runs one build of a job. The build's environment is set up the way the CI
   host does it: if mask-passwords is enabled globally and the job doesn't
   have the mask-passwords capability yet, it is added to the job and saved
   before anything else happens. Then the job's own capabilities are set up,
   standard input (or --input) is copied to the build's console through them,
   and everything is torn down again.

   The command fails, and the build with it, if the global config or the job
   can't be read, or the job can't be saved.

Example:

   $ echo "password is hunter2" | mask-enroller run --job deploy`

type RunConfig struct {
	GlobalConfig
	GlobalStoreConfig
	JobStoreConfig

	Job             string `cli:"job" validate:"required"`
	BuildNumber     int    `cli:"build-number"`
	Input           string `cli:"input"`
	NoJobLocking    bool   `cli:"no-job-locking"`
	MetricsTextfile string `cli:"metrics-textfile" normalize:"filepath"`
}

var RunCommand = cli.Command{
	Name:        "run",
	Usage:       "Runs one build of a job, enrolling the job in mask-passwords if needed",
	Description: runHelpDescription,
	Flags: append(globalFlags(),
		GlobalConfigPathFlag,
		JobsDirFlag,
		cli.StringFlag{
			Name:   "job",
			Usage:  "Name of the job to build",
			EnvVar: "MASK_ENROLLER_JOB",
		},
		cli.IntFlag{
			Name:   "build-number",
			Value:  1,
			Usage:  "Number of the build, shown in logs",
			EnvVar: "MASK_ENROLLER_BUILD_NUMBER",
		},
		cli.StringFlag{
			Name:   "input",
			Value:  "-",
			Usage:  "File to copy to the build console, or - for standard input",
			EnvVar: "MASK_ENROLLER_INPUT",
		},
		cli.BoolFlag{
			Name:   "no-job-locking",
			Usage:  "Don't serialize enrollment of concurrent builds of the same job",
			EnvVar: "MASK_ENROLLER_NO_JOB_LOCKING",
		},
		cli.StringFlag{
			Name:   "metrics-textfile",
			Usage:  "Write enrollment metrics to this file in Prometheus text format when the build finishes",
			EnvVar: "MASK_ENROLLER_METRICS_TEXTFILE",
		},
	),
	Action: withConfig(runAction),
}

func runAction(ctx context.Context, c *cli.Context, l logger.Logger, cfg *RunConfig) error {
	store, err := globalconfig.Open(cfg.GlobalConfigPath)
	if err != nil {
		return NewExitError(1, err)
	}
	reg := jobs.NewFileRegistry(cfg.JobsDir)

	p := pipeline.New(reg, l)
	p.Register(enroll.New(store, reg,
		enroll.WithLogger(l),
		enroll.WithJobLocking(!cfg.NoJobLocking),
	))

	in, err := openInput(c, cfg.Input)
	if err != nil {
		return NewExitError(1, err)
	}
	defer in.Close() //nolint:errcheck // read-only

	wd, err := os.Getwd()
	if err != nil {
		return NewExitError(1, fmt.Errorf("getting working directory: %w", err))
	}

	build := pipeline.NewBuild(cfg.Job, cfg.BuildNumber)
	launcher := &pipeline.Launcher{Dir: wd, Env: os.Environ()}
	listener := pipeline.NewListener(c.App.Writer)

	l = l.WithFields(logger.StringField("build", build.ID))
	l.Info("Setting up build %s", build)

	runErr := runBuild(ctx, p, build, launcher, listener, in)

	if cfg.MetricsTextfile != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsTextfile, prometheus.DefaultGatherer); err != nil {
			l.Warn("Couldn't write metrics to %q: %v", cfg.MetricsTextfile, err)
		}
	}

	if runErr != nil {
		l.Error("Build %s failed: %v", build, runErr)
		return NewExitError(1, runErr)
	}
	l.Info("Build %s finished", build)
	return nil
}

func runBuild(ctx context.Context, p *pipeline.Pipeline, build *pipeline.Build, launcher *pipeline.Launcher, listener *pipeline.Listener, in io.Reader) error {
	env, err := p.SetUp(ctx, build, launcher, listener)
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(listener, in)
	if copyErr != nil {
		copyErr = fmt.Errorf("copying build output: %w", copyErr)
	}

	return errors.Join(
		copyErr,
		env.TearDown(ctx, build, listener),
		listener.Close(),
	)
}

func openInput(c *cli.Context, path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		if r, ok := c.App.Metadata["stdin"].(io.Reader); ok {
			return io.NopCloser(r), nil
		}
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	return f, nil
}
