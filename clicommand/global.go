package clicommand

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/buildkite/mask-enroller/cliconfig"
	"github.com/buildkite/mask-enroller/logger"
	"github.com/oleiade/reflections"
	"github.com/urfave/cli"
)

const (
	DefaultGlobalConfigPath = "/etc/mask-enroller/global.yml"
	DefaultJobsDir          = "/var/lib/mask-enroller/jobs"
)

// GlobalConfig is embedded in every command's config.
type GlobalConfig struct {
	Config    string `cli:"config" normalize:"filepath"`
	Debug     bool   `cli:"debug"`
	LogLevel  string `cli:"log-level"`
	LogFormat string `cli:"log-format"`
	NoColor   bool   `cli:"no-color"`
}

// GlobalStoreConfig locates the global masking config.
type GlobalStoreConfig struct {
	GlobalConfigPath string `cli:"global-config" normalize:"filepath" validate:"required"`
}

// JobStoreConfig locates the job registry.
type JobStoreConfig struct {
	JobsDir string `cli:"jobs-dir" normalize:"filepath" validate:"required"`
}

var (
	ConfigFlag = cli.StringFlag{
		Name:   "config",
		Usage:  "Path to a mask-enroller configuration file",
		EnvVar: "MASK_ENROLLER_CONFIG",
	}

	DebugFlag = cli.BoolFlag{
		Name:   "debug",
		Usage:  "Enable debug mode. Synonym for ′--log-level debug′",
		EnvVar: "MASK_ENROLLER_DEBUG",
	}

	LogLevelFlag = cli.StringFlag{
		Name:   "log-level",
		Value:  "notice",
		Usage:  "Set the log level: debug, info, notice, warn, error or fatal",
		EnvVar: "MASK_ENROLLER_LOG_LEVEL",
	}

	LogFormatFlag = cli.StringFlag{
		Name:   "log-format",
		Value:  "text",
		Usage:  "The format to use for the logger output: text or json",
		EnvVar: "MASK_ENROLLER_LOG_FORMAT",
	}

	NoColorFlag = cli.BoolFlag{
		Name:   "no-color",
		Usage:  "Don't show colors in logging",
		EnvVar: "MASK_ENROLLER_NO_COLOR",
	}

	GlobalConfigPathFlag = cli.StringFlag{
		Name:   "global-config",
		Value:  DefaultGlobalConfigPath,
		Usage:  "Path to the global masking configuration (YAML)",
		EnvVar: "MASK_ENROLLER_GLOBAL_CONFIG",
	}

	JobsDirFlag = cli.StringFlag{
		Name:   "jobs-dir",
		Value:  DefaultJobsDir,
		Usage:  "Directory holding one sub-directory per job",
		EnvVar: "MASK_ENROLLER_JOBS_DIR",
	}
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		DebugFlag,
		LogLevelFlag,
		LogFormatFlag,
		NoColorFlag,
	}
}

// DefaultConfigFilePaths are searched, in order, when --config isn't given.
func DefaultConfigFilePaths() []string {
	paths := []string{
		"$HOME/.mask-enroller/mask-enroller.cfg",
		"/etc/mask-enroller/mask-enroller.cfg",
	}

	// Also check next to the binary.
	if dir, err := filepath.Abs(filepath.Dir(os.Args[0])); err == nil {
		paths = append([]string{filepath.Join(dir, "mask-enroller.cfg")}, paths...)
	}
	return paths
}

// CreateLogger builds a logger from the global options found in cfg, which
// must embed GlobalConfig.
func CreateLogger(cfg any, w io.Writer) logger.Logger {
	var printer logger.Printer
	switch format, _ := reflections.GetField(cfg, "LogFormat"); format {
	case "json":
		printer = logger.NewJSONPrinter(w)
	default:
		tp := logger.NewTextPrinter(w)
		if noColor, err := reflections.GetField(cfg, "NoColor"); err == nil && noColor == true {
			tp.Colors = false
		}
		printer = tp
	}

	l := logger.NewConsoleLogger(printer, os.Exit)

	if name, err := reflections.GetField(cfg, "LogLevel"); err == nil {
		if s, ok := name.(string); ok && s != "" {
			level, err := logger.LevelFromString(s)
			if err != nil {
				l.Warn("%v, using notice", err)
			} else {
				l.SetLevel(level)
			}
		}
	}
	if debug, err := reflections.GetField(cfg, "Debug"); err == nil && debug == true {
		l.SetLevel(logger.DEBUG)
	}

	return l
}

// withConfig loads a *T for the command, creates the logger, and calls f.
func withConfig[T any](f func(ctx context.Context, c *cli.Context, l logger.Logger, cfg *T) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg := new(T)
		loader := cliconfig.Loader{
			CLI:                    c,
			Config:                 cfg,
			DefaultConfigFilePaths: DefaultConfigFilePaths(),
		}
		warnings, err := loader.Load()
		if err != nil {
			return NewExitError(2, fmt.Errorf("loading config: %w", err))
		}

		l := CreateLogger(cfg, c.App.ErrWriter)
		for _, warning := range warnings {
			l.Warn("%s", warning)
		}

		return f(context.Background(), c, l, cfg)
	}
}
