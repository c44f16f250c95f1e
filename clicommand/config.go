package clicommand

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/buildkite/mask-enroller/internal/globalconfig"
	"github.com/buildkite/mask-enroller/logger"
	"github.com/urfave/cli"
)

const configGetHelpDescription = `Usage:

   mask-enroller config get [options...]

Description:
   Prints whether mask-passwords auto-enrollment is enabled globally. A
   missing global config file means it is disabled.

Example:

   $ mask-enroller config get
   enabled_globally: false`

const configSetHelpDescription = `Usage:

   mask-enroller config set --enabled=<true|false> [options...]

Description:
   Turns mask-passwords auto-enrollment on or off for every job. The global
   config file is replaced atomically, so running builds see either the old
   or the new value.

Example:

   $ mask-enroller config set --enabled=true`

const configWatchHelpDescription = `Usage:

   mask-enroller config watch [options...]

Description:
   Watches the global config file and logs its value each time it changes,
   until interrupted.`

type ConfigGetConfig struct {
	GlobalConfig
	GlobalStoreConfig
}

type ConfigSetConfig struct {
	GlobalConfig
	GlobalStoreConfig

	Enabled bool `cli:"enabled"`
}

type ConfigWatchConfig struct {
	GlobalConfig
	GlobalStoreConfig
}

var ConfigGetCommand = cli.Command{
	Name:        "get",
	Usage:       "Shows whether mask-passwords auto-enrollment is enabled globally",
	Description: configGetHelpDescription,
	Flags:       append(globalFlags(), GlobalConfigPathFlag),
	Action:      withConfig(configGetAction),
}

var ConfigSetCommand = cli.Command{
	Name:        "set",
	Usage:       "Enables or disables mask-passwords auto-enrollment globally",
	Description: configSetHelpDescription,
	Flags: append(globalFlags(),
		GlobalConfigPathFlag,
		cli.BoolFlag{
			Name:  "enabled",
			Usage: "Whether auto-enrollment is enabled; pass --enabled=false to disable",
		},
	),
	Action: withConfig(configSetAction),
}

var ConfigWatchCommand = cli.Command{
	Name:        "watch",
	Usage:       "Logs the global config each time it changes",
	Description: configWatchHelpDescription,
	Flags:       append(globalFlags(), GlobalConfigPathFlag),
	Action:      withConfig(configWatchAction),
}

func configGetAction(ctx context.Context, c *cli.Context, l logger.Logger, cfg *ConfigGetConfig) error {
	store, err := globalconfig.Open(cfg.GlobalConfigPath)
	if err != nil {
		return NewExitError(1, err)
	}
	enabled, err := store.EnabledGlobally(ctx)
	if err != nil {
		return NewExitError(1, err)
	}
	fmt.Fprintf(c.App.Writer, "enabled_globally: %t\n", enabled)
	return nil
}

func configSetAction(_ context.Context, c *cli.Context, l logger.Logger, cfg *ConfigSetConfig) error {
	if !c.IsSet("enabled") {
		fmt.Fprint(c.App.ErrWriter, configSetHelpDescription+"\n")
		return NewExitError(2, errors.New("--enabled=true or --enabled=false is required"))
	}

	store, err := globalconfig.Open(cfg.GlobalConfigPath)
	if err != nil {
		// A broken file can still be overwritten.
		l.Warn("%v; replacing it", err)
		store = globalconfig.NewFileStore(cfg.GlobalConfigPath)
	}
	if err := store.SetEnabledGlobally(cfg.Enabled); err != nil {
		return NewExitError(1, err)
	}

	l.Notice("Mask passwords auto-enrollment is now %s globally", enabledString(cfg.Enabled))
	return nil
}

func configWatchAction(ctx context.Context, c *cli.Context, l logger.Logger, cfg *ConfigWatchConfig) error {
	store, err := globalconfig.Open(cfg.GlobalConfigPath)
	if err != nil {
		return NewExitError(1, err)
	}
	enabled, _ := store.EnabledGlobally(ctx)
	l.Info("Watching %q (enabled globally: %t)", store.Path(), enabled)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.Watch(ctx, l); err != nil {
		return NewExitError(1, err)
	}
	return nil
}

func enabledString(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
