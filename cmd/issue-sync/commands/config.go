package commands

import (
	"fmt"

	"github.com/scott-cotton/cli"
	"github.com/signadot/issue-sync/config"
)

type configConfig struct {
	*MainConfig
	Cfg *cli.Command
}

// ConfigCommand returns the config subcommand.
func ConfigCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &configConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Cfg, "config").
		WithSynopsis("config <subcommand>").
		WithDescription("Show the effective configuration or write a sample file.").
		WithSubs(
			configShowCommand(cfg),
			configInitCommand(cfg),
		)
}

type configShowConfig struct {
	*cli.Command
	*configConfig
}

func configShowCommand(ccfg *configConfig) *cli.Command {
	cfg := &configShowConfig{configConfig: ccfg}
	return cli.NewCommandAt(&cfg.Command, "show").
		WithSynopsis("show [key...] - Print effective configuration values").
		WithRun(cfg.run)
}

func (cfg *configShowConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	c, err := config.Load(cfg.MainConfig.Config)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		if c.Source != "" {
			fmt.Fprintf(cc.Out, "# %s\n", c.Source)
		}
		args = c.Keys()
	}
	for _, key := range args {
		v, ok := c.Get(key)
		if !ok {
			return fmt.Errorf("%w: unknown key %q", cli.ErrUsage, key)
		}
		if key == "github.token" && v != "" {
			v = "(set)"
		}
		fmt.Fprintf(cc.Out, "%s = %v\n", key, v)
	}
	if err := config.Validate(c); err != nil {
		fmt.Fprintf(cc.Out, "# invalid: %v\n", err)
	}
	return nil
}

type configInitConfig struct {
	*cli.Command
	*configConfig
}

func configInitCommand(ccfg *configConfig) *cli.Command {
	cfg := &configInitConfig{configConfig: ccfg}
	return cli.NewCommandAt(&cfg.Command, "init").
		WithSynopsis("init [path] - Write a sample configuration file").
		WithRun(cfg.run)
}

func (cfg *configInitConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	var path string
	switch {
	case len(args) == 1:
		path = args[0]
	case len(args) > 1:
		return fmt.Errorf("%w: usage: issue-sync config init [path]", cli.ErrUsage)
	case cfg.MainConfig.Config != "":
		path = cfg.MainConfig.Config
	default:
		path = config.DefaultPaths()[0]
	}
	if err := config.Init(path); err != nil {
		return err
	}
	fmt.Fprintf(cc.Out, "Wrote %s\n", path)
	return nil
}
