package commands

import (
	"fmt"

	"github.com/scott-cotton/cli"
	"github.com/signadot/issue-sync/conflict"
)

type conflictsConfig struct {
	*cli.Command
	*MainConfig
	Check bool `cli:"name=check desc='clear resolved records and fail if any remain'"`
}

// ConflictsCommand returns the conflicts subcommand.
func ConflictsCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &conflictsConfig{MainConfig: mainCfg}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "conflicts").
		WithSynopsis("conflicts [--check] - List unresolved conflicts").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *conflictsConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 0 {
		return fmt.Errorf("%w: usage: issue-sync conflicts [--check]", cli.ErrUsage)
	}
	c, err := cfg.load()
	if err != nil {
		return err
	}
	tracker := &conflict.Tracker{Dir: c.ConflictsDir()}
	if cfg.Check {
		if err := tracker.CheckAll(); err != nil {
			fmt.Fprintln(cc.Out, err)
			return cli.ExitCodeErr(1)
		}
	}
	states, err := tracker.List()
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Fprintln(cc.Out, "No conflicts")
		return nil
	}
	for _, st := range states {
		fmt.Fprintf(cc.Out, "%s  %s", st.Detected.Format("2006-01-02 15:04"), st.Path)
		if st.Reason != "" {
			fmt.Fprintf(cc.Out, "  (%s)", st.Reason)
		}
		fmt.Fprintln(cc.Out)
	}
	return nil
}
