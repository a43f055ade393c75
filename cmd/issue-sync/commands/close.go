package commands

import (
	"fmt"

	"github.com/scott-cotton/cli"
	"github.com/signadot/issue-sync/issue"
	"github.com/signadot/issue-sync/syncer"
)

type closeConfig struct {
	*cli.Command
	*MainConfig
	NotPlanned bool `cli:"name=not-planned aliases=n desc='close as not planned'"`
	Duplicate  int  `cli:"name=duplicate aliases=d desc='close as duplicate of this issue number'"`
	Reopen     bool `cli:"name=reopen desc='reopen instead of closing'"`
	Offline    bool `cli:"name=offline aliases=o desc='store locally, do not contact the remote'"`
}

// CloseCommand returns the close subcommand.
func CloseCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &closeConfig{MainConfig: mainCfg}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "close").
		WithSynopsis("close <target> [--not-planned|--duplicate <n>|--reopen] - Close an issue").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *closeConfig) state() (issue.CloseState, error) {
	n := 0
	for _, b := range []bool{cfg.NotPlanned, cfg.Duplicate != 0, cfg.Reopen} {
		if b {
			n++
		}
	}
	if cfg.Duplicate < 0 {
		return issue.CloseState{}, fmt.Errorf("%w: bad issue number %d", cli.ErrUsage, cfg.Duplicate)
	}
	if n > 1 {
		return issue.CloseState{}, fmt.Errorf("%w: --not-planned, --duplicate and --reopen are exclusive", cli.ErrUsage)
	}
	switch {
	case cfg.NotPlanned:
		return issue.CloseState{Kind: issue.NotPlanned}, nil
	case cfg.Duplicate != 0:
		return issue.CloseState{Kind: issue.Duplicate, Duplicate: uint64(cfg.Duplicate)}, nil
	case cfg.Reopen:
		return issue.CloseState{Kind: issue.Open}, nil
	}
	return issue.CloseState{Kind: issue.Closed}, nil
}

func (cfg *closeConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: issue-sync close <target> [--not-planned|--duplicate <n>]", cli.ErrUsage)
	}
	st, err := cfg.state()
	if err != nil {
		return err
	}
	s, err := cfg.session(cc)
	if err != nil {
		return err
	}
	ctx, stop := interruptible()
	defer stop()

	path, err := s.Resolve(ctx, args[0], syncer.ResolveOptions{Dialect: cfg.cfg.Dialect(), Offline: cfg.Offline})
	if err != nil {
		return report(cc, s, err)
	}
	opts := syncer.Options{Pull: true, Offline: cfg.Offline}
	after, err := s.Run(ctx, path, opts, syncer.SetState{State: st})
	if err != nil {
		return report(cc, s, err)
	}
	if after != "" {
		fmt.Fprintf(cc.Out, "Marked %s %s\n", after, st)
	}
	return nil
}
