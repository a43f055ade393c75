package commands

import (
	"errors"
	"fmt"

	"github.com/scott-cotton/cli"
	"github.com/signadot/issue-sync/placement"
	"github.com/signadot/issue-sync/syncer"
)

type fetchConfig struct {
	*cli.Command
	*MainConfig
	Init bool `cli:"name=init desc='start a git history in the issues directory if there is none'"`
}

// FetchCommand returns the fetch subcommand.
func FetchCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &fetchConfig{MainConfig: mainCfg}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "fetch").
		WithAliases("pull").
		WithSynopsis("fetch [--init] <owner/repo#n|url>... - Fetch or pull issue trees").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *fetchConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 && !cfg.Init {
		return fmt.Errorf("%w: usage: issue-sync fetch [--init] <owner/repo#n>...", cli.ErrUsage)
	}
	s, err := cfg.session(cc)
	if err != nil {
		return err
	}
	if cfg.Init && !s.Repo.Initialized() {
		if err := s.Repo.Init(); err != nil {
			return err
		}
		fmt.Fprintf(cc.Out, "Initialized history in %s\n", s.Repo.Dir)
	}
	ctx, stop := interruptible()
	defer stop()

	d := cfg.cfg.Dialect()
	for _, arg := range args {
		id, ok := syncer.ParseRef(arg)
		if !ok {
			return fmt.Errorf("%w: %q is not an issue url or owner/repo#n", cli.ErrUsage, arg)
		}
		path, err := s.Layout.Find(id.Owner, id.Repo, id.Number)
		switch {
		case errors.Is(err, placement.ErrNotFound):
			_, err = s.Fetch(ctx, id, d)
		case err == nil:
			// a stored tree is pulled and merged, never overwritten
			path, err = s.Run(ctx, path, syncer.Options{Pull: true}, nil)
			if err == nil {
				fmt.Fprintf(cc.Out, "Pulled %s to %s\n", id, path)
			}
		}
		if err != nil {
			return report(cc, s, err)
		}
	}
	return nil
}
