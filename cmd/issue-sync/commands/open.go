package commands

import (
	"fmt"

	"github.com/scott-cotton/cli"
	"github.com/signadot/issue-sync/merge"
	"github.com/signadot/issue-sync/syncer"
)

type openConfig struct {
	*cli.Command
	*MainConfig
	NoPull    bool   `cli:"name=no-pull desc='edit without pulling first'"`
	Offline   bool   `cli:"name=offline aliases=o desc='store locally, do not contact the remote'"`
	Virtual   bool   `cli:"name=virtual desc='create missing touch paths in a local-only project'"`
	Force     string `cli:"name=force desc='take this side (local|remote) where both changed'"`
	Reset     string `cli:"name=reset desc='take this side (local|remote) for the whole tree'"`
	AtBlocker bool   `cli:"name=at-blocker aliases=b desc='open the editor at the current blocker'"`
}

// OpenCommand returns the open subcommand.
func OpenCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &openConfig{MainConfig: mainCfg}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "open").
		WithAliases("o", "edit").
		WithSynopsis("open <target> [--force|--reset local|remote] - Pull, edit and push an issue tree").
		WithOpts(opts...).
		WithRun(cfg.run)
}

// mode builds the merge mode from --force and --reset.
func mode(force, reset string) (merge.Mode, error) {
	if force != "" && reset != "" {
		return merge.Mode{}, fmt.Errorf("%w: --force and --reset are exclusive", cli.ErrUsage)
	}
	var m merge.Mode
	side := force
	switch {
	case force != "":
		m.Kind = merge.Force
	case reset != "":
		m.Kind = merge.Reset
		side = reset
	default:
		return m, nil
	}
	p, err := merge.ParseSide(side)
	if err != nil {
		return m, fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	m.Prefer = p
	return m, nil
}

func (cfg *openConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: issue-sync open <target>", cli.ErrUsage)
	}
	m, err := mode(cfg.Force, cfg.Reset)
	if err != nil {
		return err
	}
	s, err := cfg.session(cc)
	if err != nil {
		return err
	}
	ctx, stop := interruptible()
	defer stop()

	path, err := s.Resolve(ctx, args[0], syncer.ResolveOptions{
		Dialect: cfg.cfg.Dialect(),
		Offline: cfg.Offline,
		Virtual: cfg.Virtual,
	})
	if err != nil {
		return report(cc, s, err)
	}
	opts := syncer.Options{Mode: m, Pull: !cfg.NoPull, Offline: cfg.Offline}
	after, err := s.Run(ctx, path, opts, syncer.Edit{AtBlocker: cfg.AtBlocker})
	if err != nil {
		return report(cc, s, err)
	}
	if after != "" {
		fmt.Fprintf(cc.Out, "Synced %s\n", after)
	}
	return nil
}
