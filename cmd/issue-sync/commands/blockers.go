package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/scott-cotton/cli"
	"github.com/signadot/issue-sync/blocker"
	"github.com/signadot/issue-sync/placement"
	"github.com/signadot/issue-sync/syncer"
)

type blockersConfig struct {
	*MainConfig
	Blockers *cli.Command
}

// BlockersCommand returns the blockers subcommand.
func BlockersCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &blockersConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Blockers, "blockers").
		WithAliases("b").
		WithSynopsis("blockers <subcommand>").
		WithDescription("Work with the blockers section of an issue, or with a standalone blockers file.").
		WithSubs(
			blockersShowCommand(cfg),
			blockersAddCommand(cfg),
			blockersPopCommand(cfg),
		)
}

type blockerOpConfig struct {
	*cli.Command
	*blockersConfig
	Offline bool `cli:"name=offline aliases=o desc='store locally, do not contact the remote'"`
}

func blockersShowCommand(bcfg *blockersConfig) *cli.Command {
	cfg := &blockerOpConfig{blockersConfig: bcfg}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "show").
		WithSynopsis("show <target> - Show the current blocker").
		WithOpts(opts...).
		WithRun(cfg.show)
}

func blockersAddCommand(bcfg *blockersConfig) *cli.Command {
	cfg := &blockerOpConfig{blockersConfig: bcfg}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "add").
		WithSynopsis("add <target> <text>... - Add a blocker and sync").
		WithOpts(opts...).
		WithRun(cfg.add)
}

func blockersPopCommand(bcfg *blockersConfig) *cli.Command {
	cfg := &blockerOpConfig{blockersConfig: bcfg}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "pop").
		WithSynopsis("pop <target> - Remove the current blocker and sync").
		WithOpts(opts...).
		WithRun(cfg.pop)
}

// standalone returns the source for a target that is a plain blockers
// file rather than an issue.
func standalone(target string) (blocker.Source, bool) {
	info, err := os.Stat(target)
	if err != nil || info.IsDir() || placement.IsIssueFile(target) {
		return nil, false
	}
	return blocker.SourceFor(target), true
}

func (cfg *blockerOpConfig) show(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: issue-sync blockers show <target>", cli.ErrUsage)
	}
	src, ok := standalone(args[0])
	if !ok {
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
		src = blocker.SourceFor(path)
	}
	seq, err := src.Load()
	if err != nil {
		return err
	}
	cur, headers, ok := seq.Current()
	if !ok {
		fmt.Fprintf(cc.Out, "No blockers in %s\n", src.DisplayName())
		return nil
	}
	if len(headers) > 0 {
		fmt.Fprintf(cc.Out, "%s\n", strings.Join(headers, " > "))
	}
	fmt.Fprintf(cc.Out, "%s- %s\n", strings.Repeat("  ", cur.Depth), cur.Text)
	return nil
}

func (cfg *blockerOpConfig) add(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("%w: usage: issue-sync blockers add <target> <text>...", cli.ErrUsage)
	}
	text := strings.Join(args[1:], " ")
	if src, ok := standalone(args[0]); ok {
		seq, err := src.Load()
		if err != nil {
			return err
		}
		seq.Add(text)
		return src.Save(seq)
	}
	return cfg.modify(cc, args[0], syncer.AddBlocker{Text: text}, func() {
		fmt.Fprintf(cc.Out, "Added blocker %q\n", text)
	})
}

func (cfg *blockerOpConfig) pop(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: issue-sync blockers pop <target>", cli.ErrUsage)
	}
	if src, ok := standalone(args[0]); ok {
		seq, err := src.Load()
		if err != nil {
			return err
		}
		bl, ok := seq.Pop()
		if !ok {
			return syncer.ErrNoBlockers
		}
		fmt.Fprintf(cc.Out, "Popped %q\n", bl.Text)
		return src.Save(seq)
	}
	m := &syncer.PopBlocker{}
	return cfg.modify(cc, args[0], m, func() {
		fmt.Fprintf(cc.Out, "Popped %q\n", m.Popped.Text)
	})
}

// modify syncs target with m applied in place of the editor.
func (cfg *blockerOpConfig) modify(cc *cli.Context, target string, m syncer.Modifier, done func()) error {
	s, err := cfg.session(cc)
	if err != nil {
		return err
	}
	ctx, stop := interruptible()
	defer stop()
	path, err := s.Resolve(ctx, target, syncer.ResolveOptions{Dialect: cfg.cfg.Dialect(), Offline: cfg.Offline})
	if err != nil {
		return report(cc, s, err)
	}
	_, err = s.Run(ctx, path, syncer.Options{Pull: true, Offline: cfg.Offline}, m)
	if errors.Is(err, syncer.ErrNoBlockers) {
		fmt.Fprintf(cc.Out, "No blockers in %s\n", path)
		return nil
	}
	if err != nil {
		return report(cc, s, err)
	}
	done()
	return nil
}
