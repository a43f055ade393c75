package commands

import (
	"fmt"

	"github.com/scott-cotton/cli"
	"github.com/signadot/issue-sync/filter"
	"github.com/signadot/issue-sync/placement"
)

type listConfig struct {
	*cli.Command
	*MainConfig
	ShowAll bool   `cli:"name=all aliases=a desc='show all issues including closed'"`
	Where   string `cli:"name=where aliases=w desc='only issues matching this expression'"`
	Paths   bool   `cli:"name=paths aliases=p desc='print file paths only'"`
}

// ListCommand returns the list subcommand.
func ListCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &listConfig{MainConfig: mainCfg}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "list").
		WithAliases("ls").
		WithSynopsis("list [--all] [--where <expr>] - List stored issues").
		WithDescription(`The --where expression sees owner, repo, number, title, body, state
(open, closed, not_planned, duplicate), closed, pending, labels, comments,
children, blockers, depth and path, and the functions has_label(labels, l)
and icontains(s, sub).`).
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *listConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 0 {
		return fmt.Errorf("%w: usage: issue-sync list [--all] [--where <expr>]", cli.ErrUsage)
	}
	f, err := filter.Compile(cfg.Where)
	if err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	c, err := cfg.load()
	if err != nil {
		return err
	}
	entries, err := filter.Scan(placement.Layout{Root: c.IssuesDir()}, f, cfg.ShowAll)
	if err != nil {
		return fmt.Errorf("failed to list issues: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cc.Out, "No issues found")
		return nil
	}
	for _, e := range entries {
		if cfg.Paths {
			fmt.Fprintln(cc.Out, e.Path)
			continue
		}
		fmt.Fprintln(cc.Out, e.OneLine())
	}
	return nil
}
