package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/scott-cotton/cli"
	"github.com/signadot/issue-sync/config"
	"github.com/signadot/issue-sync/conflict"
	"github.com/signadot/issue-sync/consensus"
	"github.com/signadot/issue-sync/debug"
	"github.com/signadot/issue-sync/editor"
	"github.com/signadot/issue-sync/merge"
	"github.com/signadot/issue-sync/placement"
	"github.com/signadot/issue-sync/remote"
	"github.com/signadot/issue-sync/syncer"
	"github.com/signadot/issue-sync/term"
)

const usageText = `issue-sync - edit GitHub issues as local text files

Usage:
  issue-sync open <target>                 Pull, edit and push an issue tree
  issue-sync fetch <owner/repo#n>...       Fetch issue trees without editing
  issue-sync list [--where <expr>]         List stored issues (open by default)
  issue-sync close <target>                Close an issue
  issue-sync blockers show <target>        Show the current blocker
  issue-sync blockers add <target> <text>  Add a blocker
  issue-sync blockers pop <target>         Remove the current blocker
  issue-sync conflicts                     List unresolved conflicts
  issue-sync config show|init              Show or create the config file

Targets:
  path/to/12_-_Title.md                    An issue file
  https://github.com/owner/repo/issues/12  An issue url
  owner/repo#12                            Shorthand for the url
  owner/repo/Title[/Child]                 Touch path, created when missing
  pattern                                  Substring of a stored issue path

Examples:
  issue-sync fetch --init signadot/issue-sync#12
  issue-sync open signadot/issue-sync#12
  issue-sync open --force=local 12_-_Title
  issue-sync open notes/todo/"Write the docs"
  issue-sync list --where 'has_label("bug") && !pending'
  issue-sync close --duplicate 7 signadot/issue-sync#12`

// MainConfig holds the options shared by every subcommand.
type MainConfig struct {
	Config  string `cli:"name=config aliases=c desc='config file (default: $ISSUE_SYNC_CONFIG or the XDG config dir)'"`
	Verbose bool   `cli:"name=verbose aliases=v desc='log debug output to stderr'"`

	Main *cli.Command

	cfg *config.Config
}

// Root returns the root command for issue-sync.
func Root() *cli.Command {
	cfg := &MainConfig{}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Main, "issue-sync").
		WithSynopsis("issue-sync [opts] command [opts]").
		WithDescription(usageText).
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return mainRun(cfg, cc, args)
		}).
		WithSubs(
			OpenCommand(cfg),
			FetchCommand(cfg),
			ListCommand(cfg),
			CloseCommand(cfg),
			BlockersCommand(cfg),
			ConflictsCommand(cfg),
			ConfigCommand(cfg),
		)
}

func mainRun(cfg *MainConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Main.Parse(cc, args)
	if err != nil {
		return err
	}
	debug.InitLogger(os.Stderr, cfg.Verbose || debug.Enabled())
	if len(args) == 0 {
		return cli.ErrNoCommandProvided
	}
	sub := cfg.Main.FindSub(cc, args[0])
	if sub == nil {
		return fmt.Errorf("%w: %q not found", cli.ErrNoSuchCommand, args[0])
	}
	err = sub.Run(cc, args[1:])
	if errors.Is(err, cli.ErrUsage) {
		sub.Usage(cc, err)
		os.Exit(sub.Exit(cc, err))
	}
	return err
}

// load reads the configuration once.
func (cfg *MainConfig) load() (*config.Config, error) {
	if cfg.cfg != nil {
		return cfg.cfg, nil
	}
	c, err := config.Load(cfg.Config)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(c); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", c.Source, err)
	}
	cfg.cfg = c
	return c, nil
}

// session wires a sync session from the configuration.
func (cfg *MainConfig) session(cc *cli.Context) (*syncer.Session, error) {
	c, err := cfg.load()
	if err != nil {
		return nil, err
	}
	tracker := &conflict.Tracker{Dir: c.ConflictsDir()}
	s := &syncer.Session{
		Client: remote.NewGitHub(remote.GitHubConfig{
			Token:   c.GitHub.Token,
			APIURL:  c.GitHub.APIURL,
			Rate:    c.GitHub.Rate,
			Retries: c.GitHub.Retries,
		}),
		Layout:   placement.Layout{Root: c.IssuesDir()},
		Repo:     &consensus.Repo{Dir: c.IssuesDir(), Tracker: tracker},
		Tracker:  tracker,
		Parallel: c.Fetch.Parallel,
		Out:      cc.Out,
		Colors:   term.For(cc.Out),
	}
	if ed, err := editor.New(c.Editor); err == nil {
		s.Editor = ed
	} else {
		log.Debug().Err(err).Msg("no editor")
	}
	if !s.Repo.Initialized() {
		log.Warn().Str("dir", c.IssuesDir()).Msg("no git history, every sync takes the remote side")
	}
	return s, nil
}

// interruptible returns a context cancelled by ^C.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// report prints what the user needs to act on for err and returns the
// error to exit with.
func report(cc *cli.Context, s *syncer.Session, err error) error {
	var ce *merge.ConflictError
	var be *conflict.BlockedError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syncer.ErrAborted):
		fmt.Fprintln(cc.Out, "Aborted (no changes made)")
		return nil
	case errors.As(err, &ce):
		fmt.Fprint(cc.Out, merge.RenderAll(err, s.Colors))
		fmt.Fprintln(cc.Out, "Resolve the conflict markers, then sync again.")
		return cli.ExitCodeErr(1)
	case errors.As(err, &be):
		fmt.Fprintf(cc.Out, "%s\n", s.Colors.Warn("%v", err))
		fmt.Fprintln(cc.Out, "Resolve the conflict markers in that file first.")
		return cli.ExitCodeErr(1)
	}
	return err
}
