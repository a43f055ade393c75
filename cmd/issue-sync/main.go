package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/gops/agent"
	"github.com/scott-cotton/cli"
	"github.com/signadot/issue-sync/cmd/issue-sync/commands"
	"github.com/signadot/issue-sync/debug"
)

func main() {
	if debug.Gops() {
		if err := agent.Listen(agent.Options{}); err != nil {
			fmt.Fprintf(os.Stderr, "gops agent failed: %v\n", err)
		}
	}
	cli.MainContext(context.Background(), commands.Root())
}
