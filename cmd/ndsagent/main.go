// Package main provides the ndsagent CLI entrypoint.
//
// `serve` runs the agent. The other commands are clients: start and stats
// talk to a running agent over HTTP, assignment asks the backend directly,
// and journal reads the batch journal.
//
// Usage:
//
//	ndsagent <command> [subcommand] [options]
//
// Exit codes:
//   - 0: success
//   - 1: any failure (bad configuration, unreachable agent or backend)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/ndsagent/cli/cmd"
	"github.com/justapithecus/ndsagent/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "ndsagent",
		Usage:          "Network data source scan agent",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.StartCommand(),
			cmd.StatsCommand(),
			cmd.AssignmentCommand(),
			cmd.JournalCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for handled errors.
		os.Exit(1)
	}
}

// exitErrHandler prints err and exits with its code.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus maps an action error to a process exit code and the message to
// print. cli.Exit codes pass through, including wrapped ones. Placeholder
// "exit status N" messages are suppressed.
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, "Error: " + err.Error()
}
