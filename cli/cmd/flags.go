// Package cmd provides CLI commands for the ndsagent binary.
package cmd

import (
	"os"

	"github.com/urfave/cli/v2"
)

// DefaultAgentURL is where the client commands find a running agent.
const DefaultAgentURL = "http://127.0.0.1:8000"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode (stats only).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (stats only)",
	}

	// ConfigFlag points at an ndsagent.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to ndsagent.yaml config file",
		EnvVars: []string{"NDSAGENT_CONFIG"},
	}

	// AgentURLFlag locates a running agent's HTTP front-end.
	AgentURLFlag = &cli.StringFlag{
		Name:    "agent",
		Usage:   "Base URL of a running agent",
		Value:   DefaultAgentURL,
		EnvVars: []string{"NDSAGENT_URL"},
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// AgentClientFlags returns the read-only flags plus --agent.
func AgentClientFlags() []cli.Flag {
	return append(ReadOnlyFlags(), AgentURLFlag)
}

// isStdoutTTY returns true if stdout is a TTY.
func isStdoutTTY() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// rejectTUI returns an exit error when --tui is set on a command without TUI.
func rejectTUI(c *cli.Context, command string) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for "+command+" command", 1)
	}
	return nil
}
