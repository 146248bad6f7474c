package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/ndsagent/cli/render"
)

// StartResult is the rendered outcome of a start request.
type StartResult struct {
	Agent  string `json:"agent"`
	Result string `json:"result"`
}

// StartCommand asks a running agent to start scanning.
func StartCommand() *cli.Command {
	return &cli.Command{
		Name:   "start",
		Usage:  "Start scanning on a running agent",
		Flags:  AgentClientFlags(),
		Action: startAction,
	}
}

func startAction(c *cli.Context) error {
	if err := rejectTUI(c, "start"); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	agent := newAgentClient(c.String("agent"))
	var result string
	if _, err := agent.get(c.Context, "/v1/control/start", &result); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(StartResult{Agent: agent.baseURL, Result: result})
}
