package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/ndsagent/cli/render"
	"github.com/justapithecus/ndsagent/cli/tui"
	"github.com/justapithecus/ndsagent/scanner"
	"github.com/justapithecus/ndsagent/server"
)

// StatsCommand returns the stats command with subcommands.
// Without a subcommand it shows the full summary.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show agent state, sweep counters and active loops",
		Flags: append(AgentClientFlags(), &cli.DurationFlag{
			Name:  "refresh",
			Usage: "TUI refresh interval",
			Value: tui.DefaultRefresh,
		}),
		Action: statsAction,
		Subcommands: []*cli.Command{
			{
				Name:   "metrics",
				Usage:  "Show sweep and batch counters",
				Flags:  AgentClientFlags(),
				Action: statsMetricsAction,
			},
			{
				Name:   "loops",
				Usage:  "Show active scan loops",
				Flags:  AgentClientFlags(),
				Action: statsLoopsAction,
			},
		},
	}
}

func statsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	agent := newAgentClient(c.String("agent"))
	stats, err := agent.stats(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("tui") {
		if !isStdoutTTY() {
			// No terminal to drive; print one frame.
			_, err := fmt.Fprintln(c.App.Writer, tui.RenderStatsStatic(stats))
			return err
		}
		return r.RenderTUI(tui.ViewStats, tui.StatsSource{
			Fetch: func(ctx context.Context) (*server.Stats, error) {
				return agent.stats(ctx)
			},
			Refresh: c.Duration("refresh"),
			Initial: stats,
		})
	}
	return r.Render(stats)
}

func statsMetricsAction(c *cli.Context) error {
	if err := rejectTUI(c, "stats metrics"); err != nil {
		return err
	}
	stats, r, err := fetchStats(c)
	if err != nil {
		return err
	}
	return r.Render(stats.Metrics)
}

func statsLoopsAction(c *cli.Context) error {
	if err := rejectTUI(c, "stats loops"); err != nil {
		return err
	}
	stats, r, err := fetchStats(c)
	if err != nil {
		return err
	}
	loops := stats.Loops
	if loops == nil {
		loops = []scanner.LoopStatus{}
	}
	return r.Render(loops)
}

func fetchStats(c *cli.Context) (*server.Stats, *render.Renderer, error) {
	r, err := render.NewRenderer(c)
	if err != nil {
		return nil, nil, err
	}
	stats, err := newAgentClient(c.String("agent")).stats(c.Context)
	if err != nil {
		return nil, nil, cli.Exit(err.Error(), 1)
	}
	return stats, r, nil
}
