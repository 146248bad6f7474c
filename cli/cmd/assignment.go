package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/ndsagent/backend"
	"github.com/justapithecus/ndsagent/cli/config"
	"github.com/justapithecus/ndsagent/cli/render"
	"github.com/justapithecus/ndsagent/iox"
	"github.com/justapithecus/ndsagent/types"
)

// AssignmentRow is one NDS link as the backend assigns it to this agent.
type AssignmentRow struct {
	LinkID    types.ID `json:"link_id"`
	NDSID     types.ID `json:"nds_id"`
	Gateway   string   `json:"gateway"`
	Bound     bool     `json:"bound"`
	MROPath   string   `json:"mro_path"`
	MROFilter string   `json:"mro_filter"`
	MDTPath   string   `json:"mdt_path"`
	MDTFilter string   `json:"mdt_filter"`
}

// AssignmentCommand shows what the backend would have this agent scan,
// without starting anything.
func AssignmentCommand() *cli.Command {
	return &cli.Command{
		Name:  "assignment",
		Usage: "Show the gateway and NDS links assigned to this agent",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
			&cli.StringFlag{Name: "app-id", Usage: "Agent id (derived when shorter than 5 characters)"},
			&cli.StringFlag{Name: "app-name", Usage: "Application name", Value: config.DefaultAppName},
			&cli.StringFlag{Name: "server-protocol", Usage: "Backend protocol: http or https", Value: config.DefaultServerProtocol},
			&cli.StringFlag{Name: "server-host", Usage: "Backend host"},
			&cli.IntFlag{Name: "server-port", Usage: "Backend port"},
		),
		Action: assignmentAction,
	}
}

func assignmentAction(c *cli.Context) error {
	if err := rejectTUI(c, "assignment"); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	file, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	cfg := &config.Config{
		App: config.AppConfig{
			ID:   resolveString(c, "app-id", configVal(file, func(f *config.Config) string { return f.App.ID })),
			Name: resolveString(c, "app-name", configVal(file, func(f *config.Config) string { return f.App.Name })),
		},
		Server: config.ServerConfig{
			Protocol: resolveString(c, "server-protocol", configVal(file, func(f *config.Config) string { return f.Server.Protocol })),
			Host:     resolveString(c, "server-host", configVal(file, func(f *config.Config) string { return f.Server.Host })),
			Port:     resolveInt(c, "server-port", configVal(file, func(f *config.Config) int { return f.Server.Port })),
			Headers:  configVal(file, func(f *config.Config) map[string]string { return f.Server.Headers }),
		},
	}
	if cfg.Server.Host == "" || cfg.Server.Port == 0 {
		return cli.Exit("--server-host and --server-port are required (or server.* in --config)", 1)
	}
	agentID, _ := cfg.ResolveAgentID(config.NodeID())

	bc, err := backend.New(backend.Config{
		BaseURL: backend.BaseURL(cfg.Server.Protocol, cfg.Server.Host, cfg.Server.Port),
		AgentID: agentID,
		Headers: cfg.Server.Headers,
		Timeout: agentRequestTimeout,
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer iox.DiscardClose(bc)

	assignment, err := bc.GetAssignment(c.Context)
	if err != nil {
		return cli.Exit(fmt.Sprintf("agent %s: %v", agentID, err), 1)
	}

	bound := map[types.ID]bool{}
	if assignment.Gateway != nil && assignment.Gateway.ID != "" {
		sources, err := bc.GatewaySources(c.Context, assignment.Gateway.ID)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		for _, s := range sources {
			bound[s.ID] = true
		}
	}
	return r.Render(assignmentRows(assignment, bound))
}

func assignmentRows(a *types.Assignment, bound map[types.ID]bool) []AssignmentRow {
	gateway := ""
	if a.Gateway != nil {
		gateway = a.Gateway.Address()
	}
	rows := make([]AssignmentRow, 0, len(a.NDSLinks))
	for _, link := range a.NDSLinks {
		rows = append(rows, AssignmentRow{
			LinkID:    link.ID,
			NDSID:     link.NDS.ID,
			Gateway:   gateway,
			Bound:     bound[link.NDS.ID],
			MROPath:   link.NDS.MROPath,
			MROFilter: link.NDS.MROFilter,
			MDTPath:   link.NDS.MDTPath,
			MDTFilter: link.NDS.MDTFilter,
		})
	}
	return rows
}
