// Package tui provides the Bubble Tea dashboard for ndsagent stats.
//
// The TUI is opt-in (--tui) and read-only. It shows the same /v1/stats
// payload as the json, table and yaml renderings, refreshed on a timer.
package tui

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/ndsagent/adapter"
	"github.com/justapithecus/ndsagent/types"
)

var (
	okColor    = lipgloss.Color("#16A34A")
	slowColor  = lipgloss.Color("#D97706")
	badColor   = lipgloss.Color("#DC2626")
	dimColor   = lipgloss.Color("#64748B")
	countColor = lipgloss.Color("#2563EB")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(countColor).MarginBottom(1)
	labelStyle   = lipgloss.NewStyle().Foreground(dimColor).Width(11)
	sectionStyle = lipgloss.NewStyle().Bold(true).Underline(true).MarginTop(1)
	footerStyle  = lipgloss.NewStyle().Foreground(dimColor).MarginTop(1)
	errStyle     = lipgloss.NewStyle().Foreground(badColor)

	// One counter cell: a colored left rule, the value, its caption.
	counterStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder(), false, false, false, true).
			PaddingLeft(1).
			Width(15)
)

// stateColor colors the agent lifecycle state.
var stateColor = map[types.AgentState]lipgloss.Color{
	types.StateRunning:  okColor,
	types.StateStarting: slowColor,
	types.StateStopped:  badColor,
}

// outcomeColor colors a loop's last sweep outcome.
var outcomeColor = map[string]lipgloss.Color{
	adapter.OutcomeCompleted: okColor,
	adapter.OutcomeThrottled: slowColor,
	adapter.OutcomeFailed:    badColor,
}

func colored(c lipgloss.Color, s string) string {
	return lipgloss.NewStyle().Foreground(c).Render(s)
}

func stateText(s types.AgentState) string {
	c, ok := stateColor[s]
	if !ok {
		c = dimColor
	}
	return lipgloss.NewStyle().Bold(true).Foreground(c).Render(string(s))
}

func outcomeText(outcome string) string {
	c, ok := outcomeColor[outcome]
	if !ok {
		return colored(dimColor, outcome)
	}
	return colored(c, outcome)
}

func counter(caption string, value int64, c lipgloss.Color) string {
	return counterStyle.BorderForeground(c).Render(
		lipgloss.NewStyle().Bold(true).Foreground(c).Render(strconv.FormatInt(value, 10)) +
			"\n" + colored(dimColor, caption))
}
