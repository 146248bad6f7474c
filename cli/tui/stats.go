package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/ndsagent/adapter"
	"github.com/justapithecus/ndsagent/server"
)

// DefaultRefresh is the dashboard poll interval.
const DefaultRefresh = 2 * time.Second

// fetchTimeout bounds one stats poll.
const fetchTimeout = 5 * time.Second

// Fetcher loads the current stats payload from a running agent.
type Fetcher func(ctx context.Context) (*server.Stats, error)

type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
}

// statsMsg carries one poll result.
type statsMsg struct {
	stats *server.Stats
	err   error
}

// tickMsg schedules the next poll.
type tickMsg time.Time

// StatsModel is a Bubble Tea model for the agent stats dashboard.
type StatsModel struct {
	fetch    Fetcher
	refresh  time.Duration
	stats    *server.Stats
	err      error
	updated  time.Time
	loops    table.Model
	width    int
	quitting bool
}

var loopColumns = []table.Column{
	{Title: "Link", Width: 8},
	{Title: "NDS", Width: 10},
	{Title: "Gateway", Width: 22},
	{Title: "Sweeps", Width: 8},
	{Title: "Last outcome", Width: 13},
	{Title: "Last sweep", Width: 20},
}

// NewStatsModel creates a dashboard model. initial may be nil.
func NewStatsModel(fetch Fetcher, refresh time.Duration, initial *server.Stats) StatsModel {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	m := StatsModel{
		fetch:   fetch,
		refresh: refresh,
		loops: table.New(
			table.WithColumns(loopColumns),
			table.WithHeight(8),
		),
	}
	if initial != nil {
		m = m.apply(statsMsg{stats: initial})
	}
	return m
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return m.poll()
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			return m, m.poll()
		}

	case statsMsg:
		m = m.apply(msg)
		return m, tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })

	case tickMsg:
		return m, m.poll()
	}

	return m, nil
}

func (m StatsModel) apply(msg statsMsg) StatsModel {
	m.err = msg.err
	if msg.err != nil {
		return m
	}
	m.stats = msg.stats
	m.updated = time.Now()
	m.loops.SetRows(loopRows(msg.stats))
	return m
}

func (m StatsModel) poll() tea.Cmd {
	if m.fetch == nil {
		return nil
	}
	fetch := m.fetch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		stats, err := fetch(ctx)
		return statsMsg{stats: stats, err: err}
	}
}

func loopRows(s *server.Stats) []table.Row {
	if s == nil {
		return nil
	}
	rows := make([]table.Row, 0, len(s.Loops))
	for _, l := range s.Loops {
		last := "-"
		if !l.LastSweepAt.IsZero() {
			last = l.LastSweepAt.Local().Format("2006-01-02 15:04:05")
		}
		outcome := l.LastOutcome
		if outcome == "" {
			outcome = "-"
		}
		rows = append(rows, table.Row{
			l.LinkID.String(),
			l.SourceID.String(),
			l.Gateway,
			fmt.Sprintf("%d", l.Sweeps),
			outcome,
			last,
		})
	}
	return rows
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("NDS Agent Statistics"))
	b.WriteString("\n")

	if m.stats == nil {
		if m.err != nil {
			b.WriteString(errStyle.Render("Error: " + m.err.Error()))
		} else {
			b.WriteString(labelStyle.Render("Loading..."))
		}
		b.WriteString("\n")
		b.WriteString(footerStyle.Render("Press q or Ctrl+C to quit"))
		return b.String()
	}

	s := m.stats
	mx := s.Metrics
	fmt.Fprintf(&b, "%s%s   %s%s\n",
		labelStyle.Render("State"), stateText(s.State),
		labelStyle.Render("Agent"), mx.AgentID)
	fmt.Fprintf(&b, "%s%s   %s%s\n",
		labelStyle.Render("Storage"), mx.StorageBackend,
		labelStyle.Render("Adapter"), mx.Adapter)

	b.WriteString(sectionStyle.Render("Sweeps"))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		counter("started", mx.SweepsStarted, countColor),
		counter("completed", mx.SweepsCompleted, okColor),
		counter("failed", mx.SweepsFailed, badColor),
		counter("unseen files", mx.Unseen, countColor),
	))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Batches"))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		counter("accepted", mx.BatchesAccepted, okColor),
		counter("throttled", mx.BatchesThrottled, slowColor),
		counter("rejected", mx.BatchesRejected, badColor),
		counter("failed", mx.BatchesFailed, badColor),
	))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s%d records   %s%d records\n",
		labelStyle.Render("Submitted"), mx.RecordsSubmitted,
		labelStyle.Render("Dropped"), mx.RecordsDropped)
	if mx.JournalWriteFailure > 0 {
		b.WriteString(errStyle.Render(fmt.Sprintf("journal writes failing: %d", mx.JournalWriteFailure)))
		b.WriteString("\n")
	}

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Loops (%d)", len(s.Loops))))
	b.WriteString("\n")
	if tally := outcomeTally(s); tally != "" {
		b.WriteString(tally)
		b.WriteString("\n")
	}
	b.WriteString(m.loops.View())
	b.WriteString("\n")

	status := "Updated " + m.updated.Format("15:04:05")
	if m.err != nil {
		status += "  " + errStyle.Render("refresh failed: "+m.err.Error())
	}
	b.WriteString(footerStyle.Render(status + "  |  r refresh  q quit"))
	return b.String()
}

// outcomeTally counts loops by last sweep outcome, in a fixed order.
// Loops that have not finished a sweep are left out.
func outcomeTally(s *server.Stats) string {
	counts := map[string]int{}
	for _, l := range s.Loops {
		if l.LastOutcome != "" {
			counts[l.LastOutcome]++
		}
	}
	var parts []string
	for _, o := range []string{adapter.OutcomeCompleted, adapter.OutcomeThrottled, adapter.OutcomeFailed} {
		if n := counts[o]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, outcomeText(o)))
		}
	}
	return strings.Join(parts, "  ")
}

// RunStatsTUI runs the stats dashboard until the user quits.
func RunStatsTUI(fetch Fetcher, refresh time.Duration, initial *server.Stats) error {
	model := NewStatsModel(fetch, refresh, initial)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders one stats payload without the full TUI.
func RenderStatsStatic(stats *server.Stats) string {
	model := NewStatsModel(nil, 0, stats)
	model.width = 80
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
