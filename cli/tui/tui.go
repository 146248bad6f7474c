package tui

import (
	"fmt"
	"time"

	"github.com/justapithecus/ndsagent/server"
)

// ViewStats is the only view with TUI support.
const ViewStats = "stats"

// Run starts the TUI for viewType. data must be a Fetcher, optionally
// preloaded through a *server.Stats via StatsSource.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	switch src := data.(type) {
	case StatsSource:
		return RunStatsTUI(src.Fetch, src.Refresh, src.Initial)
	case Fetcher:
		return RunStatsTUI(src, DefaultRefresh, nil)
	default:
		return fmt.Errorf("invalid data type %T for %s", data, viewType)
	}
}

// StatsSource configures the stats dashboard.
type StatsSource struct {
	Fetch   Fetcher
	Refresh time.Duration
	Initial *server.Stats
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	return viewType == ViewStats
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewStats}
}
