package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/ndsagent/cli/config"
	"github.com/justapithecus/ndsagent/cli/render"
	"github.com/justapithecus/ndsagent/iox"
	"github.com/justapithecus/ndsagent/journal"
	"github.com/justapithecus/ndsagent/types"
)

// JournalEntry is the summary view of one journaled record.
type JournalEntry struct {
	SubmittedAt string `json:"submitted_at"`
	BatchID     string `json:"batch_id"`
	Source      string `json:"source"`
	Category    string `json:"category"`
	Outcome     string `json:"outcome"`
	Code        string `json:"code"`
	Path        string `json:"path"`
}

// JournalCommand queries the batch journal written by serve.
func JournalCommand() *cli.Command {
	return &cli.Command{
		Name:  "journal",
		Usage: "Query submitted batch records from the journal",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
			&cli.StringFlag{Name: "journal-backend", Usage: "Journal backend: fs or s3"},
			&cli.StringFlag{Name: "journal-path", Usage: "Journal location (fs: directory, s3: bucket/prefix)"},
			&cli.StringFlag{Name: "journal-dataset", Usage: "Journal dataset id", Value: journal.DefaultDataset},
			&cli.StringFlag{Name: "journal-region", Usage: "AWS region for the s3 journal"},
			&cli.StringFlag{Name: "journal-endpoint", Usage: "Custom S3 endpoint"},
			&cli.BoolFlag{Name: "journal-s3-path-style", Usage: "Use path-style S3 addressing"},
			&cli.StringFlag{Name: "source", Usage: "Filter by NDS id"},
			&cli.StringFlag{Name: "category", Usage: "Filter by category: MRO or MDT"},
			&cli.StringFlag{Name: "day", Usage: "Filter by submit day (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "outcome", Usage: "Filter by outcome: accepted, throttled, rejected, failed"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum rows (0 = no limit)", Value: 50},
			&cli.BoolFlag{Name: "full", Usage: "Emit raw journal rows instead of the summary"},
		),
		Action: journalAction,
	}
}

func journalAction(c *cli.Context) error {
	if err := rejectTUI(c, "journal"); err != nil {
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
	jc := config.JournalConfig{
		Backend:     resolveString(c, "journal-backend", configVal(file, func(f *config.Config) string { return f.Journal.Backend })),
		Path:        resolveString(c, "journal-path", configVal(file, func(f *config.Config) string { return f.Journal.Path })),
		Dataset:     resolveString(c, "journal-dataset", configVal(file, func(f *config.Config) string { return f.Journal.Dataset })),
		Region:      resolveString(c, "journal-region", configVal(file, func(f *config.Config) string { return f.Journal.Region })),
		Endpoint:    resolveString(c, "journal-endpoint", configVal(file, func(f *config.Config) string { return f.Journal.Endpoint })),
		S3PathStyle: resolveBool(c, "journal-s3-path-style", configVal(file, func(f *config.Config) bool { return f.Journal.S3PathStyle })),
	}
	if jc.Backend == "" {
		return cli.Exit("--journal-backend is required (or journal.backend in --config)", 1)
	}
	if jc.Path == "" {
		return cli.Exit("--journal-path is required (or journal.path in --config)", 1)
	}
	if day := c.String("day"); day != "" {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return cli.Exit(fmt.Sprintf("invalid --day %q: expected YYYY-MM-DD", day), 1)
		}
	}

	j, err := buildJournal(c.Context, jc, "")
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open journal: %v", err), 1)
	}
	defer iox.DiscardClose(j)

	rows, err := j.Query(c.Context, journal.Filter{
		Source:   c.String("source"),
		Category: c.String("category"),
		Day:      c.String("day"),
		Outcome:  c.String("outcome"),
		Limit:    c.Int("limit"),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("journal query failed: %v", err), 1)
	}

	if c.Bool("full") {
		if rows == nil {
			rows = []journal.Row{}
		}
		return r.Render(rows)
	}
	return r.Render(summarizeRows(rows))
}

func summarizeRows(rows []journal.Row) []JournalEntry {
	entries := make([]JournalEntry, 0, len(rows))
	for _, row := range rows {
		e := JournalEntry{
			SubmittedAt: stringField(row, "submitted_at"),
			BatchID:     stringField(row, "batch_id"),
			Source:      stringField(row, "source"),
			Category:    stringField(row, "category"),
			Outcome:     stringField(row, "outcome"),
			Code:        stringField(row, "code"),
		}
		if rec, ok := row["record"].(map[string]any); ok {
			e.Path, _ = rec[types.FieldFilePath].(string)
		}
		entries = append(entries, e)
	}
	return entries
}

func stringField(row journal.Row, key string) string {
	switch v := row[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
