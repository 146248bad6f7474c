// Package render formats agent and journal payloads for the ndsagent CLI.
//
// Without --format, a terminal gets a table and anything else gets json.
// --no-color only affects tables; the TUI has its own palette.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/justapithecus/ndsagent/cli/tui"
	"github.com/justapithecus/ndsagent/journal"
	"github.com/justapithecus/ndsagent/scanner"
	"github.com/justapithecus/ndsagent/server"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// noResults is printed for an empty list in table format.
const noResults = "(no results)"

// ParseFormat parses a --format value. Empty means "pick a default".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer writes payloads in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer reads --format and --no-color from c and writes to the
// app's writer.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatJSON
		if isTerminal(os.Stdout) {
			format = FormatTable
		}
	}

	var out io.Writer = os.Stdout
	if c.App != nil && c.App.Writer != nil {
		out = c.App.Writer
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), out), nil
}

// NewRendererWithWriter creates a renderer writing to out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Render writes data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// RenderTUI starts the interactive view for viewType.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s (supported: %s)",
			viewType, strings.Join(tui.SupportedTUIViews(), ", "))
	}
	return tui.Run(viewType, data)
}

func (r *Renderer) renderTable(data any) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)

	var err error
	switch v := data.(type) {
	case *server.Stats:
		err = writeStats(w, v)
	case []scanner.LoopStatus:
		writeLoops(w, v)
	case []journal.Row:
		writeJournalRows(w, v)
	default:
		err = writeGeneric(w, data)
	}
	if err != nil {
		return err
	}
	return w.Flush()
}

// writeStats prints the agent state, the counters, then the loop table.
func writeStats(w io.Writer, s *server.Stats) error {
	fmt.Fprintf(w, "state:\t%s\n", s.State)
	if err := writeGeneric(w, s.Metrics); err != nil {
		return err
	}
	fmt.Fprintln(w)
	writeLoops(w, s.Loops)
	return nil
}

var loopHeader = []string{"link_id", "source_id", "gateway", "sweeps", "last_outcome", "last_sweep_at", "started_at"}

func writeLoops(w io.Writer, loops []scanner.LoopStatus) {
	if len(loops) == 0 {
		fmt.Fprintln(w, noResults)
		return
	}
	writeRow(w, loopHeader)
	for _, l := range loops {
		writeRow(w, []string{
			l.LinkID.String(),
			l.SourceID.String(),
			l.Gateway,
			strconv.FormatInt(l.Sweeps, 10),
			dash(l.LastOutcome),
			timestamp(l.LastSweepAt),
			timestamp(l.StartedAt),
		})
	}
}

// journalLead are the columns shown first for raw journal rows. Other
// top-level keys follow sorted, then the submitted record flattened as
// record.<field>.
var journalLead = []string{"submitted_at", "batch_id", "source", "category", "outcome", "code"}

func writeJournalRows(w io.Writer, rows []journal.Row) {
	if len(rows) == 0 {
		fmt.Fprintln(w, noResults)
		return
	}

	lead := map[string]bool{}
	for _, k := range journalLead {
		lead[k] = true
	}
	rest := map[string]bool{}
	for _, row := range rows {
		for k, v := range row {
			if k == "record" {
				if rec, ok := v.(map[string]any); ok {
					for rk := range rec {
						rest["record."+rk] = true
					}
				}
				continue
			}
			if !lead[k] {
				rest[k] = true
			}
		}
	}
	header := append(append([]string{}, journalLead...), sortedSet(rest)...)

	writeRow(w, header)
	for _, row := range rows {
		rec, _ := row["record"].(map[string]any)
		cells := make([]string, len(header))
		for i, col := range header {
			if field, ok := strings.CutPrefix(col, "record."); ok {
				cells[i] = cell(rec[field])
				continue
			}
			cells[i] = cell(row[col])
		}
		writeRow(w, cells)
	}
}

// writeGeneric lays out any other payload from its json form, so column
// names follow json tags and field order follows the struct. A list of
// objects becomes a table; an object becomes "key: value" lines.
func writeGeneric(w io.Writer, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	// JSON is YAML; a yaml.Node keeps the key order json.Marshal produced.
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if len(doc.Content) == 0 {
		return nil
	}
	node := doc.Content[0]

	switch node.Kind {
	case yaml.SequenceNode:
		if len(node.Content) == 0 {
			fmt.Fprintln(w, noResults)
			return nil
		}
		header := mappingKeys(node.Content[0])
		if header == nil {
			for _, item := range node.Content {
				fmt.Fprintln(w, nodeCell(item))
			}
			return nil
		}
		writeRow(w, header)
		for _, item := range node.Content {
			values := mappingValues(item)
			cells := make([]string, len(header))
			for i, h := range header {
				cells[i] = values[h]
			}
			writeRow(w, cells)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			fmt.Fprintf(w, "%s:\t%s\n", node.Content[i].Value, nodeCell(node.Content[i+1]))
		}
	default:
		fmt.Fprintln(w, nodeCell(node))
	}
	return nil
}

func mappingKeys(n *yaml.Node) []string {
	if n.Kind != yaml.MappingNode {
		return nil
	}
	keys := make([]string, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		keys = append(keys, n.Content[i].Value)
	}
	return keys
}

func mappingValues(n *yaml.Node) map[string]string {
	values := map[string]string{}
	if n.Kind != yaml.MappingNode {
		return values
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		values[n.Content[i].Value] = nodeCell(n.Content[i+1])
	}
	return values
}

// nodeCell summarizes nested lists and objects instead of printing them.
func nodeCell(n *yaml.Node) string {
	switch n.Kind {
	case yaml.SequenceNode:
		if len(n.Content) == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", len(n.Content))
	case yaml.MappingNode:
		if len(n.Content) == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", len(n.Content)/2)
	default:
		if n.ShortTag() == "!!null" {
			return ""
		}
		return n.Value
	}
}

func cell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		return fmt.Sprintf("[%d items]", len(v))
	case map[string]any:
		return fmt.Sprintf("{%d keys}", len(v))
	default:
		return fmt.Sprint(v)
	}
}

func writeRow(w io.Writer, cells []string) {
	fmt.Fprintln(w, strings.Join(cells, "\t"))
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
