package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/onnwee/vod-chat/archive"
	"github.com/onnwee/vod-chat/format"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

// printFormats lists the configured formats and their file name templates.
func printFormats(w io.Writer, set *format.Set) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Format", "Filename", "Comment"})
	for _, name := range set.Names() {
		spec, _ := set.Lookup(name)
		t.AppendRow(table.Row{name, spec.Filename.String(), oneLine(spec.Comment.String())})
	}
	t.AppendFooter(table.Row{"Total", len(set.Names()), "use --format " + format.AllFormats + " to write every format"})
	t.Render()
}

// printSummary prints one row per job or failed channel.
func printSummary(w io.Writer, results []archive.Result) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Target", "State", "Messages", "Files", "Error"})
	failed := 0
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			failed++
			errText = fmt.Sprintf("%s: %v", r.Kind(), r.Err.Err)
		}
		msgs := ""
		if r.Fetched > 0 || r.Written > 0 {
			msgs = fmt.Sprintf("%d/%d", r.Written, r.Fetched)
		}
		t.AppendRow(table.Row{r.Target, r.State, msgs, len(r.Files) + len(r.Skipped), errText})
	}
	t.AppendFooter(table.Row{"Total", len(results), "", "", fmt.Sprintf("%d failed", failed)})
	t.Render()
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", `\n`)
}
