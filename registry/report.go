package registry

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderReport writes a human-readable run summary to w: one row per
// record, then the totals. The manifest stays the machine-readable
// artifact; this is for the operator watching the run.
func RenderReport(w io.Writer, r *RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Record", "License Start", "Status", "Files", "Detail"})
	for _, out := range r.Outcomes {
		detail := ""
		if out.Err != nil {
			detail = out.Err.Error()
		}
		t.AppendRow(table.Row{
			out.Record.ID,
			out.Record.LicenseStart.Format(dateLayout),
			out.Status,
			out.Files,
			detail,
		})
	}
	t.AppendFooter(table.Row{"run " + r.RunID, "", r.Status, r.FilesSaved, r.ManifestPath})
	t.Render()
}
