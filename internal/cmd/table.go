package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// renderTable writes a rounded ASCII table to w
func renderTable(w io.Writer, header []any, rows [][]any) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row(header))
	for _, r := range rows {
		t.AppendRow(table.Row(r))
	}
	_, _ = fmt.Fprintln(w, t.Render())
}
