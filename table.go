package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// reportHeader labels the host capability report.
var reportHeader = table.Row{"Component", "Selected", "Detail"}

// renderReport draws capability rows as a rounded table. Short rows are
// padded, and the detail column wraps so long tool paths stay readable.
func renderReport(rows [][]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(reportHeader)
	for _, row := range rows {
		cells := make(table.Row, len(reportHeader))
		for i := range cells {
			cells[i] = ""
			if i < len(row) {
				cells[i] = row[i]
			}
		}
		tw.AppendRow(cells)
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Selected", AlignHeader: text.AlignLeft},
		{Name: "Detail", WidthMax: 60},
	})
	return tw.Render()
}
