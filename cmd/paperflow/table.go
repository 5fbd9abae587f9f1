package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one table column. Numeric columns are right aligned;
// a positive wrap soft-wraps long cells such as error text.
type column struct {
	title   string
	numeric bool
	wrap    int
}

func col(title string) column    { return column{title: title} }
func numCol(title string) column { return column{title: title, numeric: true} }
func wrapCol(title string, width int) column {
	return column{title: title, wrap: width}
}

// renderTable renders rows under cols; short rows are padded. A non-nil
// footer is rendered below the rows.
func renderTable(cols []column, rows [][]string, footer []string) string {
	if len(cols) == 0 {
		return ""
	}
	toRow := func(cells []string) table.Row {
		r := make(table.Row, len(cols))
		for i := range cols {
			r[i] = ""
			if i < len(cells) {
				r[i] = cells[i]
			}
		}
		return r
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	header := make([]string, len(cols))
	configs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		header[i] = c.title
		cfg := table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if c.numeric {
			cfg.Align = text.AlignRight
			cfg.AlignFooter = text.AlignRight
		}
		if c.wrap > 0 {
			cfg.WidthMax = c.wrap
			cfg.WidthMaxEnforcer = text.WrapSoft
		}
		configs[i] = cfg
	}
	tw.AppendHeader(toRow(header))
	for _, row := range rows {
		tw.AppendRow(toRow(row))
	}
	if footer != nil {
		tw.AppendFooter(toRow(footer))
	}
	tw.SetColumnConfigs(configs)
	return tw.Render() + "\n"
}
