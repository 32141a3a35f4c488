package google

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pnvr/internal/budget"
	"pnvr/internal/core"
)

// ReportHeader is the first row written under the title line.
var ReportHeader = []any{"Code", "Description", "Unit", "Quantity", "Unit price", "Total cost", "Level", "Parent"}

const maxSheetTitle = 100

// SheetTitle derives the tab name of a convenio. Characters Sheets rejects in
// tab names are replaced.
func SheetTitle(c core.Convenio) string {
	name := c.Code
	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("Convenio %d", c.ID)
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', '*', '?', '/', '\\', ':':
			return '-'
		}
		return r
	}, strings.TrimSpace(name))
	if r := []rune(name); len(r) > maxSheetTitle {
		name = string(r[:maxSheetTitle])
	}
	return name
}

func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// ReportValues lays the report out as a value grid: a title line, the header,
// one line per row with the description indented by level, a blank line and
// the category totals.
func ReportValues(c core.Convenio, r budget.Report) [][]any {
	values := make([][]any, 0, len(r.Rows)+len(r.CategoryTotals)+5)
	values = append(values, []any{c.Code, c.Name})
	values = append(values, ReportHeader)

	for _, row := range r.Rows {
		parent := ""
		if row.ParentName != nil {
			parent = *row.ParentName
		}
		line := []any{
			row.Code,
			strings.Repeat("  ", row.Level) + row.Description,
			row.Unit,
			"",
			"",
			number(row.TotalCost),
			row.Level,
			parent,
		}
		if row.Level == budget.LevelItem {
			line[3] = number(row.Quantity)
			line[4] = number(row.UnitPrice)
		}
		values = append(values, line)
	}

	if len(r.CategoryTotals) > 0 {
		values = append(values, []any{}, []any{"", "Category totals"})
		for _, ct := range r.CategoryTotals {
			values = append(values, []any{"", ct.Name, "", "", "", number(ct.Value)})
		}
	}
	return values
}

// number hands Sheets a float so cells stay numeric.
func number(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}
