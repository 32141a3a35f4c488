// Package budget turns the flat budget tables of one convenio into the
// display-ordered report: categories, subcategories and line items flattened
// into level-annotated rows, with leaf costs rolled up into their ancestors,
// per-bucket category totals and the fixed summary rows.
package budget

import (
	"github.com/shopspring/decimal"
)

// Row is one line of the report. Level 0 and 1 rows are aggregates; only
// level 2 rows carry a unit-priced cost.
type Row struct {
	Code            string
	Description     string
	Unit            string
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	TotalCost       decimal.Decimal
	Level           int
	ParentName      *string
	CategoryID      *int
	SubcategoryID   *int
	CategoryName    string
	SubcategoryName string
}

// CategoryTotal is the accumulated leaf cost of one prefix bucket.
type CategoryTotal struct {
	Name  string
	Value decimal.Decimal
}

// Report is the result of BuildReport.
type Report struct {
	Rows           []Row
	CategoryTotals []CategoryTotal
}

// LeafTotal returns the sum of all level 2 row costs.
func (r Report) LeafTotal() decimal.Decimal {
	total := decimal.Zero
	for _, row := range r.Rows {
		if row.Level == LevelItem {
			total = total.Add(row.TotalCost)
		}
	}
	return total
}

const (
	LevelCategory    = 0
	LevelSubcategory = 1
	LevelItem        = 2
)

// PrefixBucket maps a category bucket name to the code prefixes it owns.
type PrefixBucket struct {
	Name     string
	Prefixes []string
}

// SummaryLine is one of the synthetic rows appended after the line items.
type SummaryLine struct {
	CategoryID int
	Label      string
}

// Category ids reserved for the summary rows.
const (
	SummaryDirectCost   = 6
	SummaryIndirectCost = 7
	SummaryTotalCost    = 8
	SummaryContribution = 9
	SummaryFinancing    = 10
)

// DefaultPrefixTable classifies leaf codes into cost buckets. The first bucket
// with a matching prefix wins.
var DefaultPrefixTable = []PrefixBucket{
	{Name: "Materials", Prefixes: []string{"201", "202", "203", "204"}},
	{Name: "Labor", Prefixes: []string{"101", "102"}},
	{Name: "Equipment", Prefixes: []string{"301", "302", "303"}},
	{Name: "Freight", Prefixes: []string{"401"}},
}

// DefaultSummaryLines are appended in this order after every report.
var DefaultSummaryLines = []SummaryLine{
	{CategoryID: SummaryDirectCost, Label: "Direct cost"},
	{CategoryID: SummaryIndirectCost, Label: "Indirect cost"},
	{CategoryID: SummaryTotalCost, Label: "Total cost"},
	{CategoryID: SummaryContribution, Label: "Beneficiary contribution"},
	{CategoryID: SummaryFinancing, Label: "Program financing"},
}

// Observer receives the non-fatal anomalies found while building a report.
type Observer interface {
	// MalformedCode is called for a line item whose code is not a dotted
	// list of integers. The item is reported at level 0 without parent.
	MalformedCode(code, description string)
	// UnattributedCost is called for a leaf whose code matches no bucket.
	UnattributedCost(code string, cost decimal.Decimal)
}

// Options customises BuildReportWith. Zero fields fall back to the defaults.
type Options struct {
	Prefixes  []PrefixBucket
	Summaries []SummaryLine
	Observer  Observer
}

func (o Options) withDefaults() Options {
	if o.Prefixes == nil {
		o.Prefixes = DefaultPrefixTable
	}
	if o.Summaries == nil {
		o.Summaries = DefaultSummaryLines
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

type nopObserver struct{}

func (nopObserver) MalformedCode(string, string)            {}
func (nopObserver) UnattributedCost(string, decimal.Decimal) {}
