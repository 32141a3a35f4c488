package memory

import (
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"pnvr/internal/core"
)

type seedFile struct {
	Convenios []seedConvenio `yaml:"convenios"`
}

type seedConvenio struct {
	ID            int               `yaml:"id"`
	Code          string            `yaml:"code"`
	Name          string            `yaml:"name"`
	Categories    []seedCategory    `yaml:"categories"`
	Subcategories []seedSubcategory `yaml:"subcategories"`
	Items         []seedItem        `yaml:"items"`
}

type seedCategory struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

type seedSubcategory struct {
	ID         int    `yaml:"id"`
	CategoryID int    `yaml:"category_id"`
	Name       string `yaml:"name"`
}

// Amounts are read as strings so "0.1" stays exact.
type seedItem struct {
	Code          string  `yaml:"code"`
	Description   string  `yaml:"description"`
	Unit          string  `yaml:"unit"`
	Quantity      string  `yaml:"quantity"`
	UnitPrice     string  `yaml:"unit_price"`
	TotalCost     *string `yaml:"total_cost"`
	CategoryID    *int    `yaml:"category_id"`
	SubcategoryID *int    `yaml:"subcategory_id"`
}

// ParseSeed decodes a YAML seed document into budgets.
func ParseSeed(r io.Reader) ([]core.BudgetInput, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	out := make([]core.BudgetInput, 0, len(f.Convenios))
	for _, sc := range f.Convenios {
		in := core.BudgetInput{Convenio: core.Convenio{ID: sc.ID, Code: sc.Code, Name: sc.Name}}
		for _, c := range sc.Categories {
			in.Categories = append(in.Categories, core.Category{ID: c.ID, Name: c.Name})
		}
		for _, s := range sc.Subcategories {
			in.Subcategories = append(in.Subcategories, core.Subcategory{ID: s.ID, CategoryID: s.CategoryID, Name: s.Name})
		}
		for _, it := range sc.Items {
			li, err := it.lineItem()
			if err != nil {
				return nil, fmt.Errorf("convenio %d item %q: %w", sc.ID, it.Code, err)
			}
			in.LineItems = append(in.LineItems, li)
		}
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("convenio %d: %w", sc.ID, err)
		}
		out = append(out, in)
	}
	return out, nil
}

func (it seedItem) lineItem() (core.LineItem, error) {
	li := core.LineItem{
		Code:          it.Code,
		Description:   it.Description,
		Unit:          it.Unit,
		CategoryID:    it.CategoryID,
		SubcategoryID: it.SubcategoryID,
	}
	var err error
	if li.Quantity, err = parseAmount(it.Quantity); err != nil {
		return li, fmt.Errorf("quantity: %w", err)
	}
	if li.UnitPrice, err = parseAmount(it.UnitPrice); err != nil {
		return li, fmt.Errorf("unit_price: %w", err)
	}
	if it.TotalCost != nil {
		t, err := parseAmount(*it.TotalCost)
		if err != nil {
			return li, fmt.Errorf("total_cost: %w", err)
		}
		li.TotalCost = decimal.NewNullDecimal(t)
	}
	return li, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// NewFromFile loads a store from a YAML seed. An empty path yields the
// built-in demo budget.
func NewFromFile(path string) (*Store, error) {
	var budgets []core.BudgetInput
	if path == "" {
		budgets = DemoBudgets()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open seed file: %w", err)
		}
		defer f.Close()
		if budgets, err = ParseSeed(f); err != nil {
			return nil, err
		}
	}

	s := New()
	for _, in := range budgets {
		if err := s.Put(in); err != nil {
			return nil, fmt.Errorf("seed convenio %d: %w", in.Convenio.ID, err)
		}
	}
	return s, nil
}

// DemoBudgets is a small rural-housing budget used when no seed is given.
func DemoBudgets() []core.BudgetInput {
	d := decimal.RequireFromString
	return []core.BudgetInput{{
		Convenio: core.Convenio{ID: 1, Code: "PNVR-DEMO-001", Name: "Modulo de vivienda rural"},
		Categories: []core.Category{
			{ID: 101, Name: "Labor"},
			{ID: 201, Name: "Materials"},
			{ID: 301, Name: "Equipment"},
		},
		Subcategories: []core.Subcategory{
			{ID: 1, CategoryID: 101, Name: "Skilled labor"},
			{ID: 3, CategoryID: 201, Name: "Cement and aggregates"},
			{ID: 4, CategoryID: 201, Name: "Steel"},
			{ID: 7, CategoryID: 301, Name: "Tools"},
		},
		LineItems: []core.LineItem{
			{Code: "101.1.1", Description: "Operario", Unit: "hh", Quantity: d("96"), UnitPrice: d("25.50"), CategoryID: core.IntPtr(101), SubcategoryID: core.IntPtr(1)},
			{Code: "101.1.2", Description: "Peon", Unit: "hh", Quantity: d("192"), UnitPrice: d("18.75"), CategoryID: core.IntPtr(101), SubcategoryID: core.IntPtr(1)},
			{Code: "201.3.1", Description: "Cemento portland tipo I", Unit: "bls", Quantity: d("85"), UnitPrice: d("29.90"), CategoryID: core.IntPtr(201), SubcategoryID: core.IntPtr(3)},
			{Code: "201.3.2", Description: "Arena gruesa", Unit: "m3", Quantity: d("6.5"), UnitPrice: d("65"), CategoryID: core.IntPtr(201), SubcategoryID: core.IntPtr(3)},
			{Code: "201.4.1", Description: "Fierro corrugado 1/2", Unit: "var", Quantity: d("120"), UnitPrice: d("45.10"), CategoryID: core.IntPtr(201), SubcategoryID: core.IntPtr(4)},
			{Code: "301.7.1", Description: "Herramientas manuales", Unit: "glb", TotalCost: decimal.NewNullDecimal(d("350")), CategoryID: core.IntPtr(301), SubcategoryID: core.IntPtr(7)},
		},
	}}
}
