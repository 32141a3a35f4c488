package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type (
	// Convenio is the agreement that scopes a budget.
	Convenio struct {
		ID   int
		Code string
		Name string
	}

	Category struct {
		ID   int
		Name string
	}

	Subcategory struct {
		ID         int
		CategoryID int
		Name       string
	}

	// LineItem is a budget entry with a dotted hierarchical code ("201.3.5").
	// TotalCost, CategoryID and SubcategoryID are nullable in storage.
	LineItem struct {
		Code          string
		Description   string
		Unit          string
		Quantity      decimal.Decimal
		UnitPrice     decimal.Decimal
		TotalCost     decimal.NullDecimal
		CategoryID    *int
		SubcategoryID *int
	}

	// BudgetInput is the snapshot a persistence backend returns for one convenio.
	BudgetInput struct {
		Convenio      Convenio
		Categories    []Category
		Subcategories []Subcategory
		LineItems     []LineItem
	}

	// ExportJob tracks one request to copy a convenio report to the
	// spreadsheet. Ref is the external id handed back to the caller.
	ExportJob struct {
		ID         int64
		ConvenioID int
		Ref        string
		Status     ExportStatus
		Attempts   int
		LastError  string
		CreatedAt  time.Time
		ExportedAt *time.Time
	}

	ExportStatus string
)

const (
	ExportPending  ExportStatus = "pending"
	ExportDone     ExportStatus = "exported"
	ExportFailed   ExportStatus = "failed"
	MaxExportTries              = 5
)

var (
	ErrNoData            = errors.New("no budget items found for this agreement")
	ErrConvenioNotFound  = errors.New("convenio not found")
	ErrInvalidConvenioID = errors.New("invalid convenio id")
	ErrEmptyCode         = errors.New("empty line item code")
	ErrEmptyName         = errors.New("empty name")
	ErrExportJobNotFound = errors.New("export job not found")
)

// IntPtr returns a pointer to v. Handy for nullable foreign keys in fixtures.
func IntPtr(v int) *int {
	return &v
}

// ParseConvenioID validates a path or query value as a convenio id.
func ParseConvenioID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id <= 0 {
		return 0, ErrInvalidConvenioID
	}
	return id, nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

func (s Subcategory) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

// Validate checks every category, subcategory and line item of the snapshot.
func (in BudgetInput) Validate() error {
	for i, c := range in.Categories {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("category %d (id %d): %w", i, c.ID, err)
		}
	}
	for i, s := range in.Subcategories {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("subcategory %d (id %d): %w", i, s.ID, err)
		}
	}
	for i, li := range in.LineItems {
		if err := li.Validate(); err != nil {
			return fmt.Errorf("line item %d (%q): %w", i, li.Code, err)
		}
	}
	return nil
}

// Validate checks the fields a line item must carry to be stored. The code is
// only required to be non-empty; the rollup copes with malformed codes.
func (li LineItem) Validate() error {
	if strings.TrimSpace(li.Code) == "" {
		return ErrEmptyCode
	}
	if len(li.Description) > 500 {
		return errors.New("description too long (max 500 characters)")
	}
	if li.Quantity.IsNegative() || li.UnitPrice.IsNegative() {
		return errors.New("quantity and unit price must not be negative")
	}
	return nil
}
