package budget

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"pnvr/internal/core"
)

// BuildReport builds the report with the default prefix table and summary
// lines. It returns core.ErrNoData when items is empty.
func BuildReport(categories []core.Category, subcategories []core.Subcategory, items []core.LineItem) (Report, error) {
	return BuildReportWith(categories, subcategories, items, Options{})
}

// BuildReportWith is BuildReport with a custom prefix table, summary lines or
// observer. The inputs are never modified.
//
// Row order is: categories in input order, subcategories in input order, line
// items in input order, then the summary rows.
func BuildReportWith(categories []core.Category, subcategories []core.Subcategory, items []core.LineItem, opts Options) (Report, error) {
	if len(items) == 0 {
		return Report{}, core.ErrNoData
	}
	opts = opts.withDefaults()

	b := newBuilder(categories, subcategories, len(items)+len(opts.Summaries), opts)
	for _, c := range categories {
		b.addCategory(c)
	}
	for _, s := range subcategories {
		b.addSubcategory(s)
	}
	for _, li := range items {
		b.addItem(li)
	}
	b.applyGroupTotals()
	b.addSummaries(items)

	return Report{Rows: b.rows, CategoryTotals: b.categoryTotals()}, nil
}

type bucketTotal struct {
	value   decimal.Decimal
	touched bool
}

type builder struct {
	opts Options

	catByID    map[int]core.Category
	subcatByID map[int]core.Subcategory

	rows []Row
	// Reconstructed code and description of each row, first occurrence wins.
	byCode map[string]int
	byDesc map[string]int

	groupTotals map[string]decimal.Decimal
	buckets     []bucketTotal
}

func newBuilder(categories []core.Category, subcategories []core.Subcategory, extra int, opts Options) *builder {
	b := &builder{
		opts:        opts,
		catByID:     make(map[int]core.Category, len(categories)),
		subcatByID:  make(map[int]core.Subcategory, len(subcategories)),
		rows:        make([]Row, 0, len(categories)+len(subcategories)+extra),
		byCode:      make(map[string]int),
		byDesc:      make(map[string]int),
		groupTotals: make(map[string]decimal.Decimal),
		buckets:     make([]bucketTotal, len(opts.Prefixes)),
	}
	for _, c := range categories {
		if _, ok := b.catByID[c.ID]; !ok {
			b.catByID[c.ID] = c
		}
	}
	for _, s := range subcategories {
		if _, ok := b.subcatByID[s.ID]; !ok {
			b.subcatByID[s.ID] = s
		}
	}
	return b
}

func (b *builder) emit(key string, row Row) {
	idx := len(b.rows)
	b.rows = append(b.rows, row)
	if _, ok := b.byCode[key]; !ok {
		b.byCode[key] = idx
	}
	if _, ok := b.byDesc[row.Description]; !ok {
		b.byDesc[row.Description] = idx
	}
}

func (b *builder) addCategory(c core.Category) {
	id := strconv.Itoa(c.ID)
	b.emit(id, Row{
		Code:         id,
		Description:  c.Name,
		Level:        LevelCategory,
		CategoryID:   core.IntPtr(c.ID),
		CategoryName: c.Name,
	})
}

func (b *builder) addSubcategory(s core.Subcategory) {
	row := Row{
		Code:            strconv.Itoa(s.ID),
		Description:     s.Name,
		Level:           LevelSubcategory,
		CategoryID:      core.IntPtr(s.CategoryID),
		SubcategoryID:   core.IntPtr(s.ID),
		SubcategoryName: s.Name,
	}
	if c, ok := b.catByID[s.CategoryID]; ok {
		row.ParentName = stringPtr(c.Name)
		row.CategoryName = c.Name
	}
	b.emit(strconv.Itoa(s.CategoryID)+"."+strconv.Itoa(s.ID), row)
}

func (b *builder) addItem(li core.LineItem) {
	row := Row{
		Code:        li.Code,
		Description: li.Description,
		Unit:        li.Unit,
		Quantity:    li.Quantity,
		UnitPrice:   li.UnitPrice,
	}
	if li.CategoryID != nil {
		row.CategoryID = core.IntPtr(*li.CategoryID)
		if c, ok := b.catByID[*li.CategoryID]; ok {
			row.CategoryName = c.Name
		}
	}
	attributed := false
	if li.SubcategoryID != nil {
		row.SubcategoryID = core.IntPtr(*li.SubcategoryID)
		if s, ok := b.subcatByID[*li.SubcategoryID]; ok {
			row.SubcategoryName = s.Name
			attributed = true
		}
	}

	key := li.Code
	segments, ok := parseCode(li.Code)
	if !ok {
		b.opts.Observer.MalformedCode(li.Code, li.Description)
		row.Level = LevelCategory
	} else {
		key = joinCode(segments)
		row.Level = levelOf(segments)
		// A two-segment code filed under a known subcategory is a leaf.
		if row.Level == LevelSubcategory && attributed {
			row.Level = LevelItem
		}
	}

	if row.Level == LevelItem && len(segments) > 1 {
		if idx, found := b.byCode[joinCode(segments[:len(segments)-1])]; found {
			if name := groupName(b.rows[idx]); name != "" {
				row.ParentName = stringPtr(name)
			}
		}
	}

	row.TotalCost = itemCost(li, row.Level)
	if row.Level == LevelItem {
		b.classify(key, row.TotalCost)
	}

	b.emit(key, row)

	if row.Level == LevelItem {
		b.propagate(row)
	}
}

// itemCost is quantity*unit price for leaves with both values set, otherwise
// the stored total.
func itemCost(li core.LineItem, level int) decimal.Decimal {
	if level == LevelItem && !li.Quantity.IsZero() && !li.UnitPrice.IsZero() {
		return li.Quantity.Mul(li.UnitPrice)
	}
	if li.TotalCost.Valid {
		return li.TotalCost.Decimal
	}
	return decimal.Zero
}

// groupName is the name a row lends to its children: the subcategory name
// when it has one, else the category name.
func groupName(r Row) string {
	if r.SubcategoryName != "" {
		return r.SubcategoryName
	}
	return r.CategoryName
}

func (b *builder) classify(code string, cost decimal.Decimal) {
	for i, bucket := range b.opts.Prefixes {
		for _, prefix := range bucket.Prefixes {
			if strings.HasPrefix(code, prefix) {
				b.buckets[i].value = b.buckets[i].value.Add(cost)
				b.buckets[i].touched = true
				return
			}
		}
	}
	b.opts.Observer.UnattributedCost(code, cost)
}

// propagate credits a leaf cost to every ancestor on its parent-name chain and
// to its own category. The tagged subcategory is credited only when the code
// tree gave no parent. Each name is credited at most once per leaf, so the two
// hierarchies only add up twice when they name different categories.
func (b *builder) propagate(row Row) {
	credited := make(map[string]bool, 4)
	credit := func(name string) bool {
		if name == "" || credited[name] {
			return false
		}
		credited[name] = true
		b.groupTotals[name] = b.groupTotals[name].Add(row.TotalCost)
		return true
	}

	if row.ParentName != nil {
		current := *row.ParentName
		credit(current)
		for {
			idx, ok := b.byDesc[current]
			if !ok {
				break
			}
			parent := b.rows[idx].ParentName
			if parent == nil || !credit(*parent) {
				break
			}
			current = *parent
		}
	}

	credit(row.CategoryName)
	if row.ParentName == nil {
		credit(row.SubcategoryName)
	}
}

func (b *builder) applyGroupTotals() {
	for i := range b.rows {
		row := &b.rows[i]
		if row.Level >= LevelItem {
			continue
		}
		if total, ok := b.groupTotals[row.Description]; ok {
			row.TotalCost = total
		}
		row.Quantity = decimal.Zero
		row.UnitPrice = decimal.Zero
	}
}

func (b *builder) addSummaries(items []core.LineItem) {
	emitted := len(b.rows)
	for _, line := range b.opts.Summaries {
		value := decimal.Zero
		for _, row := range b.rows[:emitted] {
			if row.Level == LevelCategory && row.CategoryID != nil && *row.CategoryID == line.CategoryID {
				value = value.Add(row.TotalCost)
			}
		}
		if value.IsZero() {
			value = firstTaggedTotal(items, line.CategoryID)
		}

		name := line.Label
		if c, ok := b.catByID[line.CategoryID]; ok {
			name = c.Name
		}
		b.rows = append(b.rows, Row{
			Code:         strconv.Itoa(line.CategoryID),
			Description:  line.Label,
			TotalCost:    value,
			Level:        LevelCategory,
			CategoryID:   core.IntPtr(line.CategoryID),
			CategoryName: name,
		})
	}
}

func firstTaggedTotal(items []core.LineItem, categoryID int) decimal.Decimal {
	for _, li := range items {
		if li.CategoryID != nil && *li.CategoryID == categoryID {
			if li.TotalCost.Valid {
				return li.TotalCost.Decimal
			}
			return decimal.Zero
		}
	}
	return decimal.Zero
}

func (b *builder) categoryTotals() []CategoryTotal {
	var totals []CategoryTotal
	for i, bucket := range b.opts.Prefixes {
		if !b.buckets[i].touched {
			continue
		}
		totals = append(totals, CategoryTotal{Name: bucket.Name, Value: b.buckets[i].value})
	}
	return totals
}

func stringPtr(s string) *string {
	return &s
}
