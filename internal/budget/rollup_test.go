package budget

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"pnvr/internal/core"
)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func stored(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func item(code, desc string, qty, price string, cat, sub int) core.LineItem {
	li := core.LineItem{
		Code:        code,
		Description: desc,
		Unit:        "und",
		Quantity:    dec(qty),
		UnitPrice:   dec(price),
	}
	if cat != 0 {
		li.CategoryID = core.IntPtr(cat)
	}
	if sub != 0 {
		li.SubcategoryID = core.IntPtr(sub)
	}
	return li
}

func findRow(t *testing.T, r Report, desc string) Row {
	t.Helper()
	for _, row := range r.Rows {
		if row.Description == desc {
			return row
		}
	}
	t.Fatalf("row %q not found", desc)
	return Row{}
}

func parentOf(r Row) string {
	if r.ParentName == nil {
		return ""
	}
	return *r.ParentName
}

// treeFixture is a budget whose codes follow category.subcategory.item.
func treeFixture() ([]core.Category, []core.Subcategory, []core.LineItem) {
	cats := []core.Category{
		{ID: 201, Name: "Materials"},
		{ID: 101, Name: "Labor"},
	}
	subs := []core.Subcategory{
		{ID: 3, CategoryID: 201, Name: "Cement"},
		{ID: 4, CategoryID: 201, Name: "Steel"},
		{ID: 1, CategoryID: 101, Name: "Masons"},
	}
	items := []core.LineItem{
		item("101.1.1", "Operario", "8", "25.5", 101, 1),
		item("201.3.1", "Cemento tipo I", "40", "28", 201, 3),
		item("201.3.2", "Cemento tipo V", "10", "32.75", 201, 3),
		item("201.4.1", "Fierro 1/2", "120", "45.10", 201, 4),
	}
	return cats, subs, items
}

func TestBuildReportScenario(t *testing.T) {
	cats := []core.Category{{ID: 1, Name: "Materials"}}
	subs := []core.Subcategory{{ID: 10, CategoryID: 1, Name: "Cement"}}
	items := []core.LineItem{
		{Code: "201.1", Description: "Bag", Unit: "kg", Quantity: dec("100"), UnitPrice: dec("2"), CategoryID: core.IntPtr(1), SubcategoryID: core.IntPtr(10)},
	}

	r, err := BuildReport(cats, subs, items)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	materials := findRow(t, r, "Materials")
	if materials.Level != LevelCategory || !materials.TotalCost.Equal(dec("200")) {
		t.Fatalf("Materials = level %d total %s, want level 0 total 200", materials.Level, materials.TotalCost)
	}
	cement := findRow(t, r, "Cement")
	if cement.Level != LevelSubcategory || !cement.TotalCost.Equal(dec("200")) || parentOf(cement) != "Materials" {
		t.Fatalf("Cement = level %d total %s parent %q", cement.Level, cement.TotalCost, parentOf(cement))
	}
	bag := findRow(t, r, "Bag")
	if bag.Level != LevelItem || !bag.TotalCost.Equal(dec("200")) {
		t.Fatalf("Bag = level %d total %s, want level 2 total 200", bag.Level, bag.TotalCost)
	}

	want := []CategoryTotal{{Name: "Materials", Value: dec("200")}}
	if diff := cmp.Diff(want, r.CategoryTotals, decimalEqual); diff != "" {
		t.Fatalf("category totals mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildReportOrdering(t *testing.T) {
	cats, subs, items := treeFixture()
	r, err := BuildReport(cats, subs, items)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	var got []string
	for _, row := range r.Rows {
		got = append(got, row.Description)
	}
	want := []string{
		"Materials", "Labor",
		"Cement", "Steel", "Masons",
		"Operario", "Cemento tipo I", "Cemento tipo V", "Fierro 1/2",
		"Direct cost", "Indirect cost", "Total cost", "Beneficiary contribution", "Program financing",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("row order mismatch (-want +got):\n%s", diff)
	}

	for _, row := range r.Rows[len(r.Rows)-len(DefaultSummaryLines):] {
		if row.Level != LevelCategory {
			t.Fatalf("summary row %q at level %d", row.Description, row.Level)
		}
	}
}

func TestBuildReportTotalsCloseTree(t *testing.T) {
	cats, subs, items := treeFixture()
	r, err := BuildReport(cats, subs, items)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	closeTree(t, r, len(cats)+len(subs))

	cement := findRow(t, r, "Cement")
	if !cement.TotalCost.Equal(dec("1447.5")) {
		t.Fatalf("Cement total = %s, want 1447.5", cement.TotalCost)
	}
	materials := findRow(t, r, "Materials")
	if !materials.TotalCost.Equal(dec("6859.5")) {
		t.Fatalf("Materials total = %s, want 6859.5", materials.TotalCost)
	}
	if got := parentOf(findRow(t, r, "Cemento tipo V")); got != "Cement" {
		t.Fatalf("leaf parent = %q, want Cement", got)
	}
	if !r.LeafTotal().Equal(dec("7063.5")) {
		t.Fatalf("leaf total = %s, want 7063.5", r.LeafTotal())
	}
}

// closeTree checks that every category and subcategory row totals exactly the
// rows naming it as parent.
func closeTree(t *testing.T, r Report, groups int) {
	t.Helper()
	childSum := map[string]decimal.Decimal{}
	for _, row := range r.Rows {
		if row.Level == LevelCategory || row.Level > LevelItem || row.ParentName == nil {
			continue
		}
		childSum[*row.ParentName] = childSum[*row.ParentName].Add(row.TotalCost)
	}
	for _, row := range r.Rows[:groups] {
		if !row.TotalCost.Equal(childSum[row.Description]) {
			t.Errorf("%s (level %d) total = %s, children sum = %s",
				row.Description, row.Level, row.TotalCost, childSum[row.Description])
		}
	}
}

func TestTotalsCloseTreeWhenSubcategoryTagDisagrees(t *testing.T) {
	cats, subs, _ := treeFixture()
	// Filed under Steel, coded under Cement.
	items := []core.LineItem{item("201.3.9", "Cemento en fierro", "10", "10", 201, 4)}

	r, err := BuildReport(cats, subs, items)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	closeTree(t, r, len(cats)+len(subs))

	if got := parentOf(findRow(t, r, "Cemento en fierro")); got != "Cement" {
		t.Fatalf("leaf parent = %q, want Cement", got)
	}
	if got := findRow(t, r, "Steel"); !got.TotalCost.IsZero() {
		t.Fatalf("Steel total = %s, want 0", got.TotalCost)
	}
	if got := findRow(t, r, "Materials"); !got.TotalCost.Equal(dec("100")) {
		t.Fatalf("Materials total = %s, want 100", got.TotalCost)
	}
}

func TestDetailCodesStayOutOfRollup(t *testing.T) {
	cats, subs, _ := treeFixture()
	detail := item("201.3.5.1", "Subpartida", "4", "10", 201, 3)
	detail.TotalCost = stored("15")
	items := []core.LineItem{
		item("201.3.5", "Cemento", "10", "10", 201, 3),
		detail,
	}
	obs := &recordingObserver{}

	r, err := BuildReportWith(cats, subs, items, Options{Observer: obs})
	if err != nil {
		t.Fatalf("BuildReportWith: %v", err)
	}

	row := findRow(t, r, "Subpartida")
	if row.Level != 3 || row.ParentName != nil {
		t.Fatalf("detail = level %d parent %q, want level 3 without parent", row.Level, parentOf(row))
	}
	if !row.TotalCost.Equal(dec("15")) {
		t.Fatalf("detail total = %s, want stored 15", row.TotalCost)
	}
	if got := findRow(t, r, "Cement"); !got.TotalCost.Equal(dec("100")) {
		t.Fatalf("Cement total = %s, want 100", got.TotalCost)
	}
	want := []CategoryTotal{{Name: "Materials", Value: dec("100")}}
	if diff := cmp.Diff(want, r.CategoryTotals, decimalEqual); diff != "" {
		t.Fatalf("category totals mismatch (-want +got):\n%s", diff)
	}
	if len(obs.unattributed) != 0 {
		t.Fatalf("unexpected unattributed codes %v", obs.unattributed)
	}
	closeTree(t, r, len(cats)+len(subs))
}

func TestPrefixMatchIgnoresSurroundingSpace(t *testing.T) {
	cats, subs, _ := treeFixture()
	items := []core.LineItem{item(" 201.3.1 ", "Cemento", "10", "10", 201, 3)}
	obs := &recordingObserver{}

	r, err := BuildReportWith(cats, subs, items, Options{Observer: obs})
	if err != nil {
		t.Fatalf("BuildReportWith: %v", err)
	}
	if got := findRow(t, r, "Cemento"); got.Level != LevelItem {
		t.Fatalf("level = %d, want 2", got.Level)
	}
	want := []CategoryTotal{{Name: "Materials", Value: dec("100")}}
	if diff := cmp.Diff(want, r.CategoryTotals, decimalEqual); diff != "" {
		t.Fatalf("category totals mismatch (-want +got):\n%s", diff)
	}
	if len(obs.unattributed) != 0 {
		t.Fatalf("unexpected unattributed codes %v", obs.unattributed)
	}
}

func TestLeafCostFormula(t *testing.T) {
	cases := []struct {
		name   string
		qty    string
		price  string
		stored decimal.NullDecimal
		want   string
	}{
		{"computed beats stored", "10", "5", stored("999"), "50"},
		{"zero quantity falls back", "0", "0", stored("42"), "42"},
		{"zero price falls back", "3", "0", stored("7.25"), "7.25"},
		{"no stored total", "0", "12", decimal.NullDecimal{}, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			li := item("201.3.1", "leaf", tc.qty, tc.price, 201, 3)
			li.TotalCost = tc.stored
			cats, subs, _ := treeFixture()
			r, err := BuildReport(cats, subs, []core.LineItem{li})
			if err != nil {
				t.Fatalf("BuildReport: %v", err)
			}
			leaf := findRow(t, r, "leaf")
			if leaf.Level != LevelItem {
				t.Fatalf("level = %d, want 2", leaf.Level)
			}
			if !leaf.TotalCost.Equal(dec(tc.want)) {
				t.Fatalf("total = %s, want %s", leaf.TotalCost, tc.want)
			}
		})
	}
}

func TestNonLeafRowsAreZeroed(t *testing.T) {
	cats, subs, items := treeFixture()
	// A title row in the item table carrying its own quantities.
	title := item("201.5", "Agregados", "3", "9", 0, 0)
	title.TotalCost = stored("27")
	items = append(items, title, item("999", "Varios", "4", "4", 0, 0))

	r, err := BuildReport(cats, subs, items)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	for _, row := range r.Rows {
		if row.Level < LevelItem && (!row.Quantity.IsZero() || !row.UnitPrice.IsZero()) {
			t.Errorf("%s level %d has quantity %s price %s", row.Description, row.Level, row.Quantity, row.UnitPrice)
		}
	}
	if got := findRow(t, r, "Agregados"); got.Level != LevelSubcategory || !got.TotalCost.Equal(dec("27")) {
		t.Fatalf("title row = level %d total %s, want level 1 total 27", got.Level, got.TotalCost)
	}
}

func TestBuildReportIsDeterministic(t *testing.T) {
	cats, subs, items := treeFixture()
	first, err := BuildReport(cats, subs, items)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	second, err := BuildReport(cats, subs, items)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if diff := cmp.Diff(first, second, decimalEqual); diff != "" {
		t.Fatalf("second run differs (-first +second):\n%s", diff)
	}
}

func TestBuildReportDoesNotModifyInput(t *testing.T) {
	cats, subs, items := treeFixture()
	before := append([]core.LineItem(nil), items...)
	if _, err := BuildReport(cats, subs, items); err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if diff := cmp.Diff(before, items, decimalEqual); diff != "" {
		t.Fatalf("input mutated (-before +after):\n%s", diff)
	}
}

func TestBuildReportEmptyItems(t *testing.T) {
	cats, subs, _ := treeFixture()
	for _, items := range [][]core.LineItem{nil, {}} {
		r, err := BuildReport(cats, subs, items)
		if !errors.Is(err, core.ErrNoData) {
			t.Fatalf("expected ErrNoData, got %v", err)
		}
		if len(r.Rows) != 0 || len(r.CategoryTotals) != 0 {
			t.Fatalf("expected no partial output, got %d rows", len(r.Rows))
		}
	}
}

type recordingObserver struct {
	malformed      []string
	unattributed   []string
	unattributedBy decimal.Decimal
}

func (o *recordingObserver) MalformedCode(code, _ string) {
	o.malformed = append(o.malformed, code)
}

func (o *recordingObserver) UnattributedCost(code string, cost decimal.Decimal) {
	o.unattributed = append(o.unattributed, code)
	o.unattributedBy = o.unattributedBy.Add(cost)
}

func TestMalformedCodesDegrade(t *testing.T) {
	cats, subs, items := treeFixture()
	items = append(items,
		item("A.1.2", "letters", "1", "1", 201, 3),
		item("201..3", "empty segment", "2", "2", 201, 3),
		item("", "no code", "3", "3", 0, 0),
	)
	obs := &recordingObserver{}

	r, err := BuildReportWith(cats, subs, items, Options{Observer: obs})
	if err != nil {
		t.Fatalf("BuildReportWith: %v", err)
	}
	for _, desc := range []string{"letters", "empty segment", "no code"} {
		row := findRow(t, r, desc)
		if row.Level != LevelCategory || row.ParentName != nil {
			t.Errorf("%s = level %d parent %q, want level 0 without parent", desc, row.Level, parentOf(row))
		}
	}
	if len(obs.malformed) != 3 {
		t.Fatalf("malformed = %v, want 3 codes", obs.malformed)
	}
}

func TestUnattributedCostStillRollsUp(t *testing.T) {
	cats, subs, items := treeFixture()
	// 555 matches no bucket but sits under Cement by code and attribution.
	cats = append(cats, core.Category{ID: 555, Name: "Misc"})
	subs = append(subs, core.Subcategory{ID: 2, CategoryID: 555, Name: "Tools"})
	items = append(items, item("555.2.1", "Carretilla", "2", "150", 555, 2))
	obs := &recordingObserver{}

	r, err := BuildReportWith(cats, subs, items, Options{Observer: obs})
	if err != nil {
		t.Fatalf("BuildReportWith: %v", err)
	}

	if diff := cmp.Diff([]string{"555.2.1"}, obs.unattributed); diff != "" {
		t.Fatalf("unattributed mismatch:\n%s", diff)
	}
	for _, ct := range r.CategoryTotals {
		if ct.Name == "Misc" {
			t.Fatalf("unexpected bucket for unattributed leaf: %+v", ct)
		}
	}
	if got := findRow(t, r, "Tools"); !got.TotalCost.Equal(dec("300")) {
		t.Fatalf("Tools total = %s, want 300", got.TotalCost)
	}
	if got := findRow(t, r, "Misc"); !got.TotalCost.Equal(dec("300")) {
		t.Fatalf("Misc total = %s, want 300", got.TotalCost)
	}
}

func TestCategoryTotalsByPrefix(t *testing.T) {
	cats, subs, items := treeFixture()
	items = append(items, item("401.9.1", "Flete terrestre", "1", "600", 0, 0))
	r, err := BuildReport(cats, subs, items)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	want := []CategoryTotal{
		{Name: "Materials", Value: dec("6859.5")},
		{Name: "Labor", Value: dec("204")},
		{Name: "Freight", Value: dec("600")},
	}
	if diff := cmp.Diff(want, r.CategoryTotals, decimalEqual); diff != "" {
		t.Fatalf("category totals mismatch (-want +got):\n%s", diff)
	}
}

// A leaf whose categoryId disagrees with the category implied by its code is
// credited to both categories. This pins the current behaviour: the level 0
// totals then add up to more than the leaf total.
func TestDisagreeingHierarchiesDoubleCount(t *testing.T) {
	cats, subs, _ := treeFixture()
	items := []core.LineItem{
		item("201.3.7", "Cemento mal clasificado", "10", "10", 101, 0),
	}
	r, err := BuildReport(cats, subs, items)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	if got := findRow(t, r, "Materials"); !got.TotalCost.Equal(dec("100")) {
		t.Fatalf("Materials total = %s, want 100 via code tree", got.TotalCost)
	}
	if got := findRow(t, r, "Labor"); !got.TotalCost.Equal(dec("100")) {
		t.Fatalf("Labor total = %s, want 100 via categoryId", got.TotalCost)
	}

	levelZero := decimal.Zero
	for _, row := range r.Rows[:len(cats)] {
		levelZero = levelZero.Add(row.TotalCost)
	}
	if !levelZero.Equal(r.LeafTotal().Mul(decimal.NewFromInt(2))) {
		t.Fatalf("level 0 sum = %s, want twice the leaf total %s", levelZero, r.LeafTotal())
	}
}

func TestAgreeingHierarchiesCountOnce(t *testing.T) {
	cats, subs, _ := treeFixture()
	items := []core.LineItem{item("201.3.7", "Cemento", "10", "10", 201, 3)}
	r, err := BuildReport(cats, subs, items)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if got := findRow(t, r, "Materials"); !got.TotalCost.Equal(dec("100")) {
		t.Fatalf("Materials total = %s, want 100", got.TotalCost)
	}
	if got := findRow(t, r, "Cement"); !got.TotalCost.Equal(dec("100")) {
		t.Fatalf("Cement total = %s, want 100", got.TotalCost)
	}
}

func TestSummaryRows(t *testing.T) {
	cats := []core.Category{
		{ID: 201, Name: "Materials"},
		{ID: SummaryDirectCost, Name: "Costo directo"},
	}
	subs := []core.Subcategory{
		{ID: 3, CategoryID: 201, Name: "Cement"},
		{ID: 60, CategoryID: SummaryDirectCost, Name: "Partidas directas"},
	}
	// No level 0 row carries id 7, so its summary falls back to the first
	// tagged item.
	indirect := item("7.1.1", "Gastos generales", "0", "0", SummaryIndirectCost, 0)
	indirect.TotalCost = stored("350")
	second := item("7.1.2", "Utilidad", "0", "0", SummaryIndirectCost, 0)
	second.TotalCost = stored("999")
	items := []core.LineItem{
		item("201.3.1", "Cemento", "10", "30", 201, 3),
		item("201.60.1", "Partida directa", "2", "50", SummaryDirectCost, 60),
		indirect,
		second,
	}

	r, err := BuildReport(cats, subs, items)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	summaries := r.Rows[len(r.Rows)-len(DefaultSummaryLines):]
	want := map[string]string{
		"Direct cost":              "100",
		"Indirect cost":            "350",
		"Total cost":               "0",
		"Beneficiary contribution": "0",
		"Program financing":        "0",
	}
	for _, row := range summaries {
		if !row.TotalCost.Equal(dec(want[row.Description])) {
			t.Errorf("%s = %s, want %s", row.Description, row.TotalCost, want[row.Description])
		}
		if row.Level != LevelCategory || row.CategoryID == nil {
			t.Errorf("%s: level %d category %v", row.Description, row.Level, row.CategoryID)
		}
	}
	if summaries[0].CategoryName != "Costo directo" {
		t.Fatalf("direct cost category name = %q", summaries[0].CategoryName)
	}
}

func TestCustomPrefixTable(t *testing.T) {
	cats, subs, items := treeFixture()
	opts := Options{
		Prefixes:  []PrefixBucket{{Name: "Everything", Prefixes: []string{""}}},
		Summaries: []SummaryLine{},
	}
	r, err := BuildReportWith(cats, subs, items, opts)
	if err != nil {
		t.Fatalf("BuildReportWith: %v", err)
	}
	if len(r.CategoryTotals) != 1 || !r.CategoryTotals[0].Value.Equal(r.LeafTotal()) {
		t.Fatalf("category totals = %+v, want everything = %s", r.CategoryTotals, r.LeafTotal())
	}
	if got := len(r.Rows); got != len(cats)+len(subs)+len(items) {
		t.Fatalf("rows = %d, want no summary rows", got)
	}
}

func TestParseCode(t *testing.T) {
	cases := []struct {
		in    string
		canon string
		level int
		ok    bool
	}{
		{"201", "201", 0, true},
		{"201.3", "201.3", 1, true},
		{"201.03.5", "201.3.5", 2, true},
		{"201.3.5.1", "201.3.5.1", 3, true},
		{" 7.1 ", "7.1", 1, true},
		{"", "", 0, false},
		{"201.", "", 0, false},
		{"2a.1", "", 0, false},
		{"-1.2", "", 0, false},
	}
	for _, tc := range cases {
		segments, ok := parseCode(tc.in)
		if ok != tc.ok {
			t.Fatalf("%q ok = %v, want %v", tc.in, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if got := joinCode(segments); got != tc.canon {
			t.Errorf("%q canonical = %q, want %q", tc.in, got, tc.canon)
		}
		if got := levelOf(segments); got != tc.level {
			t.Errorf("%q level = %d, want %d", tc.in, got, tc.level)
		}
	}
}
