package report

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SchemeColumn identifies a sortable column of the scheme table
type SchemeColumn string

const (
	ColumnName       SchemeColumn = "name"
	ColumnSites      SchemeColumn = "sites"
	ColumnLnL        SchemeColumn = "lnl"
	ColumnParameters SchemeColumn = "parameters"
	ColumnSubsets    SchemeColumn = "subsets"
	ColumnAIC        SchemeColumn = "aic"
	ColumnAICc       SchemeColumn = "aicc"
	ColumnBIC        SchemeColumn = "bic"
)

// SchemeColumns lists the columns in display order
var SchemeColumns = []SchemeColumn{
	ColumnName, ColumnSites, ColumnLnL, ColumnParameters,
	ColumnSubsets, ColumnAIC, ColumnAICc, ColumnBIC,
}

// ParseSchemeColumn accepts a column name case-insensitively
func ParseSchemeColumn(s string) (SchemeColumn, error) {
	key := SchemeColumn(strings.ToLower(strings.TrimSpace(s)))
	if key == "params" {
		return ColumnParameters, nil
	}
	for _, c := range SchemeColumns {
		if c == key {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown scheme column %q", s)
}

// Value returns the numeric value of a column; name has no numeric value
func (r SchemeRow) Value(col SchemeColumn) float64 {
	switch col {
	case ColumnSites:
		return r.Sites
	case ColumnLnL:
		return r.LnL
	case ColumnParameters:
		return r.Parameters
	case ColumnSubsets:
		return r.Subsets
	case ColumnAIC:
		return r.AIC
	case ColumnAICc:
		return r.AICc
	case ColumnBIC:
		return r.BIC
	default:
		return 0
	}
}

// SortDirection is ascending or descending
type SortDirection int

const (
	Ascending SortDirection = iota
	Descending
)

func (d SortDirection) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// DisplayLimit is how many rows the results view shows after sorting
const DisplayLimit = 25

// SchemeTable is a sorted view over parsed scheme rows. The underlying rows
// are never reordered or truncated.
type SchemeTable struct {
	rows []SchemeRow
	key  SchemeColumn
	dir  SortDirection
}

// NewSchemeTable sorts by AICc ascending until told otherwise
func NewSchemeTable(rows []SchemeRow) *SchemeTable {
	return &SchemeTable{rows: rows, key: ColumnAICc, dir: Ascending}
}

// Key returns the current sort column and direction
func (t *SchemeTable) Key() (SchemeColumn, SortDirection) {
	return t.key, t.dir
}

// Len returns the number of rows, independent of the display cap
func (t *SchemeTable) Len() int {
	return len(t.rows)
}

// Rows returns the rows in parse order
func (t *SchemeTable) Rows() []SchemeRow {
	return t.rows
}

// Toggle selects col: the same column flips direction, a new column sorts
// ascending.
func (t *SchemeTable) Toggle(col SchemeColumn) {
	if col == t.key {
		if t.dir == Ascending {
			t.dir = Descending
		} else {
			t.dir = Ascending
		}
		return
	}
	t.key = col
	t.dir = Ascending
}

// SortBy sets column and direction directly
func (t *SchemeTable) SortBy(col SchemeColumn, dir SortDirection) {
	t.key = col
	t.dir = dir
}

// Sorted returns a sorted copy. Non-finite values sort last in either
// direction; names use English collation.
func (t *SchemeTable) Sorted() []SchemeRow {
	out := make([]SchemeRow, len(t.rows))
	copy(out, t.rows)

	sign := 1
	if t.dir == Descending {
		sign = -1
	}

	if t.key == ColumnName {
		coll := collate.New(language.English)
		sort.SliceStable(out, func(i, j int) bool {
			return sign*coll.CompareString(out[i].Name, out[j].Name) < 0
		})
		return out
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Value(t.key), out[j].Value(t.key)
		aok, bok := isFinite(a), isFinite(b)
		switch {
		case !aok && !bok:
			return false
		case !aok:
			return false
		case !bok:
			return true
		}
		if sign > 0 {
			return a < b
		}
		return a > b
	})
	return out
}

// Top returns the first n rows after sorting
func (t *SchemeTable) Top(n int) []SchemeRow {
	sorted := t.Sorted()
	if n >= 0 && len(sorted) > n {
		return sorted[:n]
	}
	return sorted
}
