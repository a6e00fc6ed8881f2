package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// DateLayout is the row index format used by every dataset table.
const DateLayout = "2006-01-02"

// Cell is a single table value. Missing values are NaN in memory and
// null on the wire, so a table round-trips through JSON without losing
// the distinction between zero and absent.
type Cell float64

// MarshalJSON encodes NaN cells as null.
func (c Cell) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(c)) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(c))
}

// UnmarshalJSON decodes null back into a NaN cell.
func (c *Cell) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = Cell(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*c = Cell(f)
	return nil
}

// IsNaN reports whether the cell holds a missing value.
func (c Cell) IsNaN() bool {
	return math.IsNaN(float64(c))
}

// Table is a two-dimensional market data table: rows keyed by ISO date
// in ascending order, columns keyed by entity code (stock id, index
// code, or OHLCV field name depending on the dataset).
//
// Values[i][j] is the cell for Dates[i] and Columns[j].
type Table struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Dates   []string `json:"dates"`
	Values  [][]Cell `json:"values"`
}

// NewTable creates an empty table with the given column set.
func NewTable(name string, columns []string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{
		Name:    name,
		Columns: cols,
		Dates:   []string{},
		Values:  [][]Cell{},
	}
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := NewTable(t.Name, t.Columns)
	out.Dates = make([]string, len(t.Dates))
	copy(out.Dates, t.Dates)
	out.Values = make([][]Cell, len(t.Values))
	for i, row := range t.Values {
		out.Values[i] = make([]Cell, len(row))
		copy(out.Values[i], row)
	}
	return out
}

// RowCount returns the number of date rows.
func (t *Table) RowCount() int {
	return len(t.Dates)
}

// LastDate returns the most recent row date, or "" for an empty table.
func (t *Table) LastDate() string {
	if len(t.Dates) == 0 {
		return ""
	}
	return t.Dates[len(t.Dates)-1]
}

// columnIndex returns the position of a column, or -1.
func (t *Table) columnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the cell for a date and column. The second return is
// false when either the row or the column does not exist.
func (t *Table) Value(date, column string) (float64, bool) {
	col := t.columnIndex(column)
	if col < 0 {
		return 0, false
	}
	row := sort.SearchStrings(t.Dates, date)
	if row >= len(t.Dates) || t.Dates[row] != date {
		return 0, false
	}
	return float64(t.Values[row][col]), true
}

// Row returns the values of a single date row keyed by column name.
func (t *Table) Row(date string) (map[string]float64, bool) {
	i := sort.SearchStrings(t.Dates, date)
	if i >= len(t.Dates) || t.Dates[i] != date {
		return nil, false
	}
	out := make(map[string]float64, len(t.Columns))
	for j, c := range t.Columns {
		out[c] = float64(t.Values[i][j])
	}
	return out, true
}

// Column returns one column as a date-ordered series, skipping NaN cells.
func (t *Table) Column(name string) (dates []string, values []float64) {
	col := t.columnIndex(name)
	if col < 0 {
		return nil, nil
	}
	for i, d := range t.Dates {
		v := t.Values[i][col]
		if v.IsNaN() {
			continue
		}
		dates = append(dates, d)
		values = append(values, float64(v))
	}
	return dates, values
}

// ensureColumn returns the index of a column, adding it (with NaN cells
// for all existing rows) when absent.
func (t *Table) ensureColumn(name string) int {
	if i := t.columnIndex(name); i >= 0 {
		return i
	}
	t.Columns = append(t.Columns, name)
	for i := range t.Values {
		t.Values[i] = append(t.Values[i], Cell(math.NaN()))
	}
	return len(t.Columns) - 1
}

// emptyRow builds a NaN-filled row of the current width.
func (t *Table) emptyRow() []Cell {
	row := make([]Cell, len(t.Columns))
	for i := range row {
		row[i] = Cell(math.NaN())
	}
	return row
}

// AppendRows merges rows from other that are strictly newer than the
// receiver's last date. Columns are aligned by name; columns seen only
// in other are added. Rows at or before the last cached date are
// dropped, which makes repeated incremental merges idempotent.
func (t *Table) AppendRows(other *Table) int {
	if other == nil || other.RowCount() == 0 {
		return 0
	}
	last := t.LastDate()
	colMap := make([]int, len(other.Columns))
	for j, name := range other.Columns {
		colMap[j] = t.ensureColumn(name)
	}
	added := 0
	for i, date := range other.Dates {
		if last != "" && date <= last {
			continue
		}
		row := t.emptyRow()
		for j, v := range other.Values[i] {
			row[colMap[j]] = v
		}
		t.Dates = append(t.Dates, date)
		t.Values = append(t.Values, row)
		added++
	}
	return added
}

// UpsertRow inserts or replaces the row for one date, keeping the date
// index sorted. Only the given columns change on replace; other cells
// of the row are preserved.
func (t *Table) UpsertRow(date string, values map[string]float64) {
	for name := range values {
		t.ensureColumn(name)
	}
	i := sort.SearchStrings(t.Dates, date)
	if i >= len(t.Dates) || t.Dates[i] != date {
		t.Dates = append(t.Dates, "")
		t.Values = append(t.Values, nil)
		copy(t.Dates[i+1:], t.Dates[i:])
		copy(t.Values[i+1:], t.Values[i:])
		t.Dates[i] = date
		t.Values[i] = t.emptyRow()
	}
	for name, v := range values {
		t.Values[i][t.columnIndex(name)] = Cell(v)
	}
}

// SplitBefore returns a new table holding only the rows strictly
// before the given date. The receiver is not modified.
func (t *Table) SplitBefore(date string) *Table {
	out := NewTable(t.Name, t.Columns)
	for i, d := range t.Dates {
		if d >= date {
			break
		}
		row := make([]Cell, len(t.Values[i]))
		copy(row, t.Values[i])
		out.Dates = append(out.Dates, d)
		out.Values = append(out.Values, row)
	}
	return out
}

// Tail returns a copy with at most the last n rows.
func (t *Table) Tail(n int) *Table {
	if n <= 0 || n >= t.RowCount() {
		return t.Clone()
	}
	out := NewTable(t.Name, t.Columns)
	start := t.RowCount() - n
	for i := start; i < t.RowCount(); i++ {
		row := make([]Cell, len(t.Values[i]))
		copy(row, t.Values[i])
		out.Dates = append(out.Dates, t.Dates[i])
		out.Values = append(out.Values, row)
	}
	return out
}

// Equal reports whether two tables have identical shape, order and
// values. NaN cells compare equal to NaN, unlike ==.
func (t *Table) Equal(other *Table) bool {
	if other == nil || t.Name != other.Name ||
		len(t.Columns) != len(other.Columns) || len(t.Dates) != len(other.Dates) {
		return false
	}
	for i, c := range t.Columns {
		if other.Columns[i] != c {
			return false
		}
	}
	for i, d := range t.Dates {
		if other.Dates[i] != d {
			return false
		}
		for j, v := range t.Values[i] {
			o := other.Values[i][j]
			if v.IsNaN() && o.IsNaN() {
				continue
			}
			if v != o {
				return false
			}
		}
	}
	return true
}

// Validate checks internal consistency: sorted unique dates and
// rectangular values.
func (t *Table) Validate() error {
	if len(t.Dates) != len(t.Values) {
		return fmt.Errorf("table %s: %d dates but %d value rows", t.Name, len(t.Dates), len(t.Values))
	}
	for i, row := range t.Values {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("table %s: row %s has %d cells, want %d", t.Name, t.Dates[i], len(row), len(t.Columns))
		}
		if i > 0 && t.Dates[i] <= t.Dates[i-1] {
			return fmt.Errorf("table %s: dates out of order at %s", t.Name, t.Dates[i])
		}
	}
	return nil
}
