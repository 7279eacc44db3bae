// ABOUTME: Column-typed in-memory table used to carry inventory and catalog data through scoring.
// ABOUTME: Numeric columns hold NaN for missing cells, text columns hold the empty string.

package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Column is a named, typed column of a Frame. Columns are never modified in place
// once they belong to a frame; transformations build new columns.
type Column struct {
	Name    string
	Numeric bool
	Floats  []float64
	Texts   []string
}

// NewNumericColumn creates a numeric column
func NewNumericColumn(name string, values []float64) *Column {
	return &Column{Name: name, Numeric: true, Floats: values}
}

// NewTextColumn creates a text column
func NewTextColumn(name string, values []string) *Column {
	return &Column{Name: name, Texts: values}
}

// Len returns the number of cells in the column
func (c *Column) Len() int {
	if c.Numeric {
		return len(c.Floats)
	}
	return len(c.Texts)
}

// IsMissing reports whether the cell at i holds no value
func (c *Column) IsMissing(i int) bool {
	if c.Numeric {
		return math.IsNaN(c.Floats[i])
	}
	return c.Texts[i] == ""
}

// Text returns the cell at i as text. Numeric cells are formatted; the second
// return value is false when the cell is missing.
func (c *Column) Text(i int) (string, bool) {
	if c.IsMissing(i) {
		return "", false
	}
	if c.Numeric {
		return FormatFloat(c.Floats[i]), true
	}
	return c.Texts[i], true
}

// Float returns the cell at i as a number. Text cells are parsed; the second
// return value is false when the cell is missing or not numeric.
func (c *Column) Float(i int) (float64, bool) {
	if c.Numeric {
		v := c.Floats[i]
		return v, !math.IsNaN(v)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(c.Texts[i]), 64)
	if err != nil || math.IsNaN(v) {
		return math.NaN(), false
	}
	return v, true
}

func (c *Column) take(indices []int) *Column {
	out := &Column{Name: c.Name, Numeric: c.Numeric}
	if c.Numeric {
		out.Floats = make([]float64, len(indices))
		for i, idx := range indices {
			out.Floats[i] = c.Floats[idx]
		}
		return out
	}
	out.Texts = make([]string, len(indices))
	for i, idx := range indices {
		out.Texts[i] = c.Texts[idx]
	}
	return out
}

// Renamed returns a copy of the column header with a new name, sharing cell data
func (c *Column) Renamed(name string) *Column {
	return &Column{Name: name, Numeric: c.Numeric, Floats: c.Floats, Texts: c.Texts}
}

// Frame is an ordered set of equal-length columns
type Frame struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// New creates an empty frame with a fixed row count
func New(rows int) *Frame {
	return &Frame{
		index: make(map[string]int),
		rows:  rows,
	}
}

// FromColumns builds a frame from columns that must all have the same length
func FromColumns(columns ...*Column) (*Frame, error) {
	rows := 0
	if len(columns) > 0 {
		rows = columns[0].Len()
	}
	f := New(rows)
	for _, col := range columns {
		if err := f.Set(col); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Len returns the number of rows
func (f *Frame) Len() int {
	return f.rows
}

// Names returns the column names in order
func (f *Frame) Names() []string {
	names := make([]string, len(f.columns))
	for i, col := range f.columns {
		names[i] = col.Name
	}
	return names
}

// Column looks up a column by name
func (f *Frame) Column(name string) (*Column, bool) {
	idx, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.columns[idx], true
}

// Has reports whether the frame holds a column with the given name
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Set adds a column, replacing an existing column of the same name in place
func (f *Frame) Set(col *Column) error {
	if col.Len() != f.rows {
		return fmt.Errorf("column %q has %d rows, frame has %d", col.Name, col.Len(), f.rows)
	}
	if idx, ok := f.index[col.Name]; ok {
		f.columns[idx] = col
		return nil
	}
	f.index[col.Name] = len(f.columns)
	f.columns = append(f.columns, col)
	return nil
}

// Clone returns a frame sharing column data but with its own column set
func (f *Frame) Clone() *Frame {
	out := New(f.rows)
	for _, col := range f.columns {
		out.index[col.Name] = len(out.columns)
		out.columns = append(out.columns, col)
	}
	return out
}

// Drop returns a frame without the named columns; unknown names are ignored
func (f *Frame) Drop(names ...string) *Frame {
	skip := make(map[string]bool, len(names))
	for _, name := range names {
		skip[name] = true
	}
	out := New(f.rows)
	for _, col := range f.columns {
		if skip[col.Name] {
			continue
		}
		out.index[col.Name] = len(out.columns)
		out.columns = append(out.columns, col)
	}
	return out
}

// Select returns a frame with exactly the named columns in the given order.
// Names that are not present are returned as missing and left out of the frame.
func (f *Frame) Select(names []string) (*Frame, []string) {
	out := New(f.rows)
	var missing []string
	for _, name := range names {
		col, ok := f.Column(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		out.index[name] = len(out.columns)
		out.columns = append(out.columns, col)
	}
	return out, missing
}

// Take returns a frame holding the rows at the given indices, in that order
func (f *Frame) Take(indices []int) *Frame {
	out := New(len(indices))
	for _, col := range f.columns {
		out.index[col.Name] = len(out.columns)
		out.columns = append(out.columns, col.take(indices))
	}
	return out
}

// TextColumns returns the names of all non-numeric columns
func (f *Frame) TextColumns() []string {
	var names []string
	for _, col := range f.columns {
		if !col.Numeric {
			names = append(names, col.Name)
		}
	}
	return names
}

// FormatFloat renders a number the way it is written back to CSV output
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatDecimal renders a number the way a Python float prints: shortest
// round-trip digits, at least one fractional digit, exponent form outside
// [1e-4, 1e16), and nan/inf for non-finite values.
func FormatDecimal(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
