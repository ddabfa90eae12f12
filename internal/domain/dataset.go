package domain

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"
)

// DType is the declared storage type of a column.
type DType string

// Supported column dtypes.
const (
	DTypeInt64    DType = "int64"
	DTypeFloat64  DType = "float64"
	DTypeString   DType = "string"
	DTypeBool     DType = "bool"
	DTypeDatetime DType = "datetime"
)

// Valid reports whether d is a supported dtype.
func (d DType) Valid() bool {
	switch d {
	case DTypeInt64, DTypeFloat64, DTypeString, DTypeBool, DTypeDatetime:
		return true
	}
	return false
}

// Column is a named, typed vector of values. A nil value is null.
type Column struct {
	Name   string `json:"name"`
	DType  DType  `json:"dtype"`
	Values []any  `json:"values"`
}

// FitRecord records which rows a fitted statistic was computed from.
type FitRecord struct {
	TransformationID string  `json:"transformation_id"`
	Column           string  `json:"column"`
	Statistic        string  `json:"statistic"`
	RowIDs           []int64 `json:"row_ids"`
}

// Dataset is an in-memory, column-oriented table. Datasets are values:
// transformations never mutate their input and always return a new Dataset.
//
// RowIDs carry a stable identity for every row, assigned at load time, so row
// removal and reordering remain observable across transformations.
type Dataset struct {
	Columns []Column
	RowIDs  []int64
	Holdout map[int64]bool
	Fits    []FitRecord
}

// NewDataset builds a dataset from columns of equal length and assigns row
// ids 0..n-1.
func NewDataset(columns []Column) (*Dataset, error) {
	n := 0
	seen := make(map[string]bool, len(columns))
	for i, c := range columns {
		if c.Name == "" {
			return nil, ErrProfiling("column %d has no name", i)
		}
		if seen[c.Name] {
			return nil, ErrProfiling("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		if !c.DType.Valid() {
			return nil, ErrProfiling("column %q has unsupported dtype %q", c.Name, c.DType)
		}
		if i == 0 {
			n = len(c.Values)
		} else if len(c.Values) != n {
			return nil, ErrProfiling("column %q has %d values, expected %d", c.Name, len(c.Values), n)
		}
	}
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i)
	}
	return &Dataset{Columns: columns, RowIDs: ids}, nil
}

// NumRows returns the number of rows.
func (d *Dataset) NumRows() int {
	if d == nil {
		return 0
	}
	return len(d.RowIDs)
}

// NumColumns returns the number of columns.
func (d *Dataset) NumColumns() int {
	if d == nil {
		return 0
	}
	return len(d.Columns)
}

// ColumnIndex returns the position of the named column, or -1.
func (d *Dataset) ColumnIndex(name string) int {
	for i := range d.Columns {
		if d.Columns[i].Name == name {
			return i
		}
	}
	return -1
}

// Column returns the named column.
func (d *Dataset) Column(name string) (*Column, bool) {
	i := d.ColumnIndex(name)
	if i < 0 {
		return nil, false
	}
	return &d.Columns[i], true
}

// ColumnNames returns the column names in order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Derive returns a dataset sharing value slices with d. Callers replace
// whole columns on the result; they never write into shared slices.
func (d *Dataset) Derive() *Dataset {
	out := &Dataset{
		Columns: append([]Column(nil), d.Columns...),
		RowIDs:  d.RowIDs,
		Holdout: d.Holdout,
		Fits:    append([]FitRecord(nil), d.Fits...),
	}
	return out
}

// SelectRows returns a dataset holding the rows at the given positions.
func (d *Dataset) SelectRows(positions []int) *Dataset {
	out := &Dataset{
		Columns: make([]Column, len(d.Columns)),
		RowIDs:  make([]int64, len(positions)),
		Holdout: d.Holdout,
		Fits:    append([]FitRecord(nil), d.Fits...),
	}
	for j, p := range positions {
		out.RowIDs[j] = d.RowIDs[p]
	}
	for i, c := range d.Columns {
		vals := make([]any, len(positions))
		for j, p := range positions {
			vals[j] = c.Values[p]
		}
		out.Columns[i] = Column{Name: c.Name, DType: c.DType, Values: vals}
	}
	return out
}

// Positions maps row ids to row positions.
func (d *Dataset) Positions() map[int64]int {
	m := make(map[int64]int, len(d.RowIDs))
	for i, id := range d.RowIDs {
		m[id] = i
	}
	return m
}

// IsHoldout reports whether the row at position p belongs to the declared
// holdout partition.
func (d *Dataset) IsHoldout(p int) bool {
	return d.Holdout != nil && d.Holdout[d.RowIDs[p]]
}

// TrainingPositions returns the positions of rows outside the holdout.
func (d *Dataset) TrainingPositions() []int {
	out := make([]int, 0, len(d.RowIDs))
	for p := range d.RowIDs {
		if !d.IsHoldout(p) {
			out = append(out, p)
		}
	}
	return out
}

// MarkHoldout returns a copy of d whose holdout partition is every row where
// column formats to value.
func (d *Dataset) MarkHoldout(column, value string) (*Dataset, error) {
	c, ok := d.Column(column)
	if !ok {
		return nil, ErrValidation("holdout column %q not found", column)
	}
	out := d.Derive()
	out.Holdout = make(map[int64]bool)
	for p, v := range c.Values {
		if v != nil && FormatValue(v) == value {
			out.Holdout[d.RowIDs[p]] = true
		}
	}
	return out, nil
}

// NullCount returns the number of null cells.
func (d *Dataset) NullCount() int {
	n := 0
	for _, c := range d.Columns {
		for _, v := range c.Values {
			if v == nil {
				n++
			}
		}
	}
	return n
}

// RowHash hashes the row at position p over the given column positions
// (all columns when cols is nil).
func (d *Dataset) RowHash(p int, cols []int) uint64 {
	h := xxh3.New()
	if cols == nil {
		for i := range d.Columns {
			writeValue(h, d.Columns[i].Values[p])
		}
		return h.Sum64()
	}
	for _, i := range cols {
		writeValue(h, d.Columns[i].Values[p])
	}
	return h.Sum64()
}

// DistinctPositions returns the position of the first occurrence of every
// distinct row over cols (all columns when cols is nil), in row order.
func (d *Dataset) DistinctPositions(cols []int) []int {
	buckets := make(map[uint64][]int)
	out := make([]int, 0, d.NumRows())
	for p := 0; p < d.NumRows(); p++ {
		h := d.RowHash(p, cols)
		dup := false
		for _, q := range buckets[h] {
			if d.rowsEqual(p, q, cols) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		buckets[h] = append(buckets[h], p)
		out = append(out, p)
	}
	return out
}

func (d *Dataset) rowsEqual(p, q int, cols []int) bool {
	if cols == nil {
		for i := range d.Columns {
			if !ValuesEqual(d.Columns[i].Values[p], d.Columns[i].Values[q]) {
				return false
			}
		}
		return true
	}
	for _, i := range cols {
		if !ValuesEqual(d.Columns[i].Values[p], d.Columns[i].Values[q]) {
			return false
		}
	}
	return true
}

// EqualWithin compares two datasets cell by cell, allowing float values to
// differ by tol. It returns a description of the first difference.
func (d *Dataset) EqualWithin(other *Dataset, tol float64) (bool, string) {
	if d.NumColumns() != other.NumColumns() {
		return false, fmt.Sprintf("column count %d != %d", d.NumColumns(), other.NumColumns())
	}
	if d.NumRows() != other.NumRows() {
		return false, fmt.Sprintf("row count %d != %d", d.NumRows(), other.NumRows())
	}
	for p := range d.RowIDs {
		if d.RowIDs[p] != other.RowIDs[p] {
			return false, fmt.Sprintf("row id at %d: %d != %d", p, d.RowIDs[p], other.RowIDs[p])
		}
	}
	for i, c := range d.Columns {
		o := other.Columns[i]
		if c.Name != o.Name || c.DType != o.DType {
			return false, fmt.Sprintf("column %d: %s(%s) != %s(%s)", i, c.Name, c.DType, o.Name, o.DType)
		}
		for p := range c.Values {
			a, b := c.Values[p], o.Values[p]
			if fa, ok := a.(float64); ok {
				if fb, ok := b.(float64); ok && (math.Abs(fa-fb) <= tol || (math.IsNaN(fa) && math.IsNaN(fb))) {
					continue
				}
			}
			if !ValuesEqual(a, b) {
				return false, fmt.Sprintf("column %s row %d: %v != %v", c.Name, p, a, b)
			}
		}
	}
	return true, ""
}

// ValuesEqual reports whether two cell values are identical in type and value.
func ValuesEqual(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case float64:
		y, ok := b.(float64)
		return ok && (x == y || (math.IsNaN(x) && math.IsNaN(y)))
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case int64, string, bool:
		return a == b
	default:
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
}

// ValueKey returns a canonical, type-tagged string for a non-null value.
// Equal keys mean equal values.
func ValueKey(v any) string {
	switch x := v.(type) {
	case nil:
		return "n:"
	case int64:
		return "i:" + strconv.FormatInt(x, 10)
	case float64:
		if x == 0 {
			x = 0
		}
		return "f:" + strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return "s:" + x
	case bool:
		return "b:" + strconv.FormatBool(x)
	case time.Time:
		return "t:" + x.UTC().Format(time.RFC3339Nano)
	default:
		return "o:" + fmt.Sprint(x)
	}
}

// FormatValue renders a value the way it would appear in a CSV cell.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

func writeValue(h *xxh3.Hasher, v any) {
	var buf [9]byte
	switch x := v.(type) {
	case nil:
		buf[0] = 'n'
		_, _ = h.Write(buf[:1])
	case int64:
		buf[0] = 'i'
		binary.LittleEndian.PutUint64(buf[1:], uint64(x))
		_, _ = h.Write(buf[:])
	case float64:
		if x == 0 {
			x = 0
		}
		buf[0] = 'f'
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(x))
		_, _ = h.Write(buf[:])
	case bool:
		buf[0] = 'b'
		if x {
			buf[1] = 1
		}
		_, _ = h.Write(buf[:2])
	case time.Time:
		buf[0] = 't'
		binary.LittleEndian.PutUint64(buf[1:], uint64(x.UnixNano()))
		_, _ = h.Write(buf[:])
	default:
		s := FormatValue(x)
		buf[0] = 's'
		binary.LittleEndian.PutUint64(buf[1:], uint64(len(s)))
		_, _ = h.Write(buf[:])
		_, _ = h.WriteString(s)
	}
}
