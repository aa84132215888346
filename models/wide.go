package models

import (
	"fmt"
	"time"

	"github.com/guregu/null/v6"
)

// WideTable joins several symbols on a shared day index. Each column is
// named {symbol}_{field} and registered under its symbol, so consumers look
// columns up by (symbol, field) rather than by matching names.
type WideTable struct {
	index   []time.Time
	columns []string
	cells   map[string][]null.Float
	symbols []string
	schema  map[string]map[string]string
}

// NewWideTable creates a table over the given ascending day index.
func NewWideTable(index []time.Time) *WideTable {
	idx := make([]time.Time, len(index))
	for i, d := range index {
		idx[i] = Day(d)
	}
	return &WideTable{
		index:  idx,
		cells:  make(map[string][]null.Float),
		schema: make(map[string]map[string]string),
	}
}

// ColumnName builds the canonical column name for a symbol field.
func ColumnName(symbol, field string) string {
	return symbol + "_" + field
}

// AddColumn registers field under symbol and stores its values. The
// value slice must match the index length.
func (w *WideTable) AddColumn(symbol, field string, values []null.Float) (string, error) {
	if len(values) != len(w.index) {
		return "", fmt.Errorf("column %s_%s has %d values, index has %d", symbol, field, len(values), len(w.index))
	}
	name := ColumnName(symbol, field)
	if _, ok := w.cells[name]; !ok {
		w.columns = append(w.columns, name)
	}
	w.cells[name] = values

	fields, ok := w.schema[symbol]
	if !ok {
		fields = make(map[string]string)
		w.schema[symbol] = fields
		w.symbols = append(w.symbols, symbol)
	}
	fields[field] = name
	return name, nil
}

func (w *WideTable) Len() int { return len(w.index) }

// Index returns a copy of the day index.
func (w *WideTable) Index() []time.Time {
	out := make([]time.Time, len(w.index))
	copy(out, w.index)
	return out
}

// Columns returns column names in insertion order.
func (w *WideTable) Columns() []string {
	out := make([]string, len(w.columns))
	copy(out, w.columns)
	return out
}

// Symbols returns registered symbols in registration order.
func (w *WideTable) Symbols() []string {
	out := make([]string, len(w.symbols))
	copy(out, w.symbols)
	return out
}

// Column returns a copy of a column's cells.
func (w *WideTable) Column(name string) ([]null.Float, bool) {
	vals, ok := w.cells[name]
	if !ok {
		return nil, false
	}
	out := make([]null.Float, len(vals))
	copy(out, vals)
	return out, true
}

// Field resolves the column registered for symbol/field.
func (w *WideTable) Field(symbol, field string) (string, bool) {
	name, ok := w.schema[symbol][field]
	return name, ok
}

// Cell returns the cell at row i of the named column.
func (w *WideTable) Cell(name string, i int) null.Float {
	vals, ok := w.cells[name]
	if !ok || i < 0 || i >= len(vals) {
		return null.Float{}
	}
	return vals[i]
}

// Clone returns a deep copy.
func (w *WideTable) Clone() *WideTable {
	out := NewWideTable(w.index)
	out.columns = append([]string(nil), w.columns...)
	out.symbols = append([]string(nil), w.symbols...)
	for name, vals := range w.cells {
		out.cells[name] = append([]null.Float(nil), vals...)
	}
	for sym, fields := range w.schema {
		cp := make(map[string]string, len(fields))
		for f, c := range fields {
			cp[f] = c
		}
		out.schema[sym] = cp
	}
	return out
}
