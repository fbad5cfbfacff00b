package formula

import "iter"

// RangeValue is the evaluated content of a rectangle, row-major. Rows is
// always Height x Width; missing cells are nil.
type RangeValue struct {
	Bounds SelectionRange
	Rows   [][]Primitive
}

// NewRangeValue builds a RangeValue over bounds. rows may be nil or ragged;
// it is padded with empty cells to the full rectangle.
func NewRangeValue(bounds SelectionRange, rows [][]Primitive) *RangeValue {
	bounds = bounds.Normalize()
	height, width := bounds.Rows(), bounds.Cols()
	out := make([][]Primitive, height)
	for i := range out {
		out[i] = make([]Primitive, width)
		if i < len(rows) {
			copy(out[i], rows[i])
		}
	}
	return &RangeValue{Bounds: bounds, Rows: out}
}

// CollectRange resolves every coordinate of r through get, row-major.
// Context implementations use it to serve GetRangeValues.
func CollectRange(r SelectionRange, get func(CellCoord) Primitive) *RangeValue {
	rv := NewRangeValue(r, nil)
	for coord := range rv.Bounds.Cells() {
		rv.Rows[coord.Row-rv.Bounds.Start.Row][coord.Col-rv.Bounds.Start.Col] = get(coord)
	}
	return rv
}

// Height returns the number of rows
func (r *RangeValue) Height() int {
	return len(r.Rows)
}

// Width returns the number of columns
func (r *RangeValue) Width() int {
	if len(r.Rows) == 0 {
		return 0
	}
	return len(r.Rows[0])
}

// At returns the value at a zero-based offset inside the range, or nil when
// out of bounds.
func (r *RangeValue) At(row, col int) Primitive {
	if row < 0 || row >= r.Height() || col < 0 || col >= r.Width() {
		return nil
	}
	return r.Rows[row][col]
}

// IterateValues returns an iterator over values in row-major order
func (r *RangeValue) IterateValues() iter.Seq[Primitive] {
	return func(yield func(Primitive) bool) {
		for _, row := range r.Rows {
			for _, v := range row {
				if !yield(v) {
					return
				}
			}
		}
	}
}

// Vector flattens a single row or single column range. ok is false for
// two-dimensional ranges.
func (r *RangeValue) Vector() (values []Primitive, ok bool) {
	switch {
	case r.Height() == 1:
		return r.Rows[0], true
	case r.Width() == 1:
		values = make([]Primitive, r.Height())
		for i, row := range r.Rows {
			values[i] = row[0]
		}
		return values, true
	}
	return nil, false
}

// asRange treats a scalar argument as a 1x1 range so lookup functions can
// accept either.
func asRange(v Value) *RangeValue {
	if rv, ok := v.(*RangeValue); ok {
		return rv
	}
	return &RangeValue{Rows: [][]Primitive{{v}}}
}

// iterateArgs flattens arguments into their scalar values. inRange tells
// whether the value came from a range, which changes how aggregates treat
// text and booleans.
func iterateArgs(args []Value) iter.Seq2[Primitive, bool] {
	return func(yield func(Primitive, bool) bool) {
		for _, arg := range args {
			if rv, ok := arg.(*RangeValue); ok {
				for v := range rv.IterateValues() {
					if !yield(v, true) {
						return
					}
				}
				continue
			}
			if !yield(arg, false) {
				return
			}
		}
	}
}
