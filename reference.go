package formula

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
)

const (
	// MaxRows and MaxColumns bound the addressable grid (A1 through XFD1048576).
	MaxRows    = 1 << 20
	MaxColumns = 1 << 14
)

// CellCoord is a zero-based grid position.
type CellCoord struct {
	Row int
	Col int
}

// String renders the coordinate as an A1-style reference.
func (c CellCoord) String() string {
	return CoordToRef(c.Row, c.Col)
}

// Key returns the canonical "row:col" key for the coordinate.
func (c CellCoord) Key() CellKey {
	return KeyOf(c)
}

// Less orders coordinates by row, then column.
func (c CellCoord) Less(other CellCoord) bool {
	if c.Row != other.Row {
		return c.Row < other.Row
	}
	return c.Col < other.Col
}

// CellKey is the canonical "row:col" string key used by GridData. string
// order of keys is not grid order, so ordering always goes through Coord.
type CellKey string

// KeyOf builds the key for a coordinate.
func KeyOf(c CellCoord) CellKey {
	return CellKey(strconv.Itoa(c.Row) + ":" + strconv.Itoa(c.Col))
}

// ParseKey decodes a "row:col" key.
func ParseKey(k CellKey) (CellCoord, error) {
	rowStr, colStr, ok := strings.Cut(string(k), ":")
	if !ok {
		return CellCoord{}, &ParseError{Msg: fmt.Sprintf("invalid cell key: %q", k), Ref: true}
	}
	row, err := strconv.Atoi(rowStr)
	if err != nil || row < 0 {
		return CellCoord{}, &ParseError{Msg: fmt.Sprintf("invalid row in cell key: %q", k), Ref: true}
	}
	col, err := strconv.Atoi(colStr)
	if err != nil || col < 0 {
		return CellCoord{}, &ParseError{Pos: len(rowStr) + 1, Msg: fmt.Sprintf("invalid column in cell key: %q", k), Ref: true}
	}
	return CellCoord{Row: row, Col: col}, nil
}

// Coord decodes the key, panicking on malformed keys. only keys built by
// KeyOf should reach it.
func (k CellKey) Coord() CellCoord {
	c, err := ParseKey(k)
	if err != nil {
		panic(err)
	}
	return c
}

// ColumnName converts a zero-based column index to letters (0 -> A,
// 25 -> Z, 26 -> AA).
func ColumnName(col int) string {
	if col < 0 {
		return ""
	}
	var buf [8]byte
	i := len(buf)
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		i--
		buf[i] = byte('A' + (n-1)%26)
	}
	return string(buf[i:])
}

// ColumnIndex converts column letters, in any case, to a zero-based index.
func ColumnIndex(letters string) (int, error) {
	if letters == "" {
		return 0, newRefError(0, "missing column letters")
	}
	col := 0
	for i, ch := range letters {
		switch {
		case ch >= 'A' && ch <= 'Z':
		case ch >= 'a' && ch <= 'z':
			ch -= 'a' - 'A'
		default:
			return 0, newRefError(i, "invalid column letter %q", ch)
		}
		col = col*26 + int(ch-'A') + 1
		if col > MaxColumns {
			return 0, newRefError(i, "column %s out of range", letters)
		}
	}
	return col - 1, nil
}

// CoordToRef renders a zero-based coordinate as an A1-style reference.
func CoordToRef(row, col int) string {
	return ColumnName(col) + strconv.Itoa(row+1)
}

// CellRef is a decoded reference with its "$" lock flags. the flags only
// matter to relative-reference rewriting, never to evaluation.
type CellRef struct {
	Coord       CellCoord
	AbsoluteRow bool
	AbsoluteCol bool
}

func (r CellRef) String() string {
	var sb strings.Builder
	if r.AbsoluteCol {
		sb.WriteByte('$')
	}
	sb.WriteString(ColumnName(r.Coord.Col))
	if r.AbsoluteRow {
		sb.WriteByte('$')
	}
	sb.WriteString(strconv.Itoa(r.Coord.Row + 1))
	return sb.String()
}

// RefToCoord decodes an A1-style reference, ignoring "$" locks.
func RefToCoord(ref string) (CellCoord, error) {
	r, err := ParseCellRef(ref)
	if err != nil {
		return CellCoord{}, err
	}
	return r.Coord, nil
}

// ParseCellRef decodes references like "A1", "$B$2" or "c$3".
func ParseCellRef(ref string) (CellRef, error) {
	var out CellRef
	if ref == "" {
		return out, newRefError(0, "empty reference")
	}

	pos := 0
	if ref[pos] == '$' {
		out.AbsoluteCol = true
		pos++
	}

	// find where letters end and numbers begin
	letterStart := pos
	for pos < len(ref) && isASCIILetter(ref[pos]) {
		pos++
	}
	if pos == letterStart {
		return out, newRefError(pos, "invalid cell reference: %s", ref)
	}
	col, err := ColumnIndex(ref[letterStart:pos])
	if err != nil {
		return out, err
	}

	if pos < len(ref) && ref[pos] == '$' {
		out.AbsoluteRow = true
		pos++
	}

	digitStart := pos
	for pos < len(ref) && isASCIIDigit(ref[pos]) {
		pos++
	}
	if pos == digitStart || pos != len(ref) {
		return out, newRefError(pos, "invalid row number in reference: %s", ref)
	}
	rowNum, err := strconv.Atoi(ref[digitStart:])
	if err != nil || rowNum < 1 || rowNum > MaxRows {
		return out, newRefError(digitStart, "row number out of range: %s", ref[digitStart:])
	}

	out.Coord = CellCoord{Row: rowNum - 1, Col: col}
	return out, nil
}

// SelectionRange is an inclusive rectangle of cells. callers may build it
// with corners in either order; Normalize puts Start at the top-left.
type SelectionRange struct {
	Start CellCoord
	End   CellCoord
}

// NewSelectionRange returns the normalized range spanning both corners.
func NewSelectionRange(a, b CellCoord) SelectionRange {
	return SelectionRange{Start: a, End: b}.Normalize()
}

// Normalize returns the range with start.row <= end.row and
// start.col <= end.col.
func (r SelectionRange) Normalize() SelectionRange {
	return SelectionRange{
		Start: CellCoord{Row: min(r.Start.Row, r.End.Row), Col: min(r.Start.Col, r.End.Col)},
		End:   CellCoord{Row: max(r.Start.Row, r.End.Row), Col: max(r.Start.Col, r.End.Col)},
	}
}

// Rows returns the number of rows covered.
func (r SelectionRange) Rows() int {
	n := r.Normalize()
	return n.End.Row - n.Start.Row + 1
}

// Cols returns the number of columns covered.
func (r SelectionRange) Cols() int {
	n := r.Normalize()
	return n.End.Col - n.Start.Col + 1
}

// Contains reports whether c lies inside the range.
func (r SelectionRange) Contains(c CellCoord) bool {
	n := r.Normalize()
	return c.Row >= n.Start.Row && c.Row <= n.End.Row &&
		c.Col >= n.Start.Col && c.Col <= n.End.Col
}

// Cells iterates every coordinate in row-major order.
func (r SelectionRange) Cells() iter.Seq[CellCoord] {
	n := r.Normalize()
	return func(yield func(CellCoord) bool) {
		for row := n.Start.Row; row <= n.End.Row; row++ {
			for col := n.Start.Col; col <= n.End.Col; col++ {
				if !yield(CellCoord{Row: row, Col: col}) {
					return
				}
			}
		}
	}
}

func (r SelectionRange) String() string {
	n := r.Normalize()
	return n.Start.String() + ":" + n.End.String()
}

// ParseRangeRef decodes "C3:D9" (corners in any order, "$" allowed). a
// single reference yields a one-cell range.
func ParseRangeRef(ref string) (SelectionRange, error) {
	startStr, endStr, found := strings.Cut(ref, ":")
	start, err := RefToCoord(startStr)
	if err != nil {
		return SelectionRange{}, err
	}
	if !found {
		return SelectionRange{Start: start, End: start}, nil
	}
	end, err := RefToCoord(endStr)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Pos += len(startStr) + 1
		}
		return SelectionRange{}, err
	}
	return NewSelectionRange(start, end), nil
}

func isASCIILetter(ch byte) bool {
	return ch >= 'A' && ch <= 'Z' || ch >= 'a' && ch <= 'z'
}

func isASCIIDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
