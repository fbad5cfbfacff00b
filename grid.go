package formula

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// CellData is what the storage collaborator keeps per cell. RawValue is the
// user's input, DisplayValue the rendered result.
type CellData struct {
	RawValue     string   `json:"rawValue" yaml:"raw"`
	DisplayValue string   `json:"displayValue" yaml:"display,omitempty"`
	Type         CellType `json:"type" yaml:"-"`
}

// GridData is a sparse grid keyed by "row:col". an absent key is an empty
// cell.
type GridData map[CellKey]CellData

// NewGridData builds a grid from A1-style references to raw values
func NewGridData(cells map[string]string) (GridData, error) {
	g := make(GridData, len(cells))
	for ref, raw := range cells {
		coord, err := RefToCoord(ref)
		if err != nil {
			return nil, err
		}
		g.SetRaw(coord, raw)
	}
	return g, nil
}

// RawValue returns the raw text at coord, "" when empty
func (g GridData) RawValue(coord CellCoord) string {
	return g[KeyOf(coord)].RawValue
}

// SetRaw stores raw text. an empty string removes the cell. the display of
// a literal is filled in immediately; formulas wait for the engine.
func (g GridData) SetRaw(coord CellCoord, raw string) {
	key := KeyOf(coord)
	if raw == "" {
		delete(g, key)
		return
	}
	cell := CellData{RawValue: raw}
	if !IsFormula(raw) {
		v := ParseLiteral(raw)
		cell.DisplayValue, cell.Type = FormatValue(v), typeOf(v)
	}
	g[key] = cell
}

// Apply writes engine updates into the display side of the grid
func (g GridData) Apply(updates []Update) {
	for _, u := range updates {
		key := KeyOf(u.Coord)
		cell, ok := g[key]
		if !ok {
			continue
		}
		cell.DisplayValue, cell.Type = u.Display, u.Type
		g[key] = cell
	}
}

// Coords returns every populated coordinate in (row, col) order
func (g GridData) Coords() []CellCoord {
	coords := make([]CellCoord, 0, len(g))
	for key := range g {
		if c, err := ParseKey(key); err == nil {
			coords = append(coords, c)
		}
	}
	sortCoords(coords)
	return coords
}

// Clone copies the grid
func (g GridData) Clone() GridData {
	out := make(GridData, len(g))
	for k, v := range g {
		out[k] = v
	}
	return out
}

func sortCoords(coords []CellCoord) {
	sort.Slice(coords, func(i, j int) bool { return coords[i].Less(coords[j]) })
}

// ParseLiteral types non-formula raw text: numeric text is a number,
// TRUE/FALSE a boolean, a leading apostrophe forces text.
func ParseLiteral(raw string) Primitive {
	if raw == "" {
		return nil
	}
	if text, ok := strings.CutPrefix(raw, "'"); ok {
		return text
	}
	if num, ok := parseNumber(raw); ok {
		return num
	}
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	return raw
}

// FormatValue renders a scalar for display
func FormatValue(v Primitive) string {
	return toText(v)
}

// formatNumber rounds to 15 significant digits so binary noise such as
// 0.1+0.2 displays as 0.3, then prints without trailing zeros
func formatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ErrorCodeNum.String()
	}
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(f, 'g', 15, 64), 64)
	if err != nil {
		rounded = f
	}
	if rounded == 0 {
		return "0"
	}
	if rounded == math.Trunc(rounded) && math.Abs(rounded) < 1e15 {
		return strconv.FormatFloat(rounded, 'f', -1, 64)
	}
	abs := math.Abs(rounded)
	if abs >= 1e-9 && abs < 1e15 {
		return strconv.FormatFloat(rounded, 'f', -1, 64)
	}
	return strconv.FormatFloat(rounded, 'E', -1, 64)
}
