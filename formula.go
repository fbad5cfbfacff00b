package formula

// cellState tracks where a formula cell is in recalculation
type cellState uint8

const (
	cellClean cellState = iota
	cellDirty
	cellEvaluating
	cellCircular
)

var cellStateNames = map[cellState]string{
	cellClean:      "clean",
	cellDirty:      "dirty",
	cellEvaluating: "evaluating",
	cellCircular:   "circular",
}

func (s cellState) String() string {
	return cellStateNames[s]
}

// formulaEntry is the cached formula of one cell. node is nil when the raw
// text failed to parse, in which case parseErr is set.
type formulaEntry struct {
	raw      string
	node     ASTNode
	parseErr error
	value    Primitive
	state    cellState
	volatile bool
}

// FormulaTable stores the parsed formula of every formula cell. a cell is
// only reparsed when its raw text changes.
type FormulaTable struct {
	entries map[CellCoord]*formulaEntry
	parses  int
}

// NewFormulaTable creates a new formula table
func NewFormulaTable() *FormulaTable {
	return &FormulaTable{entries: make(map[CellCoord]*formulaEntry)}
}

// Put stores raw formula text for cell. it reports whether the text was
// (re)parsed; an unchanged formula keeps its tree and cached value.
func (ft *FormulaTable) Put(cell CellCoord, raw string) (*formulaEntry, bool) {
	if entry, exists := ft.entries[cell]; exists && entry.raw == raw {
		return entry, false
	}
	node, err := ParseFormula(raw)
	entry := &formulaEntry{raw: raw, node: node, parseErr: err, state: cellDirty}
	if err != nil {
		entry.node = nil
	}
	ft.entries[cell] = entry
	ft.parses++
	return entry, true
}

// Get returns the formula entry at cell
func (ft *FormulaTable) Get(cell CellCoord) (*formulaEntry, bool) {
	entry, exists := ft.entries[cell]
	return entry, exists
}

// Remove drops the formula at cell. it reports whether one was present.
func (ft *FormulaTable) Remove(cell CellCoord) bool {
	_, exists := ft.entries[cell]
	delete(ft.entries, cell)
	return exists
}

// Cells returns every formula cell in grid order
func (ft *FormulaTable) Cells() []CellCoord {
	cells := make([]CellCoord, 0, len(ft.entries))
	for cell := range ft.entries {
		cells = append(cells, cell)
	}
	sortCoords(cells)
	return cells
}

// Count returns the number of formula cells
func (ft *FormulaTable) Count() int {
	return len(ft.entries)
}

// ParseCount returns how many times formula text has been parsed
func (ft *FormulaTable) ParseCount() int {
	return ft.parses
}

// Clear removes every formula
func (ft *FormulaTable) Clear() {
	ft.entries = make(map[CellCoord]*formulaEntry)
}
