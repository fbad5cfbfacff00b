package formula

import (
	"fmt"
	"strconv"
)

// Sheet owns a GridData and keeps it in step with an Engine: every write
// goes to the grid first, then the engine is told which cells changed and
// its updates are written back as display values.
type Sheet struct {
	grid      GridData
	engine    *Engine
	listeners []func(Update)
}

// NewSheet creates an empty sheet. opts configure the underlying engine.
func NewSheet(opts ...Option) *Sheet {
	grid := make(GridData)
	return &Sheet{grid: grid, engine: New(grid, opts...)}
}

// NewSheetFromGrid creates a sheet over grid and computes every formula in
// it
func NewSheetFromGrid(grid GridData, opts ...Option) *Sheet {
	s := NewSheet(opts...)
	s.Replace(grid)
	return s
}

// Engine returns the engine behind the sheet
func (s *Sheet) Engine() *Engine {
	return s.engine
}

// Grid returns the sheet's storage. callers must not modify it directly.
func (s *Sheet) Grid() GridData {
	return s.grid
}

// OnUpdate registers fn to be called with every update the sheet applies
func (s *Sheet) OnUpdate(fn func(Update)) {
	s.listeners = append(s.listeners, fn)
}

// resolveAddress decodes an A1-style address
func resolveAddress(address string) (CellCoord, error) {
	coord, err := RefToCoord(address)
	if err != nil {
		return CellCoord{}, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid address %q: %v", address, err))
	}
	return coord, nil
}

// rawText converts a Go value to the raw text a user would type
func rawText(value Primitive) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	default:
		return "", NewApplicationError(InvalidArgument, fmt.Sprintf("cannot store %T in a cell", value))
	}
}

// Set stores a value or formula at address and recalculates. strings
// starting with "=" are formulas, nil clears the cell.
func (s *Sheet) Set(address string, value Primitive) error {
	coord, err := resolveAddress(address)
	if err != nil {
		return err
	}
	raw, err := rawText(value)
	if err != nil {
		return err
	}
	s.SetRaw(coord, raw)
	return nil
}

// SetRaw stores raw text at coord and returns the updates it caused
func (s *Sheet) SetRaw(coord CellCoord, raw string) []Update {
	s.grid.SetRaw(coord, raw)
	return s.apply(s.engine.OnCellChanged(coord))
}

// SetBatch writes several cells and recalculates once
func (s *Sheet) SetBatch(cells map[string]Primitive) error {
	coords := make([]CellCoord, 0, len(cells))
	raws := make([]string, 0, len(cells))
	for address, value := range cells {
		coord, err := resolveAddress(address)
		if err != nil {
			return err
		}
		raw, err := rawText(value)
		if err != nil {
			return err
		}
		coords = append(coords, coord)
		raws = append(raws, raw)
	}
	for i, coord := range coords {
		s.grid.SetRaw(coord, raws[i])
	}
	s.apply(s.engine.OnCellChanged(coords...))
	return nil
}

// Clear empties the cell at address
func (s *Sheet) Clear(address string) error {
	return s.Set(address, nil)
}

// Get returns the typed value at address: the result for formula cells,
// the literal otherwise, nil when empty
func (s *Sheet) Get(address string) (Primitive, error) {
	coord, err := resolveAddress(address)
	if err != nil {
		return nil, err
	}
	return s.engine.Value(coord), nil
}

// Display returns the stored cell at address. an empty cell is the zero
// CellData.
func (s *Sheet) Display(address string) (CellData, error) {
	coord, err := resolveAddress(address)
	if err != nil {
		return CellData{}, err
	}
	return s.grid[KeyOf(coord)], nil
}

// RawFormula returns the text typed at address
func (s *Sheet) RawFormula(address string) (string, error) {
	coord, err := resolveAddress(address)
	if err != nil {
		return "", err
	}
	return s.engine.RawFormula(coord), nil
}

// Replace swaps in a whole new grid and recomputes it
func (s *Sheet) Replace(grid GridData) []Update {
	if grid == nil {
		grid = make(GridData)
	}
	s.grid = grid
	return s.apply(s.engine.OnBulkReplace(grid))
}

// Recalculate recomputes every formula, e.g. after re-registering a
// function
func (s *Sheet) Recalculate() []Update {
	return s.apply(s.engine.RecalculateAll())
}

func (s *Sheet) apply(updates []Update) []Update {
	s.grid.Apply(updates)
	for _, u := range updates {
		for _, fn := range s.listeners {
			fn(u)
		}
	}
	return updates
}

// RunnableSheet provides a chainable interface for sheet operations. it
// wraps a Sheet and keeps the first error; later calls become no-ops.
type RunnableSheet struct {
	sheet   *Sheet
	err     error
	printLn func(string)
}

// NewRunnableSheet creates a new RunnableSheet. printLn receives the
// output of Log and CheckError.
func NewRunnableSheet(printLn func(string), opts ...Option) *RunnableSheet {
	return &RunnableSheet{sheet: NewSheet(opts...), printLn: printLn}
}

// Set sets a cell value (chainable)
func (r *RunnableSheet) Set(address string, value Primitive) *RunnableSheet {
	if r.err != nil {
		return r
	}
	r.err = r.sheet.Set(address, value)
	return r
}

// SetBatch sets several cells at once (chainable)
func (r *RunnableSheet) SetBatch(cells map[string]Primitive) *RunnableSheet {
	if r.err != nil {
		return r
	}
	r.err = r.sheet.SetBatch(cells)
	return r
}

// Clear empties a cell (chainable)
func (r *RunnableSheet) Clear(address string) *RunnableSheet {
	if r.err != nil {
		return r
	}
	r.err = r.sheet.Clear(address)
	return r
}

// Register adds a function to the sheet's engine (chainable)
func (r *RunnableSheet) Register(name string, fn Function, opts ...FunctionOption) *RunnableSheet {
	if r.err != nil {
		return r
	}
	r.err = r.sheet.Engine().Register(name, fn, opts...)
	return r
}

// Then applies fn to the chain
func (r *RunnableSheet) Then(fn func(*RunnableSheet) *RunnableSheet) *RunnableSheet {
	if r.err != nil {
		return r
	}
	return fn(r)
}

// If applies fn only when condition holds
func (r *RunnableSheet) If(condition bool, fn func(*RunnableSheet) *RunnableSheet) *RunnableSheet {
	if !condition || r.err != nil {
		return r
	}
	return fn(r)
}

// OnError lets fn replace or swallow the current error
func (r *RunnableSheet) OnError(fn func(error) error) *RunnableSheet {
	if r.err != nil {
		r.err = fn(r.err)
	}
	return r
}

// Value returns the value at address, nil on error
func (r *RunnableSheet) Value(address string) Primitive {
	if r.err != nil {
		return nil
	}
	v, err := r.sheet.Get(address)
	if err != nil {
		r.err = err
		return nil
	}
	return v
}

// Values returns the values at several addresses
func (r *RunnableSheet) Values(addresses ...string) []Primitive {
	out := make([]Primitive, len(addresses))
	for i, address := range addresses {
		out[i] = r.Value(address)
	}
	return out
}

// Log prints the display value of a cell (chainable)
func (r *RunnableSheet) Log(address string) *RunnableSheet {
	if r.err != nil {
		return r
	}
	cell, err := r.sheet.Display(address)
	if err != nil {
		r.err = err
		return r
	}
	r.printLn(fmt.Sprintf("%s: %s", address, cell.DisplayValue))
	return r
}

// CheckError prints the current error state (chainable)
func (r *RunnableSheet) CheckError() *RunnableSheet {
	if r.err != nil {
		r.printLn(fmt.Sprintf("ERROR: %v", r.err))
	} else {
		r.printLn("No errors")
	}
	return r
}

// Error returns the current error state
func (r *RunnableSheet) Error() error {
	return r.err
}

// Sheet returns the wrapped sheet
func (r *RunnableSheet) Sheet() *Sheet {
	return r.sheet
}

// Run returns the sheet and the first error hit by the chain
func (r *RunnableSheet) Run() (*Sheet, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.sheet, nil
}
