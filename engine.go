package formula

import (
	"fmt"
	"log/slog"
	"strings"
)

// Source is the cell storage the engine reads raw text from. the engine
// never writes to it.
type Source interface {
	RawValue(coord CellCoord) string
	Coords() []CellCoord
}

// Update is one display change the storage collaborator should apply.
// ErrorCode is empty unless the cell holds an error.
type Update struct {
	Coord     CellCoord `json:"coord"`
	Ref       string    `json:"ref"`
	Display   string    `json:"display"`
	ErrorCode string    `json:"errorCode,omitempty"`
	Type      CellType  `json:"type"`
}

func newUpdate(coord CellCoord, v Primitive) Update {
	u := Update{
		Coord:   coord,
		Ref:     coord.String(),
		Display: FormatValue(v),
		Type:    typeOf(v),
	}
	if err, ok := asError(v); ok {
		u.ErrorCode = err.ErrorCode.String()
	}
	return u
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger used for recalculation diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRegistry makes the engine resolve calls against r instead of a fresh
// built-in registry
func WithRegistry(r *Registry) Option {
	return func(e *Engine) {
		e.functions = r
	}
}

// WithRecalcObserver calls fn with each cell as it is recomputed
func WithRecalcObserver(fn func(CellCoord)) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// WithClock sets the time source of NOW and TODAY
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithRandom sets the random source of RAND and RANDBETWEEN
func WithRandom(rng RandomGenerator) Option {
	return func(e *Engine) {
		e.rng = rng
	}
}

// Engine keeps formula results consistent with a Source. it owns the parsed
// formulas, the dependency graph and the function registry; none of them
// are safe for concurrent use.
type Engine struct {
	source      Source
	functions   *Registry
	formulas    *FormulaTable
	graph       *DependencyGraph
	logger      *slog.Logger
	observer    func(CellCoord)
	clock       Clock
	rng         RandomGenerator
	recalcCount int
}

// New creates an engine over source. formulas already in source are not
// evaluated until OnBulkReplace or OnCellChanged is called.
func New(source Source, opts ...Option) *Engine {
	e := &Engine{
		source:   source,
		formulas: NewFormulaTable(),
		graph:    NewDependencyGraph(),
		logger:   slog.Default(),
		clock:    &WallClock{},
		rng:      &DefaultRandomGenerator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.functions == nil {
		e.functions = NewRegistry()
		NewBuiltInFunctions(e.clock, e.rng).RegisterAll(e.functions)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Register adds or replaces a function in this engine's registry. cells
// already showing a result are not recomputed until they change; call
// RecalculateAll to refresh them.
func (e *Engine) Register(name string, fn Function, opts ...FunctionOption) error {
	if err := e.functions.Register(name, fn, opts...); err != nil {
		return err
	}
	e.refreshVolatile()
	return nil
}

// Functions returns the engine's registry
func (e *Engine) Functions() *Registry {
	return e.functions
}

// GetCellValue implements Context. formula cells yield their cached result,
// other cells their typed literal.
func (e *Engine) GetCellValue(coord CellCoord) Primitive {
	if entry, ok := e.formulas.Get(coord); ok {
		return entry.value
	}
	if e.source == nil {
		return nil
	}
	return ParseLiteral(e.source.RawValue(coord))
}

// GetRangeValues implements Context
func (e *Engine) GetRangeValues(r SelectionRange) *RangeValue {
	return CollectRange(r, e.GetCellValue)
}

// Value is GetCellValue under a shorter name
func (e *Engine) Value(coord CellCoord) Primitive {
	return e.GetCellValue(coord)
}

// RawFormula returns the text the user typed at coord, exactly as typed
func (e *Engine) RawFormula(coord CellCoord) string {
	if entry, ok := e.formulas.Get(coord); ok {
		return entry.raw
	}
	if e.source == nil {
		return ""
	}
	return e.source.RawValue(coord)
}

// Precedents returns the cells the formula at coord reads
func (e *Engine) Precedents(coord CellCoord) []CellCoord {
	return e.graph.GetDirectPrecedents(coord)
}

// Dependents returns the formula cells that read coord
func (e *Engine) Dependents(coord CellCoord) []CellCoord {
	return e.graph.GetDirectDependents(coord)
}

// RecalcCount returns how many formula evaluations the engine has run
func (e *Engine) RecalcCount() int {
	return e.recalcCount
}

// OnCellChanged is called after the raw text of coords changed in the
// source. it reparses what changed, recomputes the transitive dependents
// and returns the display updates: changed literal cells first, in grid
// order, then formula cells in the order they were computed.
func (e *Engine) OnCellChanged(coords ...CellCoord) []Update {
	var (
		updates []Update
		changed []CellCoord
		dirty   = make(map[CellCoord]struct{})
	)
	seen := make(map[CellCoord]struct{}, len(coords))
	sorted := append([]CellCoord(nil), coords...)
	sortCoords(sorted)
	for _, coord := range sorted {
		if _, dup := seen[coord]; dup {
			continue
		}
		seen[coord] = struct{}{}
		changed = append(changed, coord)

		raw := ""
		if e.source != nil {
			raw = e.source.RawValue(coord)
		}
		if IsFormula(raw) {
			e.putFormula(coord, raw)
			dirty[coord] = struct{}{}
			continue
		}
		e.dropFormula(coord)
		updates = append(updates, newUpdate(coord, ParseLiteral(raw)))
	}

	for dep := range e.graph.GetAllDependents(changed...) {
		dirty[dep] = struct{}{}
	}
	e.addVolatile(dirty)
	e.logger.Debug("recalculating", "changed", len(changed), "dirty", len(dirty))
	return append(updates, e.recalculate(dirty)...)
}

// OnBulkReplace swaps the whole grid. every cached formula and edge is
// dropped and rebuilt from source, then every formula is computed in one
// pass. literal cells come first in the returned updates.
func (e *Engine) OnBulkReplace(source Source) []Update {
	e.source = source
	e.formulas.Clear()
	e.graph.Clear()

	var updates []Update
	dirty := make(map[CellCoord]struct{})
	if source != nil {
		for _, coord := range source.Coords() {
			raw := source.RawValue(coord)
			if IsFormula(raw) {
				e.putFormula(coord, raw)
				dirty[coord] = struct{}{}
				continue
			}
			updates = append(updates, newUpdate(coord, ParseLiteral(raw)))
		}
	}
	e.logger.Debug("bulk replace", "formulas", len(dirty), "literals", len(updates))
	return append(updates, e.recalculate(dirty)...)
}

// RecalculateAll recomputes every formula cell, e.g. after a function was
// re-registered
func (e *Engine) RecalculateAll() []Update {
	dirty := make(map[CellCoord]struct{}, e.formulas.Count())
	for _, cell := range e.formulas.Cells() {
		dirty[cell] = struct{}{}
	}
	return e.recalculate(dirty)
}

// putFormula (re)parses a formula cell and replaces its outgoing edges
func (e *Engine) putFormula(coord CellCoord, raw string) {
	entry, reparsed := e.formulas.Put(coord, raw)
	if !reparsed {
		return
	}
	e.logger.Debug("parsed formula", "cell", coord.String(), "formula", raw, "error", entry.parseErr)

	e.graph.UnmarkVolatile(coord)
	if entry.node == nil {
		e.graph.ClearDependencies(coord)
		return
	}
	e.graph.SetPrecedents(coord, Precedents(entry.node))
	if e.callsVolatile(entry.node) {
		entry.volatile = true
		e.graph.MarkVolatile(coord)
	}
}

// dropFormula forgets the formula at coord. edges into coord stay, since
// other formulas still read it.
func (e *Engine) dropFormula(coord CellCoord) {
	if e.formulas.Remove(coord) {
		e.graph.ClearDependencies(coord)
		e.graph.UnmarkVolatile(coord)
	}
}

// refreshVolatile re-derives which parsed formulas call a volatile
// function, since registering can change a name's volatility
func (e *Engine) refreshVolatile() {
	for _, cell := range e.formulas.Cells() {
		entry, _ := e.formulas.Get(cell)
		if entry.node == nil {
			continue
		}
		entry.volatile = e.callsVolatile(entry.node)
		if entry.volatile {
			e.graph.MarkVolatile(cell)
		} else {
			e.graph.UnmarkVolatile(cell)
		}
	}
}

// addVolatile adds volatile cells and everything downstream of them
func (e *Engine) addVolatile(dirty map[CellCoord]struct{}) {
	volatile := e.graph.GetVolatileCells()
	if len(volatile) == 0 {
		return
	}
	for _, cell := range volatile {
		dirty[cell] = struct{}{}
	}
	for dep := range e.graph.GetAllDependents(volatile...) {
		dirty[dep] = struct{}{}
	}
}

func (e *Engine) callsVolatile(node ASTNode) bool {
	found := false
	Walk(node, func(n ASTNode) bool {
		if call, ok := n.(*FunctionCallNode); ok && e.functions.IsVolatile(call.Name) {
			found = true
		}
		return !found
	})
	return found
}

// recalculate brings every formula cell in dirty up to date. cells are
// taken in dependency order with ties going to the smaller (row, col);
// whatever a cycle blocks is then resolved one cell at a time so cycle
// members end up as #CIRCULAR!.
func (e *Engine) recalculate(dirty map[CellCoord]struct{}) []Update {
	formulaCells := make(map[CellCoord]struct{}, len(dirty))
	for cell := range dirty {
		if entry, ok := e.formulas.Get(cell); ok {
			entry.state = cellDirty
			formulaCells[cell] = struct{}{}
		}
	}
	if len(formulaCells) == 0 {
		return nil
	}

	order, blocked := e.graph.CalculationOrder(formulaCells)
	stack := newCalculationStack()
	for _, cell := range append(order, blocked...) {
		e.calculateCell(cell, stack)
	}

	updates := make([]Update, 0, len(stack.completed))
	for _, cell := range stack.completed {
		entry, _ := e.formulas.Get(cell)
		updates = append(updates, newUpdate(cell, entry.value))
	}
	return updates
}

// calculateCell evaluates one dirty cell after making its precedents clean
func (e *Engine) calculateCell(cell CellCoord, stack *calculationStack) {
	entry, ok := e.formulas.Get(cell)
	if !ok || entry.state != cellDirty {
		return
	}

	entry.state = cellEvaluating
	stack.push(cell)
	defer stack.pop()

	for _, p := range e.graph.GetDirectPrecedents(cell) {
		precedent, ok := e.formulas.Get(p)
		if !ok {
			continue
		}
		switch precedent.state {
		case cellEvaluating:
			e.markCircular(p, stack)
			return
		case cellDirty:
			e.calculateCell(p, stack)
		}
		if entry.state == cellCircular {
			// a cycle through this cell was found further down
			return
		}
	}

	var result Primitive
	if entry.node == nil {
		result = errorValueFor(entry.parseErr)
	} else {
		ev := &Evaluation{Context: e, Functions: e.functions, Logger: e.logger}
		result = ev.Run(entry.node)
	}
	if result == nil {
		// a formula pointing at an empty cell shows 0
		result = 0.0
	}
	entry.value = result
	entry.state = cellClean
	e.recomputed(cell, stack)
}

// markCircular marks every cell on the stack from start to the top as a
// cycle member
func (e *Engine) markCircular(start CellCoord, stack *calculationStack) {
	members := stack.from(start)
	refs := make([]string, len(members))
	for i, cell := range members {
		refs[i] = cell.String()
	}
	msg := fmt.Sprintf("circular reference: %s", strings.Join(refs, " -> "))
	for _, cell := range members {
		entry, _ := e.formulas.Get(cell)
		entry.state = cellCircular
		entry.value = NewSpreadsheetError(ErrorCodeCircular, msg)
		e.recomputed(cell, stack)
	}
	e.logger.Warn("circular reference", "cells", refs)
}

func (e *Engine) recomputed(cell CellCoord, stack *calculationStack) {
	e.recalcCount++
	stack.markCompleted(cell)
	if e.observer != nil {
		e.observer(cell)
	}
}

// calculationStack holds the cells currently being evaluated, innermost
// last, and the cells finished in this batch in completion order
type calculationStack struct {
	items     []CellCoord
	completed []CellCoord
}

func newCalculationStack() *calculationStack {
	return &calculationStack{}
}

func (cs *calculationStack) push(cell CellCoord) {
	cs.items = append(cs.items, cell)
}

func (cs *calculationStack) pop() {
	if len(cs.items) > 0 {
		cs.items = cs.items[:len(cs.items)-1]
	}
}

// from returns the stack from cell to the top
func (cs *calculationStack) from(cell CellCoord) []CellCoord {
	for i, item := range cs.items {
		if item == cell {
			return append([]CellCoord(nil), cs.items[i:]...)
		}
	}
	return nil
}

func (cs *calculationStack) markCompleted(cell CellCoord) {
	cs.completed = append(cs.completed, cell)
}
