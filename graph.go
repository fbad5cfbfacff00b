package formula

import "container/heap"

// DependencyNode holds the edges of one cell. an edge A -> B means the
// formula in A reads B; A lists B in Precedents and B lists A in
// Dependents.
type DependencyNode struct {
	Precedents map[CellCoord]struct{} // cells this cell reads
	Dependents map[CellCoord]struct{} // cells that read this cell
}

// DependencyGraph is an adjacency map keyed by coordinate. nodes exist for
// formula cells and for any cell a formula reads.
type DependencyGraph struct {
	nodes         map[CellCoord]*DependencyNode
	volatileCells map[CellCoord]struct{} // cells calling volatile functions (always recalculate)
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes:         make(map[CellCoord]*DependencyNode),
		volatileCells: make(map[CellCoord]struct{}),
	}
}

// getOrCreateNode gets an existing node or creates a new one
func (dg *DependencyGraph) getOrCreateNode(addr CellCoord) *DependencyNode {
	if node, exists := dg.nodes[addr]; exists {
		return node
	}
	node := &DependencyNode{
		Precedents: make(map[CellCoord]struct{}),
		Dependents: make(map[CellCoord]struct{}),
	}
	dg.nodes[addr] = node
	return node
}

// SetPrecedents replaces every outgoing edge of cell with edges to
// precedents. old edges are never merged with new ones.
func (dg *DependencyGraph) SetPrecedents(cell CellCoord, precedents []CellCoord) {
	dg.ClearDependencies(cell)
	if len(precedents) == 0 {
		return
	}
	node := dg.getOrCreateNode(cell)
	for _, p := range precedents {
		node.Precedents[p] = struct{}{}
		dg.getOrCreateNode(p).Dependents[cell] = struct{}{}
	}
}

// ClearDependencies removes the outgoing edges of a cell. edges pointing at
// it from other formulas are kept.
func (dg *DependencyGraph) ClearDependencies(cell CellCoord) {
	node, exists := dg.nodes[cell]
	if !exists {
		return
	}
	for p := range node.Precedents {
		if pn, ok := dg.nodes[p]; ok {
			delete(pn.Dependents, cell)
			dg.cleanupNodeIfEmpty(p)
		}
	}
	node.Precedents = make(map[CellCoord]struct{})
	dg.cleanupNodeIfEmpty(cell)
}

// cleanupNodeIfEmpty drops a node with no edges left
func (dg *DependencyGraph) cleanupNodeIfEmpty(addr CellCoord) {
	node, exists := dg.nodes[addr]
	if !exists {
		return
	}
	if len(node.Precedents) > 0 || len(node.Dependents) > 0 {
		return
	}
	delete(dg.nodes, addr)
}

// GetDirectPrecedents returns cells this cell directly reads, in grid order
func (dg *DependencyGraph) GetDirectPrecedents(addr CellCoord) []CellCoord {
	node, exists := dg.nodes[addr]
	if !exists {
		return nil
	}
	return sortedSet(node.Precedents)
}

// GetDirectDependents returns cells directly reading this cell, in grid order
func (dg *DependencyGraph) GetDirectDependents(addr CellCoord) []CellCoord {
	node, exists := dg.nodes[addr]
	if !exists {
		return nil
	}
	return sortedSet(node.Dependents)
}

// GetAllDependents returns the transitive dependents of the given cells.
// the cells themselves are only included when they sit on a cycle.
func (dg *DependencyGraph) GetAllDependents(cells ...CellCoord) map[CellCoord]struct{} {
	visited := make(map[CellCoord]struct{})
	stack := append([]CellCoord(nil), cells...)
	for len(stack) > 0 {
		addr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, exists := dg.nodes[addr]
		if !exists {
			continue
		}
		for dep := range node.Dependents {
			if _, seen := visited[dep]; seen {
				continue
			}
			visited[dep] = struct{}{}
			stack = append(stack, dep)
		}
	}
	return visited
}

// CalculationOrder orders the cells of set so that every cell comes after
// the precedents it shares with the set. among ready cells the smallest
// (row, col) goes first. cells stuck behind a cycle are returned in
// blocked, in grid order.
func (dg *DependencyGraph) CalculationOrder(set map[CellCoord]struct{}) (order, blocked []CellCoord) {
	indegree := make(map[CellCoord]int, len(set))
	ready := &coordHeap{}
	for cell := range set {
		n := 0
		if node, ok := dg.nodes[cell]; ok {
			for p := range node.Precedents {
				if _, in := set[p]; in && p != cell {
					n++
				}
			}
			if _, self := node.Precedents[cell]; self {
				// a self-reference never becomes ready
				n++
			}
		}
		indegree[cell] = n
		if n == 0 {
			*ready = append(*ready, cell)
		}
	}
	heap.Init(ready)

	order = make([]CellCoord, 0, len(set))
	for ready.Len() > 0 {
		cell := heap.Pop(ready).(CellCoord)
		order = append(order, cell)
		node, ok := dg.nodes[cell]
		if !ok {
			continue
		}
		for dep := range node.Dependents {
			if _, in := set[dep]; !in || dep == cell {
				continue
			}
			indegree[dep]--
			if indegree[dep] == 0 {
				heap.Push(ready, dep)
			}
		}
	}

	for cell, n := range indegree {
		if n > 0 {
			blocked = append(blocked, cell)
		}
	}
	sortCoords(blocked)
	return order, blocked
}

// HasCycle checks if there are circular dependencies anywhere in the graph
func (dg *DependencyGraph) HasCycle() bool {
	all := make(map[CellCoord]struct{}, len(dg.nodes))
	for addr := range dg.nodes {
		all[addr] = struct{}{}
	}
	_, blocked := dg.CalculationOrder(all)
	return len(blocked) > 0
}

// MarkVolatile marks a cell as containing volatile functions
func (dg *DependencyGraph) MarkVolatile(addr CellCoord) {
	dg.volatileCells[addr] = struct{}{}
}

// UnmarkVolatile removes volatile marking from a cell
func (dg *DependencyGraph) UnmarkVolatile(addr CellCoord) {
	delete(dg.volatileCells, addr)
}

// IsVolatile checks if a cell contains volatile functions
func (dg *DependencyGraph) IsVolatile(addr CellCoord) bool {
	_, isVolatile := dg.volatileCells[addr]
	return isVolatile
}

// GetVolatileCells returns all cells marked as volatile, in grid order
func (dg *DependencyGraph) GetVolatileCells() []CellCoord {
	return sortedSet(dg.volatileCells)
}

// NodeCount returns the number of nodes in the graph
func (dg *DependencyGraph) NodeCount() int {
	return len(dg.nodes)
}

// Clear removes all nodes and dependencies from the graph
func (dg *DependencyGraph) Clear() {
	dg.nodes = make(map[CellCoord]*DependencyNode)
	dg.volatileCells = make(map[CellCoord]struct{})
}

func sortedSet(set map[CellCoord]struct{}) []CellCoord {
	out := make([]CellCoord, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sortCoords(out)
	return out
}

// coordHeap is a min-heap of coordinates in (row, col) order
type coordHeap []CellCoord

func (h coordHeap) Len() int           { return len(h) }
func (h coordHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h coordHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *coordHeap) Push(x any) {
	*h = append(*h, x.(CellCoord))
}

func (h *coordHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
