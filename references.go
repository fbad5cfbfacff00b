package formula

// Walk visits node and its children depth-first, left to right. returning
// false from fn stops the walk.
func Walk(node ASTNode, fn func(ASTNode) bool) bool {
	if node == nil {
		return true
	}
	if !fn(node) {
		return false
	}
	switch n := node.(type) {
	case *BinaryOpNode:
		return Walk(n.Left, fn) && Walk(n.Right, fn)
	case *UnaryOpNode:
		return Walk(n.Operand, fn)
	case *FunctionCallNode:
		for _, arg := range n.Args {
			if !Walk(arg, fn) {
				return false
			}
		}
	}
	return true
}

// References lists the single cells and the ranges a formula reads, in the
// order they appear. duplicates are kept.
func References(node ASTNode) (cells []CellCoord, ranges []SelectionRange) {
	Walk(node, func(n ASTNode) bool {
		switch ref := n.(type) {
		case *CellRefNode:
			cells = append(cells, ref.Ref.Coord)
		case *RangeNode:
			ranges = append(ranges, ref.Range())
		}
		return true
	})
	return cells, ranges
}

// Precedents expands References into the distinct cells a formula depends
// on, one per covered coordinate, in grid order
func Precedents(node ASTNode) []CellCoord {
	cells, ranges := References(node)
	set := make(map[CellCoord]struct{}, len(cells))
	for _, c := range cells {
		set[c] = struct{}{}
	}
	for _, r := range ranges {
		for c := range r.Cells() {
			set[c] = struct{}{}
		}
	}
	return sortedSet(set)
}

// Functions lists the uppercase names of the functions a formula calls
func Functions(node ASTNode) []string {
	var names []string
	Walk(node, func(n ASTNode) bool {
		if call, ok := n.(*FunctionCallNode); ok {
			names = append(names, call.Name)
		}
		return true
	})
	return names
}
