package formula

import (
	"fmt"
	"regexp"
	"strings"
)

// lookupEqual matches values the way exact lookups do: numbers against
// numbers, text against text case-insensitively, booleans against booleans.
func lookupEqual(want, got Primitive) bool {
	switch w := want.(type) {
	case float64:
		g, ok := got.(float64)
		return ok && g == w
	case string:
		g, ok := got.(string)
		return ok && foldCase(g) == foldCase(w)
	case bool:
		g, ok := got.(bool)
		return ok && g == w
	case nil:
		return got == nil
	}
	return false
}

// lookupCompare orders got against want for sorted lookups. ok is false
// when the two are not of the same kind and so cannot be ordered.
func lookupCompare(got, want Primitive) (cmp int, ok bool) {
	switch w := want.(type) {
	case float64:
		g, isNum := got.(float64)
		if !isNum {
			return 0, false
		}
		switch {
		case g < w:
			return -1, true
		case g > w:
			return 1, true
		}
		return 0, true
	case string:
		g, isText := got.(string)
		if !isText {
			return 0, false
		}
		return strings.Compare(foldCase(g), foldCase(w)), true
	case bool:
		g, isBool := got.(bool)
		if !isBool {
			return 0, false
		}
		return compareValues(g, w), true
	}
	return 0, false
}

// approximateIndex returns the position of the largest value <= want in an
// ascending vector, or -1.
func approximateIndex(values []Primitive, want Primitive) int {
	found := -1
	for i, v := range values {
		cmp, ok := lookupCompare(v, want)
		if !ok {
			continue
		}
		if cmp > 0 {
			break
		}
		found = i
	}
	return found
}

// exactIndex returns the first position equal to want, honouring * and ?
// wildcards for text, or -1.
func exactIndex(values []Primitive, want Primitive) int {
	if s, ok := want.(string); ok && strings.ContainsAny(s, "*?") {
		pattern := wildcardPattern(s)
		for i, v := range values {
			if text, isText := v.(string); isText && pattern.MatchString(text) {
				return i
			}
		}
		return -1
	}
	for i, v := range values {
		if lookupEqual(want, v) {
			return i
		}
	}
	return -1
}

// tableLookup implements VLOOKUP (byRow) and HLOOKUP. args are
// (key, table, index, [approximate]).
func tableLookup(name string, args []Value, byRow bool) (Value, error) {
	if err := checkArity(name, args, 3, 4); err != nil {
		return nil, err
	}
	key := scalar(args[0])
	if err, ok := asError(key); ok {
		return nil, err
	}
	table := asRange(args[1])
	index, err := intArg(name, args[2])
	if err != nil {
		return nil, err
	}
	approximate := true
	if len(args) == 4 {
		b, errVal := toBool(scalar(args[3]))
		if errVal != nil {
			return nil, errVal
		}
		approximate = b
	}

	lines, span := table.Height(), table.Width()
	at := func(line, i int) Primitive { return table.At(line, i) }
	if !byRow {
		lines, span = span, lines
		at = func(line, i int) Primitive { return table.At(i, line) }
	}
	if index < 1 {
		return nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("%s index must be at least 1", name))
	}
	if index > span {
		return nil, NewSpreadsheetError(ErrorCodeRef, fmt.Sprintf("%s index %d is outside the table", name, index))
	}

	keys := make([]Primitive, lines)
	for i := range keys {
		keys[i] = at(i, 0)
	}

	var line int
	if approximate {
		line = approximateIndex(keys, key)
	} else {
		line = exactIndex(keys, key)
	}
	if line < 0 {
		return nil, NewSpreadsheetError(ErrorCodeNA, fmt.Sprintf("%s did not find %s", name, toText(key)))
	}
	return at(line, index-1), nil
}

// VLOOKUP(key, table, column, [approximate]) searches the first column of
// table and returns the value in the given 1-based column
func (bf *BuiltInFunctions) VLOOKUP(ctx Context, args ...Value) (Value, error) {
	return tableLookup("VLOOKUP", args, true)
}

// HLOOKUP is VLOOKUP over the first row
func (bf *BuiltInFunctions) HLOOKUP(ctx Context, args ...Value) (Value, error) {
	return tableLookup("HLOOKUP", args, false)
}

// INDEX(range, row, [col]). a zero row or column selects the whole column
// or row as a range.
func (bf *BuiltInFunctions) INDEX(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("INDEX", args, 2, 3); err != nil {
		return nil, err
	}
	rv := asRange(args[0])
	row, err := intArg("INDEX", args[1])
	if err != nil {
		return nil, err
	}
	col := 0
	if len(args) == 3 {
		if col, err = intArg("INDEX", args[2]); err != nil {
			return nil, err
		}
	} else {
		switch {
		case rv.Height() == 1:
			// a single row is indexed by its one argument
			row, col = 1, row
		case rv.Width() == 1:
			col = 1
		}
	}

	if row < 0 || col < 0 || row > rv.Height() || col > rv.Width() {
		return nil, NewSpreadsheetError(ErrorCodeRef, "INDEX position is outside the range")
	}
	switch {
	case row > 0 && col > 0:
		return rv.At(row-1, col-1), nil
	case row == 0 && col == 0:
		return rv, nil
	case row == 0:
		return subRange(rv, 0, col-1, rv.Height(), 1), nil
	default:
		return subRange(rv, row-1, 0, 1, rv.Width()), nil
	}
}

// subRange slices a rectangle out of rv, keeping grid bounds in sync
func subRange(rv *RangeValue, row, col, height, width int) *RangeValue {
	start := CellCoord{Row: rv.Bounds.Start.Row + row, Col: rv.Bounds.Start.Col + col}
	end := CellCoord{Row: start.Row + height - 1, Col: start.Col + width - 1}
	rows := make([][]Primitive, height)
	for i := range rows {
		rows[i] = rv.Rows[row+i][col : col+width]
	}
	return NewRangeValue(SelectionRange{Start: start, End: end}, rows)
}

// MATCH(key, vector, [type]) returns the 1-based position of key. type 0 is
// exact, 1 (default) finds the largest value <= key in ascending data, -1
// the smallest value >= key in descending data.
func (bf *BuiltInFunctions) MATCH(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("MATCH", args, 2, 3); err != nil {
		return nil, err
	}
	key := scalar(args[0])
	if err, ok := asError(key); ok {
		return nil, err
	}
	values, ok := asRange(args[1]).Vector()
	if !ok {
		return nil, NewSpreadsheetError(ErrorCodeNA, "MATCH needs a single row or column")
	}
	matchType := 1
	if len(args) == 3 {
		var err error
		if matchType, err = intArg("MATCH", args[2]); err != nil {
			return nil, err
		}
	}

	idx := -1
	switch {
	case matchType == 0:
		idx = exactIndex(values, key)
	case matchType > 0:
		idx = approximateIndex(values, key)
	default:
		for i, v := range values {
			cmp, ok := lookupCompare(v, key)
			if !ok {
				continue
			}
			if cmp < 0 {
				break
			}
			idx = i
		}
	}
	if idx < 0 {
		return nil, NewSpreadsheetError(ErrorCodeNA, fmt.Sprintf("MATCH did not find %s", toText(key)))
	}
	return float64(idx + 1), nil
}

// criteria is a parsed SUMIF/COUNTIF condition such as ">5", "<>done" or
// "a*".
type criteria struct {
	op      string
	number  float64
	numeric bool
	text    string
	pattern *regexp.Regexp
}

var criteriaOps = []string{"<=", ">=", "<>", "<", ">", "="}

func parseCriteria(v Primitive) (*criteria, error) {
	switch x := v.(type) {
	case *SpreadsheetError:
		return nil, x
	case float64:
		return &criteria{op: "=", number: x, numeric: true}, nil
	case bool:
		return &criteria{op: "=", text: toText(x)}, nil
	case nil:
		return &criteria{op: "="}, nil
	}

	s := toText(v)
	c := &criteria{op: "="}
	for _, op := range criteriaOps {
		if rest, ok := strings.CutPrefix(s, op); ok {
			c.op, s = op, rest
			break
		}
	}
	if num, ok := parseNumber(s); ok {
		c.number, c.numeric = num, true
		return c, nil
	}
	c.text = s
	if (c.op == "=" || c.op == "<>") && strings.ContainsAny(s, "*?~") {
		c.pattern = wildcardPattern(s)
	}
	return c, nil
}

// matches reports whether a cell value satisfies the condition
func (c *criteria) matches(v Primitive) bool {
	if c.numeric {
		num, ok := v.(float64)
		if !ok {
			if s, isText := v.(string); isText {
				num, ok = parseNumber(s)
			}
		}
		if !ok {
			return c.op == "<>"
		}
		return compareOp(c.op, compareValues(num, c.number))
	}

	if _, isErr := asError(v); isErr {
		return false
	}

	switch c.op {
	case "=", "<>":
		var equal bool
		switch {
		case c.pattern != nil:
			_, isText := v.(string)
			equal = isText && c.pattern.MatchString(toText(v))
		case c.text == "":
			equal = v == nil || v == ""
		default:
			equal = foldCase(toText(v)) == foldCase(c.text)
		}
		return equal == (c.op == "=")
	default:
		s, ok := v.(string)
		if !ok {
			return false
		}
		return compareOp(c.op, strings.Compare(foldCase(s), foldCase(c.text)))
	}
}

func compareOp(op string, cmp int) bool {
	switch op {
	case "=":
		return cmp == 0
	case "<>":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

// wildcardPattern compiles a spreadsheet wildcard (* any run, ? any
// character, ~ escapes the next character) into an anchored,
// case-insensitive regexp
func wildcardPattern(s string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("(?is)^")
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		switch ch := runes[i]; {
		case ch == '~' && i+1 < len(runes):
			i++
			sb.WriteString(regexp.QuoteMeta(string(runes[i])))
		case ch == '*':
			sb.WriteString(".*")
		case ch == '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}

// conditional walks range and yields the matching cells of values, which
// defaults to range itself and is read at the same offsets
func conditional(name string, args []Value, visit func(v Primitive) error) error {
	if err := checkArity(name, args, 2, 3); err != nil {
		return err
	}
	tested := asRange(args[0])
	crit, err := parseCriteria(scalar(args[1]))
	if err != nil {
		return err
	}
	values := tested
	if len(args) == 3 {
		values = asRange(args[2])
	}
	for r, row := range tested.Rows {
		for c, v := range row {
			if crit.matches(v) {
				if err := visit(values.At(r, c)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// SUMIF(range, criteria, [sum_range])
func (bf *BuiltInFunctions) SUMIF(ctx Context, args ...Value) (Value, error) {
	sum := 0.0
	err := conditional("SUMIF", args, func(v Primitive) error {
		if errVal, ok := asError(v); ok {
			return errVal
		}
		if num, ok := v.(float64); ok {
			sum += num
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// COUNTIF(range, criteria)
func (bf *BuiltInFunctions) COUNTIF(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("COUNTIF", args, 2, 2); err != nil {
		return nil, err
	}
	count := 0
	err := conditional("COUNTIF", args, func(Primitive) error {
		count++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return float64(count), nil
}

// AVERAGEIF(range, criteria, [average_range])
func (bf *BuiltInFunctions) AVERAGEIF(ctx Context, args ...Value) (Value, error) {
	sum, count := 0.0, 0
	err := conditional("AVERAGEIF", args, func(v Primitive) error {
		if errVal, ok := asError(v); ok {
			return errVal
		}
		if num, ok := v.(float64); ok {
			sum += num
			count++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "AVERAGEIF matched no numbers")
	}
	return sum / float64(count), nil
}
