package formula

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// maxTextLength is the longest text a cell may hold
const maxTextLength = 32767

// textArg reduces an argument to its text form
func textArg(arg Value) (string, error) {
	v := scalar(arg)
	if err, ok := asError(v); ok {
		return "", err
	}
	return toText(v), nil
}

// countArg reads an optional character count. negative counts are #VALUE!.
func countArg(name string, args []Value, i, def int) (int, error) {
	if i >= len(args) {
		return def, nil
	}
	n, err := intArg(name, args[i])
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("%s count must not be negative", name))
	}
	return n, nil
}

func (bf *BuiltInFunctions) CONCATENATE(ctx Context, args ...Value) (Value, error) {
	var result strings.Builder
	for v := range iterateArgs(args) {
		if err, ok := asError(v); ok {
			return nil, err
		}
		result.WriteString(toText(v))
	}
	return result.String(), nil
}

// LEN counts characters, not bytes
func (bf *BuiltInFunctions) LEN(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("LEN", args, 1, 1); err != nil {
		return nil, err
	}
	s, err := textArg(args[0])
	if err != nil {
		return nil, err
	}
	return float64(len([]rune(s))), nil
}

func (bf *BuiltInFunctions) LEFT(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("LEFT", args, 1, 2); err != nil {
		return nil, err
	}
	s, err := textArg(args[0])
	if err != nil {
		return nil, err
	}
	n, err := countArg("LEFT", args, 1, 1)
	if err != nil {
		return nil, err
	}
	runes := []rune(s)
	return string(runes[:min(n, len(runes))]), nil
}

func (bf *BuiltInFunctions) RIGHT(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("RIGHT", args, 1, 2); err != nil {
		return nil, err
	}
	s, err := textArg(args[0])
	if err != nil {
		return nil, err
	}
	n, err := countArg("RIGHT", args, 1, 1)
	if err != nil {
		return nil, err
	}
	runes := []rune(s)
	return string(runes[len(runes)-min(n, len(runes)):]), nil
}

// MID(text, start, count) with a 1-based start
func (bf *BuiltInFunctions) MID(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("MID", args, 3, 3); err != nil {
		return nil, err
	}
	s, err := textArg(args[0])
	if err != nil {
		return nil, err
	}
	start, err := intArg("MID", args[1])
	if err != nil {
		return nil, err
	}
	if start < 1 {
		return nil, NewSpreadsheetError(ErrorCodeValue, "MID start must be at least 1")
	}
	n, err := countArg("MID", args, 2, 0)
	if err != nil {
		return nil, err
	}
	runes := []rune(s)
	if start > len(runes) {
		return "", nil
	}
	n = min(n, len(runes)-(start-1))
	return string(runes[start-1 : start-1+n]), nil
}

// SUBSTITUTE(text, old, new, [instance]) replaces every occurrence, or only
// the nth when instance is given
func (bf *BuiltInFunctions) SUBSTITUTE(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("SUBSTITUTE", args, 3, 4); err != nil {
		return nil, err
	}
	texts := make([]string, 3)
	for i := range texts {
		s, err := textArg(args[i])
		if err != nil {
			return nil, err
		}
		texts[i] = s
	}
	text, old, replacement := texts[0], texts[1], texts[2]
	if old == "" {
		return text, nil
	}
	if len(args) == 3 {
		return strings.ReplaceAll(text, old, replacement), nil
	}

	instance, err := intArg("SUBSTITUTE", args[3])
	if err != nil {
		return nil, err
	}
	if instance < 1 {
		return nil, NewSpreadsheetError(ErrorCodeValue, "SUBSTITUTE instance must be at least 1")
	}
	offset := 0
	for i := 1; ; i++ {
		idx := strings.Index(text[offset:], old)
		if idx < 0 {
			return text, nil
		}
		if i == instance {
			pos := offset + idx
			return text[:pos] + replacement + text[pos+len(old):], nil
		}
		offset += idx + len(old)
	}
}

// FIND(needle, haystack, [start]) is case-sensitive and returns a 1-based
// character position
func (bf *BuiltInFunctions) FIND(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("FIND", args, 2, 3); err != nil {
		return nil, err
	}
	needle, err := textArg(args[0])
	if err != nil {
		return nil, err
	}
	haystack, err := textArg(args[1])
	if err != nil {
		return nil, err
	}
	start := 1
	if len(args) == 3 {
		if start, err = intArg("FIND", args[2]); err != nil {
			return nil, err
		}
	}

	runes := []rune(haystack)
	if start < 1 || start > len(runes)+1 {
		return nil, NewSpreadsheetError(ErrorCodeValue, "FIND start is out of range")
	}
	idx := strings.Index(string(runes[start-1:]), needle)
	if idx < 0 {
		return nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("FIND did not find %q", needle))
	}
	// idx is a byte offset into the tail, convert back to characters
	return float64(start + len([]rune(string(runes[start-1:])[:idx]))), nil
}

func (bf *BuiltInFunctions) caseFunction(name string, args []Value, caser cases.Caser) (Value, error) {
	if err := checkArity(name, args, 1, 1); err != nil {
		return nil, err
	}
	s, err := textArg(args[0])
	if err != nil {
		return nil, err
	}
	return caser.String(s), nil
}

func (bf *BuiltInFunctions) UPPER(ctx Context, args ...Value) (Value, error) {
	return bf.caseFunction("UPPER", args, cases.Upper(language.Und))
}

func (bf *BuiltInFunctions) LOWER(ctx Context, args ...Value) (Value, error) {
	return bf.caseFunction("LOWER", args, cases.Lower(language.Und))
}

// PROPER capitalizes the first letter of each word and lowercases the rest
func (bf *BuiltInFunctions) PROPER(ctx Context, args ...Value) (Value, error) {
	return bf.caseFunction("PROPER", args, cases.Title(language.Und))
}

// TRIM strips leading and trailing spaces and collapses inner runs to one
func (bf *BuiltInFunctions) TRIM(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("TRIM", args, 1, 1); err != nil {
		return nil, err
	}
	s, err := textArg(args[0])
	if err != nil {
		return nil, err
	}
	return strings.Join(strings.Fields(s), " "), nil
}

func (bf *BuiltInFunctions) EXACT(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("EXACT", args, 2, 2); err != nil {
		return nil, err
	}
	a, err := textArg(args[0])
	if err != nil {
		return nil, err
	}
	b, err := textArg(args[1])
	if err != nil {
		return nil, err
	}
	return a == b, nil
}

func (bf *BuiltInFunctions) REPT(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("REPT", args, 2, 2); err != nil {
		return nil, err
	}
	s, err := textArg(args[0])
	if err != nil {
		return nil, err
	}
	n, err := countArg("REPT", args, 1, 0)
	if err != nil {
		return nil, err
	}
	if n > 0 && utf8.RuneCountInString(s) > maxTextLength/n {
		return nil, NewSpreadsheetError(ErrorCodeValue, "REPT result is too long")
	}
	return strings.Repeat(s, n), nil
}
