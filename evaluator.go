package formula

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// Context is the read-only view of the grid a formula is evaluated
// against. reads never fail: a missing cell is empty.
type Context interface {
	GetCellValue(coord CellCoord) Primitive
	GetRangeValues(r SelectionRange) *RangeValue
}

// Evaluation carries what a tree walk needs: the grid view and the
// function set it resolves calls against.
type Evaluation struct {
	Context   Context
	Functions *Registry
	Logger    *slog.Logger
}

// Evaluate walks node against ctx and returns a scalar. errors come back as
// *SpreadsheetError values; a multi-cell range result is #VALUE!.
func Evaluate(node ASTNode, ctx Context, functions *Registry) Primitive {
	ev := &Evaluation{Context: ctx, Functions: functions, Logger: slog.Default()}
	return ev.Run(node)
}

// Run evaluates node and reduces the result to a scalar.
func (ev *Evaluation) Run(node ASTNode) Primitive {
	v, err := node.Eval(ev)
	if err != nil {
		return errorValueFor(err)
	}
	return scalar(v)
}

func (ev *Evaluation) logger() *slog.Logger {
	if ev.Logger != nil {
		return ev.Logger
	}
	return slog.Default()
}

// evalOperand evaluates a node used as an operator operand. evaluation
// errors are converted to error values.
func (ev *Evaluation) evalOperand(node ASTNode) Primitive {
	v, err := node.Eval(ev)
	if err != nil {
		return errorValueFor(err)
	}
	return scalar(v)
}

func (n *StringNode) Eval(ev *Evaluation) (Value, error) {
	return n.Value, nil
}

func (n *NumberNode) Eval(ev *Evaluation) (Value, error) {
	return n.Value, nil
}

func (n *BooleanNode) Eval(ev *Evaluation) (Value, error) {
	return n.Value, nil
}

func (n *CellRefNode) Eval(ev *Evaluation) (Value, error) {
	return ev.Context.GetCellValue(n.Ref.Coord), nil
}

func (n *RangeNode) Eval(ev *Evaluation) (Value, error) {
	r := n.Range()
	if rv := ev.Context.GetRangeValues(r); rv != nil {
		return rv, nil
	}
	return NewRangeValue(r, nil), nil
}

func (n *NameNode) Eval(ev *Evaluation) (Value, error) {
	return NewSpreadsheetError(ErrorCodeName, fmt.Sprintf("unknown name: %s", n.Name)), nil
}

func (n *UnaryOpNode) Eval(ev *Evaluation) (Value, error) {
	val := ev.evalOperand(n.Operand)
	if err, ok := asError(val); ok {
		return err, nil
	}

	num, errVal := coerceNumber(val)
	if errVal != nil {
		return errVal, nil
	}

	switch n.Op {
	case UnaryOpPlus:
		return num, nil
	case UnaryOpMinus:
		return -num, nil
	case UnaryOpPercent:
		return num / 100, nil
	default:
		return nil, NewSpreadsheetError(ErrorCodeValue, "unknown unary operator")
	}
}

func (n *BinaryOpNode) Eval(ev *Evaluation) (Value, error) {
	leftVal := ev.evalOperand(n.Left)
	rightVal := ev.evalOperand(n.Right)

	// propagate errors, left operand first
	if err, ok := asError(leftVal); ok {
		return err, nil
	}
	if err, ok := asError(rightVal); ok {
		return err, nil
	}

	switch n.Op {
	case BinOpConcat:
		return toText(leftVal) + toText(rightVal), nil
	case BinOpEqual:
		return compareValues(leftVal, rightVal) == 0, nil
	case BinOpNotEqual:
		return compareValues(leftVal, rightVal) != 0, nil
	case BinOpLess:
		return compareValues(leftVal, rightVal) < 0, nil
	case BinOpLessEqual:
		return compareValues(leftVal, rightVal) <= 0, nil
	case BinOpGreater:
		return compareValues(leftVal, rightVal) > 0, nil
	case BinOpGreaterEqual:
		return compareValues(leftVal, rightVal) >= 0, nil
	}

	leftNum, errVal := coerceNumber(leftVal)
	if errVal != nil {
		return errVal, nil
	}
	rightNum, errVal := coerceNumber(rightVal)
	if errVal != nil {
		return errVal, nil
	}

	var result float64
	switch n.Op {
	case BinOpAdd:
		result = leftNum + rightNum
	case BinOpSubtract:
		result = leftNum - rightNum
	case BinOpMultiply:
		result = leftNum * rightNum
	case BinOpDivide:
		if rightNum == 0 {
			return NewSpreadsheetError(ErrorCodeDiv0, "division by zero"), nil
		}
		result = leftNum / rightNum
	case BinOpPower:
		if leftNum == 0 && rightNum < 0 {
			return NewSpreadsheetError(ErrorCodeDiv0, "zero raised to a negative power"), nil
		}
		result = math.Pow(leftNum, rightNum)
	default:
		return nil, NewSpreadsheetError(ErrorCodeValue, "unknown operator")
	}
	return checkNumber(result), nil
}

func (n *FunctionCallNode) Eval(ev *Evaluation) (Value, error) {
	if ev.Functions == nil {
		return NewSpreadsheetError(ErrorCodeName, fmt.Sprintf("unknown function: %s", n.Name)), nil
	}
	fn, ok := ev.Functions.lookup(n.Name)
	if !ok {
		msg := fmt.Sprintf("unknown function: %s", n.Name)
		if suggestion := ev.Functions.Suggest(n.Name); suggestion != "" {
			msg = fmt.Sprintf("%s (did you mean %s?)", msg, suggestion)
		}
		ev.logger().Debug("unknown function", "name", n.Name, "message", msg)
		return NewSpreadsheetError(ErrorCodeName, msg), nil
	}

	// ranges stay as *RangeValue, everything else is reduced to a scalar
	args := make([]Value, len(n.Args))
	for i, argNode := range n.Args {
		argVal, err := argNode.Eval(ev)
		if err != nil {
			argVal = errorValueFor(err)
		}
		if _, isRange := argVal.(*RangeValue); !isRange {
			argVal = scalar(argVal)
		}
		if !fn.acceptsErrors {
			if errVal, ok := asError(argVal); ok {
				return errVal, nil
			}
		}
		args[i] = argVal
	}

	result, err := n.call(ev, fn, args)
	if err != nil {
		if spreadsheetErr, ok := err.(*SpreadsheetError); ok {
			return spreadsheetErr, nil
		}
		return NewSpreadsheetError(ErrorCodeValue, err.Error()), nil
	}
	if f, ok := result.(float64); ok {
		return checkNumber(f), nil
	}
	if i, ok := result.(int); ok {
		return float64(i), nil
	}
	return result, nil
}

// call runs a registered function. a panic inside it becomes a #VALUE!
// for this call only.
func (n *FunctionCallNode) call(ev *Evaluation, fn *registeredFunction, args []Value) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			ev.logger().Error("function panicked", "name", n.Name, "panic", r)
			result, err = nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("%s failed: %v", n.Name, r))
		}
	}()
	return fn.call(ev.Context, args...)
}

// scalar reduces a value to a Primitive. a one-cell range yields its only
// value; larger ranges are #VALUE! in scalar position.
func scalar(v Value) Primitive {
	rv, ok := v.(*RangeValue)
	if !ok {
		return v
	}
	if rv.Height() == 1 && rv.Width() == 1 {
		return rv.At(0, 0)
	}
	return NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("range %s used where a single value is expected", rv.Bounds))
}

// checkNumber maps non-finite results to #NUM!
func checkNumber(f float64) Primitive {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return NewSpreadsheetError(ErrorCodeNum, "result is not a finite number")
	}
	return f
}

// toNumber converts a value to a number. empty is 0, booleans are 1/0 and
// strings must look numeric.
func toNumber(value Primitive) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, true
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		return parseNumber(v)
	default:
		return 0, false
	}
}

// coerceNumber is toNumber with the #VALUE! error used by operators.
func coerceNumber(value Primitive) (float64, *SpreadsheetError) {
	if err, ok := asError(value); ok {
		return 0, err
	}
	num, ok := toNumber(value)
	if !ok {
		return 0, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("expected a number, got %q", toText(value)))
	}
	return num, nil
}

// parseNumber accepts plain decimal notation only. strconv also takes
// "inf", "nan" and hex floats, none of which are numbers in a cell.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	switch c := s[0]; {
	case isASCIIDigit(c), c == '.', c == '-', c == '+':
	default:
		return 0, false
	}
	if strings.ContainsAny(s, "xXpP_") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// toText renders a scalar the way it is concatenated and displayed
func toText(value Primitive) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return formatNumber(v)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case *SpreadsheetError:
		return v.ErrorCode.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// toBool converts a value to a logical. text other than TRUE/FALSE is
// #VALUE!.
func toBool(value Primitive) (bool, *SpreadsheetError) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case string:
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "TRUE":
			return true, nil
		case "FALSE":
			return false, nil
		}
		return false, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("expected a logical value, got %q", v))
	case *SpreadsheetError:
		return false, v
	default:
		return false, NewSpreadsheetError(ErrorCodeValue, "expected a logical value")
	}
}

// foldCase folds text for case-insensitive comparison
func foldCase(s string) string {
	return cases.Fold().String(s)
}

// compareValues orders two scalars. when both sides coerce to numbers the
// comparison is numeric, otherwise it is a case-insensitive text
// comparison. returns -1, 0 or 1.
func compareValues(left, right Primitive) int {
	leftNum, leftIsNum := toNumber(left)
	rightNum, rightIsNum := toNumber(right)
	if leftIsNum && rightIsNum {
		switch {
		case leftNum < rightNum:
			return -1
		case leftNum > rightNum:
			return 1
		}
		return 0
	}
	return strings.Compare(foldCase(toText(left)), foldCase(toText(right)))
}
