package formula

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// BuiltInFunctions contains all spreadsheet built-in functions. the clock
// and random source are injectable so volatile functions are testable.
type BuiltInFunctions struct {
	clock Clock
	rng   RandomGenerator
}

// NewDefaultBuiltInFunctions creates a BuiltInFunctions with default
// implementations
func NewDefaultBuiltInFunctions() *BuiltInFunctions {
	return NewBuiltInFunctions(&WallClock{}, &DefaultRandomGenerator{})
}

// NewBuiltInFunctions creates a BuiltInFunctions with the given time and
// random sources
func NewBuiltInFunctions(clock Clock, rng RandomGenerator) *BuiltInFunctions {
	return &BuiltInFunctions{clock: clock, rng: rng}
}

// RegisterAll seeds r with the built-in library
func (bf *BuiltInFunctions) RegisterAll(r *Registry) {
	register := func(name string, fn Function, opts ...FunctionOption) {
		// registration only fails on an empty name or nil function
		_ = r.Register(name, fn, opts...)
	}

	// aggregation
	register("SUM", bf.SUM)
	register("AVERAGE", bf.AVERAGE)
	register("COUNT", bf.COUNT, AcceptsErrors())
	register("COUNTA", bf.COUNTA, AcceptsErrors())
	register("MIN", bf.MIN)
	register("MAX", bf.MAX)
	register("MEDIAN", bf.MEDIAN)

	// lookup and conditional aggregation
	register("VLOOKUP", bf.VLOOKUP)
	register("HLOOKUP", bf.HLOOKUP)
	register("INDEX", bf.INDEX)
	register("MATCH", bf.MATCH)
	register("SUMIF", bf.SUMIF)
	register("COUNTIF", bf.COUNTIF)
	register("AVERAGEIF", bf.AVERAGEIF)

	// logic
	register("IF", bf.IF, AcceptsErrors())
	register("AND", bf.AND)
	register("OR", bf.OR)
	register("NOT", bf.NOT)
	register("IFERROR", bf.IFERROR, AcceptsErrors())
	register("ISERROR", bf.ISERROR, AcceptsErrors())
	register("ISBLANK", bf.ISBLANK, AcceptsErrors())
	register("ISNUMBER", bf.ISNUMBER, AcceptsErrors())
	register("ISTEXT", bf.ISTEXT, AcceptsErrors())

	// text
	register("CONCATENATE", bf.CONCATENATE)
	register("LEFT", bf.LEFT)
	register("RIGHT", bf.RIGHT)
	register("MID", bf.MID)
	register("SUBSTITUTE", bf.SUBSTITUTE)
	register("FIND", bf.FIND)
	register("LEN", bf.LEN)
	register("UPPER", bf.UPPER)
	register("LOWER", bf.LOWER)
	register("PROPER", bf.PROPER)
	register("TRIM", bf.TRIM)
	register("EXACT", bf.EXACT)
	register("REPT", bf.REPT)

	// math
	register("ABS", bf.ABS)
	register("ROUND", bf.ROUND)
	register("ROUNDUP", bf.ROUNDUP)
	register("ROUNDDOWN", bf.ROUNDDOWN)
	register("INT", bf.INT)
	register("MOD", bf.MOD)
	register("POWER", bf.POWER)
	register("SQRT", bf.SQRT)
	register("PI", bf.PI)

	// volatile
	register("NOW", bf.NOW, Volatile())
	register("TODAY", bf.TODAY, Volatile())
	register("RAND", bf.RAND, Volatile())
	register("RANDBETWEEN", bf.RANDBETWEEN, Volatile())
}

// checkArity validates the argument count. max < 0 means unbounded.
func checkArity(name string, args []Value, minArgs, maxArgs int) error {
	n := len(args)
	if n >= minArgs && (maxArgs < 0 || n <= maxArgs) {
		return nil
	}
	var want string
	switch {
	case minArgs == maxArgs:
		want = fmt.Sprintf("exactly %d", minArgs)
	case maxArgs < 0:
		want = fmt.Sprintf("at least %d", minArgs)
	default:
		want = fmt.Sprintf("%d to %d", minArgs, maxArgs)
	}
	return NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("%s requires %s argument(s), got %d", name, want, n))
}

// numberArg coerces a scalar argument to a number
func numberArg(name string, arg Value) (float64, error) {
	v := scalar(arg)
	if err, ok := asError(v); ok {
		return 0, err
	}
	num, ok := toNumber(v)
	if !ok {
		return 0, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("%s expects a number, got %q", name, toText(v)))
	}
	return num, nil
}

// intArg is numberArg truncated toward zero and clamped to the int range
func intArg(name string, arg Value) (int, error) {
	num, err := numberArg(name, arg)
	if err != nil {
		return 0, err
	}
	switch {
	case math.IsNaN(num):
		return 0, NewSpreadsheetError(ErrorCodeNum, fmt.Sprintf("%s expects a number", name))
	case num >= maxIntFloat:
		return math.MaxInt, nil
	case num <= -maxIntFloat:
		return math.MinInt, nil
	}
	return int(math.Trunc(num)), nil
}

// maxIntFloat is the smallest float64 at or above math.MaxInt
const maxIntFloat = float64(math.MaxInt)

// collectNumbers gathers the numeric values of args. values from ranges
// skip text, booleans and empty cells; direct arguments must coerce.
func collectNumbers(name string, args []Value) ([]float64, error) {
	var out []float64
	for v, inRange := range iterateArgs(args) {
		if err, ok := asError(v); ok {
			return nil, err
		}
		if inRange {
			if num, ok := v.(float64); ok {
				out = append(out, num)
			}
			continue
		}
		if v == nil {
			continue
		}
		num, ok := toNumber(v)
		if !ok {
			return nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("%s expects numbers, got %q", name, toText(v)))
		}
		out = append(out, num)
	}
	return out, nil
}

func (bf *BuiltInFunctions) SUM(ctx Context, args ...Value) (Value, error) {
	nums, err := collectNumbers("SUM", args)
	if err != nil {
		return nil, err
	}
	sum := 0.0
	for _, n := range nums {
		sum += n
	}
	return sum, nil
}

func (bf *BuiltInFunctions) AVERAGE(ctx Context, args ...Value) (Value, error) {
	nums, err := collectNumbers("AVERAGE", args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "AVERAGE has no numeric values")
	}
	sum := 0.0
	for _, n := range nums {
		sum += n
	}
	return sum / float64(len(nums)), nil
}

// COUNT counts numbers. direct arguments count when they coerce; errors
// and text are skipped rather than propagated.
func (bf *BuiltInFunctions) COUNT(ctx Context, args ...Value) (Value, error) {
	count := 0
	for v, inRange := range iterateArgs(args) {
		if _, isNum := v.(float64); isNum {
			count++
			continue
		}
		if inRange || v == nil {
			continue
		}
		if _, isErr := asError(v); isErr {
			continue
		}
		if _, ok := toNumber(v); ok {
			count++
		}
	}
	return float64(count), nil
}

// COUNTA counts every non-empty value, errors included
func (bf *BuiltInFunctions) COUNTA(ctx Context, args ...Value) (Value, error) {
	count := 0
	for v := range iterateArgs(args) {
		if v != nil {
			count++
		}
	}
	return float64(count), nil
}

func (bf *BuiltInFunctions) MIN(ctx Context, args ...Value) (Value, error) {
	nums, err := collectNumbers("MIN", args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return 0.0, nil
	}
	result := nums[0]
	for _, n := range nums[1:] {
		result = math.Min(result, n)
	}
	return result, nil
}

func (bf *BuiltInFunctions) MAX(ctx Context, args ...Value) (Value, error) {
	nums, err := collectNumbers("MAX", args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return 0.0, nil
	}
	result := nums[0]
	for _, n := range nums[1:] {
		result = math.Max(result, n)
	}
	return result, nil
}

func (bf *BuiltInFunctions) MEDIAN(ctx Context, args ...Value) (Value, error) {
	values, err := collectNumbers("MEDIAN", args)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, NewSpreadsheetError(ErrorCodeNum, "MEDIAN has no numeric values")
	}
	sort.Float64s(values)

	mid := len(values) / 2
	if len(values)%2 == 0 {
		// even count: average of two middle values
		return (values[mid-1] + values[mid]) / 2, nil
	}
	return values[mid], nil
}

func (bf *BuiltInFunctions) IF(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("IF", args, 2, 3); err != nil {
		return nil, err
	}

	condition, errVal := toBool(scalar(args[0]))
	if errVal != nil {
		return nil, errVal
	}
	if condition {
		return args[1], nil
	}
	if len(args) == 3 {
		return args[2], nil
	}
	return false, nil
}

// logicals gathers the boolean values of args. range cells that are text
// or empty are skipped; direct text must read as TRUE/FALSE.
func logicals(name string, args []Value) ([]bool, error) {
	var out []bool
	for v, inRange := range iterateArgs(args) {
		if err, ok := asError(v); ok {
			return nil, err
		}
		if inRange {
			switch x := v.(type) {
			case bool:
				out = append(out, x)
			case float64:
				out = append(out, x != 0)
			}
			continue
		}
		b, errVal := toBool(v)
		if errVal != nil {
			return nil, errVal
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, NewSpreadsheetError(ErrorCodeValue, name+" has no logical values")
	}
	return out, nil
}

func (bf *BuiltInFunctions) AND(ctx Context, args ...Value) (Value, error) {
	values, err := logicals("AND", args)
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		if !v {
			return false, nil
		}
	}
	return true, nil
}

func (bf *BuiltInFunctions) OR(ctx Context, args ...Value) (Value, error) {
	values, err := logicals("OR", args)
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		if v {
			return true, nil
		}
	}
	return false, nil
}

func (bf *BuiltInFunctions) NOT(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("NOT", args, 1, 1); err != nil {
		return nil, err
	}
	b, errVal := toBool(scalar(args[0]))
	if errVal != nil {
		return nil, errVal
	}
	return !b, nil
}

// IFERROR returns its first argument unless it is an error, in which case
// the fallback is returned
func (bf *BuiltInFunctions) IFERROR(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("IFERROR", args, 2, 2); err != nil {
		return nil, err
	}
	if _, isErr := asError(scalar(args[0])); isErr {
		return args[1], nil
	}
	return args[0], nil
}

func (bf *BuiltInFunctions) ISERROR(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("ISERROR", args, 1, 1); err != nil {
		return nil, err
	}
	_, isErr := asError(scalar(args[0]))
	return isErr, nil
}

func (bf *BuiltInFunctions) ISBLANK(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("ISBLANK", args, 1, 1); err != nil {
		return nil, err
	}
	return scalar(args[0]) == nil, nil
}

func (bf *BuiltInFunctions) ISNUMBER(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("ISNUMBER", args, 1, 1); err != nil {
		return nil, err
	}
	_, ok := scalar(args[0]).(float64)
	return ok, nil
}

func (bf *BuiltInFunctions) ISTEXT(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("ISTEXT", args, 1, 1); err != nil {
		return nil, err
	}
	_, ok := scalar(args[0]).(string)
	return ok, nil
}

func (bf *BuiltInFunctions) ABS(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("ABS", args, 1, 1); err != nil {
		return nil, err
	}
	num, err := numberArg("ABS", args[0])
	if err != nil {
		return nil, err
	}
	return math.Abs(num), nil
}

// roundWith applies a rounding function at the given number of decimal
// places (negative places round to tens, hundreds, ...)
func roundWith(name string, args []Value, round func(float64) float64) (Value, error) {
	if err := checkArity(name, args, 1, 2); err != nil {
		return nil, err
	}
	num, err := numberArg(name, args[0])
	if err != nil {
		return nil, err
	}
	places := 0
	if len(args) == 2 {
		if places, err = intArg(name, args[1]); err != nil {
			return nil, err
		}
	}
	multiplier := math.Pow(10, float64(places))
	return round(num*multiplier) / multiplier, nil
}

func (bf *BuiltInFunctions) ROUND(ctx Context, args ...Value) (Value, error) {
	return roundWith("ROUND", args, math.Round)
}

func (bf *BuiltInFunctions) ROUNDUP(ctx Context, args ...Value) (Value, error) {
	return roundWith("ROUNDUP", args, func(f float64) float64 {
		if f < 0 {
			return math.Floor(f)
		}
		return math.Ceil(f)
	})
}

func (bf *BuiltInFunctions) ROUNDDOWN(ctx Context, args ...Value) (Value, error) {
	return roundWith("ROUNDDOWN", args, math.Trunc)
}

func (bf *BuiltInFunctions) INT(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("INT", args, 1, 1); err != nil {
		return nil, err
	}
	num, err := numberArg("INT", args[0])
	if err != nil {
		return nil, err
	}
	return math.Floor(num), nil
}

// MOD follows spreadsheet sign rules: the result takes the divisor's sign
func (bf *BuiltInFunctions) MOD(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("MOD", args, 2, 2); err != nil {
		return nil, err
	}
	dividend, err := numberArg("MOD", args[0])
	if err != nil {
		return nil, err
	}
	divisor, err := numberArg("MOD", args[1])
	if err != nil {
		return nil, err
	}
	if divisor == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "MOD division by zero")
	}
	return dividend - divisor*math.Floor(dividend/divisor), nil
}

func (bf *BuiltInFunctions) POWER(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("POWER", args, 2, 2); err != nil {
		return nil, err
	}
	base, err := numberArg("POWER", args[0])
	if err != nil {
		return nil, err
	}
	exp, err := numberArg("POWER", args[1])
	if err != nil {
		return nil, err
	}
	if base == 0 && exp < 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "zero raised to a negative power")
	}
	return math.Pow(base, exp), nil
}

func (bf *BuiltInFunctions) SQRT(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("SQRT", args, 1, 1); err != nil {
		return nil, err
	}
	num, err := numberArg("SQRT", args[0])
	if err != nil {
		return nil, err
	}
	if num < 0 {
		return nil, NewSpreadsheetError(ErrorCodeNum, "SQRT requires a non-negative argument")
	}
	return math.Sqrt(num), nil
}

func (bf *BuiltInFunctions) PI(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("PI", args, 0, 0); err != nil {
		return nil, err
	}
	return math.Pi, nil
}

// serial date constants: day 0 is December 30, 1899
const (
	excelEpochMs = -2209161600000
	msPerDay     = 86400000
)

func (bf *BuiltInFunctions) NOW(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("NOW", args, 0, 0); err != nil {
		return nil, err
	}
	return serialNow(bf.clock), nil
}

func (bf *BuiltInFunctions) TODAY(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("TODAY", args, 0, 0); err != nil {
		return nil, err
	}
	return math.Floor(serialNow(bf.clock)), nil
}

// serialNow is the clock's instant as a UTC serial date, so TODAY is
// always the integer part of NOW
func serialNow(clock Clock) float64 {
	return float64(clock.Now().UTC().UnixMilli()-excelEpochMs) / msPerDay
}

func (bf *BuiltInFunctions) RAND(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("RAND", args, 0, 0); err != nil {
		return nil, err
	}
	return bf.rng.Float64(), nil
}

func (bf *BuiltInFunctions) RANDBETWEEN(ctx Context, args ...Value) (Value, error) {
	if err := checkArity("RANDBETWEEN", args, 2, 2); err != nil {
		return nil, err
	}
	low, err := numberArg("RANDBETWEEN", args[0])
	if err != nil {
		return nil, err
	}
	high, err := numberArg("RANDBETWEEN", args[1])
	if err != nil {
		return nil, err
	}
	low, high = math.Ceil(low), math.Floor(high)
	if low > high {
		return nil, NewSpreadsheetError(ErrorCodeNum, "RANDBETWEEN bottom is greater than top")
	}
	return low + math.Floor(bf.rng.Float64()*(high-low+1)), nil
}
