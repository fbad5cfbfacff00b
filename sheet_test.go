package formula

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type SheetTestCase struct {
	t       *testing.T
	name    string
	sheet   *Sheet
	err     error
	skipped bool
}

func NewSheetTestCase(t *testing.T, name string, opts ...Option) *SheetTestCase {
	return &SheetTestCase{
		t:     t,
		name:  name,
		sheet: NewSheet(opts...),
	}
}

func (tc *SheetTestCase) Skip(reason string) *SheetTestCase {
	if !tc.skipped {
		tc.t.Skipf("%s: %s", tc.name, reason)
		tc.skipped = true
	}
	return tc
}

func (tc *SheetTestCase) Set(address string, value Primitive) *SheetTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	tc.err = tc.sheet.Set(address, value)
	if tc.err != nil {
		tc.t.Errorf("%s: Set(%s) failed: %v", tc.name, address, tc.err)
	}
	return tc
}

// SetInvalid expects Set to be rejected
func (tc *SheetTestCase) SetInvalid(address string, value Primitive) *SheetTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	tc.err = tc.sheet.Set(address, value)
	return tc
}

func (tc *SheetTestCase) Clear(address string) *SheetTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	tc.err = tc.sheet.Clear(address)
	if tc.err != nil {
		tc.t.Errorf("%s: Clear(%s) failed: %v", tc.name, address, tc.err)
	}
	return tc
}

func (tc *SheetTestCase) Register(name string, fn Function, opts ...FunctionOption) *SheetTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	tc.err = tc.sheet.Engine().Register(name, fn, opts...)
	if tc.err != nil {
		tc.t.Errorf("%s: Register(%s) failed: %v", tc.name, name, tc.err)
	}
	return tc
}

// Run recomputes every formula in the sheet
func (tc *SheetTestCase) Run() *SheetTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	tc.sheet.Recalculate()
	return tc
}

func (tc *SheetTestCase) RunAndAssertNoError() *SheetTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	tc.sheet.Recalculate()
	for _, coord := range tc.sheet.Grid().Coords() {
		if v := tc.sheet.Engine().Value(coord); v != nil {
			if spreadsheetErr, ok := v.(*SpreadsheetError); ok {
				tc.t.Errorf("%s: Cell %s has unexpected error %v", tc.name, coord, spreadsheetErr)
			}
		}
	}
	return tc
}

func (tc *SheetTestCase) AssertCellEq(address string, expected Primitive) *SheetTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	actual, err := tc.sheet.Get(address)
	if err != nil {
		tc.t.Errorf("%s: Get(%s) failed: %v", tc.name, address, err)
		return tc
	}

	switch exp := expected.(type) {
	case float64:
		if act, ok := actual.(float64); ok {
			if math.Abs(act-exp) > 1e-10 {
				tc.t.Errorf("%s: Cell %s = %v, want %v", tc.name, address, actual, expected)
			}
		} else {
			tc.t.Errorf("%s: Cell %s = %v (%T), want %v (float64)", tc.name, address, actual, actual, expected)
		}
	case int:
		if act, ok := actual.(float64); ok {
			if math.Abs(act-float64(exp)) > 1e-10 {
				tc.t.Errorf("%s: Cell %s = %v, want %v", tc.name, address, actual, expected)
			}
		} else {
			tc.t.Errorf("%s: Cell %s = %v (%T), want %v (int)", tc.name, address, actual, actual, expected)
		}
	case nil:
		if actual != nil {
			tc.t.Errorf("%s: Cell %s = %v, want nil", tc.name, address, actual)
		}
	case ErrorCode:
		if spreadsheetErr, ok := actual.(*SpreadsheetError); ok {
			if spreadsheetErr.ErrorCode != exp {
				tc.t.Errorf("%s: Cell %s has error %v, want %v", tc.name, address, spreadsheetErr.ErrorCode, exp)
			}
		} else {
			tc.t.Errorf("%s: Cell %s = %v, want error %v", tc.name, address, actual, exp)
		}
	default:
		if actual != expected {
			tc.t.Errorf("%s: Cell %s = %v, want %v", tc.name, address, actual, expected)
		}
	}
	return tc
}

func (tc *SheetTestCase) AssertCellEmpty(address string) *SheetTestCase {
	return tc.AssertCellEq(address, nil)
}

func (tc *SheetTestCase) AssertCellErr(address string, errorCode ErrorCode) *SheetTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	actual, err := tc.sheet.Get(address)
	if err != nil {
		tc.t.Errorf("%s: Get(%s) failed: %v", tc.name, address, err)
		return tc
	}
	if spreadsheetErr, ok := actual.(*SpreadsheetError); ok {
		if spreadsheetErr.ErrorCode != errorCode {
			tc.t.Errorf("%s: Cell %s has error %v, want %v", tc.name, address, spreadsheetErr.ErrorCode, errorCode)
		}
	} else {
		tc.t.Errorf("%s: Cell %s = %v, want error %v", tc.name, address, actual, errorCode)
	}
	return tc
}

// AssertDisplay checks the display string written back to the grid
func (tc *SheetTestCase) AssertDisplay(address string, expected string) *SheetTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	cell, err := tc.sheet.Display(address)
	if err != nil {
		tc.t.Errorf("%s: Display(%s) failed: %v", tc.name, address, err)
		return tc
	}
	if cell.DisplayValue != expected {
		tc.t.Errorf("%s: Cell %s displays %q, want %q", tc.name, address, cell.DisplayValue, expected)
	}
	return tc
}

func (tc *SheetTestCase) AssertCellFn(address string, fn func(value Primitive, t *testing.T)) *SheetTestCase {
	if tc.skipped {
		return tc
	}
	actual, err := tc.sheet.Get(address)
	if err != nil {
		tc.t.Errorf("%s: Get(%s) failed: %v", tc.name, address, err)
		return tc
	}
	fn(actual, tc.t)
	return tc
}

func (tc *SheetTestCase) ExpectAppError(expectedCode AppErrorCode) *SheetTestCase {
	if tc.skipped {
		return tc
	}
	if tc.err == nil {
		tc.t.Errorf("%s: Expected error with code %v, but got no error", tc.name, expectedCode)
		return tc
	}
	var appErr *AppError
	if errors.As(tc.err, &appErr) {
		if appErr.Code != expectedCode {
			tc.t.Errorf("%s: Got error code %v, want %v", tc.name, appErr.Code, expectedCode)
		}
	} else {
		tc.t.Errorf("%s: Got error %v, want AppError with code %v", tc.name, tc.err, expectedCode)
	}
	tc.err = nil
	return tc
}

func (tc *SheetTestCase) End() {
}

func TestLexingAndParsing(t *testing.T) {
	t.Run("ValidFormulas", func(t *testing.T) {
		NewSheetTestCase(t, "Basic arithmetic").
			Set("A1", "=1+2").
			RunAndAssertNoError().
			AssertCellEq("A1", 3.0).
			End()

		NewSheetTestCase(t, "Cell reference").
			Set("A1", 10.0).
			Set("A2", "=A1").
			RunAndAssertNoError().
			AssertCellEq("A2", 10.0).
			End()

		NewSheetTestCase(t, "Function call").
			Set("A1", 5.0).
			Set("A2", 10.0).
			Set("A3", "=SUM(A1:A2)").
			RunAndAssertNoError().
			AssertCellEq("A3", 15.0).
			End()

		NewSheetTestCase(t, "String literal").
			Set("A1", `="hello"`).
			RunAndAssertNoError().
			AssertCellEq("A1", "hello").
			End()

		NewSheetTestCase(t, "Boolean literal").
			Set("A1", "=TRUE").
			Set("A2", "=FALSE").
			RunAndAssertNoError().
			AssertCellEq("A1", true).
			AssertCellEq("A2", false).
			End()

		NewSheetTestCase(t, "Lowercase function and reference").
			Set("B2", 4.0).
			Set("A1", "=sum(b2, 1)").
			RunAndAssertNoError().
			AssertCellEq("A1", 5.0).
			End()
	})

	t.Run("InvalidFormulas", func(t *testing.T) {
		NewSheetTestCase(t, "Empty formula").
			Set("A1", "=").
			Run().
			AssertCellErr("A1", ErrorCodeValue).
			End()

		NewSheetTestCase(t, "Multiple unary plus operator").
			Set("A1", "=1++2").
			Set("A2", "=1++++++3").
			Set("A3", "=++++1++++++4").
			RunAndAssertNoError().
			AssertCellEq("A1", 3).
			AssertCellEq("A2", 4).
			AssertCellEq("A3", 5).
			End()

		NewSheetTestCase(t, "Unclosed function").
			Set("A1", "=SUM(").
			Run().
			AssertCellErr("A1", ErrorCodeValue).
			End()

		NewSheetTestCase(t, "Incomplete range").
			Set("A1", "=A1:").
			Run().
			AssertCellErr("A1", ErrorCodeValue).
			End()

		NewSheetTestCase(t, "Unterminated string").
			Set("A1", `="hello`).
			Run().
			AssertCellErr("A1", ErrorCodeValue).
			End()

		NewSheetTestCase(t, "Reference past the last column").
			Set("A1", "=XFE1+1").
			Run().
			AssertCellErr("A1", ErrorCodeRef).
			End()
	})
}

func TestBasicTypes(t *testing.T) {
	t.Run("Numbers", func(t *testing.T) {
		NewSheetTestCase(t, "Integer").
			Set("A1", 42.0).
			RunAndAssertNoError().
			AssertCellEq("A1", 42.0).
			AssertDisplay("A1", "42").
			End()

		NewSheetTestCase(t, "Float").
			Set("A1", 3.14159).
			RunAndAssertNoError().
			AssertCellEq("A1", 3.14159).
			End()

		NewSheetTestCase(t, "Negative").
			Set("A1", -123.45).
			RunAndAssertNoError().
			AssertCellEq("A1", -123.45).
			End()

		NewSheetTestCase(t, "Scientific notation").
			Set("A1", "=1.23E5").
			RunAndAssertNoError().
			AssertCellEq("A1", 123000.0).
			End()

		NewSheetTestCase(t, "Binary noise is rounded for display").
			Set("A1", "=0.1+0.2").
			RunAndAssertNoError().
			AssertDisplay("A1", "0.3").
			End()
	})

	t.Run("Booleans", func(t *testing.T) {
		NewSheetTestCase(t, "True value").
			Set("A1", true).
			RunAndAssertNoError().
			AssertCellEq("A1", true).
			AssertDisplay("A1", "TRUE").
			End()

		NewSheetTestCase(t, "False value").
			Set("A1", false).
			RunAndAssertNoError().
			AssertCellEq("A1", false).
			End()
	})

	t.Run("Strings", func(t *testing.T) {
		NewSheetTestCase(t, "Simple string").
			Set("A1", "Hello World").
			RunAndAssertNoError().
			AssertCellEq("A1", "Hello World").
			End()

		NewSheetTestCase(t, "Empty string clears").
			Set("A1", "x").
			Set("A1", "").
			RunAndAssertNoError().
			AssertCellEmpty("A1").
			End()

		NewSheetTestCase(t, "Apostrophe forces text").
			Set("A1", "'123").
			Set("A2", "=ISTEXT(A1)").
			RunAndAssertNoError().
			AssertCellEq("A1", "123").
			AssertCellEq("A2", true).
			End()
	})

	t.Run("Nil", func(t *testing.T) {
		NewSheetTestCase(t, "Empty cell").
			RunAndAssertNoError().
			AssertCellEmpty("A1").
			End()

		NewSheetTestCase(t, "Cleared cell").
			Set("A1", 10.0).
			Clear("A1").
			RunAndAssertNoError().
			AssertCellEmpty("A1").
			AssertDisplay("A1", "").
			End()
	})
}

func TestBinaryOperators(t *testing.T) {
	t.Run("Arithmetic", func(t *testing.T) {
		NewSheetTestCase(t, "Addition").Set("A1", "=2+3").Run().AssertCellEq("A1", 5.0).End()
		NewSheetTestCase(t, "Subtraction").Set("A1", "=10-4").Run().AssertCellEq("A1", 6.0).End()
		NewSheetTestCase(t, "Multiplication").Set("A1", "=3*4").Run().AssertCellEq("A1", 12.0).End()
		NewSheetTestCase(t, "Division").Set("A1", "=15/3").Run().AssertCellEq("A1", 5.0).End()
		NewSheetTestCase(t, "Power").Set("A1", "=2^3").Run().AssertCellEq("A1", 8.0).End()
		NewSheetTestCase(t, "Right associative power").Set("A1", "=2^3^2").Run().AssertCellEq("A1", 512.0).End()
		NewSheetTestCase(t, "Division by zero").Set("A1", "=1/0").Run().AssertCellErr("A1", ErrorCodeDiv0).End()
		NewSheetTestCase(t, "Overflow").Set("A1", "=10^400").Run().AssertCellErr("A1", ErrorCodeNum).End()
	})

	t.Run("Comparison", func(t *testing.T) {
		NewSheetTestCase(t, "Equal").Set("A1", "=5=5").Run().AssertCellEq("A1", true).End()
		NewSheetTestCase(t, "Not equal").Set("A1", "=5<>3").Run().AssertCellEq("A1", true).End()
		NewSheetTestCase(t, "Less than").Set("A1", "=3<5").Run().AssertCellEq("A1", true).End()
		NewSheetTestCase(t, "Less than or equal").Set("A1", "=5<=5").Run().AssertCellEq("A1", true).End()
		NewSheetTestCase(t, "Greater than").Set("A1", "=7>5").Run().AssertCellEq("A1", true).End()
		NewSheetTestCase(t, "Greater than or equal").Set("A1", "=5>=5").Run().AssertCellEq("A1", true).End()
		NewSheetTestCase(t, "Text ignores case").Set("A1", `="abc"="ABC"`).Run().AssertCellEq("A1", true).End()
		NewSheetTestCase(t, "Numeric text compares as number").Set("A1", `="10">9`).Run().AssertCellEq("A1", true).End()
		NewSheetTestCase(t, "True equals one").Set("A1", "=TRUE=1").Run().AssertCellEq("A1", true).End()
		NewSheetTestCase(t, "Text sorts after number text").Set("A1", `="abc">5`).Run().AssertCellEq("A1", true).End()
	})

	t.Run("StringConcatenation", func(t *testing.T) {
		NewSheetTestCase(t, "Concat strings").
			Set("A1", `="Hello"&" "&"World"`).
			Run().
			AssertCellEq("A1", "Hello World").
			End()

		NewSheetTestCase(t, "Concat with numbers").
			Set("A1", `="Value: "&123`).
			Run().
			AssertCellEq("A1", "Value: 123").
			End()
	})
}

func TestUnaryOperators(t *testing.T) {
	NewSheetTestCase(t, "Unary plus").Set("A1", "=+5").Run().AssertCellEq("A1", 5.0).End()
	NewSheetTestCase(t, "Unary minus").Set("A1", "=-5").Run().AssertCellEq("A1", -5.0).End()
	NewSheetTestCase(t, "Minus binds tighter than power").Set("A1", "=-2^2").Run().AssertCellEq("A1", 4.0).End()
	NewSheetTestCase(t, "Percent").Set("A1", "=50%").Run().AssertCellEq("A1", 0.5).End()
	NewSheetTestCase(t, "Percent of reference").
		Set("A1", 200.0).
		Set("B1", "=A1*10%").
		Run().
		AssertCellEq("B1", 20.0).
		End()
}

func TestAggregationFunctions(t *testing.T) {
	t.Run("SUM", func(t *testing.T) {
		NewSheetTestCase(t, "Sum numbers").
			Set("A1", 10.0).
			Set("A2", 20.0).
			Set("A3", 30.0).
			Set("B1", "=SUM(A1:A3)").
			RunAndAssertNoError().
			AssertCellEq("B1", 60.0).
			End()

		NewSheetTestCase(t, "Sum with empty cells").
			Set("A1", 10.0).
			Set("A3", 30.0).
			Set("B1", "=SUM(A1:A3)").
			RunAndAssertNoError().
			AssertCellEq("B1", 40.0).
			End()

		NewSheetTestCase(t, "Sum with text").
			Set("A1", 10.0).
			Set("A2", "text").
			Set("A3", 30.0).
			Set("B1", "=SUM(A1:A3)").
			Run().
			AssertCellEq("B1", 40.0).
			End()

		NewSheetTestCase(t, "Sum direct values").
			Set("A1", "=SUM(1, 2, 3, 4, 5)").
			Run().
			AssertCellEq("A1", 15.0).
			End()

		NewSheetTestCase(t, "Sum with DIV/0 error first").
			Set("A1", "=SUM(4, 5, 6, 1/0, NonExistentRange)").
			Run().
			AssertCellErr("A1", ErrorCodeDiv0).
			End()

		NewSheetTestCase(t, "Sum with NAME error first").
			Set("A1", "=SUM(4, 5, NonExistentRange, 1/0, 6)").
			Run().
			AssertCellErr("A1", ErrorCodeName).
			End()

		NewSheetTestCase(t, "Sum with VALUE error first").
			Set("A1", `=SUM(4, ABS("text"), 1/0, NonExistentRange)`).
			Run().
			AssertCellErr("A1", ErrorCodeValue).
			End()

		NewSheetTestCase(t, "Sum with NUM error first").
			Set("A1", "=SUM(SQRT(-1), 1/0, NonExistentRange, 5)").
			Run().
			AssertCellErr("A1", ErrorCodeNum).
			End()

		NewSheetTestCase(t, "Sum range with multiple error types").
			Set("A1", 5.0).
			Set("A2", "=1/0").
			Set("A3", `=ABS("text")`).
			Set("A4", 10.0).
			Set("A5", "=SQRT(-1)").
			Set("B1", "=SUM(A1:A5)").
			Run().
			AssertCellErr("B1", ErrorCodeDiv0). // first error in row-major order
			End()
	})

	t.Run("AVERAGE", func(t *testing.T) {
		NewSheetTestCase(t, "Average").
			Set("A1", 10.0).
			Set("A2", 20.0).
			Set("A3", 30.0).
			Set("B1", "=AVERAGE(A1:A3)").
			Run().
			AssertCellEq("B1", 20.0).
			End()

		NewSheetTestCase(t, "Average of nothing").
			Set("B1", "=AVERAGE(A1:A3)").
			Run().
			AssertCellErr("B1", ErrorCodeDiv0).
			End()
	})

	t.Run("COUNT", func(t *testing.T) {
		NewSheetTestCase(t, "Count numbers only").
			Set("A1", 1.0).
			Set("A2", "two").
			Set("A3", 3.0).
			Set("A4", "=1/0").
			Set("B1", "=COUNT(A1:A5)").
			Set("B2", "=COUNTA(A1:A5)").
			Run().
			AssertCellEq("B1", 2.0).
			AssertCellEq("B2", 4.0).
			End()
	})

	t.Run("MIN and MAX", func(t *testing.T) {
		NewSheetTestCase(t, "Min max").
			Set("A1", 4.0).
			Set("A2", -2.0).
			Set("A3", 9.0).
			Set("B1", "=MIN(A1:A3)").
			Set("B2", "=MAX(A1:A3)").
			Set("B3", "=MAX(C1:C3)").
			Run().
			AssertCellEq("B1", -2.0).
			AssertCellEq("B2", 9.0).
			AssertCellEq("B3", 0.0).
			End()
	})

	t.Run("MEDIAN", func(t *testing.T) {
		NewSheetTestCase(t, "Median even").
			Set("A1", "=MEDIAN(1, 2, 3, 4)").
			Run().
			AssertCellEq("A1", 2.5).
			End()
	})
}

func TestLogicalFunctions(t *testing.T) {
	t.Run("IF", func(t *testing.T) {
		NewSheetTestCase(t, "IF true condition").Set("A1", "=IF(TRUE, 10, 20)").Run().AssertCellEq("A1", 10.0).End()
		NewSheetTestCase(t, "IF false condition").Set("A1", "=IF(FALSE, 10, 20)").Run().AssertCellEq("A1", 20.0).End()
		NewSheetTestCase(t, "IF two arguments").Set("A1", "=IF(TRUE, 10)").Run().AssertCellEq("A1", 10.0).End()
		NewSheetTestCase(t, "IF false two arguments").Set("A1", "=IF(FALSE, 10)").Run().AssertCellEq("A1", false).End()
		NewSheetTestCase(t, "IF untaken branch error").Set("A1", "=IF(TRUE, 1, 1/0)").Run().AssertCellEq("A1", 1.0).End()

		NewSheetTestCase(t, "IF with comparison").
			Set("A1", 15.0).
			Set("B1", `=IF(A1>10, "big", "small")`).
			Run().
			AssertCellEq("B1", "big").
			End()
	})

	t.Run("AND OR NOT", func(t *testing.T) {
		NewSheetTestCase(t, "AND all true").Set("A1", "=AND(TRUE, TRUE, TRUE)").Run().AssertCellEq("A1", true).End()
		NewSheetTestCase(t, "AND with false").Set("A1", "=AND(TRUE, FALSE, TRUE)").Run().AssertCellEq("A1", false).End()
		NewSheetTestCase(t, "AND with zero").Set("A1", "=AND(1, 0, 1)").Run().AssertCellEq("A1", false).End()
		NewSheetTestCase(t, "OR with true").Set("A1", "=OR(FALSE, TRUE, FALSE)").Run().AssertCellEq("A1", true).End()
		NewSheetTestCase(t, "OR with numbers").Set("A1", "=OR(0, 0, 1)").Run().AssertCellEq("A1", true).End()
		NewSheetTestCase(t, "NOT true").Set("A1", "=NOT(TRUE)").Run().AssertCellEq("A1", false).End()
		NewSheetTestCase(t, "NOT number").Set("A1", "=NOT(0)").Run().AssertCellEq("A1", true).End()
		NewSheetTestCase(t, "NOT wrong args").Set("A1", "=NOT()").Run().AssertCellErr("A1", ErrorCodeValue).End()
	})

	t.Run("IFERROR", func(t *testing.T) {
		NewSheetTestCase(t, "IFERROR catches").
			Set("A1", 5.0).
			Set("B1", "=A1/0").
			Set("B2", `=IFERROR(A1/0, "err")`).
			Set("B3", `=IFERROR(A1/5, "err")`).
			Run().
			AssertCellErr("B1", ErrorCodeDiv0).
			AssertCellEq("B2", "err").
			AssertCellEq("B3", 1.0).
			End()

		NewSheetTestCase(t, "IFERROR catches dependency errors").
			Set("A1", "=1/0").
			Set("B1", "=IFERROR(A1+1, 0)").
			Run().
			AssertCellEq("B1", 0.0).
			End()
	})
}

func TestTextFunctions(t *testing.T) {
	NewSheetTestCase(t, "Concatenate mixed types").
		Set("A1", `=CONCATENATE("Value: ", 123, " - ", TRUE)`).
		Run().
		AssertCellEq("A1", "Value: 123 - TRUE").
		End()

	NewSheetTestCase(t, "Length").
		Set("A1", `=LEN("Hello")`).
		Set("A2", "=LEN(12345)").
		Set("A3", `=LEN("")`).
		Set("A4", `=LEN("café")`).
		Run().
		AssertCellEq("A1", 5.0).
		AssertCellEq("A2", 5.0).
		AssertCellEq("A3", 0.0).
		AssertCellEq("A4", 4.0).
		End()

	NewSheetTestCase(t, "Slicing").
		Set("A1", "spreadsheet").
		Set("B1", "=LEFT(A1, 6)").
		Set("B2", "=RIGHT(A1, 5)").
		Set("B3", "=MID(A1, 7, 3)").
		Set("B4", "=LEFT(A1)").
		Set("B5", "=LEFT(A1, -1)").
		Run().
		AssertCellEq("B1", "spread").
		AssertCellEq("B2", "sheet").
		AssertCellEq("B3", "she").
		AssertCellEq("B4", "s").
		AssertCellErr("B5", ErrorCodeValue).
		End()

	NewSheetTestCase(t, "Substitute and find").
		Set("A1", `=SUBSTITUTE("a-b-c", "-", "+")`).
		Set("A2", `=SUBSTITUTE("a-b-c", "-", "+", 2)`).
		Set("A3", `=FIND("b", "abcb")`).
		Set("A4", `=FIND("b", "abcb", 3)`).
		Set("A5", `=FIND("B", "abc")`).
		Run().
		AssertCellEq("A1", "a+b+c").
		AssertCellEq("A2", "a-b+c").
		AssertCellEq("A3", 2.0).
		AssertCellEq("A4", 4.0).
		AssertCellErr("A5", ErrorCodeValue).
		End()

	NewSheetTestCase(t, "Case").
		Set("A1", `=UPPER("hello world")`).
		Set("A2", `=LOWER("HELLO WORLD")`).
		Set("A3", `=PROPER("hello wORLD")`).
		Set("A4", "=UPPER(123)").
		Set("A5", `=UPPER("café")`).
		Run().
		AssertCellEq("A1", "HELLO WORLD").
		AssertCellEq("A2", "hello world").
		AssertCellEq("A3", "Hello World").
		AssertCellEq("A4", "123").
		AssertCellEq("A5", "CAFÉ").
		End()

	NewSheetTestCase(t, "Trim exact rept").
		Set("A1", `=TRIM("  hello   world  ")`).
		Set("A2", `=EXACT("a", "A")`).
		Set("A3", `=REPT("ab", 3)`).
		Run().
		AssertCellEq("A1", "hello world").
		AssertCellEq("A2", false).
		AssertCellEq("A3", "ababab").
		End()
}

func TestTextFunctionsExtremeArguments(t *testing.T) {
	NewSheetTestCase(t, "Counts near the int limit").
		Set("A1", "abc").
		Set("B1", `=REPT("ab", 4611686018427387904)`).
		Set("B2", `=REPT("a", 9223372036854774784)`).
		Set("B3", `=REPT("", 1E+300)`).
		Set("B4", `=LEN(MID(REPT("a", 2000), 1500, 9223372036854774784))`).
		Set("B5", "=MID(A1, 9223372036854774784, 2)").
		Set("B6", "=LEFT(A1, 9223372036854774784)").
		Set("B7", "=RIGHT(A1, 1E+300)").
		Set("B8", `=FIND("a", A1, 9223372036854774784)`).
		Set("B9", "=LEFT(A1, -1E+300)").
		Run().
		AssertCellErr("B1", ErrorCodeValue).
		AssertCellErr("B2", ErrorCodeValue).
		AssertCellEq("B3", "").
		AssertCellEq("B4", 501.0).
		AssertCellEq("B5", "").
		AssertCellEq("B6", "abc").
		AssertCellEq("B7", "abc").
		AssertCellErr("B8", ErrorCodeValue).
		AssertCellErr("B9", ErrorCodeValue).
		End()

	NewSheetTestCase(t, "Rept length counts characters").
		Set("A1", `=LEN(REPT("é", 32767))`).
		Set("A2", `=REPT("é", 32768)`).
		Set("A3", `=REPT("ab", 16384)`).
		Run().
		AssertCellEq("A1", 32767.0).
		AssertCellErr("A2", ErrorCodeValue).
		AssertCellErr("A3", ErrorCodeValue).
		End()

	NewSheetTestCase(t, "Lookup positions near the int limit").
		Set("A1", 1.0).
		Set("A2", 2.0).
		Set("A3", 3.0).
		Set("B1", "=INDEX(A1:A3, 4611686018427387904)").
		Set("B2", "=INDEX(A1:A3, -1E+300)").
		Set("B3", "=VLOOKUP(1, A1:A3, 1E+300)").
		Set("B4", "=INDEX(A1:A3, 1E+300, 1)").
		Run().
		AssertCellErr("B1", ErrorCodeRef).
		AssertCellErr("B2", ErrorCodeRef).
		AssertCellErr("B3", ErrorCodeRef).
		AssertCellErr("B4", ErrorCodeRef).
		End()
}

func TestMathFunctions(t *testing.T) {
	NewSheetTestCase(t, "ABS").
		Set("A1", "=ABS(-10)").
		Set("A2", `=ABS("text")`).
		Run().
		AssertCellEq("A1", 10.0).
		AssertCellErr("A2", ErrorCodeValue).
		End()

	NewSheetTestCase(t, "ROUND").
		Set("A1", "=ROUND(3.7)").
		Set("A2", "=ROUND(3.14159, 2)").
		Set("A3", "=ROUND(1234.5, -2)").
		Set("A4", "=ROUNDUP(3.14159, 2)").
		Set("A5", "=ROUNDDOWN(-3.7)").
		Set("A6", "=INT(-3.7)").
		Run().
		AssertCellEq("A1", 4.0).
		AssertCellEq("A2", 3.14).
		AssertCellEq("A3", 1200.0).
		AssertCellEq("A4", 3.15).
		AssertCellEq("A5", -3.0).
		AssertCellEq("A6", -4.0).
		End()

	NewSheetTestCase(t, "SQRT POWER MOD PI").
		Set("A1", "=SQRT(16)").
		Set("A2", "=SQRT(-1)").
		Set("A3", "=POWER(2, -2)").
		Set("A4", "=MOD(10, 3)").
		Set("A5", "=MOD(-10, 3)").
		Set("A6", "=MOD(10, 0)").
		Set("A7", "=PI()").
		Set("A8", "=PI(1)").
		Run().
		AssertCellEq("A1", 4.0).
		AssertCellErr("A2", ErrorCodeNum).
		AssertCellEq("A3", 0.25).
		AssertCellEq("A4", 1.0).
		AssertCellEq("A5", 2.0).
		AssertCellErr("A6", ErrorCodeDiv0).
		AssertCellEq("A7", math.Pi).
		AssertCellErr("A8", ErrorCodeValue).
		End()
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type sequenceRandom struct {
	values []float64
	next   int
}

func (r *sequenceRandom) Float64() float64 {
	v := r.values[r.next%len(r.values)]
	r.next++
	return v
}

func TestVolatileFunctions(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)}
	rng := &sequenceRandom{values: []float64{0.25, 0.75}}

	NewSheetTestCase(t, "Deterministic sources", WithClock(clock), WithRandom(rng)).
		Set("A1", "=TODAY()").
		Set("A2", "=NOW()").
		Set("A3", "=RANDBETWEEN(1, 4)").
		AssertCellEq("A1", 45292.0).
		AssertCellEq("A2", 45292.5).
		AssertCellFn("A3", func(val Primitive, t *testing.T) {
			num, ok := val.(float64)
			if !ok || num < 1 || num > 4 || num != math.Trunc(num) {
				t.Errorf("RANDBETWEEN(1, 4) should return an integer in [1,4], got %v", val)
			}
		}).
		End()

	// 23:30 at UTC-5 is already January 2 in UTC
	evening := &fixedClock{now: time.Date(2024, time.January, 1, 23, 30, 0, 0, time.FixedZone("EST", -5*60*60))}
	NewSheetTestCase(t, "Today is the date part of now", WithClock(evening)).
		Set("A1", "=TODAY()").
		Set("A2", "=NOW()").
		Set("A3", "=TODAY()=INT(NOW())").
		AssertCellEq("A1", 45293.0).
		AssertCellEq("A2", 45293.1875).
		AssertCellEq("A3", true).
		End()

	NewSheetTestCase(t, "RAND range").
		Set("A1", "=RAND()").
		AssertCellFn("A1", func(val Primitive, t *testing.T) {
			if num, ok := val.(float64); !ok || num < 0 || num >= 1 {
				t.Errorf("RAND() should return number in [0,1), got %v", val)
			}
		}).
		End()
}

func TestCellReferences(t *testing.T) {
	NewSheetTestCase(t, "Chain reference").
		Set("A1", 10.0).
		Set("B1", "=A1*2").
		Set("C1", "=B1*2").
		Run().
		AssertCellEq("C1", 40.0).
		End()

	NewSheetTestCase(t, "Absolute references").
		Set("A1", 10.0).
		Set("B1", "=$A$1+A$1+$A1").
		Run().
		AssertCellEq("B1", 30.0).
		End()

	NewSheetTestCase(t, "Unknown name").
		Set("A1", "=Revenue*2").
		Run().
		AssertCellErr("A1", ErrorCodeName).
		End()
}

func TestCircularReferences(t *testing.T) {
	NewSheetTestCase(t, "Self reference").
		Set("A1", "=A1+1").
		AssertCellErr("A1", ErrorCodeCircular).
		AssertDisplay("A1", "#CIRCULAR!").
		End()

	NewSheetTestCase(t, "Indirect circular").
		Set("A1", "=B1").
		Set("B1", "=A1").
		AssertCellErr("A1", ErrorCodeCircular).
		AssertCellErr("B1", ErrorCodeCircular).
		End()

	NewSheetTestCase(t, "Three cell circular").
		Set("A1", "=C1").
		Set("B1", "=A1").
		Set("C1", "=B1").
		AssertCellErr("A1", ErrorCodeCircular).
		AssertCellErr("B1", ErrorCodeCircular).
		AssertCellErr("C1", ErrorCodeCircular).
		End()

	NewSheetTestCase(t, "Circular via range").
		Set("A1", "=SUM(A1:A3)").
		AssertCellErr("A1", ErrorCodeCircular).
		End()

	NewSheetTestCase(t, "Circular via IF").
		Set("A1", "=IF(B1>0, B1, 0)").
		Set("B1", "=A1+1").
		AssertCellErr("A1", ErrorCodeCircular).
		AssertCellErr("B1", ErrorCodeCircular).
		End()

	NewSheetTestCase(t, "Deep circular chain").
		Set("A1", "=A2").
		Set("A2", "=A3").
		Set("A3", "=A4").
		Set("A4", "=A5").
		Set("A5", "=A1").
		AssertCellErr("A1", ErrorCodeCircular).
		AssertCellErr("A3", ErrorCodeCircular).
		AssertCellErr("A5", ErrorCodeCircular).
		End()

	NewSheetTestCase(t, "Downstream of a cycle sees the error").
		Set("A1", "=B1").
		Set("B1", "=A1").
		Set("C1", "=A1*2").
		AssertCellErr("C1", ErrorCodeCircular).
		End()

	NewSheetTestCase(t, "Breaking the cycle recovers").
		Set("A1", "=B1+1").
		Set("B1", "=A1").
		AssertCellErr("A1", ErrorCodeCircular).
		Set("B1", 5.0).
		AssertCellEq("A1", 6.0).
		End()
}

func TestRangeEdgeCases(t *testing.T) {
	NewSheetTestCase(t, "Inverted range").
		Set("A1", 1.0).
		Set("A2", 2.0).
		Set("B1", 3.0).
		Set("B2", 4.0).
		Set("C1", "=SUM(B2:A1)").
		Run().
		AssertCellEq("C1", 10.0).
		End()

	NewSheetTestCase(t, "Single cell range in scalar position").
		Set("A1", 42.0).
		Set("B1", "=A1:A1+1").
		Run().
		AssertCellEq("B1", 43.0).
		End()

	NewSheetTestCase(t, "Multi cell range in scalar position").
		Set("A1", 1.0).
		Set("A2", 2.0).
		Set("B1", "=A1:A2+1").
		Run().
		AssertCellErr("B1", ErrorCodeValue).
		End()

	tc := NewSheetTestCase(t, "Large range")
	for i := 1; i <= 100; i++ {
		tc.Set(fmt.Sprintf("A%d", i), float64(i))
	}
	tc.Set("B1", "=SUM(A1:A100)").
		AssertCellEq("B1", 5050.0).
		End()
}

func TestTypeConversions(t *testing.T) {
	NewSheetTestCase(t, "String to number").
		Set("A1", "123").
		Set("B1", "=A1+1").
		AssertCellEq("B1", 124.0).
		End()

	NewSheetTestCase(t, "Invalid string to number causes error").
		Set("A1", "abc").
		Set("B1", "=A1+1").
		AssertCellErr("B1", ErrorCodeValue).
		End()

	NewSheetTestCase(t, "Booleans to number").
		Set("A1", true).
		Set("A2", false).
		Set("B1", "=A1+1").
		Set("B2", "=A2+1").
		AssertCellEq("B1", 2.0).
		AssertCellEq("B2", 1.0).
		End()

	NewSheetTestCase(t, "Empty in arithmetic and text").
		Set("B1", "=A1+10").
		Set("B2", `="Value: "&A1`).
		Set("B3", "=A1").
		AssertCellEq("B1", 10.0).
		AssertCellEq("B2", "Value: ").
		AssertCellEq("B3", 0.0).
		End()

	NewSheetTestCase(t, "Large and small numbers").
		Set("A1", 1e308).
		Set("B1", "=A1").
		Set("A2", 1e-308).
		Set("B2", "=A2*1000000").
		AssertCellEq("B1", 1e308).
		AssertCellEq("B2", 1e-302).
		End()
}

func TestErrorPropagation(t *testing.T) {
	NewSheetTestCase(t, "Error propagation").
		Set("A1", "=1/0").
		Set("B1", "=A1+10").
		AssertCellErr("A1", ErrorCodeDiv0).
		AssertCellErr("B1", ErrorCodeDiv0).
		AssertDisplay("B1", "#DIV/0!").
		End()

	NewSheetTestCase(t, "Left operand error wins").
		Set("A1", `=(1/0)+ABS("x")`).
		Set("A2", `=ABS("x")+(1/0)`).
		AssertCellErr("A1", ErrorCodeDiv0).
		AssertCellErr("A2", ErrorCodeValue).
		End()

	NewSheetTestCase(t, "Parse error stays local").
		Set("A1", 2.0).
		Set("B1", "=SUM(A1").
		Set("C1", "=A1*3").
		AssertCellErr("B1", ErrorCodeValue).
		AssertCellEq("C1", 6.0).
		End()

	NewSheetTestCase(t, "Unknown function").
		Set("A1", "=BAD()").
		AssertCellEq("A1", ErrorCodeName).
		End()
}

func TestComplexFormulas(t *testing.T) {
	NewSheetTestCase(t, "Nested IF").
		Set("A1", 15.0).
		Set("B1", `=IF(A1>20, "big", IF(A1>10, "medium", "small"))`).
		AssertCellEq("B1", "medium").
		End()

	NewSheetTestCase(t, "Complex calculation").
		Set("A1", 10.0).
		Set("A2", 20.0).
		Set("A3", 30.0).
		Set("B1", "=ROUND(AVERAGE(A1:A3)*1.1, 2)").
		AssertCellEq("B1", 22.0).
		End()

	NewSheetTestCase(t, "Math and logic").
		Set("A1", 5.0).
		Set("B1", 10.0).
		Set("C1", "=IF(A1+B1>12, SUM(A1:B1)*2, AVERAGE(A1:B1))").
		AssertCellEq("C1", 30.0).
		End()

	NewSheetTestCase(t, "Operator precedence").
		Set("A1", "=2+3*4").
		Set("A2", "=(2+3)*4").
		Set("A3", "=2^3*4").
		Set("A4", `=1+2&"x"`).
		Set("A5", `=1+1=2`).
		AssertCellEq("A1", 14.0).
		AssertCellEq("A2", 20.0).
		AssertCellEq("A3", 32.0).
		AssertCellEq("A4", "3x").
		AssertCellEq("A5", true).
		End()

	NewSheetTestCase(t, "Financial calc").
		Set("A1", 1000.0).
		Set("A2", 0.05).
		Set("A3", 12.0).
		Set("B1", "=A1*(1+A2/A3)^(A3*2)").
		AssertCellEq("B1", 1104.9413355583).
		End()

	NewSheetTestCase(t, "Rolling calc").
		Set("A1", 10.0).
		Set("A2", 20.0).
		Set("A3", 30.0).
		Set("A4", 40.0).
		Set("A5", 50.0).
		Set("B3", "=AVERAGE(A1:A3)").
		Set("B4", "=AVERAGE(A2:A4)").
		Set("B5", "=AVERAGE(A3:A5)").
		AssertCellEq("B3", 20.0).
		AssertCellEq("B4", 30.0).
		AssertCellEq("B5", 40.0).
		End()
}

func TestUpdateAndRecalculation(t *testing.T) {
	NewSheetTestCase(t, "Update dependent cells").
		Set("A1", 10.0).
		Set("B1", "=A1*2").
		AssertCellEq("B1", 20.0).
		Set("A1", 15.0).
		AssertCellEq("B1", 30.0).
		AssertDisplay("B1", "30").
		End()

	NewSheetTestCase(t, "Change formula").
		Set("A1", 10.0).
		Set("B1", "=A1*2").
		Set("B1", "=A1+5").
		AssertCellEq("B1", 15.0).
		End()

	NewSheetTestCase(t, "Formula replaced by literal").
		Set("A1", 10.0).
		Set("B1", "=A1*2").
		Set("C1", "=B1+1").
		Set("B1", 7.0).
		AssertCellEq("C1", 8.0).
		Set("A1", 100.0).
		AssertCellEq("B1", 7.0).
		End()

	NewSheetTestCase(t, "Clear referenced cell").
		Set("A1", 10.0).
		Set("B1", "=A1*2").
		Clear("A1").
		AssertCellEq("B1", 0.0).
		End()

	tc := NewSheetTestCase(t, "Deep dependency")
	tc.Set("A1", 1.0)
	for i := 2; i <= 50; i++ {
		tc.Set(fmt.Sprintf("A%d", i), fmt.Sprintf("=A%d+1", i-1))
	}
	tc.AssertCellEq("A50", 50.0).
		Set("A1", 101.0).
		AssertCellEq("A50", 150.0).
		End()
}

func TestCustomFunctions(t *testing.T) {
	double := func(ctx Context, args ...Value) (Value, error) {
		if err := checkArity("DOUBLE", args, 1, 1); err != nil {
			return nil, err
		}
		n, err := numberArg("DOUBLE", args[0])
		if err != nil {
			return nil, err
		}
		return n * 2, nil
	}
	triple := func(ctx Context, args ...Value) (Value, error) {
		n, err := numberArg("DOUBLE", args[0])
		if err != nil {
			return nil, err
		}
		return n * 3, nil
	}

	NewSheetTestCase(t, "Register and override").
		Register("double", double).
		Set("A1", "=DOUBLE(21)").
		AssertCellEq("A1", 42.0).
		Register("DOUBLE", triple).
		Run().
		AssertCellEq("A1", 63.0).
		End()

	NewSheetTestCase(t, "Override a built-in").
		Register("SUM", func(ctx Context, args ...Value) (Value, error) {
			return "overridden", nil
		}).
		Set("A1", "=SUM(1, 2)").
		AssertCellEq("A1", "overridden").
		End()

	NewSheetTestCase(t, "Go errors become #VALUE!").
		Register("BROKEN", func(ctx Context, args ...Value) (Value, error) {
			return nil, errors.New("boom")
		}).
		Set("A1", "=BROKEN()").
		AssertCellErr("A1", ErrorCodeValue).
		End()
}

func TestSheetAddresses(t *testing.T) {
	NewSheetTestCase(t, "Invalid address").
		SetInvalid("1A", 1.0).
		ExpectAppError(InvalidArgument).
		End()

	NewSheetTestCase(t, "Unsupported value").
		SetInvalid("A1", struct{}{}).
		ExpectAppError(InvalidArgument).
		End()

	_, err := NewSheet().Get("not a ref")
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, InvalidArgument, appErr.Code)
}

func TestSheetRawFormulaRoundTrip(t *testing.T) {
	s := NewSheet()
	require.NoError(t, s.Set("B2", 3.0))
	require.NoError(t, s.Set("C2", 4.0))
	require.NoError(t, s.Set("A1", "=B2*C2"))

	raw, err := s.RawFormula("A1")
	require.NoError(t, err)
	assert.Equal(t, "=B2*C2", raw)

	require.NoError(t, s.Set("A2", "=  sum( b2 ,C2 )"))
	raw, err = s.RawFormula("A2")
	require.NoError(t, err)
	assert.Equal(t, "=  sum( b2 ,C2 )", raw)

	cell, err := s.Display("A1")
	require.NoError(t, err)
	assert.Equal(t, CellData{RawValue: "=B2*C2", DisplayValue: "12", Type: CellTypeNumber}, cell)
}

func TestSheetListeners(t *testing.T) {
	s := NewSheet()
	var seen []string
	s.OnUpdate(func(u Update) {
		seen = append(seen, u.Ref+"="+u.Display)
	})

	require.NoError(t, s.Set("A1", 2.0))
	require.NoError(t, s.Set("B1", "=A1*10"))
	require.NoError(t, s.Set("A1", 3.0))

	assert.Equal(t, []string{"A1=2", "B1=20", "A1=3", "B1=30"}, seen)
}

func TestSheetSetBatch(t *testing.T) {
	var recomputed []CellCoord
	s := NewSheet(WithRecalcObserver(func(c CellCoord) { recomputed = append(recomputed, c) }))
	require.NoError(t, s.SetBatch(map[string]Primitive{
		"A1": 1.0,
		"A2": 2.0,
		"A3": "=A1+A2",
		"A4": "=A3*2",
	}))
	v, err := s.Get("A4")
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)
	assert.Equal(t, []CellCoord{{Row: 2, Col: 0}, {Row: 3, Col: 0}}, recomputed)
}

func TestRunnableSheet(t *testing.T) {
	var lines []string
	printLn := func(s string) { lines = append(lines, s) }

	r := NewRunnableSheet(printLn).
		Set("A1", 10.0).
		Set("A2", "=A1*2").
		Log("A2").
		If(true, func(r *RunnableSheet) *RunnableSheet {
			return r.Set("A3", "=A2+1")
		}).
		If(false, func(r *RunnableSheet) *RunnableSheet {
			return r.Set("A3", "never")
		}).
		CheckError()

	assert.Equal(t, []Primitive{10.0, 20.0, 21.0}, r.Values("A1", "A2", "A3"))
	assert.Equal(t, []string{"A2: 20", "No errors"}, lines)

	_, err := r.Set("??", 1.0).Set("A4", 1.0).Run()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid address"))
	assert.Nil(t, r.Value("A1"))

	r = r.OnError(func(error) error { return nil })
	sheet, err := r.Run()
	require.NoError(t, err)
	v, err := sheet.Get("A4")
	require.NoError(t, err)
	assert.Nil(t, v)
}
