package formula

// Primitive represents a scalar formula value.
// types:
//   - float64: numeric values (integers are converted to float64)
//   - string: text values
//   - bool: boolean values (TRUE/FALSE)
//   - nil: empty cells
//   - *SpreadsheetError: error values (#DIV/0!, #VALUE!, etc.)
type Primitive any

// Value is what evaluating a node produces: a Primitive, or a *RangeValue
// when the node is a range reference.
type Value any

// ErrorCode represents standard spreadsheet error codes following
// Excel conventions
type ErrorCode uint8

const (
	ErrorCodeNull     ErrorCode = 1 // #NULL! - no cells in common between ranges
	ErrorCodeDiv0     ErrorCode = 2 // #DIV/0! - division by zero
	ErrorCodeValue    ErrorCode = 3 // #VALUE! - wrong type of argument or operand
	ErrorCodeRef      ErrorCode = 4 // #REF! - invalid cell reference
	ErrorCodeName     ErrorCode = 5 // #NAME? - unrecognized function name
	ErrorCodeNum      ErrorCode = 6 // #NUM! - number too large or small to be represented
	ErrorCodeNA       ErrorCode = 7 // #N/A - lookup found nothing
	ErrorCodeOther    ErrorCode = 8 // #ERROR! - all other errors
	ErrorCodeCircular ErrorCode = 9 // #CIRCULAR! - cell is part of a reference cycle
)

// ErrorMapper maps error code numbers to their string representations
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeNull:     "#NULL!",
	ErrorCodeDiv0:     "#DIV/0!",
	ErrorCodeValue:    "#VALUE!",
	ErrorCodeRef:      "#REF!",
	ErrorCodeName:     "#NAME?",
	ErrorCodeNum:      "#NUM!",
	ErrorCodeNA:       "#N/A",
	ErrorCodeOther:    "#ERROR!",
	ErrorCodeCircular: "#CIRCULAR!",
}

// String returns the display form of the code, e.g. "#DIV/0!".
func (c ErrorCode) String() string {
	if s, ok := ErrorMapper[c]; ok {
		return s
	}
	return ErrorMapper[ErrorCodeOther]
}

// SpreadsheetError preserves error code for display in cells
type SpreadsheetError struct {
	ErrorCode ErrorCode
	Message   string
}

func (e *SpreadsheetError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.ErrorCode.String()
}

func NewSpreadsheetError(code ErrorCode, message string) *SpreadsheetError {
	if message == "" {
		message = code.String()
	}
	return &SpreadsheetError{
		ErrorCode: code,
		Message:   message,
	}
}

// asError reports whether v is an error value.
func asError(v Value) (*SpreadsheetError, bool) {
	e, ok := v.(*SpreadsheetError)
	return e, ok && e != nil
}

// CellType classifies what a cell currently displays.
type CellType uint8

const (
	CellTypeEmpty   CellType = 0
	CellTypeNumber  CellType = 1
	CellTypeText    CellType = 2
	CellTypeBoolean CellType = 3
	CellTypeError   CellType = 4
)

var cellTypeNames = map[CellType]string{
	CellTypeEmpty:   "empty",
	CellTypeNumber:  "number",
	CellTypeText:    "text",
	CellTypeBoolean: "boolean",
	CellTypeError:   "error",
}

func (t CellType) String() string {
	return cellTypeNames[t]
}

// MarshalText lets grid documents carry the type by name.
func (t CellType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// typeOf returns the CellType of a scalar value.
func typeOf(v Primitive) CellType {
	switch v.(type) {
	case nil:
		return CellTypeEmpty
	case float64:
		return CellTypeNumber
	case bool:
		return CellTypeBoolean
	case *SpreadsheetError:
		return CellTypeError
	default:
		return CellTypeText
	}
}
