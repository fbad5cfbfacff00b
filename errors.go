package formula

import "fmt"

// LexError reports a formula that could not be split into tokens. Pos is
// the rune offset of the offending character.
type LexError struct {
	Pos int
	Msg string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at %d: %s", e.Pos, e.Msg)
}

// ParseError reports malformed formula or reference text. Ref is set when
// the failure came from decoding a cell reference, which surfaces as #REF!
// rather than #VALUE!.
type ParseError struct {
	Pos int
	Msg string
	Ref bool
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d: %s", e.Pos, e.Msg)
}

func newRefError(pos int, format string, args ...any) *ParseError {
	return &ParseError{Pos: pos, Msg: fmt.Sprintf(format, args...), Ref: true}
}

// errorValueFor converts a lex or parse failure into the error value stored
// for the cell.
func errorValueFor(err error) *SpreadsheetError {
	switch e := err.(type) {
	case *ParseError:
		if e.Ref {
			return NewSpreadsheetError(ErrorCodeRef, e.Error())
		}
		return NewSpreadsheetError(ErrorCodeValue, e.Error())
	case *LexError:
		return NewSpreadsheetError(ErrorCodeValue, e.Error())
	case *SpreadsheetError:
		return e
	default:
		return NewSpreadsheetError(ErrorCodeValue, err.Error())
	}
}

// AppErrorCode represents gRPC-style error codes for application-level errors.
// note that we are skipping error codes that don't make sense for our use-case,
// like unauthenticated, or permission denied.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// Unknown error.
	Unknown AppErrorCode = 2

	// InvalidArgument indicates client specified an invalid argument, such
	// as an address that does not decode.
	InvalidArgument AppErrorCode = 3

	// NotFound means some requested entity was not found.
	NotFound AppErrorCode = 5

	// OutOfRange means operation was attempted past the valid grid bounds.
	OutOfRange AppErrorCode = 11
)

// AppError represents errors at the application level (not
// spreadsheet formula errors)
type AppError struct {
	Code    AppErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}
