package economy

// Code is the machine-readable category of an economy failure.
type Code string

const (
	CodeInsufficientResources Code = "insufficient_resources"
	CodeInvalidRoute          Code = "invalid_route"
	CodeInvalidOffer          Code = "invalid_offer"
	CodeInvalidPuzzle         Code = "invalid_puzzle"
	CodeInvalidOption         Code = "invalid_option"
	CodeInvalidAmount         Code = "invalid_amount"
	CodeNarratorUnavailable   Code = "narrator_unavailable"
)

// Error is a recoverable economy failure. None of these are fatal: the
// action that produced one simply did not happen.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// NewError creates an economy error with a code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an economy error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the code from err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrInsufficientResources = NewError(CodeInsufficientResources, "insufficient resources")
	ErrInvalidRoute          = NewError(CodeInvalidRoute, "unknown conversion route")
	ErrInvalidOffer          = NewError(CodeInvalidOffer, "unknown market offer")
	ErrInvalidPuzzle         = NewError(CodeInvalidPuzzle, "unknown allocation puzzle")
	ErrInvalidOption         = NewError(CodeInvalidOption, "unknown puzzle option")
	ErrInvalidAmount         = NewError(CodeInvalidAmount, "amount must be positive")
	ErrNarratorUnavailable   = NewError(CodeNarratorUnavailable, "narrator unavailable")
)
