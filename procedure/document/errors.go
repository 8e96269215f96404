package document

import "errors"

// ErrParse is the sentinel wrapped by every ParseError.
var ErrParse = errors.New("procedure parse error")

// ParseError reports a missing, unreadable or malformed procedure document.
// No execution context is created when parsing fails.
type ParseError struct {
	// Path is the source file, empty when parsing from a reader.
	Path string

	// Reason describes what is wrong with the document.
	Reason string

	// Err is the underlying I/O or decoding error, if any.
	Err error
}

func (e *ParseError) Error() string {
	msg := "parse procedure"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrParse and the underlying cause to errors.Is.
func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrParse}
	}
	return []error{ErrParse, e.Err}
}
