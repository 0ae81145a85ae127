package spectra

import (
	"errors"
	"fmt"
)

// Error kinds returned by the readers and writers. Errors are wrapped in a
// *ParseError where an offset or element is known; use errors.Is to test.
var (
	ErrMalformedMarkup        = errors.New("malformed markup")
	ErrStructural             = errors.New("structural error")
	ErrInvalidEncoding        = errors.New("invalid encoding")
	ErrDecompression          = errors.New("decompression error")
	ErrUnsupportedCompression = errors.New("unsupported compression")
	ErrIndexCorrupt           = errors.New("index corrupt")
	ErrFormatMismatch         = errors.New("format mismatch")
	ErrTruncatedRecord        = errors.New("truncated record")
	ErrChecksum               = errors.New("checksum mismatch")
	ErrNotFound               = errors.New("not found")
)

// ParseError adds location info to one of the error kinds above
type ParseError struct {
	Err     error  // one of the Err* kinds
	Offset  int64  // byte offset, -1 if unknown
	Element string // element or record the error relates to
	Cause   error  // underlying error, may be nil
}

func (e *ParseError) Error() string {
	s := e.Err.Error()
	if e.Element != "" {
		s += " in <" + e.Element + ">"
	}
	if e.Offset >= 0 {
		s += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap returns both the error kind and the cause
func (e *ParseError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Errorf creates a ParseError with a formatted cause
func Errorf(kind error, offset int64, element string, format string, a ...any) *ParseError {
	return &ParseError{Err: kind, Offset: offset, Element: element, Cause: fmt.Errorf(format, a...)}
}
