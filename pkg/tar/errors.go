package tar

import (
	"errors"
	"fmt"
)

// ErrTruncated indicates the archive ended before a structurally required
// number of bytes could be read, or that an entry declares more data than the
// archive physically contains.
var ErrTruncated = errors.New("archive truncated")

// ErrWriteTooLong is returned when more bytes are written for an entry than
// its header declared.
var ErrWriteTooLong = errors.New("write exceeds declared entry size")

// FieldError reports a fixed-width header field whose bytes could not be
// parsed or formatted.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("malformed %s field: %s", e.Field, e.Reason)
}

// OverflowError reports a numeric value that exceeds the capacity of its
// fixed-width header field, in either direction: a parsed binary value wider
// than 63 bits, or a value to be written that cannot be represented in the
// field's width.
type OverflowError struct {
	Field string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("value exceeds capacity of %s field", e.Field)
}

// EntryNotFoundError indicates an archive holds no entry with the requested
// name.
type EntryNotFoundError struct {
	Name string
}

func (e *EntryNotFoundError) Error() string {
	return fmt.Sprintf("no entry found with name %q", e.Name)
}

// HeaderError reports a structurally invalid header sequence: bad PAX record
// syntax, a broken sparse map, or an invalid extension chain.
type HeaderError struct {
	Reason string
}

func (e *HeaderError) Error() string {
	return "invalid tar header: " + e.Reason
}
