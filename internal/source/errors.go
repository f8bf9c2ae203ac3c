package source

import "errors"

var (
	// ErrInputNotFound is returned when the input location does not exist.
	ErrInputNotFound = errors.New("input not found")

	// ErrInputEmpty is returned for a zero-byte input, and by the CSV reader
	// for input with no header or no data rows.
	ErrInputEmpty = errors.New("input is empty")
)
