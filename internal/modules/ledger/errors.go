package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInstrumentNotFound is returned when an instrument id or ISIN is unknown.
var ErrInstrumentNotFound = errors.New("instrument not found")

// ErrInvalidFile marks an upload that cannot be imported at all.
var ErrInvalidFile = errors.New("invalid transactions file")

// MissingColumnsError lists required columns absent from the header row.
type MissingColumnsError struct {
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return "Missing required columns: " + strings.Join(e.Missing, ", ")
}

// Unwrap allows errors.Is(err, ErrInvalidFile).
func (e *MissingColumnsError) Unwrap() error {
	return ErrInvalidFile
}

// RowError reports a malformed row. Line is 1-based and counts the header.
type RowError struct {
	Err    error
	Column string
	Line   int
}

func (e *RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("line %d, column %q: %v", e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Unwrap allows errors.Is(err, ErrInvalidFile) and access to the cause.
func (e *RowError) Unwrap() []error {
	return []error{ErrInvalidFile, e.Err}
}
