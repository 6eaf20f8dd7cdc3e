package section

import (
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every well-formedness error raised by the
// tokenizer, so callers can test for the whole family with errors.Is.
var ErrMalformed = errors.New("malformed section stream")

// UnopenedSectionError is returned when an end tag appears while no
// section is open.
type UnopenedSectionError struct {
	Tag  string
	Line int
}

func (e *UnopenedSectionError) Error() string {
	return fmt.Sprintf("line %d: section %q was not opened", e.Line, e.Tag)
}

func (e *UnopenedSectionError) Unwrap() error { return ErrMalformed }

// UnclosedSectionError is returned when a start tag appears while a
// section is still open. Tag names the section that was left open.
type UnclosedSectionError struct {
	Tag  string
	Next string
	Line int
}

func (e *UnclosedSectionError) Error() string {
	return fmt.Sprintf("line %d: section %q was not closed before %q started", e.Line, e.Tag, e.Next)
}

func (e *UnclosedSectionError) Unwrap() error { return ErrMalformed }

// MismatchedTagError is returned when an end tag names a different
// section than the one currently open.
type MismatchedTagError struct {
	Open  string
	Close string
	Line  int
}

func (e *MismatchedTagError) Error() string {
	return fmt.Sprintf("line %d: mismatched tags: %s, %s", e.Line, e.Open, e.Close)
}

func (e *MismatchedTagError) Unwrap() error { return ErrMalformed }

// UnterminatedSectionError is returned by Finish under TrailingError when
// the stream ends inside a section.
type UnterminatedSectionError struct {
	Tag  string
	Line int // line of the start tag
}

func (e *UnterminatedSectionError) Error() string {
	return fmt.Sprintf("line %d: section %q was never closed before end of input", e.Line, e.Tag)
}

func (e *UnterminatedSectionError) Unwrap() error { return ErrMalformed }
