package block

import (
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every stream well-formedness error.
var ErrMalformed = errors.New("malformed block stream")

// UnopenedBlockError: an end marker while no block is open.
type UnopenedBlockError struct {
	Line int
}

func (e *UnopenedBlockError) Error() string {
	return fmt.Sprintf("line %d: block end without a matching begin", e.Line)
}

func (e *UnopenedBlockError) Unwrap() error { return ErrMalformed }

// NestedBlockError: a begin marker while a block is already open.
type NestedBlockError struct {
	Line     int
	OpenedAt int
}

func (e *NestedBlockError) Error() string {
	return fmt.Sprintf("line %d: block begins inside the block opened at line %d", e.Line, e.OpenedAt)
}

func (e *NestedBlockError) Unwrap() error { return ErrMalformed }

// BarrierInsideBlockError: a barrier while a block is open.
type BarrierInsideBlockError struct {
	Line     int
	OpenedAt int
}

func (e *BarrierInsideBlockError) Error() string {
	return fmt.Sprintf("line %d: barrier inside the block opened at line %d", e.Line, e.OpenedAt)
}

func (e *BarrierInsideBlockError) Unwrap() error { return ErrMalformed }

// AssignmentParseError: a block's text is not a `name = expression`.
type AssignmentParseError struct {
	Line int
	Text string
}

func (e *AssignmentParseError) Error() string {
	text := e.Text
	if len(text) > 60 {
		text = text[:60] + "..."
	}
	return fmt.Sprintf("line %d: block is not a name = expression assignment: %q", e.Line, text)
}

func (e *AssignmentParseError) Unwrap() error { return ErrMalformed }

// EvaluationError: an assignment's expression failed to evaluate.
type EvaluationError struct {
	Name string
	Line int // line of the block's end marker
	Expr string
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("line %d: evaluate %s: %v", e.Line, e.Name, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
