// Package block implements the block-delimited context-loading grammar.
//
// A Loader reads <TOKEN> ... </TOKEN> blocks, each holding one
// `name = expression` assignment, and materializes them into a Context
// one batch at a time. A batch ends at a <BARRIER> line or at end of
// input. A failed Advance leaves both the Context and the input position
// as they were after the last successful Advance.
package block

import (
	"context"
	"fmt"
	"regexp"

	"kin/internal/eval"
	"kin/internal/logging"
	"kin/internal/marker"
	"kin/internal/source"
)

// assignPattern splits a block's text into name and expression.
var assignPattern = regexp.MustCompile(`^(?P<name>\w+)\s*=\s*(?P<value>[\s\S]+)`)

// ParseAssignment splits raw block text (newlines already removed) into
// a name and an expression.
func ParseAssignment(raw string) (name, expr string, ok bool) {
	m := assignPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// State of the block state machine.
type State int

const (
	Idle State = iota
	Open
)

// Pending is an assignment extracted but not yet evaluated.
type Pending struct {
	Name string
	Expr string
	Line int
}

// Batch describes one completed Advance.
type Batch struct {
	Number   int
	Bindings []Binding
	From, To int  // first and last input line consumed
	Barrier  bool // false when the batch ended at end of input
}

// Loader is the block tokenizer plus batch bookkeeping. It is not safe
// for concurrent use.
type Loader struct {
	markers   *marker.Blocks
	src       *source.Cursor
	evaluator eval.Evaluator
	ctx       *Context
	exhausted bool
}

// NewLoader reads from src, evaluates with evaluator and binds into c.
func NewLoader(markers *marker.Blocks, src *source.Cursor, evaluator eval.Evaluator, c *Context) *Loader {
	return &Loader{markers: markers, src: src, evaluator: evaluator, ctx: c}
}

// Context returns the context this loader binds into.
func (l *Loader) Context() *Context { return l.ctx }

// Exhausted reports whether input has been fully consumed.
func (l *Loader) Exhausted() bool { return l.exhausted }

// scan runs the state machine until a barrier is consumed while idle or
// input ends. It returns the pending assignments in first-seen order;
// a later assignment to the same name replaces the earlier expression.
func (l *Loader) scan() (pending []Pending, line int, barrier bool, err error) {
	line = l.ctx.line
	state := Idle
	openedAt := 0
	var acc []byte
	index := make(map[string]int)

	for {
		text, ok := l.src.Next()
		if !ok {
			if rerr := l.src.Err(); rerr != nil {
				return nil, line, false, fmt.Errorf("read line %d: %w", line+1, rerr)
			}
			return pending, line, false, nil
		}
		line++

		switch l.markers.Classify(text) {
		case marker.BeginBlock:
			if state == Open {
				return nil, line, false, &NestedBlockError{Line: line, OpenedAt: openedAt}
			}
			state = Open
			openedAt = line
			acc = acc[:0]

		case marker.EndBlock:
			if state != Open {
				return nil, line, false, &UnopenedBlockError{Line: line}
			}
			name, expr, ok := ParseAssignment(string(acc))
			if !ok {
				return nil, line, false, &AssignmentParseError{Line: line, Text: string(acc)}
			}
			p := Pending{Name: name, Expr: expr, Line: line}
			if i, seen := index[name]; seen {
				pending[i] = p
			} else {
				index[name] = len(pending)
				pending = append(pending, p)
			}
			acc = acc[:0]
			state = Idle

		case marker.Barrier:
			if state == Open {
				return nil, line, false, &BarrierInsideBlockError{Line: line, OpenedAt: openedAt}
			}
			return pending, line, true, nil

		default:
			if state == Open {
				acc = append(acc, text...)
			}
		}
	}
}

// Advance consumes one batch and merges it into the Context. A batch ends
// at a barrier or at end of input. Reaching end of input without any
// block commits nothing: the returned batch is empty, Batches is
// unchanged and Exhausted reports true.
func (l *Loader) Advance(ctx context.Context) (*Batch, error) {
	from := l.ctx.line + 1
	if l.exhausted {
		return &Batch{Number: l.ctx.batches, From: from, To: l.ctx.line}, nil
	}
	l.src.Mark()

	pending, line, barrier, err := l.scan()
	if err != nil {
		l.src.Rewind()
		logging.LoadError("advance failed, context kept at batch %d: %v", l.ctx.batches, err)
		return nil, err
	}

	bindings := make([]Binding, 0, len(pending))
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			l.src.Rewind()
			return nil, err
		}
		v, err := l.evaluator.Evaluate(ctx, p.Expr)
		if err != nil {
			l.src.Rewind()
			eerr := &EvaluationError{Name: p.Name, Line: p.Line, Expr: p.Expr, Err: err}
			logging.LoadError("advance failed, context kept at batch %d: %v", l.ctx.batches, eerr)
			return nil, eerr
		}
		logging.LoadDebug("%s = %s (%s, line %d)", p.Name, p.Expr, v.Kind, p.Line)
		bindings = append(bindings, Binding{Name: p.Name, Value: v, Line: p.Line})
	}

	if len(bindings) == 0 && !barrier {
		// Only plain text followed the last barrier. It is consumed but
		// does not count as a batch.
		l.ctx.line = line
		l.exhausted = true
		logging.Load("end of input at line %d, no blocks after batch %d", line, l.ctx.batches)
		return &Batch{Number: l.ctx.batches, From: from, To: line}, nil
	}

	l.ctx.commit(bindings, line)
	l.exhausted = !barrier
	for i := range bindings {
		bindings[i].Batch = l.ctx.batches
	}
	logging.Load("batch %d: bound %d names from lines %d-%d", l.ctx.batches, len(bindings), from, line)
	return &Batch{
		Number:   l.ctx.batches,
		Bindings: bindings,
		From:     from,
		To:       line,
		Barrier:  barrier,
	}, nil
}

// AdvanceN calls Advance up to n times, stopping early at end of input.
// On failure the batches completed before it are returned with the error.
func (l *Loader) AdvanceN(ctx context.Context, n int) ([]*Batch, error) {
	var done []*Batch
	for i := 0; i < n; i++ {
		if l.exhausted {
			break
		}
		b, err := l.Advance(ctx)
		if err != nil {
			return done, err
		}
		done = append(done, b)
	}
	return done, nil
}
