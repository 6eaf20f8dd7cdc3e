// Package section implements the tag-delimited extraction grammar: a
// single-pass state machine that slices a log stream into closed
// Sections.
package section

import (
	"context"
	"fmt"
	"strings"

	"kin/internal/logging"
	"kin/internal/marker"
)

// Section is one start/end-delimited block of content.
type Section struct {
	Tag   string
	Lines []string
	Start int // line number of the start tag
	End   int // line number of the end tag
}

// String joins the section lines with newlines.
func (s Section) String() string {
	return strings.Join(s.Lines, "\n")
}

// State of the tokenizer.
type State int

const (
	Idle State = iota
	Open
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "idle"
}

// TrailingPolicy decides what happens when input ends inside a section.
type TrailingPolicy int

const (
	// TrailingDrop silently discards the unterminated section. This is
	// the historical behavior; Dangling reports what was dropped.
	TrailingDrop TrailingPolicy = iota
	// TrailingError makes Finish fail with *UnterminatedSectionError.
	TrailingError
)

// LineReader is the subset of bufio.Scanner the tokenizer consumes.
type LineReader interface {
	Scan() bool
	Text() string
	Err() error
}

// Option configures a Tokenizer.
type Option func(*Tokenizer)

// WithTrailingPolicy sets the end-of-input policy.
func WithTrailingPolicy(p TrailingPolicy) Option {
	return func(t *Tokenizer) { t.trailing = p }
}

// Tokenizer is the extraction state machine. It is not safe for
// concurrent use.
type Tokenizer struct {
	markers  *marker.Sections
	trailing TrailingPolicy

	state    State
	cur      *Section
	line     int
	dangling *Section
}

// New returns a tokenizer in the Idle state.
func New(markers *marker.Sections, opts ...Option) *Tokenizer {
	t := &Tokenizer{markers: markers}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current state.
func (t *Tokenizer) State() State { return t.state }

// Line returns the number of lines fed so far.
func (t *Tokenizer) Line() int { return t.line }

// Feed advances the machine by one line. It returns the Section closed
// by this line, if any. After an error the tokenizer must not be fed
// again.
func (t *Tokenizer) Feed(line string) (*Section, error) {
	t.line++
	kind, tag := t.markers.Classify(line)

	switch t.state {
	case Idle:
		switch kind {
		case marker.StartTag:
			t.cur = &Section{Tag: tag, Start: t.line}
			t.state = Open
		case marker.EndTag:
			return nil, &UnopenedSectionError{Tag: tag, Line: t.line}
		}
		return nil, nil

	case Open:
		switch kind {
		case marker.StartTag:
			return nil, &UnclosedSectionError{Tag: t.cur.Tag, Next: tag, Line: t.line}
		case marker.EndTag:
			if tag != t.cur.Tag {
				return nil, &MismatchedTagError{Open: t.cur.Tag, Close: tag, Line: t.line}
			}
			closed := t.close()
			return closed, nil
		default:
			t.cur.Lines = append(t.cur.Lines, strings.TrimSpace(line))
			return nil, nil
		}
	}
	return nil, fmt.Errorf("section: unknown state %d", t.state)
}

func (t *Tokenizer) close() *Section {
	s := t.cur
	s.End = t.line
	kept := s.Lines[:0]
	for _, l := range s.Lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	s.Lines = kept
	t.cur = nil
	t.state = Idle
	return s
}

// Finish applies the trailing policy once input is exhausted.
func (t *Tokenizer) Finish() error {
	if t.state != Open {
		return nil
	}
	if t.trailing == TrailingError {
		return &UnterminatedSectionError{Tag: t.cur.Tag, Line: t.cur.Start}
	}
	t.dangling = t.cur
	logging.ExtractWarn("dropping unterminated section %q opened at line %d", t.cur.Tag, t.cur.Start)
	t.cur = nil
	t.state = Idle
	return nil
}

// Dangling returns the section dropped by Finish under TrailingDrop, or
// nil if the stream ended cleanly.
func (t *Tokenizer) Dangling() *Section { return t.dangling }

// Tokenize runs the tokenizer over every line of r and returns the
// closed sections in input order.
func (t *Tokenizer) Tokenize(ctx context.Context, r LineReader) ([]Section, error) {
	var out []Section
	for r.Scan() {
		if t.line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return out, err
			}
		}
		s, err := t.Feed(r.Text())
		if err != nil {
			return out, err
		}
		if s != nil {
			out = append(out, *s)
		}
	}
	if err := r.Err(); err != nil {
		return out, fmt.Errorf("read line %d: %w", t.line+1, err)
	}
	if err := t.Finish(); err != nil {
		return out, err
	}
	logging.ExtractDebug("tokenized %d lines into %d sections", t.line, len(out))
	return out, nil
}
