// Package marker recognizes the delimiter lines a probed program prints
// around its diagnostic output.
//
// Two grammars share this package. The extraction grammar wraps sections
// in [prefix:start:NAME] / [prefix:end:NAME] tags. The context-loading
// grammar wraps assignments in <TOKEN> ... </TOKEN> blocks and separates
// batches with <BARRIER> lines. Patterns are bit-exact with what the
// probe macros emit; see package macros.
package marker

import (
	"fmt"
	"regexp"
)

// Default marker names used when no override is configured.
const (
	DefaultPrefix  = "kin"
	DefaultToken   = "NUMPY"
	DefaultBarrier = "BARRIER"
)

// Kind classifies a single input line.
type Kind int

const (
	Plain      Kind = iota // Carries no marker
	StartTag               // [prefix:start:NAME]
	EndTag                 // [prefix:end:NAME]
	BeginBlock             // line ends with <TOKEN>
	EndBlock               // line starts with </TOKEN>
	Barrier                // line contains <BARRIER>
)

func (k Kind) String() string {
	switch k {
	case Plain:
		return "plain"
	case StartTag:
		return "start-tag"
	case EndTag:
		return "end-tag"
	case BeginBlock:
		return "begin-block"
	case EndBlock:
		return "end-block"
	case Barrier:
		return "barrier"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sections recognizes the tag-delimited extraction grammar.
// A Sections value is immutable and safe for concurrent use.
type Sections struct {
	start *regexp.Regexp
	end   *regexp.Regexp
}

// NewSections compiles the start/end tag patterns for prefix.
func NewSections(prefix string) (*Sections, error) {
	if prefix == "" {
		return nil, fmt.Errorf("marker: empty section prefix")
	}
	q := regexp.QuoteMeta(prefix)
	start, err := regexp.Compile(`^\[` + q + `:start:(?P<tag>.+)\]`)
	if err != nil {
		return nil, fmt.Errorf("marker: compile start pattern: %w", err)
	}
	end, err := regexp.Compile(`^\[` + q + `:end:(?P<tag>.+)\]`)
	if err != nil {
		return nil, fmt.Errorf("marker: compile end pattern: %w", err)
	}
	return &Sections{start: start, end: end}, nil
}

// MustSections is NewSections that panics on error.
func MustSections(prefix string) *Sections {
	s, err := NewSections(prefix)
	if err != nil {
		panic(err)
	}
	return s
}

// Classify returns the line kind and, for tag lines, the tag name.
// Start tags take precedence over end tags.
func (s *Sections) Classify(line string) (Kind, string) {
	if m := s.start.FindStringSubmatch(line); m != nil {
		return StartTag, m[1]
	}
	if m := s.end.FindStringSubmatch(line); m != nil {
		return EndTag, m[1]
	}
	return Plain, ""
}

// Blocks recognizes the block-delimited context-loading grammar.
// A Blocks value is immutable and safe for concurrent use.
type Blocks struct {
	begin *regexp.Regexp
	end   *regexp.Regexp
	fence *regexp.Regexp
}

// NewBlocks compiles the begin/end/barrier patterns.
func NewBlocks(token, barrier string) (*Blocks, error) {
	if token == "" || barrier == "" {
		return nil, fmt.Errorf("marker: block token and barrier must be non-empty")
	}
	begin, err := regexp.Compile(`<` + regexp.QuoteMeta(token) + `>$`)
	if err != nil {
		return nil, fmt.Errorf("marker: compile begin pattern: %w", err)
	}
	end, err := regexp.Compile(`^</` + regexp.QuoteMeta(token) + `>`)
	if err != nil {
		return nil, fmt.Errorf("marker: compile end pattern: %w", err)
	}
	fence, err := regexp.Compile(`<` + regexp.QuoteMeta(barrier) + `>`)
	if err != nil {
		return nil, fmt.Errorf("marker: compile barrier pattern: %w", err)
	}
	return &Blocks{begin: begin, end: end, fence: fence}, nil
}

// MustBlocks is NewBlocks that panics on error.
func MustBlocks(token, barrier string) *Blocks {
	b, err := NewBlocks(token, barrier)
	if err != nil {
		panic(err)
	}
	return b
}

// Classify returns the kind of line. Precedence is begin, end, barrier.
// The line must not carry its trailing newline: the begin marker is
// anchored at end of line.
func (b *Blocks) Classify(line string) Kind {
	switch {
	case b.begin.MatchString(line):
		return BeginBlock
	case b.end.MatchString(line):
		return EndBlock
	case b.fence.MatchString(line):
		return Barrier
	default:
		return Plain
	}
}
