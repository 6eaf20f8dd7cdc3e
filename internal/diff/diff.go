// Package diff computes line diffs between two versions of a tag's
// captured content using the sergi/go-diff library.
package diff

import (
	"fmt"
	"io"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineType represents the type of diff line
type LineType int

const (
	LineContext LineType = iota // Unchanged context line
	LineAdded                   // Added line
	LineRemoved                 // Removed line
)

func (t LineType) marker() byte {
	switch t {
	case LineAdded:
		return '+'
	case LineRemoved:
		return '-'
	default:
		return ' '
	}
}

// Line is a single line in a hunk. OldNum and NewNum are 1-based; zero
// means the line does not exist on that side.
type Line struct {
	OldNum  int
	NewNum  int
	Content string
	Type    LineType
}

// Hunk is a group of changes with surrounding context.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// ContentDiff is the diff of one tag between two runs.
type ContentDiff struct {
	Tag     string
	OldName string
	NewName string
	Hunks   []Hunk
	Added   int
	Removed int
}

// Changed reports whether the two contents differ.
func (d *ContentDiff) Changed() bool { return d.Added+d.Removed > 0 }

// DefaultContext is the number of unchanged lines shown around changes.
const DefaultContext = 3

// Engine wraps a configured diffmatchpatch instance.
type Engine struct {
	dmp     *diffmatchpatch.DiffMatchPatch
	context int
}

// NewEngine returns an engine showing contextLines lines of context.
func NewEngine(contextLines int) *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0 // exact diffs; captured sections are small
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{dmp: dmp, context: contextLines}
}

// Compare diffs two line slices for tag.
func (e *Engine) Compare(tag, oldName, newName string, oldLines, newLines []string) *ContentDiff {
	d := &ContentDiff{Tag: tag, OldName: oldName, NewName: newName}

	codec := newLineCodec()
	diffs := e.dmp.DiffMainRunes(codec.encode(oldLines), codec.encode(newLines), false)

	ops := toLines(diffs, codec)
	for _, op := range ops {
		switch op.Type {
		case LineAdded:
			d.Added++
		case LineRemoved:
			d.Removed++
		}
	}
	d.Hunks = group(ops, e.context)
	return d
}

// Compare diffs with the default context width.
func Compare(tag, oldName, newName string, oldLines, newLines []string) *ContentDiff {
	return NewEngine(DefaultContext).Compare(tag, oldName, newName, oldLines, newLines)
}

// lineBase is the rune that encodes the first distinct line. It starts
// the private use area, so no index lands on a surrogate.
const lineBase = 0xE000

// lineCodec maps each distinct line to one rune so the character diff
// works line by line.
type lineCodec struct {
	index map[string]rune
	lines []string
}

func newLineCodec() *lineCodec {
	return &lineCodec{index: make(map[string]rune)}
}

func (c *lineCodec) encode(lines []string) []rune {
	out := make([]rune, len(lines))
	for i, l := range lines {
		r, ok := c.index[l]
		if !ok {
			r = lineBase + rune(len(c.lines))
			c.index[l] = r
			c.lines = append(c.lines, l)
		}
		out[i] = r
	}
	return out
}

func (c *lineCodec) decode(text string) []string {
	out := make([]string, 0, len(text)/3)
	for _, r := range text {
		out = append(out, c.lines[r-lineBase])
	}
	return out
}

// toLines expands diffmatchpatch diffs into numbered lines.
func toLines(diffs []diffmatchpatch.Diff, codec *lineCodec) []Line {
	var out []Line
	oldNum, newNum := 0, 0
	for _, d := range diffs {
		for _, content := range codec.decode(d.Text) {
			l := Line{Content: content}
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				oldNum++
				newNum++
				l.Type, l.OldNum, l.NewNum = LineContext, oldNum, newNum
			case diffmatchpatch.DiffDelete:
				oldNum++
				l.Type, l.OldNum = LineRemoved, oldNum
			case diffmatchpatch.DiffInsert:
				newNum++
				l.Type, l.NewNum = LineAdded, newNum
			}
			out = append(out, l)
		}
	}
	return out
}

// group splits lines into hunks, keeping up to n context lines around
// each change and merging changes whose context overlaps.
func group(lines []Line, n int) []Hunk {
	var hunks []Hunk
	i := 0
	for i < len(lines) {
		if lines[i].Type == LineContext {
			i++
			continue
		}
		start := max(0, i-n)
		end := i
		for end < len(lines) {
			if lines[end].Type != LineContext {
				end++
				continue
			}
			// Count the run of context lines that follows.
			run := 0
			for end+run < len(lines) && lines[end+run].Type == LineContext {
				run++
			}
			if end+run == len(lines) || run > 2*n {
				end += min(run, n)
				break
			}
			end += run
		}
		hunks = append(hunks, newHunk(lines[start:end]))
		i = end
	}
	return hunks
}

func newHunk(lines []Line) Hunk {
	h := Hunk{Lines: append([]Line(nil), lines...)}
	for _, l := range lines {
		if l.Type != LineAdded {
			h.OldCount++
			if h.OldStart == 0 {
				h.OldStart = l.OldNum
			}
		}
		if l.Type != LineRemoved {
			h.NewCount++
			if h.NewStart == 0 {
				h.NewStart = l.NewNum
			}
		}
	}
	return h
}

// WriteUnified renders d in unified diff format.
func (d *ContentDiff) WriteUnified(w io.Writer) error {
	if !d.Changed() {
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s/%s\n+++ %s/%s\n", d.OldName, d.Tag, d.NewName, d.Tag)
	for _, h := range d.Hunks {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, l := range h.Lines {
			sb.WriteByte(l.Type.marker())
			sb.WriteString(l.Content)
			sb.WriteByte('\n')
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
