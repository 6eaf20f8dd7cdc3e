// Package extract folds closed sections into per-tag aggregates and
// builds the fingerprinted result map written by `kin extract`.
package extract

import (
	"kin/internal/section"
)

// TagAggregate is the accumulated content of every section sharing a tag.
type TagAggregate struct {
	Tag      string
	Content  []string
	Sections int // number of sections folded in
}

// Aggregator groups sections by tag, keeping tags in order of first
// appearance. It is not safe for concurrent use.
type Aggregator struct {
	order []string
	byTag map[string]*TagAggregate
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{byTag: make(map[string]*TagAggregate)}
}

// Add folds one closed section into its tag's aggregate. Content of a
// repeated tag is appended line by line after what is already there.
func (a *Aggregator) Add(s section.Section) {
	agg, ok := a.byTag[s.Tag]
	if !ok {
		agg = &TagAggregate{Tag: s.Tag}
		a.byTag[s.Tag] = agg
		a.order = append(a.order, s.Tag)
	}
	agg.Content = append(agg.Content, s.Lines...)
	agg.Sections++
}

// AddAll folds sections in order.
func (a *Aggregator) AddAll(sections []section.Section) {
	for _, s := range sections {
		a.Add(s)
	}
}

// Len returns the number of distinct tags.
func (a *Aggregator) Len() int { return len(a.order) }

// Aggregates returns the aggregates in first-appearance order.
func (a *Aggregator) Aggregates() []TagAggregate {
	out := make([]TagAggregate, 0, len(a.order))
	for _, tag := range a.order {
		out = append(out, *a.byTag[tag])
	}
	return out
}
