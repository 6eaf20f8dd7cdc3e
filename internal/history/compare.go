package history

import (
	"context"

	"kin/internal/diff"
)

// ChangeKind classifies a key in a comparison.
type ChangeKind int

const (
	Unchanged ChangeKind = iota
	Added
	Removed
	Changed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Changed:
		return "changed"
	default:
		return "unchanged"
	}
}

// TagChange is one key compared across two runs.
type TagChange struct {
	Key       string
	Kind      ChangeKind
	OldDigest uint16
	NewDigest uint16
	Diff      *diff.ContentDiff // nil unless Kind is Changed
}

// Comparison is the result of comparing two runs.
type Comparison struct {
	Old     Run
	New     Run
	Changes []TagChange // keys of Old in order, then keys only in New
}

// Count returns how many changes are of kind k.
func (c *Comparison) Count(k ChangeKind) int {
	n := 0
	for _, ch := range c.Changes {
		if ch.Kind == k {
			n++
		}
	}
	return n
}

// Compare diffs two runs by key. Keys are compared by digest; changed
// keys carry a line diff of their full content.
func (s *Store) Compare(ctx context.Context, oldRef, newRef string) (*Comparison, error) {
	oldRun, err := s.Get(ctx, oldRef)
	if err != nil {
		return nil, err
	}
	newRun, err := s.Get(ctx, newRef)
	if err != nil {
		return nil, err
	}
	return CompareRuns(oldRun, newRun), nil
}

// CompareRuns compares two loaded runs.
func CompareRuns(oldRun, newRun *RunDetail) *Comparison {
	cmp := &Comparison{Old: oldRun.Run, New: newRun.Run}
	engine := diff.NewEngine(diff.DefaultContext)

	newByKey := make(map[string]TagRecord, len(newRun.Tags))
	for _, t := range newRun.Tags {
		newByKey[t.Key] = t
	}
	seen := make(map[string]bool, len(oldRun.Tags))

	for _, o := range oldRun.Tags {
		seen[o.Key] = true
		n, ok := newByKey[o.Key]
		if !ok {
			cmp.Changes = append(cmp.Changes, TagChange{Key: o.Key, Kind: Removed, OldDigest: o.Digest})
			continue
		}
		ch := TagChange{Key: o.Key, Kind: Unchanged, OldDigest: o.Digest, NewDigest: n.Digest}
		if o.Digest != n.Digest {
			ch.Kind = Changed
			ch.Diff = engine.Compare(o.Key, ShortID(oldRun.ID), ShortID(newRun.ID), o.Content, n.Content)
		}
		cmp.Changes = append(cmp.Changes, ch)
	}
	for _, n := range newRun.Tags {
		if !seen[n.Key] {
			cmp.Changes = append(cmp.Changes, TagChange{Key: n.Key, Kind: Added, NewDigest: n.Digest})
		}
	}
	return cmp
}

// ShortID returns the first eight characters of a run id.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
