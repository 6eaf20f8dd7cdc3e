package extract

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"kin/internal/logging"
)

// Filler replaces every non-letter rune of a tag when forming a key.
const Filler = '_'

// Sanitize maps a raw tag to a key safe for any structured output
// format: every rune that is not a letter becomes Filler. Letters
// outside ASCII are kept.
func Sanitize(tag string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return Filler
	}, tag)
}

// CollisionPolicy decides what happens when distinct tags sanitize to
// the same key.
type CollisionPolicy int

const (
	// CollisionLastWins keeps the key at its first position and replaces
	// its record with the later aggregate. Every collision is recorded in
	// Result.Collisions and logged.
	CollisionLastWins CollisionPolicy = iota
	// CollisionError fails Build with *KeyCollisionError.
	CollisionError
)

// ParseCollisionPolicy parses "last-wins" or "error".
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch s {
	case "", "last-wins":
		return CollisionLastWins, nil
	case "error":
		return CollisionError, nil
	default:
		return 0, fmt.Errorf("unknown collision policy %q (want last-wins or error)", s)
	}
}

// ErrKeyCollision is wrapped by KeyCollisionError.
var ErrKeyCollision = errors.New("key collision")

// KeyCollisionError reports two tags that sanitize to the same key.
type KeyCollisionError struct {
	Key   string
	First string
	Later string
}

func (e *KeyCollisionError) Error() string {
	return fmt.Sprintf("tags %q and %q both map to key %q", e.First, e.Later, e.Key)
}

func (e *KeyCollisionError) Unwrap() error { return ErrKeyCollision }

// Record is the emitted value per key.
type Record struct {
	Content []string `json:"content" yaml:"content" cbor:"content"`
	Tag     string   `json:"tag" yaml:"tag" cbor:"tag"`
	Digest  uint16   `json:"digest" yaml:"digest" cbor:"digest"`
}

// Entry pairs a sanitized key with its record.
type Entry struct {
	Key    string
	Record Record
}

// Collision lists every raw tag that mapped to Key, in encounter order.
// The last one is the tag whose record was kept.
type Collision struct {
	Key  string
	Tags []string
}

// Result is the ordered result map. Entries are in order of first
// appearance of their key.
type Result struct {
	Entries    []Entry
	Collisions []Collision

	// Aggregates holds the full, untruncated content behind each entry,
	// in the same order as the aggregator produced them.
	Aggregates []TagAggregate
}

// Map returns the result as a plain map, for encoders that do not
// preserve order.
func (r *Result) Map() map[string]Record {
	m := make(map[string]Record, len(r.Entries))
	for _, e := range r.Entries {
		m[e.Key] = e.Record
	}
	return m
}

// Lookup returns the record stored under key.
func (r *Result) Lookup(key string) (Record, bool) {
	for _, e := range r.Entries {
		if e.Key == key {
			return e.Record, true
		}
	}
	return Record{}, false
}

// Options configures Build.
type Options struct {
	PreviewLines   int
	FilterPointers bool
	Collisions     CollisionPolicy
}

// DefaultOptions returns the documented defaults: ten preview lines,
// pointer filtering on, last-wins collisions.
func DefaultOptions() Options {
	return Options{
		PreviewLines:   DefaultPreviewLines,
		FilterPointers: true,
		Collisions:     CollisionLastWins,
	}
}

// Build turns aggregates into the result map. Digests are always
// computed over the full content, so PreviewLines never changes them.
func Build(aggregates []TagAggregate, opts Options) (*Result, error) {
	res := &Result{Aggregates: aggregates}
	index := make(map[string]int, len(aggregates))
	seen := make(map[string][]string, len(aggregates))

	for _, agg := range aggregates {
		key := Sanitize(agg.Tag)
		rec := Record{
			Content: Preview(agg.Content, opts.PreviewLines),
			Tag:     agg.Tag,
			Digest:  Digest(agg.Content, opts.FilterPointers),
		}

		i, exists := index[key]
		if !exists {
			index[key] = len(res.Entries)
			seen[key] = []string{agg.Tag}
			res.Entries = append(res.Entries, Entry{Key: key, Record: rec})
			continue
		}

		if opts.Collisions == CollisionError {
			return nil, &KeyCollisionError{Key: key, First: seen[key][0], Later: agg.Tag}
		}
		logging.ExtractWarn("tag %q replaces %q under key %q", agg.Tag, res.Entries[i].Record.Tag, key)
		seen[key] = append(seen[key], agg.Tag)
		res.Entries[i].Record = rec
	}

	for _, e := range res.Entries {
		if tags := seen[e.Key]; len(tags) > 1 {
			res.Collisions = append(res.Collisions, Collision{Key: e.Key, Tags: tags})
		}
	}
	return res, nil
}
