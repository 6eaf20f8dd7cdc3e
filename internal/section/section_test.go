package section

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kin/internal/marker"
)

func scanner(lines ...string) *bufio.Scanner {
	return bufio.NewScanner(strings.NewReader(strings.Join(lines, "\n")))
}

func tokenize(t *testing.T, opts []Option, lines ...string) ([]Section, error) {
	t.Helper()
	tok := New(marker.MustSections("k"), opts...)
	return tok.Tokenize(context.Background(), scanner(lines...))
}

func TestSingleSection(t *testing.T) {
	got, err := tokenize(t, nil, "[k:start:A]", "x=1", "[k:end:A]")
	require.NoError(t, err)
	want := []Section{{Tag: "A", Lines: []string{"x=1"}, Start: 1, End: 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestSectionTrimsAndDropsBlankLines(t *testing.T) {
	got, err := tokenize(t, nil,
		"noise before",
		"[k:start:T]",
		"   a  ",
		"",
		"\t ",
		"b\t",
		"[k:end:T]",
		"noise after",
	)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"a", "b"}, got[0].Lines)
}

func TestMultipleSectionsInOrder(t *testing.T) {
	got, err := tokenize(t, nil,
		"[k:start:A]", "1", "[k:end:A]",
		"[k:start:B]", "2", "[k:end:B]",
		"[k:start:A]", "3", "[k:end:A]",
	)
	require.NoError(t, err)
	var tags []string
	for _, s := range got {
		tags = append(tags, s.Tag)
	}
	assert.Equal(t, []string{"A", "B", "A"}, tags)
}

func TestMismatchedTag(t *testing.T) {
	_, err := tokenize(t, nil, "[k:start:A]", "[k:end:B]")
	var mm *MismatchedTagError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, "A", mm.Open)
	assert.Equal(t, "B", mm.Close)
	assert.Equal(t, 2, mm.Line)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestUnopenedSection(t *testing.T) {
	_, err := tokenize(t, nil, "plain", "[k:end:A]")
	var uo *UnopenedSectionError
	require.ErrorAs(t, err, &uo)
	assert.Equal(t, "A", uo.Tag)
	assert.Equal(t, 2, uo.Line)
}

func TestNestingRejected(t *testing.T) {
	got, err := tokenize(t, nil,
		"[k:start:A]", "1", "[k:end:A]",
		"[k:start:A]", "[k:start:B]", "[k:end:B]", "[k:end:A]",
	)
	var uc *UnclosedSectionError
	require.ErrorAs(t, err, &uc)
	assert.Equal(t, "A", uc.Tag)
	assert.Equal(t, "B", uc.Next)
	assert.Equal(t, 5, uc.Line)
	// Sections closed before the failure are still reported.
	assert.Len(t, got, 1)
}

func TestTrailingSectionDroppedByDefault(t *testing.T) {
	tok := New(marker.MustSections("k"))
	got, err := tok.Tokenize(context.Background(), scanner(
		"[k:start:A]", "1", "[k:end:A]",
		"[k:start:B]", "truncated",
	))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Tag)

	d := tok.Dangling()
	require.NotNil(t, d)
	assert.Equal(t, "B", d.Tag)
	assert.Equal(t, 4, d.Start)
	assert.Equal(t, Idle, tok.State())
}

func TestTrailingSectionStrict(t *testing.T) {
	_, err := tokenize(t, []Option{WithTrailingPolicy(TrailingError)},
		"[k:start:A]", "1",
	)
	var ut *UnterminatedSectionError
	require.ErrorAs(t, err, &ut)
	assert.Equal(t, "A", ut.Tag)
	assert.Equal(t, 1, ut.Line)
}

func TestCleanEndHasNoDangling(t *testing.T) {
	tok := New(marker.MustSections("k"), WithTrailingPolicy(TrailingError))
	_, err := tok.Tokenize(context.Background(), scanner("[k:start:A]", "[k:end:A]"))
	require.NoError(t, err)
	assert.Nil(t, tok.Dangling())
}

func TestEmptySection(t *testing.T) {
	got, err := tokenize(t, nil, "[k:start:A]", "[k:end:A]")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Lines)
}

func TestTokenizeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tok := New(marker.MustSections("k"))
	_, err := tok.Tokenize(ctx, scanner("[k:start:A]", "[k:end:A]"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFeedReturnsClosedSection(t *testing.T) {
	tok := New(marker.MustSections("k"))
	s, err := tok.Feed("[k:start:A]")
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, Open, tok.State())

	s, err = tok.Feed("[k:end:A]")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "A", s.Tag)
	assert.Equal(t, Idle, tok.State())
	assert.Equal(t, 2, tok.Line())
}
