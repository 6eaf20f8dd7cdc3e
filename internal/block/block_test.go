package block

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kin/internal/eval"
	"kin/internal/marker"
	"kin/internal/source"
)

// recordingEvaluator returns the expression text as the value and fails
// on expressions containing "FAIL".
type recordingEvaluator struct {
	calls []string
}

func (r *recordingEvaluator) Evaluate(_ context.Context, expr string) (eval.Value, error) {
	r.calls = append(r.calls, expr)
	if strings.Contains(expr, "FAIL") {
		return eval.Value{}, fmt.Errorf("%w: boom", eval.ErrEvaluation)
	}
	return eval.Value{Raw: expr, Kind: "string"}, nil
}

func newLoader(ev eval.Evaluator, lines ...string) *Loader {
	cur := source.NewCursor(source.NewLines(strings.NewReader(strings.Join(lines, "\n"))))
	return NewLoader(marker.MustBlocks("NUMPY", "BARRIER"), cur, ev, NewContext())
}

func TestExampleAdvanceEvaluates(t *testing.T) {
	ip, err := eval.New(eval.Options{})
	require.NoError(t, err)
	l := newLoader(ip, "<NUMPY>", "x = 1 + 1", "</NUMPY>", "<BARRIER>")

	b, err := l.Advance(context.Background())
	require.NoError(t, err)
	assert.True(t, b.Barrier)
	assert.Equal(t, 1, b.Number)
	assert.Equal(t, 1, b.From)
	assert.Equal(t, 4, b.To)

	v, ok := l.Context().Get("x")
	require.True(t, ok)
	assert.Equal(t, 2, v.Raw)
	assert.Equal(t, 4, l.Context().Line())
	assert.False(t, l.Exhausted())
}

func TestMultiLineExpression(t *testing.T) {
	ev := &recordingEvaluator{}
	l := newLoader(ev,
		"noise",
		"kernel says <NUMPY>",
		"t = np.Array(1, 2,",
		" 3, 4).ReshapeF(2, 2)",
		"</NUMPY>",
	)
	_, err := l.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"np.Array(1, 2, 3, 4).ReshapeF(2, 2)"}, ev.calls)
	assert.True(t, l.Exhausted())
}

func TestBarrierSplitsBatches(t *testing.T) {
	ev := &recordingEvaluator{}
	l := newLoader(ev,
		"<NUMPY>", "a = 1", "</NUMPY>",
		"<BARRIER>",
		"<NUMPY>", "a = 2", "</NUMPY>",
		"<NUMPY>", "b = 3", "</NUMPY>",
		"<BARRIER>",
	)
	ctx := context.Background()

	_, err := l.Advance(ctx)
	require.NoError(t, err)
	v, _ := l.Context().Get("a")
	assert.Equal(t, "1", v.Raw)
	_, ok := l.Context().Get("b")
	assert.False(t, ok, "second batch must not be loaded yet")

	b, err := l.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Number)
	v, _ = l.Context().Get("a")
	assert.Equal(t, "2", v.Raw, "later batches overwrite earlier ones")
	assert.Equal(t, []string{"a", "b"}, l.Context().Names())

	bind, _ := l.Context().Binding("a")
	assert.Equal(t, 2, bind.Batch)
	assert.Equal(t, 7, bind.Line)

	// Nothing after the last barrier: input is exhausted without a new batch.
	b, err = l.Advance(ctx)
	require.NoError(t, err)
	assert.Empty(t, b.Bindings)
	assert.False(t, b.Barrier)
	assert.True(t, l.Exhausted())
	assert.Equal(t, 2, l.Context().Batches())
}

func TestTrailingTextAfterBarrierIsNotABatch(t *testing.T) {
	ev := &recordingEvaluator{}
	l := newLoader(ev, "<NUMPY>", "a = 1", "</NUMPY>", "<BARRIER>", "done", "bye")
	ctx := context.Background()

	_, err := l.Advance(ctx)
	require.NoError(t, err)
	require.False(t, l.Exhausted())

	b, err := l.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Number)
	assert.Equal(t, 5, b.From)
	assert.Equal(t, 6, b.To)
	assert.True(t, l.Exhausted())
	assert.Equal(t, 1, l.Context().Batches())
	assert.Equal(t, 6, l.Context().Line())

	bind, _ := l.Context().Binding("a")
	assert.Equal(t, 1, bind.Batch)

	// Advancing again stays put.
	b, err = l.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Number)
	assert.Equal(t, 1, l.Context().Batches())
}

func TestEmptyInputHasNoBatches(t *testing.T) {
	l := newLoader(&recordingEvaluator{})
	batches, err := l.AdvanceN(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, batches, 1)
	assert.Equal(t, 0, l.Context().Batches())
	assert.True(t, l.Exhausted())
}

func TestSameNameInBatchKeepsLast(t *testing.T) {
	ev := &recordingEvaluator{}
	l := newLoader(ev,
		"<NUMPY>", "a = first", "</NUMPY>",
		"<NUMPY>", "b = other", "</NUMPY>",
		"<NUMPY>", "a = second", "</NUMPY>",
	)
	b, err := l.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "other"}, ev.calls)
	require.Len(t, b.Bindings, 2)
	assert.Equal(t, "a", b.Bindings[0].Name)
}

func TestAdvanceN(t *testing.T) {
	ev := &recordingEvaluator{}
	l := newLoader(ev,
		"<NUMPY>", "a = 1", "</NUMPY>", "<BARRIER>",
		"<NUMPY>", "b = 2", "</NUMPY>", "<BARRIER>",
		"<NUMPY>", "c = 3", "</NUMPY>",
	)
	batches, err := l.AdvanceN(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, batches, 2)
	assert.Equal(t, 2, l.Context().Len())

	batches, err = l.AdvanceN(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, batches, 1, "stops at end of input")
	assert.Equal(t, 3, l.Context().Batches())
}

func TestStructuralErrors(t *testing.T) {
	tests := []struct {
		name   string
		lines  []string
		target any
		line   int
	}{
		{"barrier inside block", []string{"<NUMPY>", "x = 1", "<BARRIER>", "</NUMPY>"}, new(*BarrierInsideBlockError), 3},
		{"nested", []string{"<NUMPY>", "<NUMPY>"}, new(*NestedBlockError), 2},
		{"unopened", []string{"x", "</NUMPY>"}, new(*UnopenedBlockError), 2},
		{"not an assignment", []string{"<NUMPY>", "1 + 1", "</NUMPY>"}, new(*AssignmentParseError), 3},
		{"empty block", []string{"<NUMPY>", "</NUMPY>"}, new(*AssignmentParseError), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLoader(&recordingEvaluator{}, tt.lines...)
			_, err := l.Advance(context.Background())
			require.Error(t, err)
			require.True(t, errors.As(err, tt.target), "got %T: %v", err, err)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Contains(t, err.Error(), fmt.Sprintf("line %d", tt.line))
		})
	}
}

func TestFailedAdvanceLeavesContextAndPosition(t *testing.T) {
	ev := &recordingEvaluator{}
	l := newLoader(ev,
		"<NUMPY>", "a = 1", "</NUMPY>", "<BARRIER>",
		"<NUMPY>", "a = 2", "</NUMPY>",
		"<NUMPY>", "b = 3", "<BARRIER>", "</NUMPY>",
	)
	ctx := context.Background()
	_, err := l.Advance(ctx)
	require.NoError(t, err)

	_, err = l.Advance(ctx)
	var bib *BarrierInsideBlockError
	require.ErrorAs(t, err, &bib)
	assert.Equal(t, 10, bib.Line)
	assert.Equal(t, 8, bib.OpenedAt)

	v, _ := l.Context().Get("a")
	assert.Equal(t, "1", v.Raw)
	_, ok := l.Context().Get("b")
	assert.False(t, ok)
	assert.Equal(t, 4, l.Context().Line())
	assert.Equal(t, 1, l.Context().Batches())

	// The stream was rewound: retrying hits the same line again.
	_, err = l.Advance(ctx)
	require.ErrorAs(t, err, &bib)
	assert.Equal(t, 10, bib.Line)
}

func TestEvaluationErrorIsAtomic(t *testing.T) {
	ev := &recordingEvaluator{}
	l := newLoader(ev,
		"<NUMPY>", "a = fine", "</NUMPY>",
		"<NUMPY>", "b = FAIL", "</NUMPY>",
	)
	_, err := l.Advance(context.Background())
	var ee *EvaluationError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "b", ee.Name)
	assert.Equal(t, 6, ee.Line)
	assert.ErrorIs(t, err, eval.ErrEvaluation)

	assert.Equal(t, 0, l.Context().Len(), "no binding from a failed batch is kept")
	assert.False(t, l.Exhausted())
}

func TestCancelledContext(t *testing.T) {
	l := newLoader(&recordingEvaluator{}, "<NUMPY>", "a = 1", "</NUMPY>")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Advance(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, l.Context().Len())
}

func TestParseAssignment(t *testing.T) {
	name, expr, ok := ParseAssignment("tile_0 =  np.Zeros(2)")
	require.True(t, ok)
	assert.Equal(t, "tile_0", name)
	assert.Equal(t, "np.Zeros(2)", expr)

	_, _, ok = ParseAssignment(" x = 1")
	assert.False(t, ok, "name must start the block")

	_, _, ok = ParseAssignment("x =")
	assert.False(t, ok)
}

func TestContextAccessors(t *testing.T) {
	c := NewContext()
	c.commit([]Binding{
		{Name: "z", Value: eval.Value{Raw: 1, Kind: "int"}},
		{Name: "a", Value: eval.Value{Raw: 2, Kind: "int"}},
	}, 7)

	assert.Equal(t, []string{"z", "a"}, c.Names())
	assert.Equal(t, []string{"a", "z"}, c.SortedNames())
	assert.Equal(t, map[string]any{"z": 1, "a": 2}, c.Values())
	raw, ok := c.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, 2, raw)
	assert.Equal(t, 7, c.Line())
	assert.Len(t, c.Bindings(), 2)
}
