package eval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"kin/internal/ndarray"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newInterp(t *testing.T, opts Options) *Interpreter {
	t.Helper()
	ip, err := New(opts)
	require.NoError(t, err)
	return ip
}

func TestEvaluateArithmetic(t *testing.T) {
	ip := newInterp(t, Options{})
	v, err := ip.Evaluate(context.Background(), "1 + 1")
	require.NoError(t, err)
	assert.Equal(t, 2, v.Raw)
	assert.Equal(t, "int", v.Kind)
}

func TestEvaluateArray(t *testing.T) {
	ip := newInterp(t, Options{})
	v, err := ip.Evaluate(context.Background(), "np.Array(1, 2, 3, 4, 5, 6).ReshapeF(2, 3)")
	require.NoError(t, err)

	arr, ok := v.Raw.(*ndarray.NDArray)
	require.True(t, ok, "got %T", v.Raw)
	assert.Equal(t, "ndarray[2x3]", v.Kind)
	assert.Equal(t, []float64{1, 3, 5, 2, 4, 6}, arr.Data())
}

func TestEvaluateMath(t *testing.T) {
	ip := newInterp(t, Options{})
	v, err := ip.Evaluate(context.Background(), "math.Sqrt(16)")
	require.NoError(t, err)
	assert.Equal(t, 4.0, v.Raw)
}

func TestEvaluateString(t *testing.T) {
	ip := newInterp(t, Options{})
	v, err := ip.Evaluate(context.Background(), `"tile " + "0"`)
	require.NoError(t, err)
	assert.Equal(t, "tile 0", v.Raw)
	assert.Equal(t, "string", v.Kind)
}

func TestEvaluateSyntaxError(t *testing.T) {
	ip := newInterp(t, Options{})
	_, err := ip.Evaluate(context.Background(), "1 +")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEvaluation)
}

func TestEvaluateShapePanicBecomesError(t *testing.T) {
	ip := newInterp(t, Options{})
	_, err := ip.Evaluate(context.Background(), "np.Arange(5).Reshape(2, 3)")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEvaluation)
}

func TestScriptPrepopulatesBindings(t *testing.T) {
	ip := newInterp(t, Options{
		Script: `
const scale = 4
func double(x float64) float64 { return 2 * x }
`,
	})
	v, err := ip.Evaluate(context.Background(), "double(scale)")
	require.NoError(t, err)
	assert.Equal(t, 8.0, v.Raw)
}

func TestBrokenScript(t *testing.T) {
	_, err := New(Options{Script: "func broken( {", ScriptName: "helpers.go"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "helpers.go")
}

func TestContextLookup(t *testing.T) {
	bound := map[string]any{"x": 21}
	ip := newInterp(t, Options{Lookup: func(name string) (any, bool) {
		v, ok := bound[name]
		return v, ok
	}})

	v, err := ip.Evaluate(context.Background(), `ctx.Get("x").(int) * 2`)
	require.NoError(t, err)
	assert.Equal(t, 42, v.Raw)

	v, err = ip.Evaluate(context.Background(), `ctx.Has("y")`)
	require.NoError(t, err)
	assert.Equal(t, false, v.Raw)

	_, err = ip.Evaluate(context.Background(), `ctx.Get("y")`)
	assert.ErrorIs(t, err, ErrEvaluation)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "nil", Describe(nil))
	assert.Equal(t, "float64", Describe(1.5))
	assert.Equal(t, "[]int", Describe([]int{1}))
	assert.Equal(t, "ndarray[3]", Describe(ndarray.Arange(3)))
}
