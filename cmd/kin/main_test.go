package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kin/internal/extract"
)

// execute runs the kin command tree with args, feeding stdin and
// capturing stdout. A nonexistent config path keeps tests independent of
// any .kin directory.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{"KIN_PREFIX", "KIN_PREVIEW_LINES", "KIN_FILTER_POINTERS", "KIN_HISTORY", "KIN_SCRIPT", "KIN_DEBUG"} {
		t.Setenv(k, "")
	}

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))

	err := root.ExecuteContext(context.Background())
	logger = zap.NewNop()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const kernelLog = `boot noise 0x7ffd1234
[kin:start:acc_0]
1 2 3
ptr 0xdeadbeef
[kin:end:acc_0]
unrelated
[kin:start:smem-tile]
a
[kin:end:smem-tile]
[kin:start:acc_0]
4 5 6
[kin:end:acc_0]
`

func TestExtractStdinJSON(t *testing.T) {
	out, err := execute(t, kernelLog, "extract")
	require.NoError(t, err)

	var got map[string]extract.Record
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)

	acc := got["acc__"]
	assert.Equal(t, "acc_0", acc.Tag)
	assert.Equal(t, []string{"1 2 3", "ptr 0xdeadbeef", "4 5 6"}, acc.Content)
	assert.Equal(t, extract.Digest([]string{"1 2 3", "ptr 0xdeadbeef", "4 5 6"}, true), acc.Digest)
	assert.Equal(t, "smem-tile", got["smem_tile"].Tag)

	// First-appearance order and four-space indentation.
	assert.True(t, strings.HasPrefix(out, "{\n    \"acc__\": {\n"))
	assert.Less(t, strings.Index(out, `"acc__"`), strings.Index(out, `"smem_tile"`))
}

func TestExtractPreviewAndFormat(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "run.log", kernelLog)
	outPath := filepath.Join(dir, "result.yaml")

	_, err := execute(t, "", "extract", "-n", "1", "--format", "yaml", "-o", outPath, in)
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "acc__:")
	assert.Contains(t, text, "- 1 2 3")
	assert.NotContains(t, text, "4 5 6", "preview keeps one line")
}

func TestExtractMismatchedTagsFails(t *testing.T) {
	_, err := execute(t, "[kin:start:A]\n[kin:end:B]\n", "extract")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatched tags: A, B")
}

func TestExtractStrictTrailing(t *testing.T) {
	log := "[kin:start:A]\nx\n[kin:end:A]\n[kin:start:B]\ny\n"

	out, err := execute(t, log, "extract")
	require.NoError(t, err)
	assert.NotContains(t, out, `"B"`)

	_, err = execute(t, log, "extract", "--strict-trailing")
	assert.Error(t, err)
}

func TestExtractCollisionPolicy(t *testing.T) {
	log := "[kin:start:a-1]\nx\n[kin:end:a-1]\n[kin:start:a-2]\ny\n[kin:end:a-2]\n"

	out, err := execute(t, log, "extract")
	require.NoError(t, err)
	assert.Contains(t, out, `"tag": "a-2"`)

	_, err = execute(t, log, "extract", "--collision", "error")
	assert.ErrorIs(t, err, extract.ErrKeyCollision)
}

func TestExtractMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.log", "[kin:start:X]\n1\n[kin:end:X]\n")
	b := writeFile(t, dir, "b.log", "[kin:start:Y]\n2\n[kin:end:Y]\n")
	outDir := filepath.Join(dir, "out")

	_, err := execute(t, "", "extract", "-o", outDir, a, b)
	require.NoError(t, err)

	for name, key := range map[string]string{"a.json": "X", "b.json": "Y"} {
		data, err := os.ReadFile(filepath.Join(outDir, name))
		require.NoError(t, err, name)
		assert.Contains(t, string(data), `"`+key+`"`)
	}

	out, err := execute(t, "", "extract", a, b)
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "==> "+a), strings.Index(out, "==> "+b))
}

func TestExtractMultipleFilesSameBaseName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0755))
	first := writeFile(t, filepath.Join(dir, "a"), "run.log", "[kin:start:X]\n1\n[kin:end:X]\n")
	second := writeFile(t, filepath.Join(dir, "b"), "run.log.gz", "not read")
	outDir := filepath.Join(dir, "out")

	_, err := execute(t, "", "extract", "-o", outDir, first, second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "would both write run.json")

	_, statErr := os.Stat(outDir)
	assert.True(t, os.IsNotExist(statErr), "nothing is written when names collide")
}

func TestExtractPrintMacros(t *testing.T) {
	out, err := execute(t, "", "extract", "--print-macros", "--prefix", "trace")
	require.NoError(t, err)
	assert.Contains(t, out, "[trace:start:%s]")
}

func TestExtractHistoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "history.db")

	_, err := execute(t, "[kin:start:A]\n1\n[kin:end:A]\n[kin:start:B]\nb\n[kin:end:B]\n", "extract", "--history", db)
	require.NoError(t, err)
	_, err = execute(t, "[kin:start:A]\n2\n[kin:end:A]\n[kin:start:C]\nc\n[kin:end:C]\n", "extract", "--history", db)
	require.NoError(t, err)

	out, err := execute(t, "", "history", "list", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "\n"), "header plus two runs:\n%s", out)
	assert.Contains(t, out, "<stdin>")

	out, err = execute(t, "", "history", "show", "latest", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "C")

	out, err = execute(t, "", "history", "diff", "--content", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "~ A (")
	assert.Contains(t, out, "- B (")
	assert.Contains(t, out, "+ C (")
	assert.Contains(t, out, "    -1\n")
	assert.Contains(t, out, "    +2\n")
	assert.Contains(t, out, "1 added, 1 removed, 1 changed, 0 unchanged")

	out, err = execute(t, "", "history", "rm", "previous", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted ")

	out, err = execute(t, "", "history", "list", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "\n"), "header plus one run:\n%s", out)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kin", "config.yaml")

	out, err := execute(t, "", "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	_, err = execute(t, "", "config", "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")
	_, err = execute(t, "", "config", "init", "--force", "--config", path)
	require.NoError(t, err)

	out, err = execute(t, "", "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "prefix: kin")
	assert.Contains(t, out, "token: NUMPY")
}

func TestHistoryWithoutDatabase(t *testing.T) {
	_, err := execute(t, "", "history", "list")
	assert.ErrorContains(t, err, "no history database")
}

const blockLog = `<NUMPY>
x = 1 + 1
</NUMPY>
<NUMPY>
grid = np.Array(1, 2, 3, 4, 5, 6).ReshapeF(2, 3)
</NUMPY>
<BARRIER>
<NUMPY>
y = ctx.Get("x").(int) * 10
</NUMPY>
`

func TestLoadListsFirstBatch(t *testing.T) {
	in := writeFile(t, t.TempDir(), "run.log", blockLog)

	out, err := execute(t, "", "load", in)
	require.NoError(t, err)
	assert.Contains(t, out, "x ")
	assert.Contains(t, out, "ndarray[2x3]")
	assert.Contains(t, out, "2 names, 1 batches, 7 lines")
	assert.NotContains(t, out, "\ny ")
}

func TestLoadFailsOnBadExpression(t *testing.T) {
	_, err := execute(t, "<NUMPY>\nx = 1 +\n</NUMPY>\n", "load")
	assert.Error(t, err)
}

func TestLoadInteractive(t *testing.T) {
	in := writeFile(t, t.TempDir(), "run.log", blockLog)
	script := writeFile(t, t.TempDir(), "helpers.go", "func double(v int) int { return 2 * v }\n")

	commands := strings.Join([]string{
		"show x",
		`eval double(ctx.Get("x").(int))`,
		"advance",
		"advance",
		"show nope",
		"bogus",
		"quit",
	}, "\n")
	out, err := execute(t, commands, "load", "--interactive", "--script", script, in)
	require.NoError(t, err)

	assert.Contains(t, out, "x (int, line 3, batch 1) =\n2\n")
	assert.Contains(t, out, "4\n")
	assert.Contains(t, out, "batch 2 loaded (3 names, line 10)")
	assert.Contains(t, out, "input exhausted")
	assert.Contains(t, out, "error: nope is not bound")
	assert.Contains(t, out, `unknown command "bogus"`)
}

func TestLoadPrintMacros(t *testing.T) {
	out, err := execute(t, "", "load", "--print-macros", "--token", "T", "--barrier", "S")
	require.NoError(t, err)
	assert.Contains(t, out, "<T>")
	assert.Contains(t, out, "<S>")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "kin dev\n", out)
}
