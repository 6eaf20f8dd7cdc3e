package source

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = "[kin:start:A]\r\nx=1\n[kin:end:A]\n"

func readAll(t *testing.T, name string) []string {
	t.Helper()
	rc, err := Open(name)
	require.NoError(t, err)
	defer rc.Close()

	lines := NewLines(rc)
	var got []string
	for lines.Scan() {
		got = append(got, lines.Text())
	}
	require.NoError(t, lines.Err())
	assert.Equal(t, len(got), lines.Line())
	return got
}

func TestOpenPlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0644))
	assert.Equal(t, []string{"[kin:start:A]", "x=1", "[kin:end:A]"}, readAll(t, path))
}

func TestOpenCompressed(t *testing.T) {
	tests := []struct {
		name     string
		compress func(t *testing.T, w io.Writer) io.WriteCloser
	}{
		{"run.log.zst", func(t *testing.T, w io.Writer) io.WriteCloser {
			enc, err := zstd.NewWriter(w)
			require.NoError(t, err)
			return enc
		}},
		{"run.log.gz", func(t *testing.T, w io.Writer) io.WriteCloser {
			return gzip.NewWriter(w)
		}},
		{"run.log.lz4", func(t *testing.T, w io.Writer) io.WriteCloser {
			return lz4.NewWriter(w)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := tt.compress(t, &buf)
			_, err := w.Write([]byte(payload))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			path := filepath.Join(t.TempDir(), tt.name)
			require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
			assert.Equal(t, []string{"[kin:start:A]", "x=1", "[kin:end:A]"}, readAll(t, path))
		})
	}
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.log"))
	assert.Error(t, err)
}

func TestOpenCorruptGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.gz")
	require.NoError(t, os.WriteFile(path, []byte("not gzip"), 0644))
	_, err := Open(path)
	assert.Error(t, err)
}

func TestDetectCodec(t *testing.T) {
	assert.Equal(t, CodecZstd, DetectCodec("a.ZST"))
	assert.Equal(t, CodecGzip, DetectCodec("a.log.gz"))
	assert.Equal(t, CodecLZ4, DetectCodec("a.lz4"))
	assert.Equal(t, CodecNone, DetectCodec("a.log"))
	assert.Equal(t, CodecNone, DetectCodec("-"))
}

func TestLongLines(t *testing.T) {
	long := strings.Repeat("1, ", 100_000)
	lines := NewLines(strings.NewReader(long + "\nnext"))
	require.True(t, lines.Scan())
	assert.Equal(t, long, lines.Text())
	require.True(t, lines.Scan())
	assert.Equal(t, "next", lines.Text())
}

func TestCursorRewind(t *testing.T) {
	c := NewCursor(NewLines(strings.NewReader("a\nb\nc\nd")))

	c.Mark()
	next := func() string {
		l, ok := c.Next()
		require.True(t, ok)
		return l
	}
	assert.Equal(t, "a", next())
	assert.Equal(t, "b", next())
	c.Rewind()
	assert.Equal(t, "a", next())

	c.Mark()
	assert.Equal(t, "b", next())
	assert.Equal(t, "c", next())
	c.Rewind()
	assert.Equal(t, "b", next())
	assert.Equal(t, "c", next())
	assert.Equal(t, "d", next())

	_, ok := c.Next()
	assert.False(t, ok)
	c.Rewind()
	assert.Equal(t, "b", next(), "rewind after exhaustion replays from the mark")
	assert.NoError(t, c.Err())
}
