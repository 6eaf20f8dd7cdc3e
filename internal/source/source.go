// Package source opens probe logs and exposes them as line streams.
//
// Inputs may be plain text or compressed with zstd (.zst, .zstd),
// gzip (.gz) or lz4 (.lz4); the codec is picked from the file name.
// The name "-" (or "") means standard input, which is never decompressed
// unless a codec is forced.
package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// MaxLineBytes bounds a single line. Probes dump whole tensors on one
// line, so the bufio default of 64 KiB is too small.
const MaxLineBytes = 16 << 20

// Stdin is the conventional name for standard input.
const Stdin = "-"

// Codec identifies a compression format.
type Codec string

const (
	CodecNone Codec = ""
	CodecZstd Codec = "zstd"
	CodecGzip Codec = "gzip"
	CodecLZ4  Codec = "lz4"
)

// DetectCodec picks a codec from the file extension.
func DetectCodec(name string) Codec {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".zst", ".zstd":
		return CodecZstd
	case ".gz", ".gzip":
		return CodecGzip
	case ".lz4":
		return CodecLZ4
	default:
		return CodecNone
	}
}

// Open opens name for reading, decompressing by extension.
func Open(name string) (io.ReadCloser, error) {
	if name == "" || name == Stdin {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	rc, err := Decompress(f, DetectCodec(name))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return rc, nil
}

// Decompress wraps r with the codec's reader. Closing the result closes r.
func Decompress(r io.ReadCloser, codec Codec) (io.ReadCloser, error) {
	switch codec {
	case CodecNone:
		return r, nil
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return &stacked{Reader: dec, close: func() error { dec.Close(); return r.Close() }}, nil
	case CodecGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return &stacked{Reader: gz, close: func() error {
			gerr := gz.Close()
			if err := r.Close(); err != nil {
				return err
			}
			return gerr
		}}, nil
	case CodecLZ4:
		return &stacked{Reader: lz4.NewReader(r), close: r.Close}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", codec)
	}
}

type stacked struct {
	io.Reader
	close func() error
}

func (s *stacked) Close() error { return s.close() }

// Lines is a line scanner that counts lines. It satisfies the
// LineReader interfaces of the tokenizers.
type Lines struct {
	sc   *bufio.Scanner
	line int
}

// NewLines scans r line by line. Trailing "\n" and "\r\n" are removed.
func NewLines(r io.Reader) *Lines {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	return &Lines{sc: sc}
}

// Scan advances to the next line.
func (l *Lines) Scan() bool {
	if !l.sc.Scan() {
		return false
	}
	l.line++
	return true
}

// Text returns the current line.
func (l *Lines) Text() string { return l.sc.Text() }

// Err returns the first non-EOF read error.
func (l *Lines) Err() error { return l.sc.Err() }

// Line returns the number of lines scanned so far.
func (l *Lines) Line() int { return l.line }
