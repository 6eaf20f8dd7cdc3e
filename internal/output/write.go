package output

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"kin/internal/extract"
)

// WriteFile encodes res and replaces path atomically: the data goes to a
// temporary file in the same directory which is then renamed over path.
func WriteFile(path string, res *extract.Result, f Format) error {
	var buf bytes.Buffer
	if err := Encode(&buf, res, f); err != nil {
		return err
	}
	if f != FormatCBOR {
		buf.WriteByte('\n')
	}
	return writeAtomic(path, buf.Bytes())
}

// Write encodes res to path, or to stdout when path is empty or "-".
func Write(stdout io.Writer, path string, res *extract.Result, f Format) error {
	if path == "" || path == "-" {
		if err := Encode(stdout, res, f); err != nil {
			return err
		}
		if f != FormatCBOR {
			_, err := io.WriteString(stdout, "\n")
			return err
		}
		return nil
	}
	return WriteFile(path, res, f)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp output file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing output: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp output file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("setting output permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	success = true
	return nil
}
