package extract

import (
	"encoding/binary"
	"regexp"

	"github.com/zeebo/blake3"
)

// Modulus is the size of the fingerprint space. Digests are coarse
// change detectors, not unique identifiers: collisions are expected
// once a run has a few hundred distinct tags.
const Modulus = 1 << 16

// pointerPattern matches hexadecimal pointer values such as 0x7ffd5c1e.
// Pointers differ between runs of the probed program and would make
// every digest unstable.
var pointerPattern = regexp.MustCompile(`0x[0-9a-fA-F]+`)

// RedactPointers erases every maximal hexadecimal-pointer substring.
func RedactPointers(line string) string {
	return pointerPattern.ReplaceAllString(line, "")
}

// Digest fingerprints content: lines are optionally pointer-redacted,
// concatenated without separator, hashed with BLAKE3-256, and the hash
// read as a big-endian integer is reduced modulo 65536.
func Digest(content []string, filterPointers bool) uint16 {
	h := blake3.New()
	for _, line := range content {
		if filterPointers {
			line = RedactPointers(line)
		}
		_, _ = h.Write([]byte(line))
	}
	var sum [32]byte
	h.Sum(sum[:0])
	// The low 16 bits of a big-endian integer are its last two bytes.
	return binary.BigEndian.Uint16(sum[len(sum)-2:])
}
