package extract

// DefaultPreviewLines is the number of content lines kept per record.
const DefaultPreviewLines = 10

// Preview returns at most n leading lines of content. A negative n keeps
// everything. The returned slice never aliases content.
func Preview(content []string, n int) []string {
	if n < 0 || n > len(content) {
		n = len(content)
	}
	out := make([]string, n)
	copy(out, content[:n])
	return out
}
