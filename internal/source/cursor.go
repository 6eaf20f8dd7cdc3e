package source

// Cursor is a forward line reader that can return to a marked position.
// Lines read since the last Mark are retained so Rewind can replay them.
type Cursor struct {
	lines   *Lines
	pending []string // lines read since Mark
	replay  []string // lines to serve before reading further
	err     error
}

// NewCursor wraps a line scanner.
func NewCursor(lines *Lines) *Cursor {
	return &Cursor{lines: lines}
}

// Next returns the next line. ok is false once input is exhausted or a
// read error occurred; see Err.
func (c *Cursor) Next() (line string, ok bool) {
	if len(c.replay) > 0 {
		line, c.replay = c.replay[0], c.replay[1:]
		c.pending = append(c.pending, line)
		return line, true
	}
	if c.err != nil {
		return "", false
	}
	if !c.lines.Scan() {
		c.err = c.lines.Err()
		return "", false
	}
	line = c.lines.Text()
	c.pending = append(c.pending, line)
	return line, true
}

// Mark records the current position as the rewind target.
func (c *Cursor) Mark() {
	c.pending = c.pending[:0]
}

// Rewind returns to the last Mark. Lines read since then are served
// again by Next.
func (c *Cursor) Rewind() {
	replay := make([]string, 0, len(c.pending)+len(c.replay))
	replay = append(replay, c.pending...)
	replay = append(replay, c.replay...)
	c.replay = replay
	c.pending = c.pending[:0]
}

// Err returns the read error that ended the stream, if any.
func (c *Cursor) Err() error { return c.err }
