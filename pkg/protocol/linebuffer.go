package protocol

// LineBuffer accumulates bytes received from one connection and splits them
// into commands. Both '\r' and '\n' terminate a line and are never part of
// it. Unterminated input is kept until a later Feed completes it; there is
// no size limit.
type LineBuffer struct {
	buf []byte
}

// Feed appends p and returns every line completed by it, in order. Empty
// lines, such as the gap between '\r' and '\n', are skipped.
func (b *LineBuffer) Feed(p []byte) []string {
	var lines []string
	for _, c := range p {
		if c != '\r' && c != '\n' {
			b.buf = append(b.buf, c)
			continue
		}
		if len(b.buf) == 0 {
			continue
		}
		lines = append(lines, string(b.buf))
		b.buf = b.buf[:0]
	}
	return lines
}

// Pending returns the number of buffered bytes that are not yet a line.
func (b *LineBuffer) Pending() int {
	return len(b.buf)
}

// Reset discards unterminated input.
func (b *LineBuffer) Reset() {
	b.buf = nil
}
