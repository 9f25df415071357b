package capture

import "bytes"

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// Accumulator reassembles JPEG payloads from an arbitrary byte stream.
// Chunks may split a payload or its markers anywhere; a payload is the bytes
// from an SOI marker up to and including the next EOI marker.
type Accumulator struct {
	buf       []byte
	ceiling   int
	discarded int
}

// NewAccumulator returns an Accumulator that never holds much more than
// ceiling bytes between calls.
func NewAccumulator(ceiling int) *Accumulator {
	return &Accumulator{ceiling: ceiling}
}

// Write appends a chunk. It never fails.
func (a *Accumulator) Write(p []byte) (int, error) {
	a.buf = append(a.buf, p...)
	a.trim()
	return len(p), nil
}

// Next extracts the oldest complete payload. The returned slice is a copy.
// Bytes preceding the payload's SOI are discarded.
func (a *Accumulator) Next() ([]byte, bool) {
	start := bytes.Index(a.buf, jpegHeader)
	if start < 0 {
		return nil, false
	}
	end := bytes.Index(a.buf[start+len(jpegHeader):], jpegFooter)
	if end < 0 {
		a.discarded += start
		a.drop(start)
		return nil, false
	}
	end += start + len(jpegHeader) + len(jpegFooter)

	payload := make([]byte, end-start)
	copy(payload, a.buf[start:end])
	a.discarded += start
	a.drop(end)
	return payload, true
}

// Len returns the number of buffered bytes.
func (a *Accumulator) Len() int {
	return len(a.buf)
}

// Discarded returns the number of bytes thrown away so far, either as noise
// between payloads or by the ceiling.
func (a *Accumulator) Discarded() int {
	return a.discarded
}

// Reset empties the buffer.
func (a *Accumulator) Reset() {
	a.buf = a.buf[:0]
}

func (a *Accumulator) trim() {
	if a.ceiling <= 0 || len(a.buf) <= a.ceiling {
		return
	}
	if last := bytes.LastIndex(a.buf, jpegHeader); last > 0 {
		a.discarded += last
		a.drop(last)
	}
	if len(a.buf) > a.ceiling {
		// Keep one byte so an SOI split across chunks still matches.
		n := len(a.buf) - 1
		a.discarded += n
		a.drop(n)
	}
}

func (a *Accumulator) drop(n int) {
	if n <= 0 {
		return
	}
	rest := copy(a.buf, a.buf[n:])
	a.buf = a.buf[:rest]
}
