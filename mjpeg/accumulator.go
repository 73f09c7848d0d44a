package mjpeg

import "fmt"

// Accumulator buffers the bytes of a single stream that have not yet been
// consumed as part of an extracted frame. It grows by Append and shrinks
// only by DropPrefix or Reset; bytes are never reordered.
//
// Dropped prefixes are tracked with an offset and reclaimed lazily: the live
// bytes are moved to the front of the backing array only when an append
// would otherwise reallocate, so each byte is copied a bounded number of
// times.
type Accumulator struct {
	buf []byte
	off int

	// gen changes whenever bytes leave the buffer, so scanners holding
	// offsets into View can tell their offsets went stale.
	gen uint64
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append copies segment onto the end of the buffer. Zero-length segments
// are a no-op.
func (a *Accumulator) Append(segment []byte) {
	if len(segment) == 0 {
		return
	}
	if a.off > 0 && len(a.buf)+len(segment) > cap(a.buf) {
		a.compact()
	}
	a.buf = append(a.buf, segment...)
}

// View returns the unconsumed bytes. The slice aliases the internal buffer
// and is only valid until the next Append, DropPrefix or Reset; callers
// must not modify it.
func (a *Accumulator) View() []byte {
	return a.buf[a.off:]
}

// Len returns the number of unconsumed bytes.
func (a *Accumulator) Len() int {
	return len(a.buf) - a.off
}

// DropPrefix discards the first n unconsumed bytes. The remaining bytes
// keep their order and start at index 0 of the next View.
func (a *Accumulator) DropPrefix(n int) error {
	if n < 0 || n > a.Len() {
		return fmt.Errorf("%w: drop %d of %d bytes", ErrOutOfRange, n, a.Len())
	}
	a.off += n
	a.gen++
	if a.off == len(a.buf) {
		a.buf = a.buf[:0]
		a.off = 0
	}
	return nil
}

// Reset discards all buffered bytes and releases the backing array.
func (a *Accumulator) Reset() {
	a.buf = nil
	a.off = 0
	a.gen++
}

func (a *Accumulator) compact() {
	n := copy(a.buf, a.buf[a.off:])
	a.buf = a.buf[:n]
	a.off = 0
}
