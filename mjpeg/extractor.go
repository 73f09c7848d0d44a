package mjpeg

import (
	"bytes"
	"fmt"
	"iter"
)

// JPEG frame boundary markers.
var (
	StartOfImage = []byte{0xFF, 0xD8}
	EndOfImage   = []byte{0xFF, 0xD9}
)

// Extractor pulls complete JPEG frames out of an Accumulator.
//
// A frame runs from the first Start-Of-Image marker in the buffer through
// the first End-Of-Image marker that begins after it, both markers
// included. Bytes preceding the start marker are dropped together with the
// frame; nothing is dropped while a frame is still incomplete.
//
// The Extractor remembers where its previous scan stopped so that a large
// frame delivered in many small segments is scanned once rather than once
// per segment. Shrinking the accumulator behind the Extractor's back
// discards that progress and the next scan starts over from index 0.
type Extractor struct {
	acc *Accumulator

	// start is the view index of the pending frame's start marker, or -1
	// while no start marker has been found.
	start int
	// from is the view index where the next marker search begins.
	from int
	// gen is the accumulator generation start and from refer to.
	gen uint64

	discarded int64
}

// NewExtractor returns an Extractor that consumes frames from acc.
func NewExtractor(acc *Accumulator) *Extractor {
	return &Extractor{acc: acc, start: -1}
}

// Frames returns an iterator over the frames that are complete in the
// accumulator right now, in stream order. Each yielded slice is an
// independent copy owned by the caller. Stopping the iteration early leaves
// the remaining frames buffered.
func (e *Extractor) Frames() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			frame, ok := e.next()
			if !ok {
				return
			}
			if !yield(frame) {
				return
			}
		}
	}
}

// Drain extracts every frame that is currently complete.
func (e *Extractor) Drain() [][]byte {
	var frames [][]byte
	for frame := range e.Frames() {
		frames = append(frames, frame)
	}
	return frames
}

// Reset clears the accumulator and any scan progress.
func (e *Extractor) Reset() {
	e.acc.Reset()
	e.start, e.from = -1, 0
	e.gen = e.acc.gen
}

// Discarded returns the number of bytes dropped because they preceded a
// frame's start marker.
func (e *Extractor) Discarded() int64 {
	return e.discarded
}

// Pending returns the number of buffered bytes not yet part of an emitted
// frame.
func (e *Extractor) Pending() int {
	return e.acc.Len()
}

// next extracts a single frame. It reports false when the buffer holds no
// complete frame.
func (e *Extractor) next() ([]byte, bool) {
	view := e.acc.View()
	if e.gen != e.acc.gen {
		e.start, e.from = -1, 0
		e.gen = e.acc.gen
	}

	if e.start < 0 {
		i := bytes.Index(view[e.from:], StartOfImage)
		if i < 0 {
			// Keep a trailing 0xFF in range: it may be half of a start marker.
			e.from = max(e.from, len(view)-1)
			return nil, false
		}
		e.start = e.from + i
		e.from = e.start + len(StartOfImage)
	}

	j := bytes.Index(view[e.from:], EndOfImage)
	if j < 0 {
		e.from = max(e.from, len(view)-1)
		return nil, false
	}
	end := e.from + j + len(EndOfImage)

	frame := bytes.Clone(view[e.start:end])
	if err := e.acc.DropPrefix(end); err != nil {
		// end was found inside the current view, so this cannot fail.
		panic(fmt.Sprintf("mjpeg: extractor invariant violated: %v", err))
	}
	e.discarded += int64(e.start)
	e.start, e.from = -1, 0
	e.gen = e.acc.gen
	return frame, true
}
