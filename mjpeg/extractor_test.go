package mjpeg

import (
	"bytes"
	"testing"
)

func jpeg(payload ...byte) []byte {
	f := append([]byte{0xFF, 0xD8}, payload...)
	return append(f, 0xFF, 0xD9)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// feed appends each segment in turn and drains after every append, as the
// session does.
func feed(ex *Extractor, acc *Accumulator, segments ...[]byte) [][]byte {
	var frames [][]byte
	for _, seg := range segments {
		acc.Append(seg)
		frames = append(frames, ex.Drain()...)
	}
	return frames
}

func TestExtractorEmptyAppend(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	ex := NewExtractor(acc)

	frames := feed(ex, acc, nil, []byte{})
	if len(frames) != 0 {
		t.Fatalf("got %d frames from empty input, want 0", len(frames))
	}
	if acc.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", acc.Len())
	}
}

func TestExtractorSingleFrame(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	ex := NewExtractor(acc)

	frame := jpeg(0x01, 0x02, 0x03)
	frames := feed(ex, acc, frame)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0], frame) {
		t.Fatalf("frame = % X, want % X", frames[0], frame)
	}
	if acc.Len() != 0 {
		t.Fatalf("Len() = %d after extraction, want 0", acc.Len())
	}
}

func TestExtractorSplitAtEveryOffset(t *testing.T) {
	t.Parallel()

	stream := jpeg(0x10, 0xFF, 0x00, 0x20, 0xFF)
	for i := 0; i <= len(stream); i++ {
		for j := i; j <= len(stream); j++ {
			acc := NewAccumulator()
			ex := NewExtractor(acc)
			frames := feed(ex, acc, stream[:i], stream[i:j], stream[j:])
			if len(frames) != 1 {
				t.Fatalf("split (%d,%d): got %d frames, want 1", i, j, len(frames))
			}
			if !bytes.Equal(frames[0], stream) {
				t.Fatalf("split (%d,%d): frame = % X, want % X", i, j, frames[0], stream)
			}
		}
	}
}

func TestExtractorByteAtATime(t *testing.T) {
	t.Parallel()

	want := [][]byte{jpeg(0xAA), jpeg(0xBB, 0xCC), jpeg()}
	stream := concat(want...)

	acc := NewAccumulator()
	ex := NewExtractor(acc)
	var segments [][]byte
	for i := range stream {
		segments = append(segments, stream[i:i+1])
	}
	frames := feed(ex, acc, segments...)

	if len(frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(frames), len(want))
	}
	for i := range want {
		if !bytes.Equal(frames[i], want[i]) {
			t.Fatalf("frame %d = % X, want % X", i, frames[i], want[i])
		}
	}
}

func TestExtractorMultiFrameBurst(t *testing.T) {
	t.Parallel()

	first := jpeg(0x01)
	second := jpeg(0x02, 0x03)

	acc := NewAccumulator()
	ex := NewExtractor(acc)
	frames := feed(ex, acc, concat(first, second))

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[0], first) {
		t.Fatalf("frame 0 = % X, want % X", frames[0], first)
	}
	if !bytes.Equal(frames[1], second) {
		t.Fatalf("frame 1 = % X, want % X", frames[1], second)
	}
	if acc.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", acc.Len())
	}
}

func TestExtractorLeadingGarbage(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	ex := NewExtractor(acc)
	frames := feed(ex, acc, []byte{0x00, 0x11, 0x22, 0xFF, 0xD8, 0xAA, 0xFF, 0xD9})

	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	want := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	if !bytes.Equal(frames[0], want) {
		t.Fatalf("frame = % X, want % X", frames[0], want)
	}
	if ex.Discarded() != 3 {
		t.Fatalf("Discarded() = %d, want 3", ex.Discarded())
	}
}

func TestExtractorGarbageKeptUntilFrameCompletes(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	ex := NewExtractor(acc)

	garbage := []byte{0x00, 0x11, 0x22}
	frames := feed(ex, acc, garbage)
	if len(frames) != 0 {
		t.Fatalf("got %d frames from garbage, want 0", len(frames))
	}
	if !bytes.Equal(acc.View(), garbage) {
		t.Fatalf("View() = % X, garbage must not be trimmed speculatively", acc.View())
	}

	frames = feed(ex, acc, []byte{0xFF, 0xD8, 0x01})
	if len(frames) != 0 || acc.Len() != 6 {
		t.Fatalf("got %d frames, Len() = %d; want 0 frames and 6 bytes", len(frames), acc.Len())
	}
}

func TestExtractorUnterminatedFrame(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	ex := NewExtractor(acc)

	in := []byte{0xFF, 0xD8, 0xAA, 0xBB}
	frames := feed(ex, acc, in)
	if len(frames) != 0 {
		t.Fatalf("got %d frames, want 0", len(frames))
	}
	if !bytes.Equal(acc.View(), in) {
		t.Fatalf("View() = % X, want % X", acc.View(), in)
	}

	frames = feed(ex, acc, []byte{0xFF, 0xD9})
	if len(frames) != 1 {
		t.Fatalf("got %d frames after terminating, want 1", len(frames))
	}
	if !bytes.Equal(frames[0], []byte{0xFF, 0xD8, 0xAA, 0xBB, 0xFF, 0xD9}) {
		t.Fatalf("frame = % X", frames[0])
	}
}

func TestExtractorTrailingHalfMarker(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	ex := NewExtractor(acc)

	frames := feed(ex, acc, []byte{0x00, 0xFF})
	if len(frames) != 0 || acc.Len() != 2 {
		t.Fatalf("got %d frames, Len() = %d; want 0 frames and 2 bytes", len(frames), acc.Len())
	}
	frames = feed(ex, acc, []byte{0xD8, 0x42, 0xFF}, []byte{0xD9})
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0], []byte{0xFF, 0xD8, 0x42, 0xFF, 0xD9}) {
		t.Fatalf("frame = % X", frames[0])
	}
}

func TestExtractorEndMarkerMustFollowStart(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	ex := NewExtractor(acc)

	// FF D9 before any start marker is garbage, and the D8 D9 pair right
	// after the start marker is not an end marker.
	frames := feed(ex, acc, []byte{0xFF, 0xD9, 0xFF, 0xD8, 0xD9, 0x00})
	if len(frames) != 0 {
		t.Fatalf("got %d frames, want 0", len(frames))
	}
	frames = feed(ex, acc, []byte{0xFF, 0xD9})
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0], []byte{0xFF, 0xD8, 0xD9, 0x00, 0xFF, 0xD9}) {
		t.Fatalf("frame = % X", frames[0])
	}
}

func TestExtractorNestedStartMarker(t *testing.T) {
	t.Parallel()

	// A second start marker before the end marker belongs to the first frame.
	stream := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD8, 0x02, 0xFF, 0xD9}
	acc := NewAccumulator()
	ex := NewExtractor(acc)
	frames := feed(ex, acc, stream[:4], stream[4:])

	if len(frames) != 1 || !bytes.Equal(frames[0], stream) {
		t.Fatalf("frames = % X, want one frame % X", frames, stream)
	}
}

func TestExtractorFramesAreCopies(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	ex := NewExtractor(acc)

	frames := feed(ex, acc, concat(jpeg(0x01), []byte{0xFF, 0xD8}))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	held := frames[0]
	feed(ex, acc, []byte{0x99, 0x99, 0x99, 0xFF, 0xD9})

	if !bytes.Equal(held, jpeg(0x01)) {
		t.Fatalf("held frame changed to % X after later appends", held)
	}
}

func TestExtractorStopEarlyKeepsRemainingFrames(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	ex := NewExtractor(acc)
	acc.Append(concat(jpeg(0x01), jpeg(0x02), jpeg(0x03)))

	for frame := range ex.Frames() {
		if !bytes.Equal(frame, jpeg(0x01)) {
			t.Fatalf("first frame = % X", frame)
		}
		break
	}

	rest := ex.Drain()
	if len(rest) != 2 {
		t.Fatalf("got %d remaining frames, want 2", len(rest))
	}
	if !bytes.Equal(rest[0], jpeg(0x02)) || !bytes.Equal(rest[1], jpeg(0x03)) {
		t.Fatalf("remaining frames = % X", rest)
	}
}

func TestExtractorReset(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	ex := NewExtractor(acc)
	feed(ex, acc, []byte{0x00, 0xFF, 0xD8, 0x01, 0x02})
	ex.Reset()

	if acc.Len() != 0 {
		t.Fatalf("Len() = %d after Reset, want 0", acc.Len())
	}

	fresh := NewAccumulator()
	freshEx := NewExtractor(fresh)
	in := concat(jpeg(0x07), []byte{0xFF})

	got := feed(ex, acc, in)
	want := feed(freshEx, fresh, in)
	if len(got) != len(want) || !bytes.Equal(got[0], want[0]) {
		t.Fatalf("after Reset got % X, fresh extractor got % X", got, want)
	}
	if !bytes.Equal(acc.View(), fresh.View()) {
		t.Fatalf("after Reset buffer = % X, fresh buffer = % X", acc.View(), fresh.View())
	}
}

func TestExtractorAccumulatorResetDirectly(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	ex := NewExtractor(acc)
	feed(ex, acc, []byte{0x00, 0x00, 0x00, 0xFF, 0xD8, 0x01, 0x02, 0x03})
	acc.Reset()

	want := jpeg(0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B)
	frames := feed(ex, acc, concat([]byte{0x01}, want))
	if len(frames) != 1 || !bytes.Equal(frames[0], want) {
		t.Fatalf("frames = % X, want % X", frames, want)
	}
}
