package mjpeg

import (
	"bytes"
	"testing"
)

// referenceFrames splits a complete stream in one pass, scanning from the
// start each time.
func referenceFrames(stream []byte) (frames [][]byte, rest []byte) {
	buf := stream
	for {
		s := bytes.Index(buf, StartOfImage)
		if s < 0 {
			return frames, buf
		}
		e := bytes.Index(buf[s+2:], EndOfImage)
		if e < 0 {
			return frames, buf
		}
		end := s + 2 + e + 2
		frames = append(frames, buf[s:end])
		buf = buf[end:]
	}
}

// FuzzExtractorChunking checks that chunk boundaries never change which
// frames come out or what stays buffered.
func FuzzExtractorChunking(f *testing.F) {
	f.Add([]byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}, []byte{1, 2, 3})
	f.Add([]byte{0x00, 0xFF, 0xFF, 0xD8, 0xFF, 0xFF, 0xD9, 0xFF, 0xD8}, []byte{1})
	f.Add([]byte{0xFF, 0xD8, 0xD9, 0xFF, 0xD8, 0xFF, 0xD9, 0xFF, 0xD9}, []byte{2, 5})

	f.Fuzz(func(t *testing.T, stream []byte, cuts []byte) {
		want, wantRest := referenceFrames(stream)

		acc := NewAccumulator()
		ex := NewExtractor(acc)
		var got [][]byte
		pos, c := 0, 0
		for pos < len(stream) {
			n := 1
			if len(cuts) > 0 {
				n = int(cuts[c%len(cuts)])%8 + 1
				c++
			}
			end := min(pos+n, len(stream))
			acc.Append(stream[pos:end])
			got = append(got, ex.Drain()...)
			pos = end
		}

		if len(got) != len(want) {
			t.Fatalf("got %d frames, reference has %d", len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Fatalf("frame %d = % X, reference % X", i, got[i], want[i])
			}
		}
		if !bytes.Equal(acc.View(), wantRest) {
			t.Fatalf("buffered = % X, reference % X", acc.View(), wantRest)
		}
	})
}
