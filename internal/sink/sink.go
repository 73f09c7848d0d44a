// Package sink provides frame consumers for viewer sessions: a fan-out
// combinator, a latest-frame cache, an HTTP watcher relay and an on-disk
// recorder.
package sink

import "github.com/zsiec/mjpegview/internal/media"

// FrameSink consumes frames in stream order.
type FrameSink interface {
	WriteFrame(frame *media.Frame)
}

// Fanout delivers each frame to every sink in order.
type Fanout []FrameSink

// NewFanout returns a Fanout over the non-nil sinks.
func NewFanout(sinks ...FrameSink) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// WriteFrame implements FrameSink.
func (f Fanout) WriteFrame(frame *media.Frame) {
	for _, s := range f {
		s.WriteFrame(frame)
	}
}
