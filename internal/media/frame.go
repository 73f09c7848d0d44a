// Package media defines the frame type that flows from a viewer session's
// extractor to its sinks.
package media

import "time"

// FrameBufferSize is the channel depth used by consumers that receive frames
// asynchronously (HTTP MJPEG watchers). Roughly two seconds at 15 fps.
const FrameBufferSize = 30

// ContentType is the MIME type of a Frame's payload.
const ContentType = "image/jpeg"

// Frame is one complete JPEG image extracted from an MJPEG stream, from its
// Start-Of-Image marker through its End-Of-Image marker. Data is owned by
// the Frame; sinks may keep it but must not modify it, since the same
// Frame is delivered to every sink of a session.
type Frame struct {
	StreamKey  string
	Seq        uint64
	Data       []byte
	ReceivedAt time.Time
}
