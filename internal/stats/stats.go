// Package stats collects per-session telemetry for MJPEG viewers: the
// windowed downstream bitrate and lock-free frame and byte counters that the
// API and metrics layers snapshot.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// SessionSnapshot is a point-in-time view of one session's counters,
// serialized by the viewer API.
type SessionSnapshot struct {
	Segments        int64   `json:"segments"`
	BytesReceived   int64   `json:"bytesReceived"`
	ControlMessages int64   `json:"controlMessages"`
	Frames          int64   `json:"frames"`
	FrameBytes      int64   `json:"frameBytes"`
	DiscardedBytes  int64   `json:"discardedBytes"`
	PendingBytes    int64   `json:"pendingBytes"`
	LastFrameBytes  int64   `json:"lastFrameBytes"`
	DownKbps        float64 `json:"downKbps"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	StartedAt       int64   `json:"startedAt,omitempty"`
	UptimeMs        int64   `json:"uptimeMs,omitempty"`
	LastFrameAt     int64   `json:"lastFrameAt,omitempty"`
}

// SessionStats accumulates counters for one session. Counters are written
// by the session's receive goroutine and read concurrently by the API.
type SessionStats struct {
	segments        atomic.Int64
	bytesReceived   atomic.Int64
	controlMessages atomic.Int64
	frames          atomic.Int64
	frameBytes      atomic.Int64
	discardedBytes  atomic.Int64
	pendingBytes    atomic.Int64
	lastFrameBytes  atomic.Int64
	lastFrameAt     atomic.Int64
	width           atomic.Int32
	height          atomic.Int32

	// mu guards startedAt and downKbps
	mu        sync.RWMutex
	startedAt time.Time
	downKbps  float64
}

// NewSessionStats creates an empty SessionStats.
func NewSessionStats() *SessionStats {
	return &SessionStats{}
}

// RecordStart marks the moment the session's transport opened.
func (s *SessionStats) RecordStart(t time.Time) {
	s.mu.Lock()
	s.startedAt = t
	s.mu.Unlock()
}

// RecordSegment counts one binary segment of n bytes.
func (s *SessionStats) RecordSegment(n int) {
	s.segments.Add(1)
	s.bytesReceived.Add(int64(n))
}

// RecordControl counts one out-of-band text message.
func (s *SessionStats) RecordControl() {
	s.controlMessages.Add(1)
}

// RecordFrame counts one extracted frame of n bytes.
func (s *SessionStats) RecordFrame(n int, at time.Time) {
	s.frames.Add(1)
	s.frameBytes.Add(int64(n))
	s.lastFrameBytes.Store(int64(n))
	s.lastFrameAt.Store(at.UnixMilli())
}

// RecordBuffer stores the extractor's discarded total and current backlog.
func (s *SessionStats) RecordBuffer(discarded int64, pending int) {
	s.discardedBytes.Store(discarded)
	s.pendingBytes.Store(int64(pending))
}

// RecordThroughput stores the latest bitrate sample.
func (s *SessionStats) RecordThroughput(sample Sample) {
	s.mu.Lock()
	s.downKbps = sample.DownKbps
	s.mu.Unlock()
}

// RecordResolution stores the decoded dimensions of the latest frame.
func (s *SessionStats) RecordResolution(width, height int) {
	s.width.Store(int32(width))
	s.height.Store(int32(height))
}

// Snapshot returns the current counters.
func (s *SessionStats) Snapshot() SessionSnapshot {
	s.mu.RLock()
	startedAt := s.startedAt
	kbps := s.downKbps
	s.mu.RUnlock()

	snap := SessionSnapshot{
		Segments:        s.segments.Load(),
		BytesReceived:   s.bytesReceived.Load(),
		ControlMessages: s.controlMessages.Load(),
		Frames:          s.frames.Load(),
		FrameBytes:      s.frameBytes.Load(),
		DiscardedBytes:  s.discardedBytes.Load(),
		PendingBytes:    s.pendingBytes.Load(),
		LastFrameBytes:  s.lastFrameBytes.Load(),
		LastFrameAt:     s.lastFrameAt.Load(),
		DownKbps:        kbps,
		Width:           int(s.width.Load()),
		Height:          int(s.height.Load()),
	}
	if !startedAt.IsZero() {
		snap.StartedAt = startedAt.UnixMilli()
		snap.UptimeMs = time.Since(startedAt).Milliseconds()
	}
	return snap
}
