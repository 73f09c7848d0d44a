package sink

import (
	"bytes"
	"image/jpeg"
	"log/slog"
	"sync"

	"github.com/zsiec/mjpegview/internal/media"
)

// ResolutionFunc is called when a stream's frame dimensions change.
type ResolutionFunc func(streamKey string, width, height int)

type dims struct{ w, h int }

// Latest keeps the newest frame of every stream for snapshot requests and
// reports frame dimensions read from the JPEG header.
type Latest struct {
	log          *slog.Logger
	onResolution ResolutionFunc

	mu     sync.RWMutex
	frames map[string]*media.Frame
	dims   map[string]dims
}

// NewLatest creates an empty Latest. onResolution may be nil.
func NewLatest(onResolution ResolutionFunc, log *slog.Logger) *Latest {
	if log == nil {
		log = slog.Default()
	}
	return &Latest{
		log:          log.With("component", "latest-frame"),
		onResolution: onResolution,
		frames:       make(map[string]*media.Frame),
		dims:         make(map[string]dims),
	}
}

// WriteFrame implements FrameSink.
func (l *Latest) WriteFrame(frame *media.Frame) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame.Data))

	l.mu.Lock()
	l.frames[frame.StreamKey] = frame
	changed := false
	if err == nil {
		d := dims{cfg.Width, cfg.Height}
		if l.dims[frame.StreamKey] != d {
			l.dims[frame.StreamKey] = d
			changed = true
		}
	}
	l.mu.Unlock()

	if err != nil {
		l.log.Debug("frame header unreadable", "stream", frame.StreamKey, "seq", frame.Seq, "error", err)
		return
	}
	if changed {
		l.log.Info("resolution changed", "stream", frame.StreamKey, "width", cfg.Width, "height", cfg.Height)
		if l.onResolution != nil {
			l.onResolution(frame.StreamKey, cfg.Width, cfg.Height)
		}
	}
}

// Get returns the newest frame for key.
func (l *Latest) Get(key string) (*media.Frame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.frames[key]
	return f, ok
}

// Remove forgets key.
func (l *Latest) Remove(key string) {
	l.mu.Lock()
	delete(l.frames, key)
	delete(l.dims, key)
	l.mu.Unlock()
}
