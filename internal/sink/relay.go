package sink

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/zsiec/mjpegview/internal/media"
)

// WatcherStats holds delivery counters for one watcher.
type WatcherStats struct {
	ID      string `json:"id"`
	Sent    int64  `json:"sent"`
	Dropped int64  `json:"dropped"`
}

// Watcher receives a stream's frames through a buffered channel. A watcher
// that falls behind loses frames rather than stalling the session.
type Watcher struct {
	id      string
	ch      chan *media.Frame
	sent    atomic.Int64
	dropped atomic.Int64
}

// ID returns the watcher's relay-assigned identifier.
func (w *Watcher) ID() string { return w.id }

// Frames returns the delivery channel. It is closed when the watcher is
// unsubscribed or the relay is closed.
func (w *Watcher) Frames() <-chan *media.Frame { return w.ch }

// Stats returns the watcher's delivery counters.
func (w *Watcher) Stats() WatcherStats {
	return WatcherStats{ID: w.id, Sent: w.sent.Load(), Dropped: w.dropped.Load()}
}

func (w *Watcher) trySend(frame *media.Frame) {
	select {
	case w.ch <- frame:
		w.sent.Add(1)
	default:
		w.dropped.Add(1)
	}
}

// Relay is the fan-out hub for a single stream's HTTP watchers. New
// watchers are primed with the most recent frame so they render
// immediately.
type Relay struct {
	log    *slog.Logger
	nextID atomic.Uint64

	mu       sync.RWMutex
	watchers map[string]*Watcher
	last     *media.Frame
	closed   bool
}

// NewRelay creates a Relay with no watchers.
func NewRelay(streamKey string, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		log:      log.With("component", "relay", "stream", streamKey),
		watchers: make(map[string]*Watcher),
	}
}

// Subscribe registers a new watcher. On a closed relay the returned
// watcher's channel is already closed.
func (r *Relay) Subscribe() *Watcher {
	w := &Watcher{
		id: strconv.FormatUint(r.nextID.Add(1), 10),
		ch: make(chan *media.Frame, media.FrameBufferSize),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(w.ch)
		return w
	}
	if r.last != nil {
		w.trySend(r.last)
	}
	r.watchers[w.id] = w
	n := len(r.watchers)
	r.mu.Unlock()

	r.log.Info("watcher added", "watcher", w.id, "watchers", n)
	return w
}

// Unsubscribe removes a watcher and closes its channel.
func (r *Relay) Unsubscribe(w *Watcher) {
	r.mu.Lock()
	_, ok := r.watchers[w.id]
	if ok {
		delete(r.watchers, w.id)
		close(w.ch)
	}
	n := len(r.watchers)
	r.mu.Unlock()

	if ok {
		r.log.Info("watcher removed", "watcher", w.id, "watchers", n)
	}
}

// WriteFrame implements FrameSink.
func (r *Relay) WriteFrame(frame *media.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.last = frame
	for _, w := range r.watchers {
		w.trySend(frame)
	}
}

// Close disconnects every watcher. Later frames are ignored.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, w := range r.watchers {
		close(w.ch)
		delete(r.watchers, id)
	}
	r.last = nil
}

// WatcherCount returns the number of subscribed watchers.
func (r *Relay) WatcherCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.watchers)
}

// WatcherStatsAll returns delivery counters for every watcher.
func (r *Relay) WatcherStatsAll() []WatcherStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WatcherStats, 0, len(r.watchers))
	for _, w := range r.watchers {
		out = append(out, w.Stats())
	}
	return out
}
