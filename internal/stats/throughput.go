package stats

import (
	"math"
	"time"
)

// ThroughputWindow is the wall-clock window over which downstream bitrate
// is sampled.
const ThroughputWindow = 1 * time.Second

// Sample is a single downstream bitrate measurement.
type Sample struct {
	DownKbps float64   `json:"downKbps"`
	At       time.Time `json:"at"`
}

// Throughput turns a stream of received byte counts into at most one
// bitrate Sample per window. Each window is independent: the counter and
// the window start reset whenever a sample is produced.
//
// Throughput is not safe for concurrent use; the owning session serializes
// access.
type Throughput struct {
	now         func() time.Time
	windowStart time.Time
	bytes       int64
}

// NewThroughput creates a Throughput whose first window starts now. If now
// is nil, time.Now is used.
func NewThroughput(now func() time.Time) *Throughput {
	if now == nil {
		now = time.Now
	}
	return &Throughput{
		now:         now,
		windowStart: now(),
	}
}

// Add records n received bytes. It returns a sample if the current window
// has elapsed.
func (t *Throughput) Add(n int) (Sample, bool) {
	t.bytes += int64(n)
	return t.Tick()
}

// Tick returns a sample if the current window has elapsed, even when no
// bytes arrived in it.
func (t *Throughput) Tick() (Sample, bool) {
	now := t.now()
	if now.Sub(t.windowStart) < ThroughputWindow {
		return Sample{}, false
	}
	s := Sample{
		DownKbps: kbps(t.bytes),
		At:       now,
	}
	t.bytes = 0
	t.windowStart = now
	return s, true
}

// Reset discards the pending count and starts a new window.
func (t *Throughput) Reset() {
	t.bytes = 0
	t.windowStart = t.now()
}

// kbps converts a window's byte count to kilobits, rounded to two decimals.
func kbps(bytes int64) float64 {
	v := float64(bytes) * 8 / 1000
	return math.Round(v*100) / 100
}
