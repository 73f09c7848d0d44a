package stats

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestThroughputSingleWindow(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	tp := NewThroughput(clk.now)

	if _, ok := tp.Add(400); ok {
		t.Fatal("sample emitted before the window elapsed")
	}
	clk.advance(500 * time.Millisecond)
	if _, ok := tp.Add(600); ok {
		t.Fatal("sample emitted before the window elapsed")
	}

	clk.advance(500 * time.Millisecond)
	s, ok := tp.Tick()
	if !ok {
		t.Fatal("no sample after a full window")
	}
	if s.DownKbps != 8.00 {
		t.Fatalf("DownKbps = %v, want 8.00", s.DownKbps)
	}

	clk.advance(time.Second)
	s, ok = tp.Tick()
	if !ok {
		t.Fatal("no sample for the empty window")
	}
	if s.DownKbps != 0 {
		t.Fatalf("DownKbps = %v for empty window, want 0", s.DownKbps)
	}
}

func TestThroughputSampleOnAdd(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	tp := NewThroughput(clk.now)

	tp.Add(1000)
	clk.advance(1100 * time.Millisecond)
	s, ok := tp.Add(500)
	if !ok {
		t.Fatal("Add after the window elapsed should emit a sample")
	}
	// The bytes of the triggering segment belong to the closing window.
	if s.DownKbps != 12.00 {
		t.Fatalf("DownKbps = %v, want 12.00", s.DownKbps)
	}
	if !s.At.Equal(clk.t) {
		t.Fatalf("At = %v, want %v", s.At, clk.t)
	}
}

func TestThroughputAtMostOncePerWindow(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	tp := NewThroughput(clk.now)

	clk.advance(time.Second)
	if _, ok := tp.Tick(); !ok {
		t.Fatal("expected a sample")
	}
	if _, ok := tp.Add(10); ok {
		t.Fatal("second sample in the same window")
	}
	if _, ok := tp.Tick(); ok {
		t.Fatal("second sample in the same window")
	}
}

func TestThroughputRounding(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	tp := NewThroughput(clk.now)

	tp.Add(1234)
	clk.advance(time.Second)
	s, _ := tp.Tick()
	if s.DownKbps != 9.87 {
		t.Fatalf("DownKbps = %v, want 9.87", s.DownKbps)
	}
}

func TestThroughputReset(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	tp := NewThroughput(clk.now)

	tp.Add(5000)
	clk.advance(900 * time.Millisecond)
	tp.Reset()
	clk.advance(900 * time.Millisecond)
	if _, ok := tp.Tick(); ok {
		t.Fatal("Reset should restart the window")
	}
	clk.advance(100 * time.Millisecond)
	s, ok := tp.Tick()
	if !ok || s.DownKbps != 0 {
		t.Fatalf("after Reset got (%v, %v), want (0, true)", s.DownKbps, ok)
	}
}
