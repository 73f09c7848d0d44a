// Package session runs one MJPEG viewer subscription: it opens a transport,
// subscribes to a source URL, feeds binary segments through the frame
// extractor and hands complete frames and throughput samples to sinks.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/mjpegview/internal/media"
	"github.com/zsiec/mjpegview/internal/stats"
	"github.com/zsiec/mjpegview/internal/transport"
	"github.com/zsiec/mjpegview/mjpeg"
)

// Sentinel errors returned by Run and HandleSegment.
var (
	ErrPendingOverflow = errors.New("session: pending buffer exceeds limit")
	ErrTransportClosed = errors.New("session: transport closed")
	ErrStopped         = errors.New("session: stopped")
	ErrAlreadyStarted  = errors.New("session: already started")
)

// DefaultMaxPending bounds the bytes buffered while waiting for a frame to
// complete. A stream that opens a frame and never closes it fails the
// session instead of growing without limit.
const DefaultMaxPending = 8 << 20

// FrameSink receives extracted frames in stream order, one at a time.
// WriteFrame is called with the session's core lock held, so it must not
// call Stop synchronously.
type FrameSink interface {
	WriteFrame(frame *media.Frame)
}

// MetricsSink receives at most one throughput sample per second per session.
type MetricsSink interface {
	RecordThroughput(streamKey string, sample stats.Sample)
}

// Config holds the parameters for a Session.
type Config struct {
	// Key identifies the session in logs, sinks and the API.
	Key string
	// Endpoint is the transport URL to dial (ws://, wss://, quic://, srt://).
	Endpoint string
	// Address is the source URL sent to the backend in the control message.
	Address string

	Dialer  transport.Dialer
	Frames  FrameSink
	Metrics MetricsSink
	// Stats receives counters; nil allocates a private collector.
	Stats *stats.SessionStats

	// MaxPending caps buffered bytes; 0 means DefaultMaxPending and a
	// negative value disables the cap.
	MaxPending int

	Log *slog.Logger
	Now func() time.Time
}

// Session owns the accumulator and extractor of a single stream. Segments
// are processed strictly in arrival order and every frame they complete is
// emitted before the next segment is looked at.
type Session struct {
	cfg        Config
	log        *slog.Logger
	now        func() time.Time
	maxPending int
	stats      *stats.SessionStats

	state    atomic.Int32
	stopped  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once

	// mu guards the extraction core below.
	mu  sync.Mutex
	acc *mjpeg.Accumulator
	ex  *mjpeg.Extractor
	tp  *stats.Throughput
	seq uint64

	// connMu guards conn, cancel and err.
	connMu sync.Mutex
	conn   transport.Conn
	cancel context.CancelFunc
	err    error
}

// New validates cfg and returns an idle Session.
func New(cfg Config) (*Session, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Key == "" {
		return nil, errors.New("session: Key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("session: Endpoint is required")
	}
	if cfg.Address == "" {
		return nil, errors.New("session: Address is required")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("session: Dialer is required")
	}
	if cfg.Frames == nil {
		return nil, errors.New("session: Frames is required")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	maxPending := cfg.MaxPending
	if maxPending == 0 {
		maxPending = DefaultMaxPending
	}
	st := cfg.Stats
	if st == nil {
		st = stats.NewSessionStats()
	}

	acc := mjpeg.NewAccumulator()
	return &Session{
		cfg:        cfg,
		log:        log.With("component", "session", "stream", cfg.Key),
		now:        now,
		maxPending: maxPending,
		stats:      st,
		done:       make(chan struct{}),
		acc:        acc,
		ex:         mjpeg.NewExtractor(acc),
		tp:         stats.NewThroughput(now),
	}, nil
}

// Key returns the session key.
func (s *Session) Key() string { return s.cfg.Key }

// Endpoint returns the transport URL.
func (s *Session) Endpoint() string { return s.cfg.Endpoint }

// Address returns the source URL requested from the backend.
func (s *Session) Address() string { return s.cfg.Address }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() stats.SessionSnapshot { return s.stats.Snapshot() }

// Done is closed when Run returns, or by Stop if Run never started.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.err
}

// Pending returns the number of buffered bytes not yet emitted as a frame.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ex.Pending()
}

// Run dials the endpoint, sends the control message and processes messages
// until ctx is cancelled, Stop is called, or the transport ends. It returns
// nil when stopped and an error wrapping ErrTransportClosed when the peer
// closes. Run may be called once.
func (s *Session) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		if s.stopped.Load() {
			s.closeDone()
			return nil
		}
		return ErrAlreadyStarted
	}
	defer s.closeDone()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.connMu.Lock()
	if s.stopped.Load() {
		s.connMu.Unlock()
		return nil
	}
	s.cancel = cancel
	s.connMu.Unlock()

	s.log.Info("connecting", "endpoint", s.cfg.Endpoint, "url", s.cfg.Address)
	conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.Endpoint)
	if err != nil {
		if s.stopped.Load() {
			return nil
		}
		return s.fail(fmt.Errorf("dial %s: %w", s.cfg.Endpoint, err))
	}
	defer conn.Close()

	s.connMu.Lock()
	if s.stopped.Load() {
		s.connMu.Unlock()
		return nil
	}
	s.conn = conn
	s.connMu.Unlock()

	if err := conn.Send(ctx, transport.ControlMessage(s.cfg.Address)); err != nil {
		if s.stopped.Load() {
			return nil
		}
		return s.fail(fmt.Errorf("send control message: %w", err))
	}

	s.mu.Lock()
	s.tp.Reset()
	s.mu.Unlock()
	s.stats.RecordStart(s.now())
	s.state.CompareAndSwap(int32(StateConnecting), int32(StatePlaying))
	s.log.Info("connected")

	return s.loop(ctx, conn)
}

// loop serializes message handling and throughput ticks on one goroutine.
// A helper goroutine performs the blocking receives.
func (s *Session) loop(ctx context.Context, conn transport.Conn) error {
	msgs := make(chan transport.Message)
	recvErr := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.Receive(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(stats.ThroughputWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return nil

		case <-ticker.C:
			s.tick()

		case msg := <-msgs:
			if err := s.HandleMessage(msg); err != nil {
				if errors.Is(err, ErrStopped) {
					return nil
				}
				return s.fail(err)
			}

		case err := <-recvErr:
			if s.stopped.Load() || ctx.Err() != nil {
				s.Stop()
				return nil
			}
			if errors.Is(err, io.EOF) {
				return s.closed()
			}
			return s.fail(fmt.Errorf("receive: %w", err))
		}
	}
}

// HandleMessage dispatches one transport message. Text messages are
// out-of-band control and never reach the extractor.
func (s *Session) HandleMessage(msg transport.Message) error {
	if msg.Type == transport.MessageText {
		s.stats.RecordControl()
		s.log.Debug("message from server", "message", string(msg.Data))
		return nil
	}
	return s.HandleSegment(msg.Data)
}

// HandleSegment appends one segment and emits every frame it completes.
// It returns ErrStopped once the session has been stopped and
// ErrPendingOverflow when the buffered backlog exceeds the limit.
func (s *Session) HandleSegment(seg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.Load() {
		return ErrStopped
	}

	s.stats.RecordSegment(len(seg))
	s.acc.Append(seg)

	for data := range s.ex.Frames() {
		// Stop may arrive from another goroutine mid-burst; abandon the
		// rest of the scan rather than emit after it.
		if s.stopped.Load() {
			return ErrStopped
		}
		s.seq++
		now := s.now()
		s.stats.RecordFrame(len(data), now)
		s.cfg.Frames.WriteFrame(&media.Frame{
			StreamKey:  s.cfg.Key,
			Seq:        s.seq,
			Data:       data,
			ReceivedAt: now,
		})
	}

	pending := s.ex.Pending()
	s.stats.RecordBuffer(s.ex.Discarded(), pending)
	if s.maxPending > 0 && pending > s.maxPending {
		return fmt.Errorf("%w: %d bytes buffered, limit %d", ErrPendingOverflow, pending, s.maxPending)
	}

	if sample, ok := s.tp.Add(len(seg)); ok {
		s.recordSample(sample)
	}
	return nil
}

// Stop closes the transport, discards buffered bytes and suppresses any
// further frame or metrics emission. It is safe to call more than once and
// from any goroutine other than a sink callback.
func (s *Session) Stop() {
	if s.stopped.Swap(true) {
		return
	}

	s.connMu.Lock()
	cancel, conn := s.cancel, s.conn
	s.connMu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}

	s.reset()
	if State(s.state.Swap(int32(StateStopped))) == StateIdle {
		s.closeDone()
	}
	s.log.Info("stopped")
}

func (s *Session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.Load() {
		return
	}
	if sample, ok := s.tp.Tick(); ok {
		s.recordSample(sample)
	}
}

// recordSample must be called with mu held.
func (s *Session) recordSample(sample stats.Sample) {
	s.stats.RecordThroughput(sample)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordThroughput(s.cfg.Key, sample)
	}
}

func (s *Session) reset() {
	s.mu.Lock()
	s.ex.Reset()
	s.tp.Reset()
	s.stats.RecordBuffer(s.ex.Discarded(), 0)
	s.mu.Unlock()
}

// closed handles a clean close from the peer.
func (s *Session) closed() error {
	s.stopped.Store(true)
	s.reset()
	s.state.Store(int32(StateStopped))
	s.log.Info("transport closed")
	return s.setErr(ErrTransportClosed)
}

func (s *Session) fail(err error) error {
	s.stopped.Store(true)
	s.reset()
	s.state.Store(int32(StateFailed))
	s.log.Warn("session failed", "error", err)
	return s.setErr(err)
}

func (s *Session) setErr(err error) error {
	s.connMu.Lock()
	s.err = err
	s.connMu.Unlock()
	return err
}
