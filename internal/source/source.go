// Package source is a synthetic MJPEG backend. It accepts viewer
// connections over WebSocket, QUIC or SRT, waits for the subscribe control
// message and then streams generated JPEG frames cut into randomly sized
// segments, so frame boundaries land anywhere inside a segment.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/zsiec/mjpegview/internal/transport"
)

// ErrNoControl is returned when a viewer never sends its subscribe message.
var ErrNoControl = errors.New("source: no control message received")

// Config controls frame generation and segmentation.
type Config struct {
	FPS     int
	Width   int
	Height  int
	Quality int
	// MinChunk and MaxChunk bound the size of each sent segment.
	MinChunk int
	MaxChunk int
	// Garbage prefixes the stream with bytes that are not part of any
	// frame, the way a backend joined mid-stream behaves.
	Garbage        int
	ControlTimeout time.Duration
	Log            *slog.Logger
}

// Source serves generated MJPEG streams.
type Source struct {
	cfg Config
	log *slog.Logger
}

// ServeOptions adjusts Serve for the transport in use.
type ServeOptions struct {
	// MaxChunk caps segment size below Config.MaxChunk.
	MaxChunk int
	// Status sends a text greeting once subscribed. Transports without
	// message types must leave it off.
	Status bool
}

// New returns a Source with defaults filled in.
func New(cfg Config) *Source {
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	if cfg.Width <= 0 {
		cfg.Width = 320
	}
	if cfg.Height <= 0 {
		cfg.Height = 240
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 75
	}
	if cfg.MinChunk <= 0 {
		cfg.MinChunk = 1
	}
	if cfg.MaxChunk < cfg.MinChunk {
		cfg.MaxChunk = max(cfg.MinChunk, 4096)
	}
	if cfg.ControlTimeout <= 0 {
		cfg.ControlTimeout = 10 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Source{cfg: cfg, log: log.With("component", "mjpeg-source")}
}

// Serve handles one viewer connection until ctx is cancelled or the viewer
// goes away. It closes conn before returning.
func (s *Source) Serve(ctx context.Context, conn transport.Conn, opts ServeOptions) error {
	defer conn.Close()

	url, err := s.awaitControl(ctx, conn)
	if err != nil {
		return err
	}
	s.log.Info("viewer subscribed", "url", url)

	// Keep reading so close handshakes are answered; the viewer leaving
	// ends the stream.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, err := conn.Receive(ctx); err != nil {
				return
			}
		}
	}()

	if opts.Status {
		msg := transport.Message{Type: transport.MessageText, Data: []byte("streaming " + url)}
		if err := conn.Send(ctx, msg); err != nil {
			return fmt.Errorf("send status: %w", err)
		}
	}

	maxChunk := s.cfg.MaxChunk
	if opts.MaxChunk > 0 && opts.MaxChunk < maxChunk {
		maxChunk = opts.MaxChunk
	}
	minChunk := min(s.cfg.MinChunk, maxChunk)

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6d6a706567))
	gen := NewGenerator(s.cfg.Width, s.cfg.Height, s.cfg.Quality)

	send := func(data []byte) error {
		for _, chunk := range Split(data, rng, minChunk, maxChunk) {
			if err := conn.Send(ctx, transport.Message{Type: transport.MessageBinary, Data: chunk}); err != nil {
				return err
			}
		}
		return nil
	}

	if s.cfg.Garbage > 0 {
		junk := make([]byte, s.cfg.Garbage)
		for i := range junk {
			// Never emit 0xFF so the prefix cannot fake a marker.
			junk[i] = byte(rng.IntN(0xFF))
		}
		if err := send(junk); err != nil {
			return s.sendErr(ctx, err)
		}
	}

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()

	var frames int
	for {
		select {
		case <-ctx.Done():
			s.log.Info("stream ended", "url", url, "frames", frames)
			return nil
		case <-ticker.C:
			frame, err := gen.Next()
			if err != nil {
				return fmt.Errorf("generate frame: %w", err)
			}
			if err := send(frame); err != nil {
				return s.sendErr(ctx, err)
			}
			frames++
		}
	}
}

func (s *Source) sendErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	s.log.Info("viewer gone", "error", err)
	return nil
}

func (s *Source) awaitControl(ctx context.Context, conn transport.Conn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ControlTimeout)
	defer cancel()

	msg, err := conn.Receive(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoControl, err)
	}
	url, err := transport.ParseControlMessage(msg)
	if err != nil {
		return "", err
	}
	return url, nil
}
