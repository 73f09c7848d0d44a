package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/quic-go/quic-go"
	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/mjpegview/internal/certs"
	"github.com/zsiec/mjpegview/internal/transport"
)

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// WebSocketHandler upgrades requests and serves a stream on each.
func (s *Source) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// SECURITY: origin checks are off; the source is a local test tool.
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			s.log.Warn("websocket accept failed", "error", err)
			return
		}
		s.log.Info("websocket viewer connected", "remote", r.RemoteAddr)
		if err := s.Serve(r.Context(), transport.NewWebSocketConn(c), ServeOptions{Status: true}); err != nil {
			s.log.Warn("websocket stream failed", "remote", r.RemoteAddr, "error", err)
		}
	})
}

// ListenQUIC opens a QUIC listener on addr speaking the viewer ALPN.
func ListenQUIC(addr string, cert *certs.CertInfo) (*quic.Listener, error) {
	ln, err := quic.ListenAddr(addr, cert.ServerTLSConfig(transport.ALPN), nil)
	if err != nil {
		return nil, fmt.Errorf("QUIC listen on %s: %w", addr, err)
	}
	return ln, nil
}

// ServeQUIC accepts QUIC connections on ln until ctx is cancelled. Each
// connection's first bidirectional stream carries one viewer.
func (s *Source) ServeQUIC(ctx context.Context, ln *quic.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	s.log.Info("QUIC listening", "addr", ln.Addr())

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("QUIC accept: %w", err)
		}
		go func() {
			str, err := conn.AcceptStream(ctx)
			if err != nil {
				s.log.Warn("QUIC accept stream failed", "remote", conn.RemoteAddr(), "error", err)
				conn.CloseWithError(0, "")
				return
			}
			s.log.Info("QUIC viewer connected", "remote", conn.RemoteAddr())
			qc := transport.NewQUICConn(conn, str, transport.DefaultMaxMessageSize)
			if err := s.Serve(ctx, qc, ServeOptions{Status: true}); err != nil {
				s.log.Warn("QUIC stream failed", "remote", conn.RemoteAddr(), "error", err)
			}
		}()
	}
}

// ServeSRT accepts SRT callers on addr until ctx is cancelled.
func (s *Source) ServeSRT(ctx context.Context, addr string) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", addr, err)
	}
	s.log.Info("SRT listening", "addr", addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("SRT accept error", "error", err)
			continue
		}
		s.log.Info("SRT viewer connected", "stream", streamName(conn.StreamID()), "remote", conn.RemoteAddr())
		go func() {
			opts := ServeOptions{MaxChunk: transport.SRTMaxPayload}
			if err := s.Serve(ctx, transport.NewSRTConn(conn), opts); err != nil {
				s.log.Warn("SRT stream failed", "error", err)
			}
		}()
	}
}

// streamName strips the conventional prefixes from an SRT stream id.
func streamName(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
