package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// SRTMaxPayload is the largest payload SRT live mode carries in one packet.
// Senders must write at most this many bytes per Send.
const SRTMaxPayload = 1316

// srtReadBufferSize is the read buffer for SRT socket reads.
const srtReadBufferSize = SRTMaxPayload * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// srtDialTimeout bounds the SRT handshake.
const srtDialTimeout = 10 * time.Second

// defaultSRTStreamID is used when neither the endpoint path nor the dialer
// names a stream.
const defaultSRTStreamID = "live/mjpeg"

// SRTDialer connects to an srt://host:port/streamid endpoint in caller mode.
// SRT has no message types: the control message is written as raw bytes and
// every read is delivered as a binary segment.
type SRTDialer struct {
	// StreamID is used when the endpoint URL has no path.
	StreamID string
}

// Dial performs the SRT handshake, giving up after srtDialTimeout or when
// ctx is cancelled.
func (d *SRTDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport: parse endpoint: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("transport: srt endpoint %q has no host", endpoint)
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = d.streamID(u)

	ch := make(chan srtDialResult, 1)
	go func() {
		conn, err := srtgo.Dial(u.Host, cfg)
		ch <- srtDialResult{conn, err}
	}()

	timer := time.NewTimer(srtDialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial failed: %w", res.err)
		}
		return NewSRTConn(res.conn), nil
	case <-timer.C:
		go closeLateSRT(ch)
		return nil, fmt.Errorf("SRT dial timed out after %s", srtDialTimeout)
	case <-ctx.Done():
		go closeLateSRT(ch)
		return nil, ctx.Err()
	}
}

func (d *SRTDialer) streamID(u *url.URL) string {
	if id := strings.TrimPrefix(u.Path, "/"); id != "" {
		return id
	}
	if d.StreamID != "" {
		return d.StreamID
	}
	return defaultSRTStreamID
}

type srtDialResult struct {
	conn *srtgo.Conn
	err  error
}

// closeLateSRT drains a dial that finished after we stopped waiting and
// closes any leaked connection.
func closeLateSRT(ch <-chan srtDialResult) {
	if res := <-ch; res.conn != nil {
		res.conn.Close()
	}
}

// SRTConn adapts an SRT socket to Conn. SRT carries no message types, so
// every read is a binary message and Send writes the payload as is.
type SRTConn struct {
	conn *srtgo.Conn
	buf  []byte
}

// NewSRTConn wraps an established SRT connection.
func NewSRTConn(conn *srtgo.Conn) *SRTConn {
	return &SRTConn{
		conn: conn,
		buf:  make([]byte, srtReadBufferSize),
	}
}

func (s *SRTConn) Send(_ context.Context, msg Message) error {
	_, err := s.conn.Write(msg.Data)
	return err
}

// Receive returns the bytes of one socket read as a binary message.
// Cancelling ctx closes the connection.
func (s *SRTConn) Receive(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	n, err := s.conn.Read(s.buf)
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return Message{}, io.EOF
		}
		return Message{}, err
	}
	data := make([]byte, n)
	copy(data, s.buf[:n])
	return Message{Type: MessageBinary, Data: data}, nil
}

func (s *SRTConn) Close() error {
	s.conn.Close()
	return nil
}
