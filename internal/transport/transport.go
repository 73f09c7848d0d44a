// Package transport abstracts the duplex connection an MJPEG viewer reads
// from. A Conn carries typed messages: binary messages are stream segments
// for the frame extractor, text messages are out-of-band control.
//
// Three implementations are provided and selected by endpoint scheme through
// [Mux]: WebSocket (ws, wss), QUIC (quic) and SRT (srt).
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// Sentinel errors for transport setup and message handling.
var (
	ErrUnsupportedScheme = errors.New("transport: unsupported endpoint scheme")
	ErrMessageTooLarge   = errors.New("transport: message too large")
	ErrCertMismatch      = errors.New("transport: peer certificate hash mismatch")
)

// DefaultMaxMessageSize bounds a single received message. A WebSocket
// backend typically sends one JPEG per message, so this must exceed the
// largest expected frame.
const DefaultMaxMessageSize = 8 << 20

// MessageType distinguishes segment data from control text.
type MessageType uint8

// Message types. Values are also the QUIC wire type codes.
const (
	MessageText   MessageType = 0x01
	MessageBinary MessageType = 0x02
)

func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Message is a single unit delivered by a Conn.
type Message struct {
	Type MessageType
	Data []byte
}

// Conn is an open transport connection. Receive returns an error wrapping
// io.EOF when the peer closes cleanly. Send and Receive may be called from
// different goroutines, but neither may be called concurrently with itself.
type Conn interface {
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Dialer opens a Conn to an endpoint URL.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

// Dial calls f(ctx, endpoint).
func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) {
	return f(ctx, endpoint)
}

type controlMessage struct {
	URL string `json:"url"`
}

// ControlMessage builds the subscribe message a viewer sends once its
// transport opens, asking the backend to stream the source at url.
func ControlMessage(url string) Message {
	data, _ := json.Marshal(controlMessage{URL: url})
	return Message{Type: MessageText, Data: data}
}

// ParseControlMessage decodes a message built by ControlMessage.
func ParseControlMessage(msg Message) (string, error) {
	var cm controlMessage
	if err := json.Unmarshal(msg.Data, &cm); err != nil {
		return "", fmt.Errorf("transport: parse control message: %w", err)
	}
	if cm.URL == "" {
		return "", errors.New("transport: control message has no url")
	}
	return cm.URL, nil
}

// Options configures the dialers built by NewMux.
type Options struct {
	// MaxMessageSize bounds received messages; 0 means DefaultMaxMessageSize.
	MaxMessageSize int
	// CertHash pins the QUIC server certificate by the base64 SHA-256 of
	// its DER encoding. Empty means verify against system roots.
	CertHash string
	// SRTStreamID overrides the stream id sent when dialing SRT endpoints
	// whose URL has no path.
	SRTStreamID string
}

// Mux dispatches Dial to a scheme-specific Dialer.
type Mux struct {
	WebSocket Dialer
	QUIC      Dialer
	SRT       Dialer
}

// NewMux returns a Mux with the WebSocket, QUIC and SRT dialers configured
// from opts.
func NewMux(opts Options) *Mux {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Mux{
		WebSocket: &WebSocketDialer{MaxMessageSize: int64(opts.MaxMessageSize)},
		QUIC:      &QUICDialer{CertHash: opts.CertHash, MaxMessageSize: opts.MaxMessageSize},
		SRT:       &SRTDialer{StreamID: opts.SRTStreamID},
	}
}

// Dial parses endpoint and hands it to the dialer registered for its scheme.
func (m *Mux) Dial(ctx context.Context, endpoint string) (Conn, error) {
	d, err := m.dialerFor(endpoint)
	if err != nil {
		return nil, err
	}
	return d.Dial(ctx, endpoint)
}

func (m *Mux) dialerFor(endpoint string) (Dialer, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport: parse endpoint: %w", err)
	}
	var d Dialer
	switch u.Scheme {
	case "ws", "wss":
		d = m.WebSocket
	case "quic":
		d = m.QUIC
	case "srt":
		d = m.SRT
	}
	if d == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return d, nil
}
