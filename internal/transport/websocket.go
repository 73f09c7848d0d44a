package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coder/websocket"
)

// WebSocketDialer connects to a ws:// or wss:// endpoint. Binary messages
// are stream segments; text messages are control.
type WebSocketDialer struct {
	// MaxMessageSize bounds a single received message; 0 means
	// DefaultMaxMessageSize.
	MaxMessageSize int64
	// HTTPHeader is sent with the upgrade request.
	HTTPHeader http.Header
	// HTTPClient is used for the upgrade request; nil means
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Dial opens a WebSocket connection to endpoint.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: d.HTTPHeader,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", endpoint, err)
	}
	limit := d.MaxMessageSize
	if limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	c.SetReadLimit(limit)
	return NewWebSocketConn(c), nil
}

// WebSocketConn adapts a *websocket.Conn to Conn. It is exported so that
// servers can speak the same message convention.
type WebSocketConn struct {
	c *websocket.Conn
}

// NewWebSocketConn wraps an established WebSocket connection.
func NewWebSocketConn(c *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{c: c}
}

// Send writes msg as a single WebSocket message of the matching type.
func (w *WebSocketConn) Send(ctx context.Context, msg Message) error {
	typ := websocket.MessageBinary
	if msg.Type == MessageText {
		typ = websocket.MessageText
	}
	return w.c.Write(ctx, typ, msg.Data)
}

// Receive reads the next message. A normal or going-away close from the
// peer is reported as io.EOF.
func (w *WebSocketConn) Receive(ctx context.Context) (Message, error) {
	typ, data, err := w.c.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return Message{}, io.EOF
		}
		if errors.Is(err, io.EOF) {
			return Message{}, io.EOF
		}
		return Message{}, err
	}
	if typ == websocket.MessageText {
		return Message{Type: MessageText, Data: data}, nil
	}
	return Message{Type: MessageBinary, Data: data}, nil
}

// Close performs a normal closing handshake.
func (w *WebSocketConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
